// Package monitor consumes the swarm's telemetry stream, mirrors it into
// the persistent log, keeps rolling baselines per metric, and manages
// alerts. Losing the store degrades the monitor to memory-only operation;
// it never takes the swarm down.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mkelaidis/agora/internal/bus"
	"github.com/mkelaidis/agora/internal/config"
	"github.com/mkelaidis/agora/internal/natsbus"
	"github.com/mkelaidis/agora/internal/store"
)

const baselineWarmup = 3 // sweeps before anomaly checks engage

type Manager struct {
	cfg      config.MonitorConfig
	nats     *natsbus.Client
	notifier Notifier

	mu        sync.Mutex
	st        *store.Store
	degraded  bool
	active    map[string]*Alert
	alerts    map[string]*Alert // every alert ever raised, for history
	counts    map[string]float64
	baselines map[string]baseline

	sub *nats.Subscription
}

type baseline struct {
	value   float64
	samples int
}

func NewManager(cfg config.MonitorConfig, st *store.Store, nc *natsbus.Client, notifier Notifier) *Manager {
	if cfg.BaselineAlpha <= 0 || cfg.BaselineAlpha > 1 {
		cfg.BaselineAlpha = 0.1
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	return &Manager{
		cfg:       cfg,
		st:        st,
		nats:      nc,
		notifier:  notifier,
		active:    make(map[string]*Alert),
		alerts:    make(map[string]*Alert),
		counts:    make(map[string]float64),
		baselines: make(map[string]baseline),
	}
}

// Start subscribes to the telemetry stream and runs the baseline sweep
// until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	if m.nats != nil {
		sub, err := m.nats.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
			m.handleEvent(msg.Subject, msg.Data)
		})
		if err != nil {
			return err
		}
		m.sub = sub
	}

	go m.run(ctx)
	return nil
}

func (m *Manager) run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if m.sub != nil {
				_ = m.sub.Unsubscribe()
			}
			slog.Info("monitor stopped")
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// handleEvent classifies one telemetry event by subject, mirrors it into
// the store, and bumps the metric counters.
func (m *Manager) handleEvent(subject string, data []byte) {
	parts := strings.SplitN(subject, ".", 3)
	if len(parts) < 2 || parts[0] != "events" {
		return
	}

	switch parts[1] {
	case "message":
		m.bump("messages")
		var event struct {
			Message   bus.Message `json:"message"`
			Delivered int         `json:"delivered"`
		}
		if err := json.Unmarshal(data, &event); err != nil {
			slog.Debug("malformed message event", "error", err)
			return
		}
		m.logConversation(event.Message)
	case "vote":
		m.bump("votes")
		var v store.VoteEntry
		if err := json.Unmarshal(data, &v); err != nil {
			slog.Debug("malformed vote event", "error", err)
			return
		}
		m.logVote(v)
	case "proposal":
		m.bump("proposals")
	case "task":
		m.bump("tasks")
		var event struct {
			TaskID      string          `json:"task_id"`
			Type        string          `json:"type"`
			Agent       string          `json:"agent"`
			Status      string          `json:"status"`
			Success     *bool           `json:"success"`
			StartedAt   *time.Time      `json:"started_at"`
			CompletedAt *time.Time      `json:"completed_at"`
			Result      json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(data, &event); err != nil {
			slog.Debug("malformed task event", "error", err)
			return
		}
		m.logTask(store.TaskEntry{
			TaskID:      event.TaskID,
			Type:        event.Type,
			Agent:       event.Agent,
			Status:      event.Status,
			Success:     event.Success,
			Result:      event.Result,
			StartedAt:   event.StartedAt,
			CompletedAt: event.CompletedAt,
		})
	case "alert", "diag":
		// Raised by this process; counted, not re-persisted.
		m.bump(parts[1] + "s")
	}
}

func (m *Manager) logConversation(msg bus.Message) {
	st := m.storage()
	if st == nil {
		return
	}
	conversationID := msg.CorrelationID
	if conversationID == "" {
		conversationID = msg.ID
	}
	var content json.RawMessage
	if msg.Content != nil {
		content, _ = json.Marshal(msg.Content)
	}
	entry := &store.ConversationEntry{
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Timestamp:      msg.Timestamp,
		Sender:         msg.Sender,
		Recipient:      msg.Recipient,
		Type:           msg.Type,
		Content:        content,
		CorrelationID:  msg.CorrelationID,
	}
	if err := st.SaveConversation(entry); err != nil {
		m.degrade(err)
	}
}

func (m *Manager) logVote(v store.VoteEntry) {
	st := m.storage()
	if st == nil {
		return
	}
	if err := st.SaveVote(&v); err != nil {
		m.degrade(err)
	}
}

func (m *Manager) logTask(t store.TaskEntry) {
	st := m.storage()
	if st == nil {
		return
	}
	if err := st.SaveTask(&t); err != nil {
		m.degrade(err)
	}
}

func (m *Manager) bump(metric string) {
	m.mu.Lock()
	m.counts[metric]++
	m.mu.Unlock()
}

// sweep closes one observation window: it compares each metric's current
// rate against its rolling baseline, raises anomaly alerts, folds the
// window into the baseline, and resets the counters.
func (m *Manager) sweep() {
	m.mu.Lock()
	type sample struct {
		metric   string
		current  float64
		baseline float64
		anomaly  bool
	}
	var samples []sample
	for metric, b := range m.baselines {
		current := m.counts[metric]
		s := sample{metric: metric, current: current, baseline: b.value}
		if b.samples >= baselineWarmup && b.value > 0 &&
			(current > 2*b.value || current < 0.5*b.value) {
			s.anomaly = true
		}
		samples = append(samples, s)
	}
	alpha := m.cfg.BaselineAlpha
	for metric := range m.counts {
		b := m.baselines[metric]
		if b.samples == 0 {
			b.value = m.counts[metric]
		} else {
			b.value += alpha * (m.counts[metric] - b.value)
		}
		b.samples++
		m.baselines[metric] = b
	}
	m.counts = make(map[string]float64)
	m.mu.Unlock()

	for _, s := range samples {
		if !s.anomaly {
			continue
		}
		m.Raise(SeverityWarning, TypePerformanceDegradation,
			"metric rate anomaly: "+s.metric,
			"current rate deviates from the rolling baseline",
			"", map[string]any{
				"metric":   s.metric,
				"current":  s.current,
				"baseline": s.baseline,
			})
	}
}

// Baseline returns the current rolling baseline for a metric, for status
// reporting.
func (m *Manager) Baseline(metric string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baselines[metric].value
}

// Degraded reports whether the monitor lost its store and is running
// memory-only.
func (m *Manager) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

func (m *Manager) storage() *store.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.degraded {
		return nil
	}
	return m.st
}

// degrade drops to memory-only operation on the first store failure and
// raises a single warning alert about it.
func (m *Manager) degrade(err error) {
	m.mu.Lock()
	if m.degraded {
		m.mu.Unlock()
		return
	}
	m.degraded = true
	m.mu.Unlock()

	slog.Error("store unavailable, monitor degraded to memory-only", "error", err)
	m.Raise(SeverityWarning, TypeResourceExhaustion,
		"persistent store unavailable",
		"telemetry is held in memory only until the store recovers: "+err.Error(),
		"", nil)
}
