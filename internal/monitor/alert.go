package monitor

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mkelaidis/agora/internal/natsbus"
	"github.com/mkelaidis/agora/internal/store"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Alert types raised by the monitor and diagnostics.
const (
	TypeAgentFailure           = "agent-failure"
	TypeCommunicationError     = "communication-error"
	TypeVotingDeadlock         = "voting-deadlock"
	TypePerformanceDegradation = "performance-degradation"
	TypeResourceExhaustion     = "resource-exhaustion"
	TypeLoopDetected           = "loop-detected"
	TypeConsensusFailure       = "consensus-failure"
	TypeSecurityViolation      = "security-violation"
)

var ErrAlertNotFound = errors.New("alert not found")

type Alert struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Severity    string         `json:"severity"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	AgentName   string         `json:"agent_name,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Resolved    bool           `json:"resolved"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	ResolveNote string         `json:"resolve_note,omitempty"`
}

// Notifier forwards alerts to an external channel. The telegram package
// implements it.
type Notifier interface {
	Notify(a Alert) error
}

// Raise creates a new alert, indexes it as active, persists it, and
// forwards error/critical severities to the notifier.
func (m *Manager) Raise(severity, alertType, title, description, agentName string, metadata map[string]any) *Alert {
	a := &Alert{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		Severity:    severity,
		Type:        alertType,
		Title:       title,
		Description: description,
		AgentName:   agentName,
		Metadata:    metadata,
	}

	m.mu.Lock()
	m.active[a.ID] = a
	m.alerts[a.ID] = a
	m.mu.Unlock()

	slog.Warn("alert raised", "severity", severity, "type", alertType, "title", title, "agent", agentName)

	m.persistAlert(a)

	if m.nats != nil {
		_ = m.nats.PublishJSON(natsbus.TopicAlert(severity), map[string]any{
			"alert_id": a.ID,
			"severity": severity,
			"type":     alertType,
			"title":    title,
			"agent":    agentName,
		})
	}

	if m.notifier != nil && (severity == SeverityError || severity == SeverityCritical) {
		if err := m.notifier.Notify(*a); err != nil {
			slog.Warn("alert notification failed", "alert", a.ID, "error", err)
		}
	}

	return a
}

// RaiseTermination records a swarm termination as an alert, classified by
// the termination reason.
func (m *Manager) RaiseTermination(reason string) *Alert {
	alertType := TypeAgentFailure
	severity := SeverityError
	switch reason {
	case "infinite loop detected":
		alertType = TypeLoopDetected
		severity = SeverityCritical
	case "maximum runtime exceeded", "maximum iterations reached":
		alertType = TypeResourceExhaustion
	}
	return m.Raise(severity, alertType, "swarm terminated", reason, "", nil)
}

// Resolve marks an alert resolved and removes it from the active index.
// Resolving an already-resolved alert is a no-op.
func (m *Manager) Resolve(alertID, note string) error {
	m.mu.Lock()
	a, ok := m.alerts[alertID]
	if !ok {
		m.mu.Unlock()
		return ErrAlertNotFound
	}
	if a.Resolved {
		m.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	a.Resolved = true
	a.ResolvedAt = &now
	a.ResolveNote = note
	delete(m.active, alertID)
	m.mu.Unlock()

	slog.Info("alert resolved", "alert", alertID, "note", note)

	if st := m.storage(); st != nil {
		if err := st.ResolveAlert(alertID, now); err != nil {
			m.degrade(err)
		}
	}
	return nil
}

// ActiveAlerts returns unresolved alerts, oldest first.
func (m *Manager) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// AlertHistory returns every alert raised in the last given hours,
// resolved or not, oldest first.
func (m *Manager) AlertHistory(hours int) []Alert {
	if hours <= 0 {
		hours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.alerts {
		if a.Timestamp.After(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (m *Manager) persistAlert(a *Alert) {
	st := m.storage()
	if st == nil {
		return
	}
	entry := &store.AlertEntry{
		AlertID:     a.ID,
		Timestamp:   a.Timestamp,
		Severity:    a.Severity,
		Type:        a.Type,
		Title:       a.Title,
		Description: a.Description,
		AgentName:   a.AgentName,
		Resolved:    a.Resolved,
		ResolvedAt:  a.ResolvedAt,
	}
	if err := st.SaveAlert(entry); err != nil {
		m.degrade(err)
	}
}
