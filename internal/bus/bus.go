package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkelaidis/agora/internal/config"
	"github.com/mkelaidis/agora/internal/natsbus"
)

var (
	ErrInvalidMessage = errors.New("invalid message")

	// ErrDeliveryTimeout reports that a direct send found its recipient's
	// inbox full for the whole delivery timeout.
	ErrDeliveryTimeout = errors.New("delivery timeout: inbox full")
)

// RoutingError reports an unknown literal recipient. Broadcast and channel
// sends never produce it; they simply deliver to zero or more inboxes.
type RoutingError struct {
	Recipient string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("unknown recipient: %s", e.Recipient)
}

// Bus routes messages between registered agents through bounded per-agent
// inboxes. Delivery never blocks past the configured timeout: a full inbox
// costs that one recipient its copy, the rest still receive theirs. Every
// accepted message is mirrored onto NATS for the monitor and web stream.
type Bus struct {
	cfg  config.BusConfig
	nats *natsbus.Client

	mu        sync.RWMutex
	inboxes   map[string]chan Message
	observers map[string]bool            // inboxes excluded from the roster
	channels  map[string]map[string]bool // channel -> subscriber set
	history   []Message                  // bounded, oldest evicted
}

func New(cfg config.BusConfig, nc *natsbus.Client) *Bus {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 100
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	return &Bus{
		cfg:       cfg,
		nats:      nc,
		inboxes:   make(map[string]chan Message),
		observers: make(map[string]bool),
		channels:  make(map[string]map[string]bool),
	}
}

func (b *Bus) Register(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inboxes[name]; ok {
		return fmt.Errorf("agent already registered: %s", name)
	}
	b.inboxes[name] = make(chan Message, b.cfg.InboxSize)
	slog.Info("agent registered on bus", "agent", name)
	return nil
}

// Observe registers an inbox that receives broadcasts and direct sends but
// is not counted as an agent by Registered. The coordinator uses one for
// task replies.
func (b *Bus) Observe(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inboxes[name]; ok {
		return fmt.Errorf("agent already registered: %s", name)
	}
	b.inboxes[name] = make(chan Message, b.cfg.InboxSize)
	b.observers[name] = true
	return nil
}

func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inboxes, name)
	delete(b.observers, name)
	for _, subs := range b.channels {
		delete(subs, name)
	}
	slog.Info("agent unregistered from bus", "agent", name)
}

func (b *Bus) Subscribe(name, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inboxes[name]; !ok {
		return &RoutingError{Recipient: name}
	}
	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[string]bool)
		b.channels[channel] = subs
	}
	subs[name] = true
	return nil
}

// Registered returns the names of all registered agents.
func (b *Bus) Registered() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.inboxes))
	for name := range b.inboxes {
		if !b.observers[name] {
			names = append(names, name)
		}
	}
	return names
}

// Send resolves the recipient and delivers the message. It returns true if
// at least one inbox accepted it. Unknown literal recipients yield a
// RoutingError.
func (b *Bus) Send(msg Message) (bool, error) {
	if err := msg.validate(); err != nil {
		return false, err
	}

	b.mu.RLock()
	var targets []chan Message
	direct := false
	switch {
	case msg.Recipient == Broadcast:
		for _, inbox := range b.inboxes {
			targets = append(targets, inbox)
		}
	default:
		if channel, ok := msg.Channel(); ok {
			for name := range b.channels[channel] {
				if inbox, ok := b.inboxes[name]; ok {
					targets = append(targets, inbox)
				}
			}
		} else {
			inbox, ok := b.inboxes[msg.Recipient]
			if !ok {
				b.mu.RUnlock()
				return false, &RoutingError{Recipient: msg.Recipient}
			}
			direct = true
			targets = append(targets, inbox)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, inbox := range targets {
		if b.enqueue(inbox, msg) {
			delivered++
		}
	}

	b.mu.Lock()
	b.history = append(b.history, msg)
	if len(b.history) > b.cfg.HistorySize {
		b.history = b.history[len(b.history)-b.cfg.HistorySize:]
	}
	b.mu.Unlock()

	b.mirror(msg, delivered)

	// A direct send with a full inbox is a timeout the caller can act on;
	// broadcast and channel sends report partial delivery via the bool.
	if direct && delivered == 0 {
		return false, ErrDeliveryTimeout
	}
	return delivered > 0, nil
}

// enqueue attempts a bounded enqueue with the delivery timeout. A full
// inbox drops this recipient's copy without blocking the rest of the send.
func (b *Bus) enqueue(inbox chan Message, msg Message) bool {
	select {
	case inbox <- msg:
		return true
	default:
	}

	timer := time.NewTimer(b.cfg.DeliveryTimeout)
	defer timer.Stop()
	select {
	case inbox <- msg:
		return true
	case <-timer.C:
		slog.Warn("inbox full, message dropped for recipient",
			"message", msg.ID, "type", msg.Type, "sender", msg.Sender)
		return false
	}
}

// Poll returns the messages waiting in an agent's inbox, blocking up to
// timeout for the first one. Expired messages are dropped silently.
func (b *Bus) Poll(ctx context.Context, name string, timeout time.Duration) ([]Message, error) {
	b.mu.RLock()
	inbox, ok := b.inboxes[name]
	b.mu.RUnlock()
	if !ok {
		return nil, &RoutingError{Recipient: name}
	}

	var out []Message
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Wait for the first message, then drain whatever else is queued.
	select {
	case msg := <-inbox:
		if !msg.Expired(time.Now()) {
			out = append(out, msg)
		}
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		select {
		case msg := <-inbox:
			if !msg.Expired(time.Now()) {
				out = append(out, msg)
			}
		default:
			return out, nil
		}
	}
}

// History returns a copy of the retained message history, most recent last.
func (b *Bus) History(limit int) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Message, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// Run sweeps expired messages from the history buffer until ctx is done.
func (b *Bus) Run(ctx context.Context) {
	interval := b.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Bus) sweep() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.history[:0]
	for _, msg := range b.history {
		if !msg.Expired(now) {
			kept = append(kept, msg)
		}
	}
	b.history = kept
}

func (b *Bus) mirror(msg Message, delivered int) {
	if b.nats == nil {
		return
	}
	event := map[string]any{
		"message":   msg,
		"delivered": delivered,
	}
	if err := b.nats.PublishJSON(natsbus.TopicMessage(msg.Recipient), event); err != nil {
		slog.Debug("message mirror failed", "error", err)
	}
}
