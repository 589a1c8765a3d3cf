package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Recipient forms understood by the bus.
const (
	Broadcast     = "broadcast"
	ChannelPrefix = "channel:"
)

// Common message types exchanged between swarm components.
const (
	TypeTaskAssignment = "task_assignment"
	TypeTaskResult     = "task_result"
	TypeVoteRequest    = "vote_request"
	TypeVoteResult     = "vote_result"
	TypePing           = "ping"
	TypePong           = "pong"
)

// Message is an immutable envelope routed between agents. A message
// addressed to "broadcast" fans out to every registered inbox; a
// "channel:<name>" recipient fans out to the channel's subscribers.
type Message struct {
	ID            string         `json:"id"`
	Sender        string         `json:"sender"`
	Recipient     string         `json:"recipient"`
	Type          string         `json:"type"`
	Content       map[string]any `json:"content,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Priority      int            `json:"priority"`
	TTLSeconds    int            `json:"ttl_seconds"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

func NewMessage(sender, recipient, msgType string, content map[string]any) Message {
	return Message{
		ID:         uuid.New().String(),
		Sender:     sender,
		Recipient:  recipient,
		Type:       msgType,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		Priority:   3,
		TTLSeconds: 300,
	}
}

// Expired reports whether the message's TTL has elapsed. Messages with a
// zero or negative TTL never expire.
func (m Message) Expired(now time.Time) bool {
	if m.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(m.Timestamp) > time.Duration(m.TTLSeconds)*time.Second
}

// Channel returns the channel name for a "channel:<name>" recipient.
func (m Message) Channel() (string, bool) {
	if strings.HasPrefix(m.Recipient, ChannelPrefix) {
		return strings.TrimPrefix(m.Recipient, ChannelPrefix), true
	}
	return "", false
}

func (m Message) validate() error {
	if m.Sender == "" {
		return fmt.Errorf("%w: empty sender", ErrInvalidMessage)
	}
	if m.Recipient == "" {
		return fmt.Errorf("%w: empty recipient", ErrInvalidMessage)
	}
	if m.Type == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidMessage)
	}
	if m.Priority < 1 || m.Priority > 5 {
		return fmt.Errorf("%w: priority %d outside [1,5]", ErrInvalidMessage, m.Priority)
	}
	return nil
}
