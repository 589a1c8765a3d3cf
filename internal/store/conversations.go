package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConversationEntry is one bus message as persisted by the monitor. The
// log is append-only; message_id uniqueness makes re-delivery harmless.
type ConversationEntry struct {
	ID             int64           `json:"id"`
	ConversationID string          `json:"conversation_id"`
	MessageID      string          `json:"message_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Sender         string          `json:"sender"`
	Recipient      string          `json:"recipient"`
	Type           string          `json:"type"`
	Content        json.RawMessage `json:"content,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
}

func (s *Store) SaveConversation(e *ConversationEntry) error {
	result, err := s.db.Exec(`
		INSERT INTO conversations (conversation_id, message_id, timestamp, sender, recipient, type, content, correlation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		e.ConversationID, e.MessageID, e.Timestamp, e.Sender, e.Recipient, e.Type, string(e.Content), e.CorrelationID)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	e.ID, _ = result.LastInsertId()
	return nil
}

func scanConversation(scanner interface {
	Scan(dest ...any) error
}) (*ConversationEntry, error) {
	e := &ConversationEntry{}
	var content, correlation *string
	err := scanner.Scan(&e.ID, &e.ConversationID, &e.MessageID, &e.Timestamp,
		&e.Sender, &e.Recipient, &e.Type, &content, &correlation)
	if err != nil {
		return nil, err
	}
	if content != nil {
		e.Content = json.RawMessage(*content)
	}
	if correlation != nil {
		e.CorrelationID = *correlation
	}
	return e, nil
}

const conversationColumns = `id, conversation_id, message_id, timestamp, sender, recipient, type, content, correlation_id`

func (s *Store) GetConversations(from, to time.Time, limit int) ([]ConversationEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC
		LIMIT ?`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("get conversations: %w", err)
	}
	defer rows.Close()

	var entries []ConversationEntry
	for rows.Next() {
		e, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *Store) GetConversationsForAgent(agent string, limit int) ([]ConversationEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE sender = ? OR recipient = ?
		ORDER BY timestamp DESC
		LIMIT ?`, agent, agent, limit)
	if err != nil {
		return nil, fmt.Errorf("get conversations for agent: %w", err)
	}
	defer rows.Close()

	var entries []ConversationEntry
	for rows.Next() {
		e, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
