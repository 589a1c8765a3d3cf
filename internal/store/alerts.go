package store

import (
	"fmt"
	"time"
)

// AlertEntry is one monitor alert as persisted to the alert history.
type AlertEntry struct {
	ID          int64      `json:"id"`
	AlertID     string     `json:"alert_id"`
	Timestamp   time.Time  `json:"timestamp"`
	Severity    string     `json:"severity"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AgentName   string     `json:"agent_name,omitempty"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

func (s *Store) SaveAlert(a *AlertEntry) error {
	result, err := s.db.Exec(`
		INSERT INTO alerts (alert_id, timestamp, severity, type, title, description, agent_name, resolved, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(alert_id) DO UPDATE SET
			resolved = excluded.resolved,
			resolved_at = excluded.resolved_at`,
		a.AlertID, a.Timestamp, a.Severity, a.Type, a.Title, a.Description, a.AgentName, a.Resolved, a.ResolvedAt)
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	a.ID, _ = result.LastInsertId()
	return nil
}

func (s *Store) ResolveAlert(alertID string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE alerts SET resolved = TRUE, resolved_at = ? WHERE alert_id = ?`,
		at, alertID)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	return nil
}

func (s *Store) GetAlerts(since time.Time, limit int) ([]AlertEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, alert_id, timestamp, severity, type, title, description, agent_name, resolved, resolved_at
		FROM alerts
		WHERE timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("get alerts: %w", err)
	}
	defer rows.Close()

	var alerts []AlertEntry
	for rows.Next() {
		var a AlertEntry
		var description, agentName *string
		if err := rows.Scan(&a.ID, &a.AlertID, &a.Timestamp, &a.Severity, &a.Type,
			&a.Title, &description, &agentName, &a.Resolved, &a.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if description != nil {
			a.Description = *description
		}
		if agentName != nil {
			a.AgentName = *agentName
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
