package store

import (
	"fmt"
	"time"
)

// VoteEntry is one cast vote as persisted by the monitor.
type VoteEntry struct {
	ID         int64     `json:"id"`
	ProposalID string    `json:"proposal_id"`
	Agent      string    `json:"agent"`
	Decision   string    `json:"decision"`
	Weight     float64   `json:"weight"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

func (s *Store) SaveVote(v *VoteEntry) error {
	result, err := s.db.Exec(`
		INSERT INTO votes (proposal_id, agent, decision, weight, confidence, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.ProposalID, v.Agent, v.Decision, v.Weight, v.Confidence, v.Timestamp)
	if err != nil {
		return fmt.Errorf("save vote: %w", err)
	}
	v.ID, _ = result.LastInsertId()
	return nil
}

func (s *Store) GetVotes(proposalID string) ([]VoteEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, proposal_id, agent, decision, weight, confidence, timestamp
		FROM votes
		WHERE proposal_id = ?
		ORDER BY timestamp`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("get votes: %w", err)
	}
	defer rows.Close()

	var votes []VoteEntry
	for rows.Next() {
		var v VoteEntry
		if err := rows.Scan(&v.ID, &v.ProposalID, &v.Agent, &v.Decision, &v.Weight, &v.Confidence, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

func (s *Store) GetVotesForAgent(agent string, limit int) ([]VoteEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, proposal_id, agent, decision, weight, confidence, timestamp
		FROM votes
		WHERE agent = ?
		ORDER BY timestamp DESC
		LIMIT ?`, agent, limit)
	if err != nil {
		return nil, fmt.Errorf("get votes for agent: %w", err)
	}
	defer rows.Close()

	var votes []VoteEntry
	for rows.Next() {
		var v VoteEntry
		if err := rows.Scan(&v.ID, &v.ProposalID, &v.Agent, &v.Decision, &v.Weight, &v.Confidence, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}
