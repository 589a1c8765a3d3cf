package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mkelaidis/agora/internal/bus"
	"github.com/mkelaidis/agora/internal/confidence"
	"github.com/mkelaidis/agora/internal/natsbus"
)

var (
	ErrProposalNotFound = errors.New("proposal not found")
	ErrConsensusFailed  = errors.New("consensus failed: deadline passed without quorum")
)

// ValidationError explains why a vote was rejected. Votes are never
// silently dropped; the first failing rule is reported to the caller and
// recorded on the proposal.
type ValidationError struct {
	Rule   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("vote rejected (%s): %s", e.Rule, e.Reason)
}

// System runs quorum-based weighted votes between agents. Proposals are
// broadcast on creation, votes are validated in a fixed rule order, and
// completed proposals move to an immutable archive.
type System struct {
	bus   *bus.Bus
	model *confidence.Model
	nats  *natsbus.Client

	mu      sync.Mutex
	active  map[string]*Proposal
	archive map[string]*Proposal
}

func NewSystem(b *bus.Bus, model *confidence.Model, nc *natsbus.Client) *System {
	return &System{
		bus:     b,
		model:   model,
		nats:    nc,
		active:  make(map[string]*Proposal),
		archive: make(map[string]*Proposal),
	}
}

// CreateProposal opens a proposal and broadcasts it so every registered
// agent observes it. The expected voter count is snapshotted at creation.
func (s *System) CreateProposal(proposer, title, description string, options []string, domain string, quorum float64, deadline *time.Time) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("proposal needs at least one option")
	}
	if quorum <= 0 || quorum > 1 {
		return "", fmt.Errorf("quorum %f outside (0,1]", quorum)
	}

	p := &Proposal{
		ID:             uuid.New().String(),
		Proposer:       proposer,
		Title:          title,
		Description:    description,
		Options:        append([]string(nil), options...),
		Domain:         domain,
		RequiredQuorum: quorum,
		ExpectedVoters: len(s.bus.Registered()),
		Deadline:       deadline,
		Votes:          make(map[string]Vote),
		Attendance:     make(map[string]AttendanceRecord),
		Status:         StatusActive,
		CreatedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	s.active[p.ID] = p
	s.mu.Unlock()

	content := map[string]any{
		"proposal_id": p.ID,
		"title":       title,
		"description": description,
		"options":     options,
		"domain":      domain,
		"quorum":      quorum,
	}
	if deadline != nil {
		content["deadline"] = deadline.Format(time.RFC3339)
	}
	if _, err := s.bus.Send(bus.NewMessage(proposer, bus.Broadcast, bus.TypeVoteRequest, content)); err != nil {
		slog.Warn("proposal broadcast failed", "proposal", p.ID, "error", err)
	}

	s.publish(p, "created")
	slog.Info("proposal created", "proposal", p.ID, "title", title, "expected_voters", p.ExpectedVoters)
	return p.ID, nil
}

// CastVote validates and applies one agent's vote. Validation rules run in
// a fixed order and the first failure is returned as a *ValidationError.
// Reaching quorum completes the proposal.
func (s *System) CastVote(proposalID, agent, decision string, weight, conf float64) error {
	s.mu.Lock()

	p, ok := s.active[proposalID]
	if !ok {
		if _, archived := s.archive[proposalID]; archived {
			s.mu.Unlock()
			// Completed proposals are immutable; the rejection is not
			// recorded on the archived record.
			return &ValidationError{Rule: "inactive", Reason: "proposal is no longer active"}
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}

	if verr := validateVote(p, agent, decision, weight, conf); verr != nil {
		p.ValidationErrs = append(p.ValidationErrs, verr.Error())
		s.mu.Unlock()
		return verr
	}

	now := time.Now().UTC()
	p.Votes[agent] = Vote{
		Agent:      agent,
		Decision:   decision,
		Weight:     weight,
		Confidence: conf,
		Timestamp:  now,
	}
	p.Attendance[agent] = AttendanceRecord{Agent: agent, VotedAt: now}

	s.publishVote(p, p.Votes[agent])

	var completed *Proposal
	if p.quorumReached() {
		completed = p
		s.complete(p, false)
	}
	s.mu.Unlock()

	if completed != nil {
		s.afterCompletion(completed)
	}
	return nil
}

// AddConversation appends a free-text audit entry to an active proposal.
func (s *System) AddConversation(proposalID, agent, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.active[proposalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}
	p.Conversation = append(p.Conversation, Entry{
		Agent:     agent,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Cancel aborts an active proposal without a result.
func (s *System) Cancel(proposalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.active[proposalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}
	p.Status = StatusCancelled
	now := time.Now().UTC()
	p.CompletedAt = &now
	delete(s.active, p.ID)
	s.archive[p.ID] = p
	s.publish(p, "cancelled")
	return nil
}

// Status returns a snapshot of a proposal, active or archived.
func (s *System) Status(proposalID string) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.active[proposalID]; ok {
		return p.snapshot(), nil
	}
	if p, ok := s.archive[proposalID]; ok {
		return p.snapshot(), nil
	}
	return Proposal{}, fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
}

// Result returns the winning option of a completed proposal. A proposal
// that expired without quorum yields ErrConsensusFailed so callers can
// tell "no decision was reached" apart from other failures.
func (s *System) Result(proposalID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[proposalID]; ok {
		return "", fmt.Errorf("proposal still active: %s", proposalID)
	}
	p, ok := s.archive[proposalID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrProposalNotFound, proposalID)
	}
	if p.ConsensusFail {
		return "", ErrConsensusFailed
	}
	return p.Winner, nil
}

// ActiveCount returns the number of open proposals.
func (s *System) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Active returns snapshots of open proposals.
func (s *System) Active() []Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Proposal, 0, len(s.active))
	for _, p := range s.active {
		out = append(out, p.snapshot())
	}
	return out
}

// Archived returns snapshots of completed and cancelled proposals.
func (s *System) Archived() []Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Proposal, 0, len(s.archive))
	for _, p := range s.archive {
		out = append(out, p.snapshot())
	}
	return out
}

// Run expires deadlined proposals until ctx is done. A proposal whose
// deadline passes without quorum completes as a consensus failure.
func (s *System) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ExpireDeadlines(time.Now())
		}
	}
}

// ExpireDeadlines completes every active proposal whose deadline has
// passed and returns how many expired.
func (s *System) ExpireDeadlines(now time.Time) int {
	s.mu.Lock()
	var expired []*Proposal
	for _, p := range s.active {
		if p.Deadline != nil && now.After(*p.Deadline) {
			expired = append(expired, p)
			s.complete(p, !p.quorumReached())
		}
	}
	s.mu.Unlock()

	for _, p := range expired {
		s.afterCompletion(p)
	}
	return len(expired)
}

func validateVote(p *Proposal, agent, decision string, weight, conf float64) *ValidationError {
	if _, dup := p.Votes[agent]; dup {
		return &ValidationError{Rule: "duplicate", Reason: fmt.Sprintf("agent %s already voted", agent)}
	}
	if decision != Abstain && !p.hasOption(decision) {
		return &ValidationError{Rule: "decision", Reason: fmt.Sprintf("decision %q is not an option", decision)}
	}
	if weight < 0 || weight > 2 {
		return &ValidationError{Rule: "weight", Reason: fmt.Sprintf("weight %f outside [0,2]", weight)}
	}
	if conf < 0 || conf > 1 {
		return &ValidationError{Rule: "confidence", Reason: fmt.Sprintf("confidence %f outside [0,1]", conf)}
	}
	if p.Deadline != nil && time.Now().After(*p.Deadline) {
		return &ValidationError{Rule: "deadline", Reason: "voting deadline has passed"}
	}
	if p.Status != StatusActive {
		return &ValidationError{Rule: "inactive", Reason: "proposal is no longer active"}
	}
	return nil
}

// complete finalizes a proposal. Callers must hold the mutex.
func (s *System) complete(p *Proposal, consensusFailed bool) {
	winner, _ := p.tally()
	p.Winner = winner
	p.ConsensusFail = consensusFailed
	p.Status = StatusCompleted
	now := time.Now().UTC()
	p.CompletedAt = &now
	delete(s.active, p.ID)
	s.archive[p.ID] = p
}

// afterCompletion handles the side effects of a finished proposal: voter
// confidence updates and the result broadcast. Called without the mutex.
func (s *System) afterCompletion(p *Proposal) {
	for agent, v := range p.Votes {
		if v.Decision == Abstain {
			continue
		}
		if rec, ok := s.model.Get(agent); ok {
			rec.RecordVote(v.Decision == p.Winner)
		}
	}

	content := map[string]any{
		"proposal_id":       p.ID,
		"title":             p.Title,
		"winner":            p.Winner,
		"votes":             len(p.Votes),
		"consensus_failure": p.ConsensusFail,
	}
	if _, err := s.bus.Send(bus.NewMessage("voting", bus.Broadcast, bus.TypeVoteResult, content)); err != nil {
		slog.Warn("result broadcast failed", "proposal", p.ID, "error", err)
	}

	s.publish(p, "completed")

	if p.ConsensusFail {
		slog.Warn("proposal expired without quorum", "proposal", p.ID, "title", p.Title, "votes", len(p.Votes))
	} else {
		slog.Info("proposal completed", "proposal", p.ID, "winner", p.Winner, "votes", len(p.Votes))
	}
}

func (s *System) publish(p *Proposal, event string) {
	if s.nats == nil {
		return
	}
	payload := map[string]any{
		"event":             event,
		"proposal_id":       p.ID,
		"title":             p.Title,
		"status":            p.Status,
		"winner":            p.Winner,
		"consensus_failure": p.ConsensusFail,
		"votes":             len(p.Votes),
	}
	if err := s.nats.PublishJSON(natsbus.TopicProposal(p.ID), payload); err != nil {
		slog.Debug("proposal event publish failed", "error", err)
	}
}

func (s *System) publishVote(p *Proposal, v Vote) {
	if s.nats == nil {
		return
	}
	payload := map[string]any{
		"proposal_id": p.ID,
		"agent":       v.Agent,
		"decision":    v.Decision,
		"weight":      v.Weight,
		"confidence":  v.Confidence,
		"timestamp":   v.Timestamp.Format(time.RFC3339Nano),
	}
	if err := s.nats.PublishJSON(natsbus.TopicVote(p.ID), payload); err != nil {
		slog.Debug("vote event publish failed", "error", err)
	}
}
