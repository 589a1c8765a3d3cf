package voting

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/mkelaidis/agora/internal/bus"
	"github.com/mkelaidis/agora/internal/confidence"
	"github.com/mkelaidis/agora/internal/config"
)

func newTestSystem(t *testing.T, agents ...string) (*System, *bus.Bus, *confidence.Model) {
	t.Helper()
	b := bus.New(config.BusConfig{InboxSize: 32, DeliveryTimeout: 50 * time.Millisecond, HistorySize: 64}, nil)
	model := confidence.NewModel()
	for _, a := range agents {
		if err := b.Register(a); err != nil {
			t.Fatalf("register %s: %v", a, err)
		}
		model.Register(a, nil)
	}
	return NewSystem(b, model, nil), b, model
}

func TestProposalBroadcastOnCreate(t *testing.T) {
	s, b, _ := newTestSystem(t, "video", "audio")

	id, err := s.CreateProposal("video", "pick codec", "", []string{"h264", "av1"}, "video", 1.0, nil)
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	msgs, err := b.Poll(context.Background(), "audio", time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 broadcast message, got %d", len(msgs))
	}
	if msgs[0].Type != bus.TypeVoteRequest {
		t.Errorf("expected vote_request, got %s", msgs[0].Type)
	}
	if msgs[0].Content["proposal_id"] != id {
		t.Errorf("expected proposal id in content")
	}
}

func TestQuorumRequiresAllVotersAtFullQuorum(t *testing.T) {
	s, _, _ := newTestSystem(t, "a", "b", "c")

	id, err := s.CreateProposal("a", "format", "", []string{"mp3", "flac"}, "", 1.0, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.CastVote(id, "a", "mp3", 1.0, 0.9); err != nil {
		t.Fatalf("vote a: %v", err)
	}
	if err := s.CastVote(id, "b", "flac", 1.0, 0.9); err != nil {
		t.Fatalf("vote b: %v", err)
	}

	p, err := s.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if p.Status != StatusActive {
		t.Fatalf("proposal must stay active with 2 of 3 votes at quorum 1.0, got %s", p.Status)
	}

	if err := s.CastVote(id, "c", "mp3", 1.0, 0.9); err != nil {
		t.Fatalf("vote c: %v", err)
	}
	p, _ = s.Status(id)
	if p.Status != StatusCompleted {
		t.Fatalf("proposal should complete at full participation, got %s", p.Status)
	}
	if p.Winner != "mp3" {
		t.Errorf("expected mp3 to win 2-1, got %s", p.Winner)
	}
}

func TestDuplicateVoteRejectedWithoutAlteringTally(t *testing.T) {
	s, _, _ := newTestSystem(t, "a", "b", "c")

	id, _ := s.CreateProposal("a", "x", "", []string{"yes", "no"}, "", 1.0, nil)
	if err := s.CastVote(id, "a", "yes", 1.5, 0.9); err != nil {
		t.Fatalf("first vote: %v", err)
	}

	err := s.CastVote(id, "a", "no", 2.0, 0.9)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Rule != "duplicate" {
		t.Errorf("expected duplicate rule, got %s", verr.Rule)
	}

	p, _ := s.Status(id)
	if v := p.Votes["a"]; v.Decision != "yes" || v.Weight != 1.5 {
		t.Errorf("first vote must be untouched, got %+v", v)
	}
	if len(p.ValidationErrs) != 1 {
		t.Errorf("expected rejection recorded on proposal, got %v", p.ValidationErrs)
	}
}

func TestVoteValidationOrder(t *testing.T) {
	s, _, _ := newTestSystem(t, "a", "b")
	id, _ := s.CreateProposal("a", "x", "", []string{"yes", "no"}, "", 1.0, nil)

	cases := []struct {
		name     string
		agent    string
		decision string
		weight   float64
		conf     float64
		rule     string
	}{
		{"bad decision", "a", "maybe", 1.0, 0.5, "decision"},
		{"abstain is valid decision but bad weight", "a", Abstain, 3.0, 0.5, "weight"},
		{"bad confidence", "a", "yes", 1.0, 1.5, "confidence"},
	}
	for _, tc := range cases {
		err := s.CastVote(id, tc.agent, tc.decision, tc.weight, tc.conf)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
		if verr.Rule != tc.rule {
			t.Errorf("%s: expected rule %s, got %s", tc.name, tc.rule, verr.Rule)
		}
	}
}

func TestTallyOrderInvariance(t *testing.T) {
	votes := []Vote{
		{Agent: "a", Decision: "mp3", Weight: 0.8},
		{Agent: "b", Decision: "flac", Weight: 1.2},
		{Agent: "c", Decision: "mp3", Weight: 0.7},
		{Agent: "d", Decision: Abstain, Weight: 2.0},
		{Agent: "e", Decision: "flac", Weight: 0.2},
	}

	var firstWinner string
	for trial := 0; trial < 10; trial++ {
		shuffled := append([]Vote(nil), votes...)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		p := &Proposal{Options: []string{"mp3", "flac"}, Votes: make(map[string]Vote)}
		for _, v := range shuffled {
			p.Votes[v.Agent] = v
		}
		winner, totals := p.tally()
		if trial == 0 {
			firstWinner = winner
		} else if winner != firstWinner {
			t.Fatalf("winner changed with vote order: %s vs %s", winner, firstWinner)
		}
		if totals[Abstain] != 0 {
			t.Error("abstain must not enter the tally")
		}
	}
	if firstWinner != "mp3" {
		t.Errorf("expected mp3 to win 1.5 vs 1.4, got %s", firstWinner)
	}
}

func TestTieBreaksToFirstListedOption(t *testing.T) {
	p := &Proposal{Options: []string{"first", "second"}, Votes: map[string]Vote{
		"a": {Agent: "a", Decision: "second", Weight: 1.0},
		"b": {Agent: "b", Decision: "first", Weight: 1.0},
	}}
	winner, _ := p.tally()
	if winner != "first" {
		t.Errorf("expected tie to break to first listed option, got %s", winner)
	}
}

func TestDeadlineExpiryWithoutQuorum(t *testing.T) {
	s, _, _ := newTestSystem(t, "a", "b", "c")

	deadline := time.Now().Add(30 * time.Millisecond)
	id, _ := s.CreateProposal("a", "x", "", []string{"yes", "no"}, "", 1.0, &deadline)

	if err := s.CastVote(id, "a", "yes", 1.0, 0.9); err != nil {
		t.Fatalf("vote: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := s.ExpireDeadlines(time.Now()); n != 1 {
		t.Fatalf("expected 1 expired proposal, got %d", n)
	}

	if _, err := s.Result(id); !errors.Is(err, ErrConsensusFailed) {
		t.Errorf("expected ErrConsensusFailed, got %v", err)
	}

	p, _ := s.Status(id)
	if p.Status != StatusCompleted || !p.ConsensusFail {
		t.Errorf("expected completed consensus-failure proposal, got %+v", p)
	}
}

func TestVoteAfterDeadlineRejected(t *testing.T) {
	s, _, _ := newTestSystem(t, "a", "b")

	deadline := time.Now().Add(-time.Second)
	id, _ := s.CreateProposal("a", "x", "", []string{"yes"}, "", 1.0, &deadline)

	err := s.CastVote(id, "a", "yes", 1.0, 0.5)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Rule != "deadline" {
		t.Errorf("expected deadline rule, got %s", verr.Rule)
	}
}

func TestCompletionUpdatesVoterConfidence(t *testing.T) {
	s, _, model := newTestSystem(t, "a", "b")

	id, _ := s.CreateProposal("a", "x", "", []string{"yes", "no"}, "", 1.0, nil)
	s.CastVote(id, "a", "yes", 1.0, 0.9)
	s.CastVote(id, "b", "no", 0.5, 0.4)

	ra, _ := model.Get("a")
	rb, _ := model.Get("b")
	sa, sb := ra.Snapshot(), rb.Snapshot()
	if sa.VotesCast != 1 || sa.VotesCorrect != 1 {
		t.Errorf("winner-side voter: expected 1/1, got %d/%d", sa.VotesCorrect, sa.VotesCast)
	}
	if sb.VotesCast != 1 || sb.VotesCorrect != 0 {
		t.Errorf("losing voter: expected 0/1, got %d/%d", sb.VotesCorrect, sb.VotesCast)
	}
}

func TestVoteOnArchivedProposal(t *testing.T) {
	s, _, _ := newTestSystem(t, "a")

	id, _ := s.CreateProposal("a", "x", "", []string{"yes"}, "", 1.0, nil)
	if err := s.CastVote(id, "a", "yes", 1.0, 0.9); err != nil {
		t.Fatalf("vote: %v", err)
	}

	err := s.CastVote(id, "a", "yes", 1.0, 0.9)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError on archived proposal, got %v", err)
	}
	if verr.Rule != "inactive" {
		t.Errorf("expected inactive rule, got %s", verr.Rule)
	}

	// The archived record stays exactly as completion left it.
	archived := s.Archived()
	if len(archived) != 1 {
		t.Fatalf("expected 1 archived proposal, got %d", len(archived))
	}
	if len(archived[0].ValidationErrs) != 0 {
		t.Errorf("rejected vote must not be recorded on the archived proposal: %v", archived[0].ValidationErrs)
	}
}

func TestConversationLogDoesNotAffectTally(t *testing.T) {
	s, _, _ := newTestSystem(t, "a", "b")

	id, _ := s.CreateProposal("a", "x", "", []string{"yes", "no"}, "", 1.0, nil)
	if err := s.AddConversation(id, "b", "strongly prefer no"); err != nil {
		t.Fatalf("conversation: %v", err)
	}
	s.CastVote(id, "a", "yes", 1.0, 0.9)
	s.CastVote(id, "b", "yes", 1.0, 0.9)

	p, _ := s.Status(id)
	if p.Winner != "yes" {
		t.Errorf("conversation entries must not affect the tally, got winner %s", p.Winner)
	}
	if len(p.Conversation) != 1 {
		t.Errorf("expected 1 conversation entry, got %d", len(p.Conversation))
	}
}
