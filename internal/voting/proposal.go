package voting

import (
	"time"
)

const Abstain = "abstain"

// Proposal statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

type Vote struct {
	Agent      string    `json:"agent"`
	Decision   string    `json:"decision"`
	Weight     float64   `json:"weight"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

type AttendanceRecord struct {
	Agent   string    `json:"agent"`
	VotedAt time.Time `json:"voted_at"`
}

// Entry is a free-text conversation line attached to a proposal. Entries
// are kept for audit and never affect the tally.
type Entry struct {
	Agent     string    `json:"agent"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type Proposal struct {
	ID             string                      `json:"id"`
	Proposer       string                      `json:"proposer"`
	Title          string                      `json:"title"`
	Description    string                      `json:"description"`
	Options        []string                    `json:"options"`
	Domain         string                      `json:"domain,omitempty"`
	RequiredQuorum float64                     `json:"required_quorum"`
	ExpectedVoters int                         `json:"expected_voters"`
	Deadline       *time.Time                  `json:"deadline,omitempty"`
	Votes          map[string]Vote             `json:"votes"`
	Attendance     map[string]AttendanceRecord `json:"attendance"`
	Conversation   []Entry                     `json:"conversation"`
	ValidationErrs []string                    `json:"validation_errors,omitempty"`
	Status         string                      `json:"status"`
	Winner         string                      `json:"winner,omitempty"`
	ConsensusFail  bool                        `json:"consensus_failure"`
	CreatedAt      time.Time                   `json:"created_at"`
	CompletedAt    *time.Time                  `json:"completed_at,omitempty"`
}

func (p *Proposal) hasOption(decision string) bool {
	for _, o := range p.Options {
		if o == decision {
			return true
		}
	}
	return false
}

// tally sums vote weights per non-abstain option and picks the winner.
// The sum is commutative, so the result does not depend on the order votes
// arrived in. Ties break toward the first listed option.
func (p *Proposal) tally() (winner string, totals map[string]float64) {
	totals = make(map[string]float64, len(p.Options))
	for _, v := range p.Votes {
		if v.Decision == Abstain {
			continue
		}
		totals[v.Decision] += v.Weight
	}

	best := -1.0
	for _, option := range p.Options {
		if totals[option] > best {
			best = totals[option]
			winner = option
		}
	}
	if best <= 0 {
		return "", totals
	}
	return winner, totals
}

// quorumReached reports whether enough votes arrived. A proposal snapshot
// of zero expected voters can only complete by deadline.
func (p *Proposal) quorumReached() bool {
	if p.ExpectedVoters == 0 {
		return false
	}
	required := p.RequiredQuorum * float64(p.ExpectedVoters)
	return float64(len(p.Votes)) >= required
}

// snapshot returns a deep copy safe to hand to callers.
func (p *Proposal) snapshot() Proposal {
	out := *p
	out.Options = append([]string(nil), p.Options...)
	out.Votes = make(map[string]Vote, len(p.Votes))
	for a, v := range p.Votes {
		out.Votes[a] = v
	}
	out.Attendance = make(map[string]AttendanceRecord, len(p.Attendance))
	for a, r := range p.Attendance {
		out.Attendance[a] = r
	}
	out.Conversation = append([]Entry(nil), p.Conversation...)
	out.ValidationErrs = append([]string(nil), p.ValidationErrs...)
	return out
}
