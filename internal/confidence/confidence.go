package confidence

import (
	"fmt"
	"sync"
)

const (
	// Blend weights for the overall score recompute.
	weightRecent  = 0.4
	weightVoting  = 0.3
	weightComms   = 0.2
	weightDomains = 0.1

	// Exponential moving average rate for per-tool confidence.
	toolAlpha = 0.1

	// Neutral starting point before any evidence accumulates.
	neutral = 0.5

	ringCapacity = 50
)

// Record is a single agent's reputation. The overall score is recomputed
// from the weighted blend after every mutation and nowhere else. All
// methods serialize on the record's mutex, so two completions for the same
// agent can never interleave.
type Record struct {
	mu sync.Mutex

	overall float64
	domains map[string]float64
	tools   map[string]float64

	recent    []bool // ring buffer of task outcomes
	recentPos int
	recentLen int

	votesCast      int
	votesCorrect   int
	commsTotal     int
	commsEffective int
}

func NewRecord(domains map[string]float64) *Record {
	r := &Record{
		domains: make(map[string]float64, len(domains)),
		tools:   make(map[string]float64),
		recent:  make([]bool, ringCapacity),
	}
	for d, v := range domains {
		r.domains[d] = clamp01(v)
	}
	r.recompute()
	return r
}

// Overall returns the current blended confidence score.
func (r *Record) Overall() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overall
}

// Domain returns the confidence for a domain, 0 if unknown.
func (r *Record) Domain(domain string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.domains[domain]
}

// Tool returns the confidence for a tool, 0 if it has never been used.
func (r *Record) Tool(tool string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tools[tool]
}

// ShouldAbstain reports whether the agent should sit out a vote or task.
// It triggers when the overall score is below the threshold, or when a
// domain is given and the agent's confidence in it is below the threshold.
func (r *Record) ShouldAbstain(domain string, threshold float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overall < threshold {
		return true
	}
	if domain != "" && r.domains[domain] < threshold {
		return true
	}
	return false
}

// VotingWeight returns the agent's vote weight for a decision context,
// clamped to [0.1, 2.0].
func (r *Record) VotingWeight(domain string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.overall + 0.2*r.domains[domain]
	if w < 0.1 {
		return 0.1
	}
	if w > 2.0 {
		return 2.0
	}
	return w
}

// RecordVote feeds a voting outcome (did the agent's decision match the
// winning option) into the voting-accuracy component.
func (r *Record) RecordVote(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.votesCast++
	if success {
		r.votesCorrect++
	}
	r.recompute()
}

// RecordCommunication feeds a communication outcome (was the message
// delivered and acted on) into the effectiveness component.
func (r *Record) RecordCommunication(effective bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commsTotal++
	if effective {
		r.commsEffective++
	}
	r.recompute()
}

// UpdateAfterTask records a task outcome: the result enters the recent
// ring buffer and the tool's confidence moves by an EMA step toward 1.0 on
// success or 0.0 on failure.
func (r *Record) UpdateAfterTask(tool string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recent[r.recentPos] = success
	r.recentPos = (r.recentPos + 1) % ringCapacity
	if r.recentLen < ringCapacity {
		r.recentLen++
	}

	if tool != "" {
		prev, ok := r.tools[tool]
		if !ok {
			prev = neutral
		}
		target := 0.0
		if success {
			target = 1.0
		}
		r.tools[tool] = clamp01(prev + toolAlpha*(target-prev))
	}

	r.recompute()
}

// SetDomain is the explicit admin path for adjusting domain expertise.
func (r *Record) SetDomain(domain string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains[domain] = clamp01(value)
	r.recompute()
}

// Reset restores the record to its registration state, keeping declared
// domains. This is the only reset path.
func (r *Record) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = make(map[string]float64)
	r.recent = make([]bool, ringCapacity)
	r.recentPos = 0
	r.recentLen = 0
	r.votesCast = 0
	r.votesCorrect = 0
	r.commsTotal = 0
	r.commsEffective = 0
	r.recompute()
}

// Snapshot is a read-only copy used by health and diagnostic reports.
type Snapshot struct {
	Overall      float64            `json:"overall"`
	Domains      map[string]float64 `json:"domains"`
	Tools        map[string]float64 `json:"tools"`
	RecentTotal  int                `json:"recent_total"`
	RecentPassed int                `json:"recent_passed"`
	VotesCast    int                `json:"votes_cast"`
	VotesCorrect int                `json:"votes_correct"`
}

func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Overall:      r.overall,
		Domains:      make(map[string]float64, len(r.domains)),
		Tools:        make(map[string]float64, len(r.tools)),
		RecentTotal:  r.recentLen,
		VotesCast:    r.votesCast,
		VotesCorrect: r.votesCorrect,
	}
	for d, v := range r.domains {
		s.Domains[d] = v
	}
	for tl, v := range r.tools {
		s.Tools[tl] = v
	}
	for i := 0; i < r.recentLen; i++ {
		if r.recent[i] {
			s.RecentPassed++
		}
	}
	return s
}

// recompute derives the overall score. Callers must hold the mutex.
func (r *Record) recompute() {
	recentRate := neutral
	if r.recentLen > 0 {
		passed := 0
		for i := 0; i < r.recentLen; i++ {
			if r.recent[i] {
				passed++
			}
		}
		recentRate = float64(passed) / float64(r.recentLen)
	}

	votingRate := neutral
	if r.votesCast > 0 {
		votingRate = float64(r.votesCorrect) / float64(r.votesCast)
	}

	commsRate := neutral
	if r.commsTotal > 0 {
		commsRate = float64(r.commsEffective) / float64(r.commsTotal)
	}

	domainAvg := neutral
	if len(r.domains) > 0 {
		sum := 0.0
		for _, v := range r.domains {
			sum += v
		}
		domainAvg = sum / float64(len(r.domains))
	}

	r.overall = clamp01(weightRecent*recentRate +
		weightVoting*votingRate +
		weightComms*commsRate +
		weightDomains*domainAvg)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Model owns the per-agent confidence records.
type Model struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewModel() *Model {
	return &Model{records: make(map[string]*Record)}
}

// Register creates a record for an agent with its declared domain
// expertise. Re-registering an agent returns the existing record.
func (m *Model) Register(agent string, domains map[string]float64) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[agent]; ok {
		return r
	}
	r := NewRecord(domains)
	m.records[agent] = r
	return r
}

func (m *Model) Get(agent string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[agent]
	return r, ok
}

func (m *Model) Remove(agent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, agent)
}

// Reset restores an agent's record to its initial state. This is the only
// path that discards accumulated confidence; nothing calls it implicitly.
func (m *Model) Reset(agent string) error {
	m.mu.RLock()
	r, ok := m.records[agent]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no confidence record for agent: %s", agent)
	}
	r.Reset()
	return nil
}

// Snapshots returns a snapshot per registered agent.
func (m *Model) Snapshots() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Snapshot, len(m.records))
	for name, r := range m.records {
		out[name] = r.Snapshot()
	}
	return out
}
