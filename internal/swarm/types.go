package swarm

import (
	"time"
)

// Task statuses as persisted and reported.
const (
	TaskStatusQueued    = "queued"
	TaskStatusActive    = "active"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// Task is a unit of work owned by the coordinator while active and frozen
// into the completed archive once reported.
type Task struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Description   string         `json:"description,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	AssignedAgent string         `json:"assigned_agent,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Success       *bool          `json:"success,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
}

// Domain returns the task's domain tag from its context, if any.
func (t *Task) Domain() string {
	d, _ := t.Context["domain"].(string)
	return d
}

// Tool returns the tool the task wants executed, defaulting to the task
// type when the context does not name one.
func (t *Task) Tool() string {
	if tl, ok := t.Context["tool"].(string); ok && tl != "" {
		return tl
	}
	return t.Type
}

// historyEntry is the compact completion record kept for loop detection.
// Timestamps are retained for reporting but excluded from the repetition
// comparison.
type historyEntry struct {
	Agent     string
	Type      string
	Success   bool
	Timestamp time.Time
}

func (e historyEntry) sameStep(o historyEntry) bool {
	return e.Agent == o.Agent && e.Type == o.Type && e.Success == o.Success
}

// TaskResult is the synchronous outcome of ExecuteTask.
type TaskResult struct {
	TaskID  string         `json:"task_id"`
	Agent   string         `json:"agent,omitempty"`
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// SwarmHealth is the aggregated health view produced by AnalyzeHealth.
type SwarmHealth struct {
	Overall        float64            `json:"overall"`
	Status         string             `json:"status"` // excellent | good | fair | poor
	AgentScores    map[string]float64 `json:"agent_scores"`
	ActiveAgents   int                `json:"active_agents"`
	SuccessRate    float64            `json:"success_rate"`
	TasksCompleted int                `json:"tasks_completed"`
	CriticalIssues []string           `json:"critical_issues,omitempty"`
}

// AgentPerformance is one agent's slice of the performance report.
type AgentPerformance struct {
	Overall      float64 `json:"overall"`
	TasksDone    int     `json:"tasks_done"`
	TasksFailed  int     `json:"tasks_failed"`
	VotesCast    int     `json:"votes_cast"`
	VotesCorrect int     `json:"votes_correct"`
	RecentPassed int     `json:"recent_passed"`
	RecentTotal  int     `json:"recent_total"`
}

// Report is the swarm-wide performance summary.
type Report struct {
	SwarmName       string                      `json:"swarm_name"`
	Uptime          time.Duration               `json:"uptime"`
	TasksCompleted  int                         `json:"tasks_completed"`
	TasksActive     int                         `json:"tasks_active"`
	QueueDepth      int                         `json:"queue_depth"`
	SuccessRate     float64                     `json:"success_rate"`
	AvgExecution    time.Duration               `json:"avg_execution"`
	Agents          map[string]AgentPerformance `json:"agents"`
	ProposalsOpen   int                         `json:"proposals_open"`
	ProposalsClosed int                         `json:"proposals_closed"`
}

// Stats is the coordinator snapshot consumed by diagnostics and health.
type Stats struct {
	ActiveTasks    int
	CompletedTasks int
	FailedTasks    int
	QueueDepth     int
	SuccessRate    float64
	AvgExecution   time.Duration
	LastCompletion time.Time
	Iterations     int
	StartedAt      time.Time
}
