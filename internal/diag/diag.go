// Package diag runs periodic self-checks over the swarm and maintains a
// deduplicated issue list with remediation suggestions.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mkelaidis/agora/internal/config"
	"github.com/mkelaidis/agora/internal/natsbus"
	"github.com/mkelaidis/agora/internal/swarm"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Remediation is one suggested fix. Only automated remediations are
// eligible for unattended runs; the rest need an operator.
type Remediation struct {
	Description string `json:"description"`
	Automated   bool   `json:"automated"`
}

// Issue is one detected problem. Issues are deduplicated by title: a
// re-detected issue keeps its original detection time.
type Issue struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Severity     string        `json:"severity"`
	Description  string        `json:"description"`
	Agent        string        `json:"agent,omitempty"`
	DetectedAt   time.Time     `json:"detected_at"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
	Remediations []Remediation `json:"remediations,omitempty"`
}

// Report is the outcome of one diagnostic run.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Healthy   bool      `json:"healthy"`
	Issues    []Issue   `json:"issues"`
	Resolved  int       `json:"resolved"`
}

// Source is the view of the swarm the checks read. The orchestrator
// satisfies it through the adapter in swarm.go.
type Source interface {
	Health() swarm.SwarmHealth
	Stats() swarm.Stats
	AgentStates() map[string]bool
	Running() bool
}

// System keeps the active issue index and the resolved history.
type System struct {
	cfg       config.DiagnosticsConfig
	minAgents int
	source    Source
	nats      *natsbus.Client

	mu      sync.Mutex
	active  map[string]*Issue // keyed by title
	history []Issue           // resolved, pruned by retention
}

func NewSystem(cfg config.DiagnosticsConfig, minAgents int, source Source, nc *natsbus.Client) *System {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if minAgents <= 0 {
		minAgents = 3
	}
	return &System{
		cfg:       cfg,
		minAgents: minAgents,
		source:    source,
		nats:      nc,
		active:    make(map[string]*Issue),
	}
}

// Scan runs all checks once. It satisfies the service facade's Diagnoser.
func (s *System) Scan() any {
	return s.scanAt(time.Now().UTC())
}

func (s *System) scanAt(now time.Time) Report {
	detected := s.detect(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(detected))
	for i := range detected {
		issue := &detected[i]
		seen[issue.Title] = true
		if existing, ok := s.active[issue.Title]; ok {
			// Keep the original detection time, refresh the rest.
			existing.Severity = issue.Severity
			existing.Description = issue.Description
			existing.Remediations = issue.Remediations
			continue
		}
		issue.ID = uuid.New().String()
		issue.DetectedAt = now
		s.active[issue.Title] = issue
		slog.Warn("diagnostic issue detected", "title", issue.Title, "severity", issue.Severity)
		s.publish(issue, "detected")
	}

	resolved := 0
	for title, issue := range s.active {
		if seen[title] {
			continue
		}
		at := now
		issue.ResolvedAt = &at
		s.history = append(s.history, *issue)
		delete(s.active, title)
		resolved++
		slog.Info("diagnostic issue resolved", "title", title)
		s.publish(issue, "resolved")
	}

	s.pruneLocked(now)

	report := Report{Timestamp: now, Resolved: resolved}
	for _, issue := range s.active {
		report.Issues = append(report.Issues, *issue)
	}
	sort.Slice(report.Issues, func(i, j int) bool {
		return report.Issues[i].Title < report.Issues[j].Title
	})
	report.Healthy = len(report.Issues) == 0
	return report
}

// ActiveIssues returns the current unresolved issues.
func (s *System) ActiveIssues() []Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Issue, 0, len(s.active))
	for _, issue := range s.active {
		out = append(out, *issue)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// History returns resolved issues still inside the retention window.
func (s *System) History() []Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Issue(nil), s.history...)
}

// AutomatedRemediations lists the remediations of active issues that are
// safe to run unattended.
func (s *System) AutomatedRemediations() map[string][]Remediation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Remediation)
	for title, issue := range s.active {
		for _, r := range issue.Remediations {
			if r.Automated {
				out[title] = append(out[title], r)
			}
		}
	}
	return out
}

// Run executes scans on the configured interval until ctx is done.
func (s *System) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("diagnostics stopped")
			return
		case <-ticker.C:
			report := s.scanAt(time.Now().UTC())
			if !report.Healthy {
				slog.Info("diagnostic scan", "issues", len(report.Issues), "resolved", report.Resolved)
			}
		}
	}
}

func (s *System) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.cfg.Retention)
	kept := s.history[:0]
	for _, issue := range s.history {
		if issue.ResolvedAt != nil && issue.ResolvedAt.After(cutoff) {
			kept = append(kept, issue)
		}
	}
	s.history = kept
}

func (s *System) publish(issue *Issue, event string) {
	if s.nats == nil {
		return
	}
	payload := map[string]any{
		"event":    event,
		"issue_id": issue.ID,
		"title":    issue.Title,
		"severity": issue.Severity,
		"agent":    issue.Agent,
	}
	if err := s.nats.PublishJSON(natsbus.TopicDiagnostics(issue.Severity), payload); err != nil {
		slog.Debug("diagnostic publish failed", "error", err)
	}
}

func manual(desc string) Remediation    { return Remediation{Description: desc} }
func automated(desc string) Remediation { return Remediation{Description: desc, Automated: true} }

func (s *System) detect(now time.Time) []Issue {
	health := s.source.Health()
	stats := s.source.Stats()
	states := s.source.AgentStates()
	running := s.source.Running()

	var issues []Issue

	if running {
		for name, active := range states {
			if active {
				continue
			}
			issues = append(issues, Issue{
				Title:       fmt.Sprintf("agent %s inactive", name),
				Severity:    SeverityWarning,
				Description: "registered agent has no running message loop",
				Agent:       name,
				Remediations: []Remediation{
					automated("restart the agent's message loop"),
				},
			})
		}
	}

	for name, score := range health.AgentScores {
		if score >= 0.3 {
			continue
		}
		issues = append(issues, Issue{
			Title:       fmt.Sprintf("agent %s confidence low", name),
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("overall confidence %.2f is below 0.3", score),
			Agent:       name,
			Remediations: []Remediation{
				automated("reset the agent's confidence record"),
				manual("review the agent's recent task failures"),
			},
		})
	}

	if len(states) < s.minAgents {
		issues = append(issues, Issue{
			Title:       "agent count below recommended minimum",
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("%d agents registered, %d recommended", len(states), s.minAgents),
			Remediations: []Remediation{
				manual("register more agents to restore quorum headroom"),
			},
		})
	}

	if stats.CompletedTasks >= 5 && stats.SuccessRate < 0.7 {
		severity := SeverityWarning
		if stats.SuccessRate < 0.5 {
			severity = SeverityCritical
		}
		issues = append(issues, Issue{
			Title:       "task success rate degraded",
			Severity:    severity,
			Description: fmt.Sprintf("success rate %.2f over %d tasks", stats.SuccessRate, stats.CompletedTasks),
			Remediations: []Remediation{
				manual("review failing tool executions"),
			},
		})
	}

	if stats.CompletedTasks > 0 && stats.AvgExecution > time.Minute {
		issues = append(issues, Issue{
			Title:       "average execution time high",
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("average task execution %s exceeds 1m", stats.AvgExecution.Round(time.Second)),
			Remediations: []Remediation{
				manual("check external tool latency"),
			},
		})
	}

	// A swarm that has never completed anything stalls from its start time.
	stalledSince := stats.LastCompletion
	if stalledSince.IsZero() {
		stalledSince = stats.StartedAt
	}
	if stats.ActiveTasks > 0 && !stalledSince.IsZero() && now.Sub(stalledSince) > 5*time.Minute {
		issues = append(issues, Issue{
			Title:       "no recent task completions",
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("no completions since %s with %d tasks active", stalledSince.Format(time.RFC3339), stats.ActiveTasks),
			Remediations: []Remediation{
				manual("check for stuck task assignments"),
			},
		})
	}

	if stats.QueueDepth > 10 {
		issues = append(issues, Issue{
			Title:       "task queue backlog",
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("%d tasks queued", stats.QueueDepth),
			Remediations: []Remediation{
				manual("add agents or raise the drain rate"),
			},
		})
	}

	if running && !stats.StartedAt.IsZero() && now.Sub(stats.StartedAt) > 24*time.Hour {
		issues = append(issues, Issue{
			Title:       "long uptime",
			Severity:    SeverityInfo,
			Description: fmt.Sprintf("swarm running for %s", now.Sub(stats.StartedAt).Round(time.Hour)),
			Remediations: []Remediation{
				manual("plan a maintenance restart"),
			},
		})
	}

	return issues
}
