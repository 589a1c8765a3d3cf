package diag

import (
	"testing"
	"time"

	"github.com/mkelaidis/agora/internal/config"
	"github.com/mkelaidis/agora/internal/swarm"
)

type fakeSource struct {
	health  swarm.SwarmHealth
	stats   swarm.Stats
	states  map[string]bool
	running bool
}

func (f *fakeSource) Health() swarm.SwarmHealth    { return f.health }
func (f *fakeSource) Stats() swarm.Stats           { return f.stats }
func (f *fakeSource) AgentStates() map[string]bool { return f.states }
func (f *fakeSource) Running() bool                { return f.running }

func healthySource() *fakeSource {
	return &fakeSource{
		health: swarm.SwarmHealth{
			Overall: 0.6,
			AgentScores: map[string]float64{
				"audio-pro": 0.6, "video-pro": 0.6, "social-pro": 0.6,
			},
		},
		stats: swarm.Stats{
			CompletedTasks: 10,
			SuccessRate:    0.9,
			AvgExecution:   2 * time.Second,
			LastCompletion: time.Now().UTC(),
			StartedAt:      time.Now().UTC().Add(-time.Hour),
		},
		states:  map[string]bool{"audio-pro": true, "video-pro": true, "social-pro": true},
		running: true,
	}
}

func newTestSystem(src Source) *System {
	return NewSystem(config.DiagnosticsConfig{
		Interval:  30 * time.Second,
		Retention: 7 * 24 * time.Hour,
	}, 3, src, nil)
}

func TestHealthySwarmHasNoIssues(t *testing.T) {
	s := newTestSystem(healthySource())
	report := s.scanAt(time.Now().UTC())
	if !report.Healthy {
		t.Errorf("expected healthy report, got issues: %+v", report.Issues)
	}
}

func TestDetectsInactiveAgent(t *testing.T) {
	src := healthySource()
	src.states["video-pro"] = false
	s := newTestSystem(src)

	report := s.scanAt(time.Now().UTC())
	issue := findIssue(t, report, "agent video-pro inactive")
	if issue.Severity != SeverityWarning {
		t.Errorf("unexpected severity: %s", issue.Severity)
	}
	if len(issue.Remediations) == 0 || !issue.Remediations[0].Automated {
		t.Error("expected an automated remediation for an inactive agent")
	}
}

func TestInactiveAgentIgnoredWhenStopped(t *testing.T) {
	src := healthySource()
	src.running = false
	src.states["video-pro"] = false
	s := newTestSystem(src)

	report := s.scanAt(time.Now().UTC())
	for _, issue := range report.Issues {
		if issue.Title == "agent video-pro inactive" {
			t.Error("stopped swarm must not flag inactive agents")
		}
	}
}

func TestDetectsLowConfidence(t *testing.T) {
	src := healthySource()
	src.health.AgentScores["audio-pro"] = 0.2
	s := newTestSystem(src)

	report := s.scanAt(time.Now().UTC())
	issue := findIssue(t, report, "agent audio-pro confidence low")
	if issue.Agent != "audio-pro" {
		t.Errorf("unexpected agent: %s", issue.Agent)
	}
}

func TestDetectsLowAgentCount(t *testing.T) {
	src := healthySource()
	src.states = map[string]bool{"audio-pro": true}
	s := newTestSystem(src)

	report := s.scanAt(time.Now().UTC())
	findIssue(t, report, "agent count below recommended minimum")
}

func TestSuccessRateSeverityEscalates(t *testing.T) {
	src := healthySource()
	src.stats.SuccessRate = 0.65
	s := newTestSystem(src)
	report := s.scanAt(time.Now().UTC())
	if issue := findIssue(t, report, "task success rate degraded"); issue.Severity != SeverityWarning {
		t.Errorf("expected warning at 0.65, got %s", issue.Severity)
	}

	src.stats.SuccessRate = 0.4
	report = s.scanAt(time.Now().UTC())
	if issue := findIssue(t, report, "task success rate degraded"); issue.Severity != SeverityCritical {
		t.Errorf("expected critical below 0.5, got %s", issue.Severity)
	}
}

func TestSuccessRateNeedsSample(t *testing.T) {
	src := healthySource()
	src.stats.CompletedTasks = 2
	src.stats.SuccessRate = 0.0
	s := newTestSystem(src)

	report := s.scanAt(time.Now().UTC())
	for _, issue := range report.Issues {
		if issue.Title == "task success rate degraded" {
			t.Error("success rate must not fire under 5 completions")
		}
	}
}

func TestDetectsStalledCompletions(t *testing.T) {
	src := healthySource()
	src.stats.ActiveTasks = 2
	src.stats.LastCompletion = time.Now().UTC().Add(-10 * time.Minute)
	s := newTestSystem(src)

	report := s.scanAt(time.Now().UTC())
	findIssue(t, report, "no recent task completions")
}

func TestDetectsStallWithoutAnyCompletion(t *testing.T) {
	src := healthySource()
	src.stats.ActiveTasks = 2
	src.stats.CompletedTasks = 0
	src.stats.SuccessRate = 0
	src.stats.LastCompletion = time.Time{}
	src.stats.StartedAt = time.Now().UTC().Add(-10 * time.Minute)
	s := newTestSystem(src)

	report := s.scanAt(time.Now().UTC())
	findIssue(t, report, "no recent task completions")
}

func TestFreshSwarmWithoutCompletionsNotStalled(t *testing.T) {
	src := healthySource()
	src.stats.ActiveTasks = 2
	src.stats.CompletedTasks = 0
	src.stats.SuccessRate = 0
	src.stats.LastCompletion = time.Time{}
	src.stats.StartedAt = time.Now().UTC().Add(-time.Minute)
	s := newTestSystem(src)

	report := s.scanAt(time.Now().UTC())
	for _, issue := range report.Issues {
		if issue.Title == "no recent task completions" {
			t.Error("swarm started a minute ago must not be flagged as stalled")
		}
	}
}

func TestDetectsQueueBacklogAndSlowExecution(t *testing.T) {
	src := healthySource()
	src.stats.QueueDepth = 15
	src.stats.AvgExecution = 2 * time.Minute
	s := newTestSystem(src)

	report := s.scanAt(time.Now().UTC())
	findIssue(t, report, "task queue backlog")
	findIssue(t, report, "average execution time high")
}

func TestLongUptimeIsInformational(t *testing.T) {
	src := healthySource()
	src.stats.StartedAt = time.Now().UTC().Add(-25 * time.Hour)
	s := newTestSystem(src)

	report := s.scanAt(time.Now().UTC())
	if issue := findIssue(t, report, "long uptime"); issue.Severity != SeverityInfo {
		t.Errorf("expected info severity, got %s", issue.Severity)
	}
}

func TestDedupKeepsDetectionTime(t *testing.T) {
	src := healthySource()
	src.states["video-pro"] = false
	s := newTestSystem(src)

	first := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	s.scanAt(first)
	report := s.scanAt(first.Add(time.Minute))

	issue := findIssue(t, report, "agent video-pro inactive")
	if !issue.DetectedAt.Equal(first) {
		t.Errorf("re-detected issue must keep its first detection time, got %v", issue.DetectedAt)
	}
	if len(report.Issues) != 1 {
		t.Errorf("expected deduplication, got %d issues", len(report.Issues))
	}
}

func TestRescanResolvesFixedIssues(t *testing.T) {
	src := healthySource()
	src.states["video-pro"] = false
	s := newTestSystem(src)

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	s.scanAt(now)

	src.states["video-pro"] = true
	report := s.scanAt(now.Add(time.Minute))
	if report.Resolved != 1 {
		t.Errorf("expected 1 resolved issue, got %d", report.Resolved)
	}
	if !report.Healthy {
		t.Errorf("expected healthy after resolution, got %+v", report.Issues)
	}

	history := s.History()
	if len(history) != 1 || history[0].ResolvedAt == nil {
		t.Fatalf("expected resolved issue in history, got %+v", history)
	}
}

func TestHistoryRetention(t *testing.T) {
	src := healthySource()
	src.states["video-pro"] = false
	s := newTestSystem(src)

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	s.scanAt(start)
	src.states["video-pro"] = true
	s.scanAt(start.Add(time.Hour))

	// A scan past the retention window prunes the resolved entry.
	s.scanAt(start.Add(8 * 24 * time.Hour))
	if got := s.History(); len(got) != 0 {
		t.Errorf("expected history pruned after retention, got %+v", got)
	}
}

func TestAutomatedRemediations(t *testing.T) {
	src := healthySource()
	src.states["video-pro"] = false
	src.stats.QueueDepth = 15
	s := newTestSystem(src)
	s.scanAt(time.Now().UTC())

	auto := s.AutomatedRemediations()
	if len(auto["agent video-pro inactive"]) != 1 {
		t.Errorf("expected the inactive-agent fix to be automated: %+v", auto)
	}
	if len(auto["task queue backlog"]) != 0 {
		t.Error("queue backlog remediation must stay manual")
	}
}

func findIssue(t *testing.T, report Report, title string) Issue {
	t.Helper()
	for _, issue := range report.Issues {
		if issue.Title == title {
			return issue
		}
	}
	t.Fatalf("issue %q not found in %+v", title, report.Issues)
	return Issue{}
}
