package swarm

import (
	"fmt"
	"time"
)

// AnalyzeHealth aggregates per-agent confidence into a swarm health view
// and raises structured critical issues.
func (o *Orchestrator) AnalyzeHealth() SwarmHealth {
	snapshots := o.model.Snapshots()
	stats := o.coord.Stats()

	health := SwarmHealth{
		AgentScores:    make(map[string]float64, len(snapshots)),
		TasksCompleted: stats.CompletedTasks,
		SuccessRate:    stats.SuccessRate,
	}

	sum := 0.0
	for name, snap := range snapshots {
		health.AgentScores[name] = snap.Overall
		sum += snap.Overall
	}
	for _, a := range o.Agents() {
		if a.Active() {
			health.ActiveAgents++
		}
	}
	if len(snapshots) > 0 {
		health.Overall = sum / float64(len(snapshots))
	}

	switch {
	case health.Overall > 0.8:
		health.Status = "excellent"
	case health.Overall > 0.6:
		health.Status = "good"
	case health.Overall > 0.4:
		health.Status = "fair"
	default:
		health.Status = "poor"
	}

	if len(snapshots) == 0 {
		health.CriticalIssues = append(health.CriticalIssues, "no agents registered")
	}
	if len(snapshots) > 0 && health.Overall < 0.3 {
		health.CriticalIssues = append(health.CriticalIssues,
			fmt.Sprintf("overall health critically low: %.2f", health.Overall))
	}
	if stats.CompletedTasks >= 5 && stats.SuccessRate < 0.5 {
		health.CriticalIssues = append(health.CriticalIssues,
			fmt.Sprintf("task success rate below half: %.2f", stats.SuccessRate))
	}

	return health
}

// PerformanceReport summarizes the swarm's throughput and per-agent
// contribution since start.
func (o *Orchestrator) PerformanceReport() Report {
	stats := o.coord.Stats()
	snapshots := o.model.Snapshots()

	report := Report{
		SwarmName:       o.cfg.Name,
		TasksCompleted:  stats.CompletedTasks,
		TasksActive:     stats.ActiveTasks,
		QueueDepth:      stats.QueueDepth,
		SuccessRate:     stats.SuccessRate,
		AvgExecution:    stats.AvgExecution,
		Agents:          make(map[string]AgentPerformance, len(snapshots)),
		ProposalsOpen:   o.votes.ActiveCount(),
		ProposalsClosed: len(o.votes.Archived()),
	}
	if o.Running() {
		report.Uptime = time.Since(o.StartedAt())
	}

	perAgent := make(map[string]*AgentPerformance, len(snapshots))
	for name, snap := range snapshots {
		perAgent[name] = &AgentPerformance{
			Overall:      snap.Overall,
			VotesCast:    snap.VotesCast,
			VotesCorrect: snap.VotesCorrect,
			RecentPassed: snap.RecentPassed,
			RecentTotal:  snap.RecentTotal,
		}
	}
	for _, t := range o.coord.CompletedTasks() {
		p, ok := perAgent[t.AssignedAgent]
		if !ok {
			continue
		}
		p.TasksDone++
		if t.Success != nil && !*t.Success {
			p.TasksFailed++
		}
	}
	for name, p := range perAgent {
		report.Agents[name] = *p
	}

	return report
}
