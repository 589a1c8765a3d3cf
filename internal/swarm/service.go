package swarm

import (
	"context"
	"errors"
	"time"
)

// CallResult is the structured outcome handed to the surrounding CLI/API
// layer: a success flag, a data payload, and an error string. Domain
// failures like "no suitable agent" are reported in Error with Success
// false rather than as transport errors.
type CallResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Diagnoser is the diagnostics hook the service exposes; the diag package
// implements it.
type Diagnoser interface {
	Scan() any
}

// Service is the synchronous facade over the orchestrator for CLIs, the
// web API, and the scheduler.
type Service struct {
	orch *Orchestrator
	diag Diagnoser
}

func NewService(orch *Orchestrator) *Service {
	return &Service{orch: orch}
}

func (s *Service) SetDiagnoser(d Diagnoser) { s.diag = d }

func (s *Service) Orchestrator() *Orchestrator { return s.orch }

func (s *Service) StartSwarm() CallResult {
	if err := s.orch.Start(); err != nil {
		return CallResult{Error: err.Error()}
	}
	return CallResult{Success: true, Data: map[string]any{"name": s.orch.cfg.Name}}
}

func (s *Service) StopSwarm() CallResult {
	if err := s.orch.Stop(); err != nil {
		return CallResult{Error: err.Error()}
	}
	return CallResult{Success: true}
}

func (s *Service) Status() CallResult {
	stats := s.orch.coord.Stats()
	terminate, reason := s.orch.coord.ShouldTerminate()

	data := map[string]any{
		"name":            s.orch.cfg.Name,
		"running":         s.orch.Running(),
		"agents":          len(s.orch.Agents()),
		"tasks_active":    stats.ActiveTasks,
		"tasks_completed": stats.CompletedTasks,
		"queue_depth":     stats.QueueDepth,
		"success_rate":    stats.SuccessRate,
		"terminate":       terminate,
	}
	if s.orch.Running() {
		data["uptime"] = time.Since(s.orch.StartedAt()).String()
	}
	if terminate {
		data["terminate_reason"] = reason
	}
	return CallResult{Success: true, Data: data}
}

// ExecuteTask runs a task to completion. "Nobody could take this" is a
// distinguishable domain outcome, not a transport failure.
func (s *Service) ExecuteTask(ctx context.Context, description string, taskCtx map[string]any) CallResult {
	res, err := s.orch.ExecuteTask(ctx, description, taskCtx)
	if err != nil {
		if errors.Is(err, ErrNoSuitableAgent) {
			return CallResult{Error: err.Error(), Data: map[string]any{"no_suitable_agent": true}}
		}
		return CallResult{Error: err.Error()}
	}
	return CallResult{Success: res.Success, Data: res, Error: res.Error}
}

func (s *Service) AnalyzeHealth() CallResult {
	return CallResult{Success: true, Data: s.orch.AnalyzeHealth()}
}

func (s *Service) PerformanceReport() CallResult {
	return CallResult{Success: true, Data: s.orch.PerformanceReport()}
}

func (s *Service) RunDiagnostics() CallResult {
	if s.diag == nil {
		return CallResult{Error: "diagnostics not configured"}
	}
	return CallResult{Success: true, Data: s.diag.Scan()}
}
