package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mkelaidis/agora/internal/agent"
	"github.com/mkelaidis/agora/internal/bus"
	"github.com/mkelaidis/agora/internal/confidence"
	"github.com/mkelaidis/agora/internal/config"
	"github.com/mkelaidis/agora/internal/natsbus"
	"github.com/mkelaidis/agora/internal/voting"
)

var (
	ErrAlreadyRunning = errors.New("swarm already running")
	ErrNotRunning     = errors.New("swarm not running")
)

// Orchestrator owns the agent registry and the swarm lifecycle: it starts
// and stops agents, runs the background loops, and serves synchronous task
// execution.
type Orchestrator struct {
	cfg   config.SwarmConfig
	bus   *bus.Bus
	model *confidence.Model
	votes *voting.System
	coord *Coordinator
	nats  *natsbus.Client

	mu        sync.Mutex
	agents    []*agent.Agent // registration order is the tie-break order
	running   bool
	startedAt time.Time

	loopCancel  context.CancelFunc
	agentCancel context.CancelFunc
	agentRunCtx context.Context
	loopWG      sync.WaitGroup
	agentWG     sync.WaitGroup

	onTerminate func(reason string)
}

func NewOrchestrator(cfg config.SwarmConfig, b *bus.Bus, model *confidence.Model, votes *voting.System, coord *Coordinator, nc *natsbus.Client) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		bus:   b,
		model: model,
		votes: votes,
		coord: coord,
		nats:  nc,
	}
}

// OnTerminate installs a callback invoked once when the coordinator
// decides the swarm should stop making progress.
func (o *Orchestrator) OnTerminate(fn func(reason string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onTerminate = fn
}

// RegisterAgent adds an agent to the swarm: bus inbox, confidence record,
// coordinator slot. Safe before or after Start; an agent registered while
// running is started immediately.
func (o *Orchestrator) RegisterAgent(a *agent.Agent) error {
	if err := o.bus.Register(a.Name()); err != nil {
		return fmt.Errorf("register agent %s: %w", a.Name(), err)
	}
	rec := o.model.Register(a.Name(), a.Expertise())
	a.Attach(o.bus, rec, o.votes, o.coord)
	o.coord.AddAgent(a.Name())

	o.mu.Lock()
	o.agents = append(o.agents, a)
	running := o.running
	o.mu.Unlock()

	if running {
		o.startAgent(a)
	}
	slog.Info("agent registered", "agent", a.Name(), "domains", len(a.Expertise()))
	return nil
}

// UnregisterAgent removes an agent from every component view.
func (o *Orchestrator) UnregisterAgent(name string) {
	o.mu.Lock()
	for i, a := range o.agents {
		if a.Name() == name {
			o.agents = append(o.agents[:i], o.agents[i+1:]...)
			break
		}
	}
	o.mu.Unlock()

	o.coord.RemoveAgent(name)
	o.bus.Unregister(name)
	o.model.Remove(name)
}

// Start launches every registered agent concurrently and then the
// background loops. Individual agent start failures are logged, not fatal.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	o.startedAt = time.Now()

	agentCtx, agentCancel := context.WithCancel(context.Background())
	loopCtx, loopCancel := context.WithCancel(context.Background())
	o.agentCancel = agentCancel
	o.loopCancel = loopCancel
	o.agentRunCtx = agentCtx
	agents := append([]*agent.Agent(nil), o.agents...)
	o.mu.Unlock()

	for _, a := range agents {
		o.runAgent(agentCtx, a)
	}

	o.loopWG.Add(2)
	go o.drainLoop(loopCtx)
	go o.healthLoop(loopCtx)

	slog.Info("swarm started", "name", o.cfg.Name, "agents", len(agents))
	return nil
}

// runAgent spins up one agent's message loop under the shared agent
// context.
func (o *Orchestrator) runAgent(ctx context.Context, a *agent.Agent) {
	if a.Active() {
		slog.Warn("agent already active", "agent", a.Name())
		return
	}
	o.agentWG.Add(1)
	go func() {
		defer o.agentWG.Done()
		a.Run(ctx)
	}()
}

// startAgent handles late registration: an agent added to a running swarm
// joins the shared agent context immediately.
func (o *Orchestrator) startAgent(a *agent.Agent) {
	o.mu.Lock()
	ctx := o.agentRunCtx
	running := o.running
	o.mu.Unlock()
	if !running || ctx == nil {
		return
	}
	o.runAgent(ctx, a)
}

// Stop shuts the swarm down: background loops first, so agents receive no
// new work, then the agents themselves, then the swarm goes inactive.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return ErrNotRunning
	}
	loopCancel := o.loopCancel
	agentCancel := o.agentCancel
	o.mu.Unlock()

	loopCancel()
	o.loopWG.Wait()

	agentCancel()
	o.agentWG.Wait()

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	slog.Info("swarm stopped", "name", o.cfg.Name)
	return nil
}

// Stats exposes the coordinator counters to diagnostics and the web API.
func (o *Orchestrator) Stats() Stats {
	return o.coord.Stats()
}

func (o *Orchestrator) Coordinator() *Coordinator {
	return o.coord
}

// ResetConfidence wipes an agent's accumulated confidence back to its
// registration state. Admin action only.
func (o *Orchestrator) ResetConfidence(name string) error {
	return o.model.Reset(name)
}

func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) StartedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.startedAt
}

// Agents returns the registered agents in registration order.
func (o *Orchestrator) Agents() []*agent.Agent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*agent.Agent(nil), o.agents...)
}

// ExecuteTask runs one task synchronously: every agent self-scores under a
// per-agent timeout (a slow agent counts as abstaining), the most
// confident one above the threshold is assigned, and the call waits for
// completion. This deliberately skips a full voting round so assignment
// never waits on slow agents.
func (o *Orchestrator) ExecuteTask(ctx context.Context, description string, taskCtx map[string]any) (TaskResult, error) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return TaskResult{}, ErrNotRunning
	}
	agents := append([]*agent.Agent(nil), o.agents...)
	o.mu.Unlock()

	domain, _ := taskCtx["domain"].(string)
	taskType, _ := taskCtx["type"].(string)
	if taskType == "" {
		taskType = "general"
	}

	best := -1.0
	var chosen *agent.Agent
	for _, a := range agents {
		scoreCtx, cancel := context.WithTimeout(ctx, o.cfg.ScoringTimeout)
		score, abstain := a.SelfScore(scoreCtx, domain)
		cancel()
		if abstain {
			continue
		}
		if score > best {
			best = score
			chosen = a
		}
	}

	if chosen == nil || best <= o.cfg.MinAssignScore {
		return TaskResult{}, fmt.Errorf("%w for %q (best self-score %.2f)", ErrNoSuitableAgent, description, best)
	}

	task := &Task{
		ID:          uuid.New().String(),
		Type:        taskType,
		Description: description,
		Context:     taskCtx,
	}

	done := o.coord.Watch(task.ID)
	if err := o.coord.AssignTo(task, chosen.Name()); err != nil {
		o.coord.Unwatch(task.ID)
		return TaskResult{}, err
	}

	select {
	case completed := <-done:
		res := TaskResult{
			TaskID:  completed.ID,
			Agent:   completed.AssignedAgent,
			Success: completed.Success != nil && *completed.Success,
			Result:  completed.Result,
		}
		if !res.Success {
			if msg, ok := completed.Result["error"].(string); ok {
				res.Error = msg
			}
		}
		return res, nil
	case <-ctx.Done():
		return TaskResult{TaskID: task.ID, Agent: chosen.Name()}, ctx.Err()
	}
}

// SubmitTask queues a task for asynchronous assignment by the drain loop.
func (o *Orchestrator) SubmitTask(description string, taskCtx map[string]any) (string, error) {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()
	if !running {
		return "", ErrNotRunning
	}

	taskType, _ := taskCtx["type"].(string)
	if taskType == "" {
		taskType = "general"
	}
	task := &Task{
		ID:          uuid.New().String(),
		Type:        taskType,
		Description: description,
		Context:     taskCtx,
	}
	if err := o.coord.Enqueue(task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// drainLoop pulls queued tasks and assigns them. Cancellation is observed
// within one drain interval.
func (o *Orchestrator) drainLoop(ctx context.Context) {
	defer o.loopWG.Done()

	interval := o.cfg.DrainInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("task drain loop stopped")
			return
		case <-ticker.C:
			for o.coord.DrainOne() {
				if ctx.Err() != nil {
					return
				}
			}
			o.coord.CollectReplies(ctx)
		}
	}
}

// healthLoop periodically checks swarm health and termination conditions.
func (o *Orchestrator) healthLoop(ctx context.Context) {
	defer o.loopWG.Done()

	interval := o.cfg.HealthInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	terminated := false
	for {
		select {
		case <-ctx.Done():
			slog.Info("health loop stopped")
			return
		case <-ticker.C:
			health := o.AnalyzeHealth()
			if o.nats != nil {
				_ = o.nats.PublishJSON(natsbus.TopicDiagnostics(o.cfg.Name), map[string]any{
					"event":  "health",
					"status": health.Status,
					"score":  health.Overall,
					"issues": health.CriticalIssues,
				})
			}

			if terminated {
				continue
			}
			if stop, reason := o.coord.ShouldTerminate(); stop && reason != "all tasks completed" {
				terminated = true
				slog.Warn("termination condition met", "reason", reason)
				o.mu.Lock()
				fn := o.onTerminate
				o.mu.Unlock()
				if fn != nil {
					go fn(reason)
				}
			}
		}
	}
}
