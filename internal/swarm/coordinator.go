package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mkelaidis/agora/internal/bus"
	"github.com/mkelaidis/agora/internal/confidence"
	"github.com/mkelaidis/agora/internal/config"
	"github.com/mkelaidis/agora/internal/natsbus"
)

// ErrNoSuitableAgent reports that no idle agent cleared the assignment
// threshold. Callers can tell this apart from infrastructure failures.
var ErrNoSuitableAgent = errors.New("no suitable agent")

var ErrQueueFull = errors.New("task queue full")

const domainScoreWeight = 0.3
const toolScoreCap = 0.3

// ReplyInbox is the coordinator's own bus address; agents send their
// task_result replies here.
const ReplyInbox = "coordinator"

// agentSlot tracks one agent's assignment state. Slots are held in
// registration order so score ties resolve to the first registered agent.
type agentSlot struct {
	name string
	busy bool
}

// Coordinator owns the task tables: it assigns work to the best-fit idle
// agent, archives completions, and detects stagnation. All assignment goes
// through one mutex-serialized path so two assignments can never race for
// the same agent.
type Coordinator struct {
	cfg   config.SwarmConfig
	bus   *bus.Bus
	model *confidence.Model
	nats  *natsbus.Client

	mu         sync.Mutex
	slots      []*agentSlot
	active     map[string]*Task
	completed  map[string]*Task
	history    []historyEntry
	watchers   map[string]chan *Task
	queue      chan *Task
	iterations int
	startedAt  time.Time
	lastDone   time.Time
	failed     int
	totalExec  time.Duration
}

func NewCoordinator(cfg config.SwarmConfig, b *bus.Bus, model *confidence.Model, nc *natsbus.Client) *Coordinator {
	if cfg.LoopWindow <= 0 {
		cfg.LoopWindow = 10
	}
	if cfg.TaskQueueSize <= 0 {
		cfg.TaskQueueSize = 100
	}
	c := &Coordinator{
		cfg:       cfg,
		bus:       b,
		model:     model,
		nats:      nc,
		active:    make(map[string]*Task),
		completed: make(map[string]*Task),
		watchers:  make(map[string]chan *Task),
		queue:     make(chan *Task, cfg.TaskQueueSize),
		startedAt: time.Now(),
	}
	if err := b.Observe(ReplyInbox); err != nil {
		slog.Debug("coordinator inbox already registered", "error", err)
	}
	return c
}

// CollectReplies drains the coordinator's own inbox. Completion state
// arrives through ReportCompletion; the bus replies exist so the exchange
// is observable on the wire, and must be consumed so the inbox never
// backs up.
func (c *Coordinator) CollectReplies(ctx context.Context) {
	msgs, err := c.bus.Poll(ctx, ReplyInbox, 10*time.Millisecond)
	if err != nil {
		return
	}
	for _, msg := range msgs {
		slog.Debug("coordinator reply", "type", msg.Type, "from", msg.Sender)
	}
}

// AddAgent registers an agent with the assignment view. Order of addition
// is the tie-break order.
func (c *Coordinator) AddAgent(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		if s.name == name {
			return
		}
	}
	c.slots = append(c.slots, &agentSlot{name: name})
}

func (c *Coordinator) RemoveAgent(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.slots {
		if s.name == name {
			c.slots = append(c.slots[:i], c.slots[i+1:]...)
			return
		}
	}
}

// Enqueue adds a task to the pending queue for the drain loop.
func (c *Coordinator) Enqueue(task *Task) error {
	select {
	case c.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// DrainOne assigns the next queued task, if any. Returns false when the
// queue was empty.
func (c *Coordinator) DrainOne() bool {
	select {
	case task := <-c.queue:
		if _, err := c.AssignTask(task); err != nil {
			slog.Warn("queued task not assigned", "task", task.ID, "error", err)
			// Requeue so it gets another chance next drain.
			if rerr := c.Enqueue(task); rerr != nil {
				slog.Error("task dropped, queue full on requeue", "task", task.ID)
			}
		}
		return true
	default:
		return false
	}
}

// AssignTask scores every idle agent and hands the task to the best one.
// Score = overall + 0.3*domain + min(0.3, sum of matching tool confidence),
// capped at 1.0. Nobody above the threshold means ErrNoSuitableAgent and
// the task stays unassigned.
func (c *Coordinator) AssignTask(task *Task) (string, error) {
	c.mu.Lock()

	best := -1.0
	var chosen *agentSlot
	for _, slot := range c.slots {
		if slot.busy {
			continue
		}
		rec, ok := c.model.Get(slot.name)
		if !ok {
			continue
		}
		score := c.score(rec, task)
		if score > best {
			best = score
			chosen = slot
		}
	}

	if chosen == nil || best <= c.cfg.MinAssignScore {
		c.mu.Unlock()
		return "", fmt.Errorf("%w for task %s (best score %.2f)", ErrNoSuitableAgent, task.ID, best)
	}

	chosen.busy = true
	task.AssignedAgent = chosen.name
	task.StartedAt = time.Now().UTC()
	c.active[task.ID] = task
	c.iterations++
	c.mu.Unlock()

	if err := c.dispatch(task); err != nil {
		// Roll the assignment back so the agent is not stuck busy.
		c.mu.Lock()
		chosen.busy = false
		delete(c.active, task.ID)
		task.AssignedAgent = ""
		c.mu.Unlock()
		return "", fmt.Errorf("dispatch task %s: %w", task.ID, err)
	}

	c.publishTask(task, TaskStatusActive)
	slog.Info("task assigned", "task", task.ID, "agent", chosen.name, "score", best)
	return chosen.name, nil
}

// AssignTo assigns a task to a specific agent chosen elsewhere (the
// orchestrator's self-scoring round). It still serializes on the same
// path and refuses busy agents.
func (c *Coordinator) AssignTo(task *Task, agentName string) error {
	c.mu.Lock()
	var chosen *agentSlot
	for _, slot := range c.slots {
		if slot.name == agentName {
			chosen = slot
			break
		}
	}
	if chosen == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: agent %s not registered", ErrNoSuitableAgent, agentName)
	}
	if chosen.busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: agent %s is busy", ErrNoSuitableAgent, agentName)
	}
	chosen.busy = true
	task.AssignedAgent = agentName
	task.StartedAt = time.Now().UTC()
	c.active[task.ID] = task
	c.iterations++
	c.mu.Unlock()

	if err := c.dispatch(task); err != nil {
		c.mu.Lock()
		chosen.busy = false
		delete(c.active, task.ID)
		task.AssignedAgent = ""
		c.mu.Unlock()
		return fmt.Errorf("dispatch task %s: %w", task.ID, err)
	}

	c.publishTask(task, TaskStatusActive)
	return nil
}

// score computes an idle agent's fit for a task. Callers hold the mutex.
func (c *Coordinator) score(rec *confidence.Record, task *Task) float64 {
	s := rec.Overall() + domainScoreWeight*rec.Domain(task.Domain())

	toolSum := 0.0
	for name, conf := range rec.Snapshot().Tools {
		if toolMatches(name, task.Type) {
			toolSum += conf
		}
	}
	if toolSum > toolScoreCap {
		toolSum = toolScoreCap
	}
	s += toolSum

	if s > 1.0 {
		return 1.0
	}
	return s
}

func toolMatches(toolName, taskType string) bool {
	return toolName == taskType ||
		strings.Contains(toolName, taskType) ||
		strings.Contains(taskType, toolName)
}

func (c *Coordinator) dispatch(task *Task) error {
	params, _ := task.Context["params"].(map[string]any)
	msg := bus.NewMessage("coordinator", task.AssignedAgent, bus.TypeTaskAssignment, map[string]any{
		"task_id": task.ID,
		"type":    task.Type,
		"tool":    task.Tool(),
		"domain":  task.Domain(),
		"params":  params,
	})
	delivered, err := c.bus.Send(msg)
	if err != nil {
		return err
	}
	if !delivered {
		return fmt.Errorf("assignment not delivered to %s", task.AssignedAgent)
	}
	return nil
}

// ReportCompletion archives a finished task, updates the agent's
// confidence, and feeds the loop-detection history.
func (c *Coordinator) ReportCompletion(taskID, agentName string, success bool, result map[string]any) error {
	c.mu.Lock()
	task, ok := c.active[taskID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("task not active: %s", taskID)
	}
	if task.AssignedAgent != agentName {
		c.mu.Unlock()
		return fmt.Errorf("task %s belongs to %s, not %s", taskID, task.AssignedAgent, agentName)
	}

	now := time.Now().UTC()
	task.CompletedAt = &now
	task.Success = &success
	task.Result = result
	delete(c.active, taskID)
	c.completed[taskID] = task
	c.lastDone = now
	c.totalExec += now.Sub(task.StartedAt)
	if !success {
		c.failed++
	}

	for _, slot := range c.slots {
		if slot.name == agentName {
			slot.busy = false
			break
		}
	}

	c.history = append(c.history, historyEntry{
		Agent:     agentName,
		Type:      task.Type,
		Success:   success,
		Timestamp: now,
	})
	if limit := 4 * c.cfg.LoopWindow; len(c.history) > limit {
		c.history = c.history[len(c.history)-limit:]
	}

	watcher := c.watchers[taskID]
	delete(c.watchers, taskID)
	c.mu.Unlock()

	if rec, ok := c.model.Get(agentName); ok {
		rec.UpdateAfterTask(task.Tool(), success)
	}

	status := TaskStatusCompleted
	if !success {
		status = TaskStatusFailed
	}
	c.publishTask(task, status)

	if watcher != nil {
		watcher <- task
	}

	slog.Info("task completed", "task", taskID, "agent", agentName, "success", success)
	return nil
}

// Watch returns a channel that receives the task when it completes. The
// channel is buffered; an abandoned watcher leaks nothing beyond it.
func (c *Coordinator) Watch(taskID string) <-chan *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.watchers[taskID]
	if !ok {
		ch = make(chan *Task, 1)
		c.watchers[taskID] = ch
	}
	return ch
}

// Unwatch discards the watcher for a task that was never assigned.
func (c *Coordinator) Unwatch(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watchers, taskID)
}

// ShouldTerminate decides whether the swarm has stopped making progress.
func (c *Coordinator) ShouldTerminate() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loopDetected() {
		return true, "infinite loop detected"
	}
	if c.cfg.MaxRuntime > 0 && time.Since(c.startedAt) > c.cfg.MaxRuntime {
		return true, "maximum runtime exceeded"
	}
	if c.cfg.MaxIterations > 0 && c.iterations >= c.cfg.MaxIterations {
		return true, "maximum iterations reached"
	}
	if len(c.active) == 0 && len(c.completed) > 0 && len(c.queue) == 0 {
		return true, "all tasks completed"
	}
	return false, ""
}

// loopDetected reports whether the newest LoopWindow history entries
// repeat the window immediately before them. Callers hold the mutex.
func (c *Coordinator) loopDetected() bool {
	n := c.cfg.LoopWindow
	if len(c.history) < 2*n {
		return false
	}
	recent := c.history[len(c.history)-n:]
	prior := c.history[len(c.history)-2*n : len(c.history)-n]
	for i := 0; i < n; i++ {
		if !recent[i].sameStep(prior[i]) {
			return false
		}
	}
	return true
}

// ActiveTasks returns snapshots of in-flight tasks.
func (c *Coordinator) ActiveTasks() []Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Task, 0, len(c.active))
	for _, t := range c.active {
		out = append(out, *t)
	}
	return out
}

// CompletedTasks returns snapshots of archived tasks.
func (c *Coordinator) CompletedTasks() []Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Task, 0, len(c.completed))
	for _, t := range c.completed {
		out = append(out, *t)
	}
	return out
}

// Stats returns the coordinator counters used by health and diagnostics.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	done := len(c.completed)
	s := Stats{
		ActiveTasks:    len(c.active),
		CompletedTasks: done,
		FailedTasks:    c.failed,
		QueueDepth:     len(c.queue),
		Iterations:     c.iterations,
		StartedAt:      c.startedAt,
		LastCompletion: c.lastDone,
	}
	if done > 0 {
		s.SuccessRate = float64(done-c.failed) / float64(done)
		s.AvgExecution = c.totalExec / time.Duration(done)
	}
	return s
}

func (c *Coordinator) publishTask(task *Task, status string) {
	if c.nats == nil {
		return
	}
	payload := map[string]any{
		"task_id": task.ID,
		"type":    task.Type,
		"agent":   task.AssignedAgent,
		"status":  status,
	}
	if task.Success != nil {
		payload["success"] = *task.Success
	}
	if task.CompletedAt != nil {
		payload["completed_at"] = task.CompletedAt.Format(time.RFC3339Nano)
	}
	payload["started_at"] = task.StartedAt.Format(time.RFC3339Nano)
	if err := c.nats.PublishJSON(natsbus.TopicTask(task.ID), payload); err != nil {
		slog.Debug("task event publish failed", "error", err)
	}
}
