package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkelaidis/agora/internal/natsbus"
	"github.com/mkelaidis/agora/internal/schedule"
	"github.com/mkelaidis/agora/internal/store"
	"github.com/mkelaidis/agora/internal/swarm"
)

// Executor runs a task to completion. *swarm.Service satisfies it.
type Executor interface {
	ExecuteTask(ctx context.Context, description string, taskCtx map[string]any) swarm.CallResult
}

// Scheduler polls the store for due scheduled tasks and hands them to the
// swarm. One-shot tasks are marked completed after their single run.
type Scheduler struct {
	store        *store.Store
	exec         Executor
	nats         *natsbus.Client
	pollInterval time.Duration
}

func New(s *store.Store, exec Executor, nc *natsbus.Client, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Scheduler{
		store:        s,
		exec:         exec,
		nats:         nc,
		pollInterval: pollInterval,
	}
}

// Create validates the schedule expression, computes the first run time and
// persists the task as active.
func (s *Scheduler) Create(name, rawSchedule, description string, taskCtx map[string]any) (*store.ScheduledTask, error) {
	normalized, err := schedule.Normalize(rawSchedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}

	next, err := schedule.NextRunAfter(normalized, time.Now())
	if err != nil {
		return nil, fmt.Errorf("compute next run: %w", err)
	}
	if next == nil {
		return nil, fmt.Errorf("schedule %q has no future run", rawSchedule)
	}

	task := &store.ScheduledTask{
		ID:          uuid.New().String(),
		Name:        name,
		Schedule:    normalized,
		Description: description,
		Status:      "active",
		NextRunAt:   next,
	}
	if len(taskCtx) > 0 {
		raw, err := json.Marshal(taskCtx)
		if err != nil {
			return nil, fmt.Errorf("encode task context: %w", err)
		}
		task.TaskContext = raw
	}

	if err := s.store.SaveScheduledTask(task); err != nil {
		return nil, fmt.Errorf("save scheduled task: %w", err)
	}
	slog.Info("scheduled task created", "id", task.ID, "name", name, "schedule", normalized, "next_run", next)
	return task, nil
}

func (s *Scheduler) Pause(id string) error {
	return s.store.UpdateScheduledStatus(id, "paused")
}

// Resume reactivates a paused task and recomputes its next run so a long
// pause does not trigger an immediate backlog of missed runs.
func (s *Scheduler) Resume(id string) error {
	task, err := s.store.GetScheduledTask(id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("scheduled task not found: %s", id)
	}

	next, err := schedule.NextRunAfter(task.Schedule, time.Now())
	if err != nil {
		return fmt.Errorf("compute next run: %w", err)
	}
	if next == nil {
		return s.store.UpdateScheduledStatus(id, "completed")
	}
	if err := s.store.UpdateScheduledRun(id, task.LastStatus, task.LastError, next); err != nil {
		return err
	}
	return s.store.UpdateScheduledStatus(id, "active")
}

func (s *Scheduler) Delete(id string) error {
	return s.store.DeleteScheduledTask(id)
}

func (s *Scheduler) List() ([]store.ScheduledTask, error) {
	return s.store.ListScheduledTasks()
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll executes every task due at the time of the call.
func (s *Scheduler) Poll(ctx context.Context) {
	tasks, err := s.store.GetDueScheduledTasks(time.Now())
	if err != nil {
		slog.Error("failed to get due tasks", "error", err)
		return
	}

	for _, task := range tasks {
		s.execute(ctx, task)
	}
}

func (s *Scheduler) execute(ctx context.Context, task store.ScheduledTask) {
	slog.Info("executing scheduled task", "id", task.ID, "name", task.Name)

	taskCtx := map[string]any{}
	if len(task.TaskContext) > 0 {
		if err := json.Unmarshal(task.TaskContext, &taskCtx); err != nil {
			slog.Error("bad task context, running without it", "id", task.ID, "error", err)
			taskCtx = map[string]any{}
		}
	}
	taskCtx["scheduled_task_id"] = task.ID

	res := s.exec.ExecuteTask(ctx, task.Description, taskCtx)

	lastStatus := "success"
	var lastError string
	if !res.Success {
		lastStatus = "error"
		lastError = res.Error
		slog.Error("scheduled task failed", "id", task.ID, "error", res.Error)
	}

	nextRun, err := schedule.NextRunAfter(task.Schedule, time.Now())
	if err != nil {
		slog.Error("failed to compute next run", "id", task.ID, "error", err)
	}

	if err := s.store.UpdateScheduledRun(task.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update task run", "id", task.ID, "error", err)
	}

	s.publishExecuted(task, lastStatus)

	if nextRun == nil {
		slog.Info("no next run, marking one-shot task as completed", "id", task.ID, "name", task.Name)
		if err := s.store.UpdateScheduledStatus(task.ID, "completed"); err != nil {
			slog.Error("failed to complete task", "id", task.ID, "error", err)
		}
	}
}

func (s *Scheduler) publishExecuted(task store.ScheduledTask, status string) {
	if s.nats == nil {
		return
	}
	event := map[string]any{
		"type":      "scheduled_task_executed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"id":     task.ID,
			"name":   task.Name,
			"status": status,
		},
	}
	_ = s.nats.PublishJSON(natsbus.TopicTask(task.ID), event)
}
