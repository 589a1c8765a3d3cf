// Package agent implements the autonomous worker unit: a named participant
// with declared domain expertise, a confidence record, and an external tool
// executor. Agents receive work and proposals through their bus inbox and
// never share state with each other.
package agent

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mkelaidis/agora/internal/bus"
	"github.com/mkelaidis/agora/internal/confidence"
	"github.com/mkelaidis/agora/internal/tool"
	"github.com/mkelaidis/agora/internal/voting"
)

const abstainThreshold = 0.3

// Advisor is the decision capability an agent may consult for votes and
// self-scores. It stands in for an LLM backend; the core only needs a
// decision and a confidence.
type Advisor interface {
	DecideVote(ctx context.Context, title string, options []string, domain string) (decision string, conf float64, err error)
}

// Reporter receives task completion reports. The swarm coordinator
// implements it.
type Reporter interface {
	ReportCompletion(taskID, agentName string, success bool, result map[string]any) error
}

type Agent struct {
	name      string
	expertise map[string]float64
	executor  tool.Executor
	advisor   Advisor

	record   *confidence.Record
	bus      *bus.Bus
	votes    *voting.System
	reporter Reporter

	active atomic.Bool
}

func New(name string, expertise map[string]float64, executor tool.Executor) *Agent {
	exp := make(map[string]float64, len(expertise))
	for d, v := range expertise {
		exp[d] = v
	}
	return &Agent{
		name:      name,
		expertise: exp,
		executor:  executor,
	}
}

func (a *Agent) Name() string { return a.name }

// Expertise returns the agent's declared domain tags with their initial
// confidence, read at registration time.
func (a *Agent) Expertise() map[string]float64 {
	out := make(map[string]float64, len(a.expertise))
	for d, v := range a.expertise {
		out[d] = v
	}
	return out
}

func (a *Agent) SetAdvisor(adv Advisor) { a.advisor = adv }

// Attach wires the agent into the swarm's shared components. Called by the
// orchestrator during registration, before Run.
func (a *Agent) Attach(b *bus.Bus, record *confidence.Record, votes *voting.System, reporter Reporter) {
	a.bus = b
	a.record = record
	a.votes = votes
	a.reporter = reporter
}

func (a *Agent) Record() *confidence.Record { return a.record }

func (a *Agent) Active() bool { return a.active.Load() }

// SelfScore reports the agent's confidence for taking on a task, or
// abstains. The orchestrator calls this under a per-agent timeout.
func (a *Agent) SelfScore(ctx context.Context, domain string) (score float64, abstain bool) {
	if err := ctx.Err(); err != nil {
		return 0, true
	}
	if a.record == nil || a.record.ShouldAbstain(domain, abstainThreshold) {
		return 0, true
	}
	return a.record.Overall(), false
}

// Run is the agent's message loop. It polls the inbox and dispatches until
// ctx is cancelled; cancellation is observed within one poll quantum.
func (a *Agent) Run(ctx context.Context) {
	a.active.Store(true)
	defer a.active.Store(false)

	slog.Info("agent started", "agent", a.name)
	for {
		if ctx.Err() != nil {
			slog.Info("agent stopped", "agent", a.name)
			return
		}

		msgs, err := a.bus.Poll(ctx, a.name, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("agent stopped", "agent", a.name)
				return
			}
			slog.Warn("inbox poll failed", "agent", a.name, "error", err)
			continue
		}

		for _, msg := range msgs {
			a.handle(ctx, msg)
		}
	}
}

func (a *Agent) handle(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case bus.TypeTaskAssignment:
		a.handleTask(ctx, msg)
	case bus.TypeVoteRequest:
		a.handleVoteRequest(ctx, msg)
	case bus.TypePing:
		reply := bus.NewMessage(a.name, msg.Sender, bus.TypePong, nil)
		reply.CorrelationID = msg.ID
		if _, err := a.bus.Send(reply); err != nil {
			slog.Debug("pong failed", "agent", a.name, "error", err)
		}
	case bus.TypeVoteResult, bus.TypePong:
		// Informational; nothing to do.
	default:
		slog.Debug("unhandled message type", "agent", a.name, "type", msg.Type)
	}
}

func (a *Agent) handleTask(ctx context.Context, msg bus.Message) {
	taskID, _ := msg.Content["task_id"].(string)
	toolName, _ := msg.Content["tool"].(string)
	params, _ := msg.Content["params"].(map[string]any)

	slog.Info("task accepted", "agent", a.name, "task", taskID, "tool", toolName)

	res, err := a.executor.Execute(ctx, toolName, params)
	success := err == nil && res.Success

	var result map[string]any
	if success {
		result = res.Data
	} else if err != nil {
		result = map[string]any{"error": err.Error()}
	} else {
		result = map[string]any{"error": res.Error}
	}

	if a.reporter != nil {
		if rerr := a.reporter.ReportCompletion(taskID, a.name, success, result); rerr != nil {
			slog.Warn("completion report failed", "agent", a.name, "task", taskID, "error", rerr)
		}
	}

	reply := bus.NewMessage(a.name, msg.Sender, bus.TypeTaskResult, map[string]any{
		"task_id": taskID,
		"success": success,
		"result":  result,
	})
	reply.CorrelationID = msg.ID
	delivered, serr := a.bus.Send(reply)
	a.record.RecordCommunication(serr == nil && delivered)
}

func (a *Agent) handleVoteRequest(ctx context.Context, msg bus.Message) {
	proposalID, _ := msg.Content["proposal_id"].(string)
	title, _ := msg.Content["title"].(string)
	domain, _ := msg.Content["domain"].(string)
	options := toStrings(msg.Content["options"])
	if proposalID == "" || len(options) == 0 {
		return
	}

	decision := voting.Abstain
	conf := a.record.Overall()
	if !a.record.ShouldAbstain(domain, abstainThreshold) {
		decision, conf = a.decide(ctx, title, options, domain)
	}

	weight := a.record.VotingWeight(domain)
	if err := a.votes.CastVote(proposalID, a.name, decision, weight, conf); err != nil {
		slog.Debug("vote rejected", "agent", a.name, "proposal", proposalID, "error", err)
	}
}

// decide consults the advisor when one is configured; otherwise the agent
// leans on its domain confidence and takes the first option.
func (a *Agent) decide(ctx context.Context, title string, options []string, domain string) (string, float64) {
	if a.advisor != nil {
		decision, conf, err := a.advisor.DecideVote(ctx, title, options, domain)
		if err == nil && decision != "" {
			return decision, clamp01(conf)
		}
		slog.Debug("advisor failed, falling back to heuristic", "agent", a.name, "error", err)
	}
	return options[0], a.record.Overall()
}

func toStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
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
