package diag

import (
	"github.com/mkelaidis/agora/internal/swarm"
)

// orchSource adapts the orchestrator to the Source view the checks read.
type orchSource struct {
	orch *swarm.Orchestrator
}

// NewOrchestratorSource wraps a live orchestrator as a diagnostic Source.
func NewOrchestratorSource(orch *swarm.Orchestrator) Source {
	return &orchSource{orch: orch}
}

func (o *orchSource) Health() swarm.SwarmHealth {
	return o.orch.AnalyzeHealth()
}

func (o *orchSource) Stats() swarm.Stats {
	return o.orch.Stats()
}

func (o *orchSource) AgentStates() map[string]bool {
	agents := o.orch.Agents()
	states := make(map[string]bool, len(agents))
	for _, a := range agents {
		states[a.Name()] = a.Active()
	}
	return states
}

func (o *orchSource) Running() bool {
	return o.orch.Running()
}
