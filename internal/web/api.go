package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mkelaidis/agora/internal/swarm"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Swarm lifecycle and health
	mux.HandleFunc("GET /api/status", s.getStatus)
	mux.HandleFunc("POST /api/swarm/start", s.startSwarm)
	mux.HandleFunc("POST /api/swarm/stop", s.stopSwarm)
	mux.HandleFunc("GET /api/swarm/health", s.getHealth)
	mux.HandleFunc("GET /api/swarm/performance", s.getPerformance)

	// Agents
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/agents/{name}/conversations", s.getAgentConversations)
	mux.HandleFunc("GET /api/agents/{name}/tasks", s.getAgentTasks)
	mux.HandleFunc("POST /api/agents/{name}/confidence/reset", s.resetAgentConfidence)

	// Tasks
	mux.HandleFunc("POST /api/tasks/execute", s.executeTask)
	mux.HandleFunc("POST /api/tasks", s.submitTask)
	mux.HandleFunc("GET /api/tasks", s.listTasks)
	mux.HandleFunc("GET /api/tasks/active", s.listActiveTasks)
	mux.HandleFunc("GET /api/tasks/completed", s.listCompletedTasks)

	// Proposals and votes
	mux.HandleFunc("GET /api/proposals", s.listProposals)
	mux.HandleFunc("POST /api/proposals", s.createProposal)
	mux.HandleFunc("GET /api/proposals/{id}", s.getProposal)
	mux.HandleFunc("DELETE /api/proposals/{id}", s.cancelProposal)
	mux.HandleFunc("POST /api/proposals/{id}/votes", s.castVote)
	mux.HandleFunc("GET /api/proposals/{id}/votes", s.getProposalVotes)
	mux.HandleFunc("POST /api/proposals/{id}/conversation", s.addConversation)

	// Conversation log
	mux.HandleFunc("GET /api/conversations", s.listConversations)

	// Diagnostics
	mux.HandleFunc("POST /api/diagnostics/scan", s.runDiagnostics)
	mux.HandleFunc("GET /api/diagnostics/issues", s.listIssues)
	mux.HandleFunc("GET /api/diagnostics/history", s.listIssueHistory)
	mux.HandleFunc("GET /api/diagnostics/remediations", s.listRemediations)

	// Alerts
	mux.HandleFunc("GET /api/alerts", s.listAlerts)
	mux.HandleFunc("GET /api/alerts/history", s.listAlertHistory)
	mux.HandleFunc("POST /api/alerts/{id}/resolve", s.resolveAlert)

	// Scheduled tasks
	mux.HandleFunc("GET /api/scheduled-tasks", s.listScheduledTasks)
	mux.HandleFunc("POST /api/scheduled-tasks", s.createScheduledTask)
	mux.HandleFunc("POST /api/scheduled-tasks/{id}/pause", s.pauseScheduledTask)
	mux.HandleFunc("POST /api/scheduled-tasks/{id}/resume", s.resumeScheduledTask)
	mux.HandleFunc("DELETE /api/scheduled-tasks/{id}", s.deleteScheduledTask)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("PUT /api/secrets/{name}", s.putSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	res := s.svc.Status()
	data, _ := res.Data.(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	data["version"] = s.version
	data["server_uptime"] = formatUptime(time.Since(s.startedAt))
	data["active_proposals"] = s.votes.ActiveCount()
	data["active_alerts"] = len(s.alerts.ActiveAlerts())
	data["monitor_degraded"] = s.alerts.Degraded()
	if s.bus != nil {
		data["nats_clients"] = s.bus.NumClients()
	}
	jsonResponse(w, data)
}

func (s *Server) startSwarm(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.svc.StartSwarm(), http.StatusConflict)
}

func (s *Server) stopSwarm(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.svc.StopSwarm(), http.StatusConflict)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.svc.AnalyzeHealth(), http.StatusInternalServerError)
}

func (s *Server) getPerformance(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.svc.PerformanceReport(), http.StatusInternalServerError)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.svc.Orchestrator().Agents()
	out := make([]map[string]any, 0, len(agents))
	for _, a := range agents {
		entry := map[string]any{
			"name":      a.Name(),
			"active":    a.Active(),
			"expertise": a.Expertise(),
		}
		if rec := a.Record(); rec != nil {
			entry["confidence"] = rec.Overall()
		}
		out = append(out, entry)
	}
	jsonResponse(w, out)
}

func (s *Server) getAgentConversations(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	entries, err := s.store.GetConversationsForAgent(name, intParam(r, "limit", 100))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, entries)
}

func (s *Server) getAgentTasks(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	entries, err := s.store.GetTasksForAgent(name, intParam(r, "limit", 100))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, entries)
}

func (s *Server) resetAgentConfidence(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Orchestrator().ResetConfidence(r.PathValue("name")); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "reset"})
}

func (s *Server) executeTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Description string         `json:"description"`
		Context     map[string]any `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Description == "" {
		jsonError(w, "description is required", http.StatusBadRequest)
		return
	}

	res := s.svc.ExecuteTask(r.Context(), body.Description, body.Context)
	if !res.Success && res.Error != "" {
		if data, ok := res.Data.(map[string]any); ok && data["no_suitable_agent"] == true {
			jsonError(w, res.Error, http.StatusConflict)
			return
		}
	}
	jsonResponse(w, res)
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Description string         `json:"description"`
		Context     map[string]any `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Description == "" {
		jsonError(w, "description is required", http.StatusBadRequest)
		return
	}

	taskID, err := s.svc.Orchestrator().SubmitTask(body.Description, body.Context)
	if err != nil {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	jsonResponse(w, map[string]string{"task_id": taskID, "status": "queued"})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-time.Duration(intParam(r, "hours", 24)) * time.Hour)
	entries, err := s.store.GetTasks(since, time.Now(), intParam(r, "limit", 200))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, entries)
}

func (s *Server) listActiveTasks(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.svc.Orchestrator().Coordinator().ActiveTasks())
}

func (s *Server) listCompletedTasks(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.svc.Orchestrator().Coordinator().CompletedTasks())
}

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"active":   s.votes.Active(),
		"archived": s.votes.Archived(),
	}
	jsonResponse(w, out)
}

func (s *Server) createProposal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Proposer    string     `json:"proposer"`
		Title       string     `json:"title"`
		Description string     `json:"description"`
		Options     []string   `json:"options"`
		Domain      string     `json:"domain"`
		Quorum      float64    `json:"quorum"`
		Deadline    *time.Time `json:"deadline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Title == "" || len(body.Options) < 2 {
		jsonError(w, "title and at least two options are required", http.StatusBadRequest)
		return
	}
	if body.Proposer == "" {
		body.Proposer = "api"
	}

	id, err := s.votes.CreateProposal(body.Proposer, body.Title, body.Description,
		body.Options, body.Domain, body.Quorum, body.Deadline)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"proposal_id": id})
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.votes.Status(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, p)
}

func (s *Server) cancelProposal(w http.ResponseWriter, r *http.Request) {
	if err := s.votes.Cancel(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "cancelled"})
}

func (s *Server) castVote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent      string  `json:"agent"`
		Decision   string  `json:"decision"`
		Weight     float64 `json:"weight"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Agent == "" || body.Decision == "" {
		jsonError(w, "agent and decision are required", http.StatusBadRequest)
		return
	}
	if body.Weight == 0 {
		body.Weight = 1.0
	}

	if err := s.votes.CastVote(r.PathValue("id"), body.Agent, body.Decision, body.Weight, body.Confidence); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"status": "recorded"})
}

func (s *Server) getProposalVotes(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetVotes(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, entries)
}

func (s *Server) addConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Agent string `json:"agent"`
		Text  string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.votes.AddConversation(r.PathValue("id"), body.Agent, body.Text); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"status": "added"})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-time.Duration(intParam(r, "hours", 24)) * time.Hour)
	entries, err := s.store.GetConversations(since, time.Now(), intParam(r, "limit", 200))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, entries)
}

func (s *Server) runDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.svc.RunDiagnostics(), http.StatusServiceUnavailable)
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	if s.diagSys == nil {
		jsonError(w, "diagnostics not configured", http.StatusServiceUnavailable)
		return
	}
	jsonResponse(w, s.diagSys.ActiveIssues())
}

func (s *Server) listIssueHistory(w http.ResponseWriter, r *http.Request) {
	if s.diagSys == nil {
		jsonError(w, "diagnostics not configured", http.StatusServiceUnavailable)
		return
	}
	jsonResponse(w, s.diagSys.History())
}

func (s *Server) listRemediations(w http.ResponseWriter, r *http.Request) {
	if s.diagSys == nil {
		jsonError(w, "diagnostics not configured", http.StatusServiceUnavailable)
		return
	}
	jsonResponse(w, s.diagSys.AutomatedRemediations())
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.alerts.ActiveAlerts())
}

func (s *Server) listAlertHistory(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.alerts.AlertHistory(intParam(r, "hours", 24)))
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.alerts.Resolve(r.PathValue("id"), body.Note); err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "resolved"})
}

func (s *Server) listScheduledTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.sched.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, tasks)
}

func (s *Server) createScheduledTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string         `json:"name"`
		Schedule    string         `json:"schedule"`
		Description string         `json:"description"`
		Context     map[string]any `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Schedule == "" || body.Description == "" {
		jsonError(w, "name, schedule, and description are required", http.StatusBadRequest)
		return
	}

	task, err := s.sched.Create(body.Name, body.Schedule, body.Description, body.Context)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, task)
}

func (s *Server) pauseScheduledTask(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Pause(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "paused"})
}

func (s *Server) resumeScheduledTask(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Resume(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "active"})
}

func (s *Server) deleteScheduledTask(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Delete(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	names, err := s.vault.Names()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	jsonResponse(w, names)
}

func (s *Server) putSecret(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Value == "" {
		jsonError(w, "value is required", http.StatusBadRequest)
		return
	}
	if err := s.vault.Put(r.PathValue("name"), []byte(body.Value)); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "saved"})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.vault.Delete(r.PathValue("name")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

// writeResult maps a service call onto HTTP: success bodies pass through,
// failures use failCode.
func writeResult(w http.ResponseWriter, res swarm.CallResult, failCode int) {
	if !res.Success {
		jsonError(w, res.Error, failCode)
		return
	}
	jsonResponse(w, res.Data)
}

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
