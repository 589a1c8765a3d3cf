package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkelaidis/agora/internal/bus"
	"github.com/mkelaidis/agora/internal/config"
	"github.com/mkelaidis/agora/internal/confidence"
	"github.com/mkelaidis/agora/internal/monitor"
	"github.com/mkelaidis/agora/internal/scheduler"
	"github.com/mkelaidis/agora/internal/store"
	"github.com/mkelaidis/agora/internal/swarm"
	"github.com/mkelaidis/agora/internal/vault"
	"github.com/mkelaidis/agora/internal/voting"
)

func newTestServer(t *testing.T, auth string) (*Server, *http.ServeMux) {
	t.Helper()

	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	model := confidence.NewModel()
	b := bus.New(config.BusConfig{InboxSize: 16, DeliveryTimeout: time.Second}, nil)
	votes := voting.NewSystem(b, model, nil)
	coord := swarm.NewCoordinator(config.SwarmConfig{
		Name:           "test-swarm",
		ScoringTimeout: time.Second,
		MinAssignScore: 0.3,
		TaskQueueSize:  16,
	}, b, model, nil)
	orch := swarm.NewOrchestrator(config.SwarmConfig{
		Name:           "test-swarm",
		ScoringTimeout: time.Second,
		DrainInterval:  10 * time.Millisecond,
		HealthInterval: time.Second,
		TaskQueueSize:  16,
	}, b, model, votes, coord, nil)
	svc := swarm.NewService(orch)

	alerts := monitor.NewManager(config.MonitorConfig{}, st, nil, nil)
	sched := scheduler.New(st, svc, nil, time.Minute)
	v := vault.New("test-passphrase", st)

	srv := NewServer(config.WebConfig{Port: 0, Auth: auth}, Deps{
		Store:     st,
		Service:   svc,
		Votes:     votes,
		Scheduler: sched,
		Alerts:    alerts,
		Vault:     v,
		Version:   "test",
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", srv.handleLogin)
	mux.HandleFunc("POST /api/logout", srv.handleLogout)
	mux.HandleFunc("GET /api/auth/check", srv.handleAuthCheck)
	srv.registerAPI(mux)
	return srv, mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return out
}

func TestStatusEndpoint(t *testing.T) {
	_, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "GET", "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := decodeBody[map[string]any](t, rec)
	if data["version"] != "test" {
		t.Errorf("expected version 'test', got %v", data["version"])
	}
	if data["running"] != false {
		t.Errorf("expected running false, got %v", data["running"])
	}
}

func TestSwarmLifecycleEndpoints(t *testing.T) {
	_, mux := newTestServer(t, "")

	if rec := doJSON(t, mux, "POST", "/api/swarm/start", nil); rec.Code != http.StatusOK {
		t.Fatalf("start failed: %d %s", rec.Code, rec.Body.String())
	}
	// Double start conflicts
	if rec := doJSON(t, mux, "POST", "/api/swarm/start", nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on double start, got %d", rec.Code)
	}
	if rec := doJSON(t, mux, "POST", "/api/swarm/stop", nil); rec.Code != http.StatusOK {
		t.Fatalf("stop failed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestProposalEndpoints(t *testing.T) {
	_, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "POST", "/api/proposals", map[string]any{
		"title":   "pick encoder",
		"options": []string{"av1", "h264"},
		"quorum":  0.5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[map[string]string](t, rec)
	id := created["proposal_id"]
	if id == "" {
		t.Fatal("missing proposal_id")
	}

	rec = doJSON(t, mux, "GET", "/api/proposals/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get failed: %d", rec.Code)
	}
	p := decodeBody[map[string]any](t, rec)
	if p["title"] != "pick encoder" {
		t.Errorf("unexpected title %v", p["title"])
	}

	rec = doJSON(t, mux, "GET", "/api/proposals", nil)
	listing := decodeBody[map[string]any](t, rec)
	active, _ := listing["active"].([]any)
	if len(active) != 1 {
		t.Errorf("expected 1 active proposal, got %d", len(active))
	}

	// Vote for an option that does not exist
	rec = doJSON(t, mux, "POST", "/api/proposals/"+id+"/votes", map[string]any{
		"agent":      "critic",
		"decision":   "vp9",
		"confidence": 0.8,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid option, got %d", rec.Code)
	}

	rec = doJSON(t, mux, "DELETE", "/api/proposals/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("cancel failed: %d", rec.Code)
	}
}

func TestScheduledTaskEndpoints(t *testing.T) {
	_, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "POST", "/api/scheduled-tasks", map[string]any{
		"name":        "nightly",
		"schedule":    "0 3 * * *",
		"description": "nightly cleanup",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}
	task := decodeBody[map[string]any](t, rec)
	id, _ := task["id"].(string)
	if id == "" {
		t.Fatal("missing task id")
	}

	if rec := doJSON(t, mux, "POST", "/api/scheduled-tasks/"+id+"/pause", nil); rec.Code != http.StatusOK {
		t.Errorf("pause failed: %d", rec.Code)
	}
	if rec := doJSON(t, mux, "POST", "/api/scheduled-tasks/"+id+"/resume", nil); rec.Code != http.StatusOK {
		t.Errorf("resume failed: %d", rec.Code)
	}

	rec = doJSON(t, mux, "GET", "/api/scheduled-tasks", nil)
	tasks := decodeBody[[]map[string]any](t, rec)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}

	if rec := doJSON(t, mux, "DELETE", "/api/scheduled-tasks/"+id, nil); rec.Code != http.StatusOK {
		t.Errorf("delete failed: %d", rec.Code)
	}

	rec = doJSON(t, mux, "POST", "/api/scheduled-tasks", map[string]any{
		"name":        "bad",
		"schedule":    "whenever",
		"description": "bad schedule",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad schedule, got %d", rec.Code)
	}
}

func TestAlertEndpoints(t *testing.T) {
	srv, mux := newTestServer(t, "")

	a := srv.alerts.Raise(monitor.SeverityWarning, monitor.TypeAgentFailure,
		"agent offline", "worker stopped responding", "worker-1", nil)

	rec := doJSON(t, mux, "GET", "/api/alerts", nil)
	alerts := decodeBody[[]map[string]any](t, rec)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 active alert, got %d", len(alerts))
	}

	rec = doJSON(t, mux, "POST", "/api/alerts/"+a.ID+"/resolve", map[string]any{"note": "restarted"})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, "GET", "/api/alerts", nil)
	alerts = decodeBody[[]map[string]any](t, rec)
	if len(alerts) != 0 {
		t.Errorf("expected no active alerts after resolve, got %d", len(alerts))
	}

	rec = doJSON(t, mux, "POST", "/api/alerts/nope/resolve", map[string]any{"note": ""})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown alert, got %d", rec.Code)
	}
}

func TestSecretEndpoints(t *testing.T) {
	_, mux := newTestServer(t, "")

	rec := doJSON(t, mux, "PUT", "/api/secrets/api-token", map[string]any{"value": "hunter2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("put failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, "GET", "/api/secrets", nil)
	names := decodeBody[[]string](t, rec)
	if len(names) != 1 || names[0] != "api-token" {
		t.Errorf("expected [api-token], got %v", names)
	}

	if rec := doJSON(t, mux, "DELETE", "/api/secrets/api-token", nil); rec.Code != http.StatusOK {
		t.Errorf("delete failed: %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, mux := newTestServer(t, "swordfish")
	handler := srv.withMiddleware(mux)

	req := httptest.NewRequest("GET", "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}

	// Basic Auth passes
	req = httptest.NewRequest("GET", "/api/status", nil)
	req.SetBasicAuth("any", "swordfish")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with basic auth, got %d", rec.Code)
	}

	// Login issues a session cookie that then authenticates
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]string{"password": "swordfish"})
	req = httptest.NewRequest("POST", "/api/login", &buf)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected session cookie")
	}

	req = httptest.NewRequest("GET", "/api/status", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with session cookie, got %d", rec.Code)
	}

	// Wrong password rejected
	buf.Reset()
	json.NewEncoder(&buf).Encode(map[string]string{"password": "nope"})
	req = httptest.NewRequest("POST", "/api/login", &buf)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", rec.Code)
	}
}
