package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/mkelaidis/agora/internal/tool"
)

type stubDiagnoser struct{ report any }

func (s *stubDiagnoser) Scan() any { return s.report }

func TestServiceLifecycle(t *testing.T) {
	o, _ := newOrchRig(t, testSwarmConfig())
	registerWorker(t, o, "audio-pro", map[string]float64{"audio": 0.8}, &stubExecutor{result: tool.Result{Success: true}})
	svc := NewService(o)

	if res := svc.StartSwarm(); !res.Success {
		t.Fatalf("start: %+v", res)
	}
	t.Cleanup(func() {
		if o.Running() {
			o.Stop()
		}
	})
	if res := svc.StartSwarm(); res.Success || res.Error == "" {
		t.Error("double start must report an error")
	}

	res := svc.Status()
	data, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("status data: %+v", res)
	}
	if data["running"] != true || data["agents"] != 1 {
		t.Errorf("unexpected status: %+v", data)
	}

	if res := svc.StopSwarm(); !res.Success {
		t.Errorf("stop: %+v", res)
	}
}

func TestServiceExecuteTaskNoSuitableAgent(t *testing.T) {
	o, _ := newOrchRig(t, testSwarmConfig())
	registerWorker(t, o, "audio-pro", map[string]float64{"audio": 0.8}, &stubExecutor{result: tool.Result{Success: true}})
	svc := NewService(o)
	if res := svc.StartSwarm(); !res.Success {
		t.Fatalf("start: %+v", res)
	}
	t.Cleanup(func() { o.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res := svc.ExecuteTask(ctx, "review the contract", map[string]any{"domain": "legal"})
	if res.Success {
		t.Fatal("expected domain failure")
	}
	data, ok := res.Data.(map[string]any)
	if !ok || data["no_suitable_agent"] != true {
		t.Errorf("expected the no-suitable-agent marker, got %+v", res.Data)
	}
}

func TestServiceDiagnostics(t *testing.T) {
	o, _ := newOrchRig(t, testSwarmConfig())
	svc := NewService(o)

	if res := svc.RunDiagnostics(); res.Success {
		t.Error("expected error with no diagnoser configured")
	}

	svc.SetDiagnoser(&stubDiagnoser{report: map[string]any{"issues": 0}})
	res := svc.RunDiagnostics()
	if !res.Success {
		t.Fatalf("diagnostics: %+v", res)
	}
}
