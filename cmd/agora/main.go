package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkelaidis/agora/internal/agent"
	"github.com/mkelaidis/agora/internal/bus"
	"github.com/mkelaidis/agora/internal/config"
	"github.com/mkelaidis/agora/internal/confidence"
	"github.com/mkelaidis/agora/internal/diag"
	"github.com/mkelaidis/agora/internal/monitor"
	"github.com/mkelaidis/agora/internal/natsbus"
	"github.com/mkelaidis/agora/internal/scheduler"
	"github.com/mkelaidis/agora/internal/store"
	"github.com/mkelaidis/agora/internal/swarm"
	"github.com/mkelaidis/agora/internal/telegram"
	"github.com/mkelaidis/agora/internal/tool"
	"github.com/mkelaidis/agora/internal/vault"
	"github.com/mkelaidis/agora/internal/voting"
	"github.com/mkelaidis/agora/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("agora %s\n", version)
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	case "vault":
		if err := runVault(os.Args[2:]); err != nil {
			slog.Error("vault command failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: agora <command>

Commands:
  serve      Start the swarm coordination service
  backup     Archive the data directory to a .tar.zst file
  restore    Restore a backup archive into the data directory
  vault      Manage encrypted secrets
  version    Print version
`)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting agora", "version", version, "swarm", cfg.Swarm.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	natsSrv, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer natsSrv.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	nc, err := natsbus.NewClient(natsSrv)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer nc.Close()

	// Core coordination components
	msgBus := bus.New(cfg.Bus, nc)
	go msgBus.Run(ctx)

	model := confidence.NewModel()
	votes := voting.NewSystem(msgBus, model, nc)
	go votes.Run(ctx)

	coord := swarm.NewCoordinator(cfg.Swarm, msgBus, model, nc)
	orch := swarm.NewOrchestrator(cfg.Swarm, msgBus, model, votes, coord, nc)
	svc := swarm.NewService(orch)

	// Vault for tool credentials
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase, db)
	} else {
		slog.Warn("vault passphrase not set, secrets disabled")
	}

	registerAgents(orch, builtinTools(), cfg.Agents)

	// Diagnostics
	diagSys := diag.NewSystem(cfg.Diagnostics, cfg.Swarm.RecommendedMin,
		diag.NewOrchestratorSource(orch), nc)
	svc.SetDiagnoser(diagSys)
	go diagSys.Run(ctx)

	// Alert notifier
	var notifier monitor.Notifier
	if cfg.Telegram.Token != "" {
		tg, err := telegram.NewNotifier(cfg.Telegram)
		if err != nil {
			return fmt.Errorf("init telegram notifier: %w", err)
		}
		notifier = tg
		slog.Info("telegram notifier enabled", "chat_id", cfg.Telegram.ChatID)
	} else {
		slog.Warn("telegram token not set, alert notifications disabled")
	}

	// Monitor: telemetry persistence, baselines, alerting
	mon := monitor.NewManager(cfg.Monitor, db, nc, notifier)
	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	// Scheduler
	sched := scheduler.New(db, svc, nc, cfg.Scheduler.PollInterval)
	go sched.Run(ctx)

	// Daemon mode: the swarm runs until a termination condition or signal.
	orch.OnTerminate(func(reason string) {
		slog.Warn("swarm terminated", "reason", reason)
		mon.RaiseTermination(reason)
	})
	if err := orch.Start(); err != nil {
		return fmt.Errorf("start swarm: %w", err)
	}

	// Web UI and API
	if cfg.Web.Enabled {
		srv := web.NewServer(cfg.Web, web.Deps{
			Store:     db,
			Bus:       natsSrv,
			Service:   svc,
			Votes:     votes,
			Scheduler: sched,
			Diag:      diagSys,
			Alerts:    mon,
			Vault:     v,
			Version:   version,
		})
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	if orch.Running() {
		if err := orch.Stop(); err != nil {
			slog.Error("swarm stop failed", "error", err)
		}
	}
	return nil
}

// builtinTools is the capability registry handed to every configured
// worker. Deployments extend this by linking their own capabilities.
func builtinTools() *tool.Registry {
	reg := tool.NewRegistry()

	_ = reg.Register("echo", tool.Func{
		ToolKind: tool.KindAnalyzer,
		Run: func(ctx context.Context, params map[string]any) (tool.Result, error) {
			return tool.Result{Success: true, Data: params}, nil
		},
	})

	_ = reg.Register("sleep", tool.Func{
		ToolKind: tool.KindAnalyzer,
		Run: func(ctx context.Context, params map[string]any) (tool.Result, error) {
			d := time.Second
			if raw, ok := params["duration"].(string); ok {
				if parsed, err := time.ParseDuration(raw); err == nil {
					d = parsed
				}
			}
			select {
			case <-ctx.Done():
				return tool.Result{Error: ctx.Err().Error()}, ctx.Err()
			case <-time.After(d):
				return tool.Result{Success: true}, nil
			}
		},
	})

	return reg
}

func registerAgents(orch *swarm.Orchestrator, tools *tool.Registry, defs []config.AgentConfig) {
	for _, def := range defs {
		if def.Name == "" {
			slog.Warn("skipping agent with empty name")
			continue
		}
		a := agent.New(def.Name, def.Expertise, tools)
		if err := orch.RegisterAgent(a); err != nil {
			slog.Error("agent registration failed", "name", def.Name, "error", err)
			continue
		}
		slog.Info("agent registered", "name", def.Name, "domains", len(def.Expertise))
	}
	if len(defs) == 0 {
		slog.Warn("no agents configured")
	}
}
