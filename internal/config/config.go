package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Swarm       SwarmConfig       `yaml:"swarm"`
	Bus         BusConfig         `yaml:"bus"`
	NATS        NATSConfig        `yaml:"nats"`
	Store       StoreConfig       `yaml:"store"`
	Web         WebConfig         `yaml:"web"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Vault       VaultConfig       `yaml:"vault"`
	Agents      []AgentConfig     `yaml:"agents"`
}

// AgentConfig declares a worker registered at startup: its name and the
// domains it claims expertise in, with initial confidence per domain.
type AgentConfig struct {
	Name      string             `yaml:"name"`
	Expertise map[string]float64 `yaml:"expertise"`
}

type SwarmConfig struct {
	Name           string        `yaml:"name"`
	MaxRuntime     time.Duration `yaml:"max_runtime"`
	MaxIterations  int           `yaml:"max_iterations"`
	ScoringTimeout time.Duration `yaml:"scoring_timeout"`
	DrainInterval  time.Duration `yaml:"drain_interval"`
	HealthInterval time.Duration `yaml:"health_interval"`
	MinAssignScore float64       `yaml:"min_assign_score"`
	LoopWindow     int           `yaml:"loop_window"`
	TaskQueueSize  int           `yaml:"task_queue_size"`
	RecommendedMin int           `yaml:"recommended_min_agents"`
}

type BusConfig struct {
	InboxSize       int           `yaml:"inbox_size"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	HistorySize     int           `yaml:"history_size"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type DiagnosticsConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Schedule  string        `yaml:"schedule"`
	Retention time.Duration `yaml:"retention"`
}

type MonitorConfig struct {
	BaselineAlpha float64       `yaml:"baseline_alpha"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		Swarm: SwarmConfig{
			Name:           "agora",
			MaxRuntime:     time.Hour,
			MaxIterations:  1000,
			ScoringTimeout: 2 * time.Second,
			DrainInterval:  time.Second,
			HealthInterval: 10 * time.Second,
			MinAssignScore: 0.3,
			LoopWindow:     10,
			TaskQueueSize:  100,
			RecommendedMin: 3,
		},
		Bus: BusConfig{
			InboxSize:       100,
			DeliveryTimeout: time.Second,
			HistorySize:     1000,
			SweepInterval:   30 * time.Second,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/agora.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Diagnostics: DiagnosticsConfig{
			Interval:  30 * time.Second,
			Retention: 7 * 24 * time.Hour,
		},
		Monitor: MonitorConfig{
			BaselineAlpha: 0.1,
			CheckInterval: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("AGORA_CONFIG")
	if path == "" {
		path = "config/agora.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGORA_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("AGORA_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("AGORA_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("AGORA_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("AGORA_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("AGORA_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("AGORA_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}
