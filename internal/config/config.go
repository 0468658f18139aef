// Package config provides configuration management for Warden.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warden/warden/internal/policy"
	"github.com/warden/warden/internal/rollout"
	"github.com/warden/warden/pkg/duration"
)

// Duration is an alias for the shared duration.Duration type.
type Duration = duration.Duration

// Config represents the complete Warden configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Policy   PolicyConfig   `yaml:"policy"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Rollout  RolloutConfig  `yaml:"rollout"`
	Queue    QueueConfig    `yaml:"queue"`
	Worker   WorkerConfig   `yaml:"worker"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Approval ApprovalConfig `yaml:"approval"`
	Notify   NotifyConfig   `yaml:"notify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Executors maps entrypoint names to execution backends.
	Executors map[string]ExecutorConfig `yaml:"executors"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address      string   `yaml:"address"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend is "badger" or "memory".
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir"`
}

// PolicyConfig contains the admission policy rule set.
type PolicyConfig struct {
	// DefaultAction applies when no rule matches.
	DefaultAction policy.Action     `yaml:"default_action"`
	Rules         []policy.Rule     `yaml:"rules"`
	Overrides     []policy.Override `yaml:"overrides"`
	// UseBuiltinRules prepends the built-in rule set.
	UseBuiltinRules bool `yaml:"use_builtin_rules"`
}

// BreakerConfig contains circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	Cooldown         Duration `yaml:"cooldown"`
}

// RolloutConfig contains per-target rollout records.
type RolloutConfig struct {
	Targets map[string]rollout.Record `yaml:"targets"`
}

// QueueConfig contains queue capacity and retention settings.
type QueueConfig struct {
	Capacity         int      `yaml:"capacity"`
	HighWaterPercent float64  `yaml:"high_water_percent"`
	Retention        Duration `yaml:"retention"`
	FailureWindow    Duration `yaml:"failure_window"`
	MaxReasonLen     int      `yaml:"max_reason_len"`
	DefaultAttempts  int      `yaml:"default_attempts"`
}

// WorkerConfig contains worker loop settings.
type WorkerConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	ExecTimeout  Duration `yaml:"exec_timeout"`
	InlineLimit  int      `yaml:"inline_limit"`
}

// MonitorConfig contains health monitor settings.
type MonitorConfig struct {
	Interval             Duration `yaml:"interval"`
	WarnCooldown         Duration `yaml:"warn_cooldown"`
	CriticalCooldown     Duration `yaml:"critical_cooldown"`
	NotifyRecovery       bool     `yaml:"notify_recovery"`
	UtilizationWarn      float64  `yaml:"utilization_warn"`
	OpenBreakersCritical int      `yaml:"open_breakers_critical"`
	RecentFailuresWarn   int      `yaml:"recent_failures_warn"`
}

// ApprovalConfig selects the approval channel.
type ApprovalConfig struct {
	// Channel is "memory" or "webhook".
	Channel string            `yaml:"channel"`
	BaseURL string            `yaml:"base_url"`
	Headers map[string]string `yaml:"headers"`
}

// NotifyConfig configures alert sinks. Every configured sink receives
// every alert.
type NotifyConfig struct {
	SlackWebhookURL string            `yaml:"slack_webhook_url"`
	SlackChannel    string            `yaml:"slack_channel"`
	WebhookURL      string            `yaml:"webhook_url"`
	WebhookHeaders  map[string]string `yaml:"webhook_headers"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ExecutorConfig configures one execution backend.
type ExecutorConfig struct {
	// Type is "http".
	Type            string            `yaml:"type"`
	URL             string            `yaml:"url"`
	Headers         map[string]string `yaml:"headers"`
	Timeout         Duration          `yaml:"timeout"`
	MaxResponseSize int64             `yaml:"max_response_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      "0.0.0.0:8080",
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
		},
		Storage: StorageConfig{
			Backend: "badger",
			DataDir: "./data",
		},
		Policy: PolicyConfig{
			DefaultAction:   policy.ActionAllow,
			UseBuiltinRules: true,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         Duration(30 * time.Second),
		},
		Queue: QueueConfig{
			Capacity:         256,
			HighWaterPercent: 80,
			Retention:        Duration(24 * time.Hour),
			FailureWindow:    Duration(5 * time.Minute),
			MaxReasonLen:     512,
			DefaultAttempts:  3,
		},
		Worker: WorkerConfig{
			PollInterval: Duration(2 * time.Second),
			ExecTimeout:  Duration(5 * time.Minute),
			InlineLimit:  4 * 1024,
		},
		Monitor: MonitorConfig{
			Interval:             Duration(30 * time.Second),
			WarnCooldown:         Duration(15 * time.Minute),
			CriticalCooldown:     Duration(5 * time.Minute),
			NotifyRecovery:       true,
			UtilizationWarn:      60,
			OpenBreakersCritical: 3,
			RecentFailuresWarn:   5,
		},
		Approval: ApprovalConfig{
			Channel: "memory",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file, applying defaults, environment
// expansion, and WARDEN_* overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WARDEN_HTTP_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("WARDEN_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("WARDEN_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("WARDEN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WARDEN_SLACK_WEBHOOK_URL"); v != "" {
		c.Notify.SlackWebhookURL = v
	}
	if v := os.Getenv("WARDEN_APPROVAL_BASE_URL"); v != "" {
		c.Approval.BaseURL = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	switch c.Storage.Backend {
	case "badger":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the badger backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be badger or memory, got %q", c.Storage.Backend)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	if c.Queue.HighWaterPercent <= 0 || c.Queue.HighWaterPercent > 100 {
		return fmt.Errorf("queue.high_water_percent must be in (0, 100]")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive")
	}
	if c.Worker.ExecTimeout <= 0 {
		return fmt.Errorf("worker.exec_timeout must be positive")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	switch c.Approval.Channel {
	case "", "memory":
	case "webhook":
		if c.Approval.BaseURL == "" {
			return fmt.Errorf("approval.base_url is required for the webhook channel")
		}
	default:
		return fmt.Errorf("approval.channel must be memory or webhook, got %q", c.Approval.Channel)
	}
	for name, rec := range c.Rollout.Targets {
		switch rec.Mode {
		case rollout.ModeOff, rollout.ModeCanary, rollout.ModeFull:
		default:
			return fmt.Errorf("rollout target %q: unknown mode %q", name, rec.Mode)
		}
		if rec.CanaryPercent < 0 || rec.CanaryPercent > 100 {
			return fmt.Errorf("rollout target %q: canary_percent must be in [0, 100]", name)
		}
	}
	for name, ec := range c.Executors {
		if ec.Type != "" && ec.Type != "http" {
			return fmt.Errorf("executor %q: unknown type %q", name, ec.Type)
		}
		if ec.URL == "" {
			return fmt.Errorf("executor %q: url is required", name)
		}
	}
	return nil
}

// PolicyRules returns the effective rule set, with built-ins first
// when enabled.
func (c *Config) PolicyRules() []policy.Rule {
	if !c.Policy.UseBuiltinRules {
		return c.Policy.Rules
	}
	rules := policy.BuiltInRules()
	return append(rules, c.Policy.Rules...)
}
