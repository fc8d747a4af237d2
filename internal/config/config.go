// Package config provides configuration loading for the selfheal daemon.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marcus-qen/selfheal/internal/mapper"
	"github.com/marcus-qen/selfheal/internal/tracker"
	"github.com/marcus-qen/selfheal/internal/workflow"
)

// Config holds all daemon configuration.
type Config struct {
	// Listen address for metrics and the MCP server (default ":8090")
	ListenAddr string `yaml:"listen_addr"`

	// Log level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	Tracker  TrackerConfig  `yaml:"tracker"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Notify   NotifyConfig   `yaml:"notify,omitempty"`
	Workflow WorkflowConfig `yaml:"workflow,omitempty"`
}

// TrackerConfig locates the ticket tracker's MCP endpoint.
type TrackerConfig struct {
	Endpoint string      `yaml:"endpoint"`
	Project  string      `yaml:"project"`
	Retry    RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig bounds retries of transient tracker failures.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// DaemonConfig controls the poll loop and the escalation sweep.
type DaemonConfig struct {
	// PollInterval between actionable-work scans (default 30s).
	PollInterval time.Duration `yaml:"poll_interval"`
	// EscalationSchedule is a standard cron expression for the timeout
	// sweep (default every 15 minutes).
	EscalationSchedule string `yaml:"escalation_schedule"`
	// MaxBatch caps tickets handled per poll (default 50).
	MaxBatch int `yaml:"max_batch"`
}

// NotifyConfig configures outbound notification channels.
type NotifyConfig struct {
	SlackWebhookURL string            `yaml:"slack_webhook_url,omitempty"`
	SlackChannel    string            `yaml:"slack_channel,omitempty"`
	WebhookURL      string            `yaml:"webhook_url,omitempty"`
	WebhookHeaders  map[string]string `yaml:"webhook_headers,omitempty"`
	// MaxPerHour rate-limits notifications per ticket (default 10).
	MaxPerHour int `yaml:"max_per_hour"`
}

// WorkflowConfig optionally overrides the stock transition table and
// status mapping. Empty sections fall back to the defaults.
type WorkflowConfig struct {
	// Transitions maps a state name to its outgoing edges and wait bound.
	Transitions map[string]TransitionRule `yaml:"transitions,omitempty"`
	// Statuses maps a native tracker status to a state name.
	Statuses map[string]string `yaml:"statuses,omitempty"`
}

// TransitionRule is one row of the transition table in config form.
type TransitionRule struct {
	Next    []string      `yaml:"next"`
	MaxWait time.Duration `yaml:"max_wait,omitempty"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr: ":8090",
		LogLevel:   "info",
		Tracker: TrackerConfig{
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: time.Second,
				MaxBackoff:     10 * time.Second,
				Multiplier:     2,
			},
		},
		Daemon: DaemonConfig{
			PollInterval:       30 * time.Second,
			EscalationSchedule: "*/15 * * * *",
			MaxBatch:           50,
		},
		Notify: NotifyConfig{
			MaxPerHour: 10,
		},
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("SELFHEAL_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SELFHEAL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SELFHEAL_TRACKER_ENDPOINT"); v != "" {
		cfg.Tracker.Endpoint = v
	}
	if v := os.Getenv("SELFHEAL_TRACKER_PROJECT"); v != "" {
		cfg.Tracker.Project = v
	}
	if v := os.Getenv("SELFHEAL_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Daemon.PollInterval = d
		}
	}
	if v := os.Getenv("SELFHEAL_ESCALATION_SCHEDULE"); v != "" {
		cfg.Daemon.EscalationSchedule = v
	}
	if v := os.Getenv("SELFHEAL_MAX_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Daemon.MaxBatch = n
		}
	}
	if v := os.Getenv("SELFHEAL_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notify.SlackWebhookURL = v
	}
	if v := os.Getenv("SELFHEAL_SLACK_CHANNEL"); v != "" {
		cfg.Notify.SlackChannel = v
	}
	if v := os.Getenv("SELFHEAL_NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}

	return cfg, nil
}

// Validate checks the parts no component will catch later.
func (c Config) Validate() error {
	if c.Tracker.Endpoint == "" {
		return fmt.Errorf("tracker.endpoint is required")
	}
	if c.Tracker.Project == "" {
		return fmt.Errorf("tracker.project is required")
	}
	if c.Daemon.PollInterval <= 0 {
		return fmt.Errorf("daemon.poll_interval must be positive")
	}
	return nil
}

// RetryPolicy converts the retry section into a tracker policy.
func (c Config) RetryPolicy() tracker.RetryPolicy {
	r := c.Tracker.Retry
	p := tracker.DefaultRetryPolicy()
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	if r.InitialBackoff > 0 {
		p.InitialBackoff = r.InitialBackoff
	}
	if r.MaxBackoff > 0 {
		p.MaxBackoff = r.MaxBackoff
	}
	if r.Multiplier > 0 {
		p.Multiplier = r.Multiplier
	}
	return p
}

// Rules builds the transition table. A config without a transitions
// section gets the stock table; a bad override is a startup error, not
// a fallback.
func (c Config) Rules() (*workflow.Rules, error) {
	if len(c.Workflow.Transitions) == 0 {
		return workflow.DefaultRules(), nil
	}
	table := make(map[workflow.State]workflow.Rule, len(c.Workflow.Transitions))
	for name, row := range c.Workflow.Transitions {
		from, err := workflow.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("workflow.transitions: %w", err)
		}
		next := make([]workflow.State, 0, len(row.Next))
		for _, n := range row.Next {
			to, err := workflow.Parse(n)
			if err != nil {
				return nil, fmt.Errorf("workflow.transitions[%s]: %w", name, err)
			}
			next = append(next, to)
		}
		table[from] = workflow.Rule{Next: next, MaxWait: row.MaxWait}
	}
	return workflow.NewRules(table)
}

// StatusTable builds the native-status mapping, stock when the section
// is empty.
func (c Config) StatusTable() (*mapper.StatusTable, error) {
	if len(c.Workflow.Statuses) == 0 {
		return mapper.DefaultStatusTable(), nil
	}
	mapping := make(map[string]workflow.State, len(c.Workflow.Statuses))
	for native, name := range c.Workflow.Statuses {
		s, err := workflow.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("workflow.statuses[%s]: %w", native, err)
		}
		mapping[native] = s
	}
	return mapper.NewStatusTable(mapping)
}
