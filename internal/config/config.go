package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models caseflow.yml: the declared policy tables for validation
// request types, item categories, the business-day calendar and scheduler
// tuning. Policy is data, not code; a missing policy is a startup failure,
// never a per-candidate one.
type Config struct {
	Requests struct {
		Types map[string]RequestTypePolicy `yaml:"types"`
	} `yaml:"requests"`
	Categories map[string]CategoryPolicy `yaml:"categories"`
	Calendar   struct {
		Holidays []string `yaml:"holidays"`
	} `yaml:"calendar"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// RequestTypePolicy declares how one validation request type behaves.
type RequestTypePolicy struct {
	// CloseWindowDays is the response window in business days. Zero means
	// the type is never auto-closed.
	CloseWindowDays int `yaml:"close_window_days"`
	// AutoApprove marks types that are treated as approved when they time
	// out. Types without it close without asserting approval.
	AutoApprove bool `yaml:"auto_approve"`
}

// AutoClose reports whether the scheduler may close this type on timeout.
func (p RequestTypePolicy) AutoClose() bool { return p.CloseWindowDays > 0 }

// CategoryPolicy tunes the status resolver per item category.
type CategoryPolicy struct {
	OptionalWhenEmpty bool   `yaml:"optional_when_empty"`
	CompletionLabel   string `yaml:"completion_label"` // complete or checked
}

type SchedulerConfig struct {
	IntervalSeconds         int `yaml:"interval_seconds"`
	Workers                 int `yaml:"workers"`
	LockWaitMillis          int `yaml:"lock_wait_millis"`
	NotifyMaxElapsedSeconds int `yaml:"notify_max_elapsed_seconds"`
}

func (s SchedulerConfig) Interval() time.Duration {
	if s.IntervalSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (s SchedulerConfig) LockWait() time.Duration {
	if s.LockWaitMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(s.LockWaitMillis) * time.Millisecond
}

func (s SchedulerConfig) NotifyMaxElapsed() time.Duration {
	if s.NotifyMaxElapsedSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.NotifyMaxElapsedSeconds) * time.Second
}

type NotifyConfig struct {
	// WebhookURL is the notification gateway endpoint. Empty means log-only
	// dispatch, which is what tests and local workspaces use.
	WebhookURL     string `yaml:"webhook_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (n NotifyConfig) Timeout() time.Duration {
	if n.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with cfl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the policy tables are complete. Errors here are
// configuration errors: the process should refuse to start rather than fail
// per candidate at runtime.
func (c *Config) Validate() error {
	if len(c.Requests.Types) == 0 {
		return fmt.Errorf("config.requests.types is required")
	}
	for name, p := range c.Requests.Types {
		if name == "" {
			return fmt.Errorf("config.requests.types contains empty type name")
		}
		if p.CloseWindowDays < 0 {
			return fmt.Errorf("request type %s has negative close_window_days", name)
		}
		if p.AutoApprove && !p.AutoClose() {
			return fmt.Errorf("request type %s sets auto_approve without a close window", name)
		}
	}
	for name, p := range c.Categories {
		if name == "" {
			return fmt.Errorf("config.categories contains empty category name")
		}
		switch p.CompletionLabel {
		case "", "complete", "checked":
		default:
			return fmt.Errorf("category %s has invalid completion_label %q", name, p.CompletionLabel)
		}
	}
	for _, h := range c.Calendar.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("invalid calendar holiday %q", h)
		}
	}
	return nil
}

// RequestType returns the policy for a request type.
func (c *Config) RequestType(name string) (RequestTypePolicy, bool) {
	p, ok := c.Requests.Types[name]
	return p, ok
}

// CloseWindows returns the per-type close-window table for types that
// auto-close, keyed by request type.
func (c *Config) CloseWindows() map[string]int {
	out := map[string]int{}
	for name, p := range c.Requests.Types {
		if p.AutoClose() {
			out[name] = p.CloseWindowDays
		}
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `requests:
  types:
    description_change:
      close_window_days: 5
      auto_approve: true
    red_line_boundary_change:
      close_window_days: 5
    heads_of_terms:
      close_window_days: 5
    pre_commencement_condition:
      close_window_days: 10
    additional_document: {}
    fee_change: {}
    ownership_certificate: {}
    other: {}

categories:
  assessment_narrative:
    completion_label: complete
  assessment_summary:
    completion_label: complete
  permitted_development_rights:
    completion_label: checked
  consultation_summary:
    optional_when_empty: true
    completion_label: complete
  site_description:
    completion_label: checked

calendar:
  holidays: []

scheduler:
  interval_seconds: 3600
  workers: 4
  lock_wait_millis: 2000
  notify_max_elapsed_seconds: 30

notify:
  webhook_url: ""
  timeout_seconds: 30
`
