// Package config holds the typed configuration for each command and the
// YAML file loader. Precedence is fixed: built-in defaults, overridden by
// the config file, overridden by flags the user actually set. The CLI layer
// applies the flag overrides since only it knows which flags changed.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Monitor configures the polling/publishing side.
type Monitor struct {
	Path                 string   `yaml:"path"`
	Repositories         []string `yaml:"repositories"`
	RedisURL             string   `yaml:"redis_url"`
	Stream               string   `yaml:"stream"`
	DryRun               bool     `yaml:"dry_run"`
	UpdatedSince         string   `yaml:"updated_since"`
	MonitorIssues        bool     `yaml:"monitor_issues"`
	MonitorIssueComments bool     `yaml:"monitor_issue_comments"`
	MonitorPRComments    bool     `yaml:"monitor_pr_comments"`
	ActiveOnly           bool     `yaml:"active_only"`
	Interval             string   `yaml:"interval"`
}

// Handler configures the consuming/dispatching side.
type Handler struct {
	Path             string `yaml:"path"`
	TemplatesDir     string `yaml:"templates_dir"`
	RedisURL         string `yaml:"redis_url"`
	Stream           string `yaml:"stream"`
	ConsumerGroup    string `yaml:"consumer_group"`
	BatchSize        int    `yaml:"batch_size"`
	FetchTimeout     string `yaml:"fetch_timeout"`
	AckWait          string `yaml:"ack_wait"`
	MaxConcurrent    int    `yaml:"max_concurrent"`
	MaxAttempts      int    `yaml:"max_attempts"`
	SkipUsers        string `yaml:"skip_users"`
	Repositories     string `yaml:"repositories"`
	RecreateConsumer bool   `yaml:"recreate_consumer"`
	ClaudeVerbose    bool   `yaml:"claude_verbose"`
	AutoConfirm      bool   `yaml:"auto_confirm"`
}

// DefaultMonitor returns the monitor defaults.
func DefaultMonitor() Monitor {
	return Monitor{
		RedisURL:             "redis://localhost:6379",
		Stream:               "github_events",
		MonitorIssues:        true,
		MonitorIssueComments: true,
		MonitorPRComments:    true,
		ActiveOnly:           true,
	}
}

// DefaultHandler returns the event-handler defaults. The five minute ack
// wait tolerates slow template-driven claude invocations before a message is
// considered abandoned and reclaimed.
func DefaultHandler() Handler {
	return Handler{
		RedisURL:      "redis://localhost:6379",
		Stream:        "github_events",
		ConsumerGroup: "github-event-handler",
		BatchSize:     10,
		FetchTimeout:  "5s",
		AckWait:       "5m",
		MaxConcurrent: 5,
		MaxAttempts:   3,
	}
}

// Load reads a YAML config file into out. A missing file, unreadable
// content, or a non-mapping document is an error; callers treat it as fatal
// at startup.
func Load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}
