// Package config provides YAML-based configuration loading for Switchyard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchyard configuration, loaded from config.yaml.
type Config struct {
	Title      string            `yaml:"title"`
	Master     MasterConfig      `yaml:"master"`
	Database   DatabaseConfig    `yaml:"database"`
	Dashboard  DashboardConfig   `yaml:"dashboard"`
	Builders   []BuilderConfig   `yaml:"builders"`
	Schedulers []SchedulerConfig `yaml:"schedulers"`
	Sources    []SourceConfig    `yaml:"sources"`
	Reporters  []ReporterConfig  `yaml:"reporters"`
}

// MasterConfig identifies this master process.
type MasterConfig struct {
	Name              string `yaml:"name"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_sec"`
}

// DatabaseConfig holds connection settings for the MySQL server.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DashboardConfig holds the status API settings.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// BuilderConfig declares one builder known to the cluster.
type BuilderConfig struct {
	Name string   `yaml:"name"`
	Tags []string `yaml:"tags"`
}

// SchedulerConfig defines one scheduler.
type SchedulerConfig struct {
	Name            string                 `yaml:"name"`
	Builders        []string               `yaml:"builders"`
	Codebases       CodebasesValue         `yaml:"codebases"`
	Properties      map[string]interface{} `yaml:"properties"`
	Filter          *FilterConfig          `yaml:"filter"`
	OnlyImportant   bool                   `yaml:"only_important"`
	PollIntervalSec int                    `yaml:"poll_interval_sec"`
	Priority        int                    `yaml:"priority"`
}

// PollInterval returns the activation poll interval, or 0 for the default.
func (s *SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSec) * time.Second
}

// FilterConfig selects which changes a scheduler acts on.
type FilterConfig struct {
	Project    []string `yaml:"project"`
	Repository []string `yaml:"repository"`
	Branch     []string `yaml:"branch"`
	Category   []string `yaml:"category"`
	Codebase   []string `yaml:"codebase"`
}

// CodebaseConfig holds the default sourcestamp fields of one codebase.
type CodebaseConfig struct {
	Repository string  `yaml:"repository"`
	Branch     *string `yaml:"branch"`
	Revision   *string `yaml:"revision"`
	Project    string  `yaml:"project"`
}

// CodebasesValue accepts either a list of codebase names or a mapping of
// name to codebase fields.
type CodebasesValue struct {
	Names  []string
	Byname map[string]CodebaseConfig
}

// UnmarshalYAML implements the list-or-map form.
func (v *CodebasesValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		return node.Decode(&v.Names)
	case yaml.MappingNode:
		return node.Decode(&v.Byname)
	default:
		return fmt.Errorf("codebases must be a list of names or a mapping")
	}
}

// IsZero reports whether no codebases were configured.
func (v *CodebasesValue) IsZero() bool {
	return len(v.Names) == 0 && len(v.Byname) == 0
}

// SourceConfig defines one change source.
type SourceConfig struct {
	Type            string `yaml:"type"` // currently "github"
	Owner           string `yaml:"owner"`
	Repo            string `yaml:"repo"`
	Branch          string `yaml:"branch"`
	Token           string `yaml:"token"`
	TokenEnv        string `yaml:"token_env"`
	Category        string `yaml:"category"`
	Codebase        string `yaml:"codebase"`
	Project         string `yaml:"project"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
	Cron            string `yaml:"cron"`
}

// ResolveToken returns the configured token, reading it from the named
// environment variable when token_env is set.
func (s *SourceConfig) ResolveToken() string {
	if s.TokenEnv != "" {
		return os.Getenv(s.TokenEnv)
	}
	return s.Token
}

// ReporterConfig defines one report generator and its delivery targets.
type ReporterConfig struct {
	Mode       interface{}    `yaml:"mode"`
	Tags       []string       `yaml:"tags"`
	Builders   []string       `yaml:"builders"`
	Schedulers []string       `yaml:"schedulers"`
	Branches   []string       `yaml:"branches"`
	Subject    string         `yaml:"subject"`
	AddPatch   bool           `yaml:"add_patch"`
	Format     string         `yaml:"format"` // plain, html, or json
	Template   string         `yaml:"template"`
	Slack      *SlackConfig   `yaml:"slack"`
	Discord    *DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack delivery settings.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// DiscordConfig holds Discord delivery settings.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Title == "" {
		c.Title = "Switchyard"
	}
	if c.Master.Name == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "master"
		}
		c.Master.Name = host
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "switchyard"
	}
	if c.Database.Database == "" {
		c.Database.Database = "switchyard"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8010
	}
	for i := range c.Sources {
		if c.Sources[i].Branch == "" {
			c.Sources[i].Branch = "main"
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if len(c.Schedulers) == 0 {
		errs = append(errs, "at least one scheduler is required")
	}

	seen := make(map[string]bool)
	for i, s := range c.Schedulers {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("schedulers[%d].name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("duplicate scheduler name %q", s.Name))
		} else {
			seen[s.Name] = true
		}
		if len(s.Builders) == 0 {
			errs = append(errs, fmt.Sprintf("schedulers[%d].builders is required", i))
		}
	}

	for i, src := range c.Sources {
		if src.Type != "github" {
			errs = append(errs, fmt.Sprintf("sources[%d].type must be \"github\"", i))
		}
		if src.Owner == "" || src.Repo == "" {
			errs = append(errs, fmt.Sprintf("sources[%d] requires owner and repo", i))
		}
	}

	for i, r := range c.Reporters {
		if r.Tags != nil && r.Builders != nil {
			errs = append(errs, fmt.Sprintf("reporters[%d]: specify builders or tags, not both", i))
		}
		switch r.Format {
		case "", "plain", "html", "json":
		default:
			errs = append(errs, fmt.Sprintf("reporters[%d].format must be plain, html, or json", i))
		}
		if r.Slack == nil && r.Discord == nil {
			errs = append(errs, fmt.Sprintf("reporters[%d] requires a slack or discord target", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
