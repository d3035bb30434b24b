// Package config loads the engine configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type StoreConfig struct {
	// Path to the SQLite database file.
	Path string `toml:"path"`
}

type ReasoningConfig struct {
	// APIKey falls back to the ANTHROPIC_API_KEY environment variable.
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

type EngineConfig struct {
	// AllMatches applies every matching rule instead of only the best one.
	AllMatches bool `toml:"all_matches"`
	// DryRun reports actions without executing them.
	DryRun bool `toml:"dry_run"`
	// RequestsPerSecond paces provider API calls. Zero disables pacing.
	RequestsPerSecond int `toml:"requests_per_second"`
	// BatchWidth bounds concurrent provider calls in bulk operations.
	BatchWidth int `toml:"batch_width"`
	// BulkLimit caps threads touched by one bulk action.
	BulkLimit int `toml:"bulk_limit"`
}

type SchedulerConfig struct {
	// PollInterval between queue drains, e.g. "30s".
	PollInterval duration `toml:"poll_interval"`
}

type GmailConfig struct {
	CredentialsFile string `toml:"credentials_file"`
	TokenFile       string `toml:"token_file"`
}

type IMAPConfig struct {
	Server   string `toml:"server"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`

	SMTPServer string `toml:"smtp_server"`
	SMTPPort   int    `toml:"smtp_port"`
}

// AccountConfig describes one mail account the engine runs against.
// Provider is "gmail" or "imap"; the matching section must be present.
type AccountConfig struct {
	ID       string      `toml:"id"`
	Provider string      `toml:"provider"`
	Gmail    GmailConfig `toml:"gmail"`
	IMAP     IMAPConfig  `toml:"imap"`
}

type MetricsConfig struct {
	// Addr exposes /metrics when non-empty, e.g. ":9090".
	Addr string `toml:"addr"`
}

type Config struct {
	Store     StoreConfig     `toml:"store"`
	Reasoning ReasoningConfig `toml:"reasoning"`
	Engine    EngineConfig    `toml:"engine"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Accounts  []AccountConfig `toml:"accounts"`
}

// Load reads the configuration file, applying defaults before decode and
// validating after.
func Load(path string) (*Config, error) {
	var cfg Config
	cfg.Store.Path = "inboxflow.db"
	cfg.Engine.RequestsPerSecond = 5
	cfg.Engine.BatchWidth = 10
	cfg.Engine.BulkLimit = 500
	cfg.Scheduler.PollInterval = duration{30 * time.Second}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	if cfg.Reasoning.APIKey == "" {
		cfg.Reasoning.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for i, acct := range c.Accounts {
		if strings.TrimSpace(acct.ID) == "" {
			return fmt.Errorf("account %d: id is required", i)
		}
		if seen[acct.ID] {
			return fmt.Errorf("account %q configured twice", acct.ID)
		}
		seen[acct.ID] = true

		switch acct.Provider {
		case "gmail":
			if acct.Gmail.CredentialsFile == "" {
				return fmt.Errorf("account %q: gmail.credentials_file is required", acct.ID)
			}
		case "imap":
			if acct.IMAP.Server == "" || acct.IMAP.Username == "" {
				return fmt.Errorf("account %q: imap.server and imap.username are required", acct.ID)
			}
		default:
			return fmt.Errorf("account %q: unknown provider %q", acct.ID, acct.Provider)
		}
	}
	return nil
}

// Account finds an account section by id.
func (c *Config) Account(id string) (AccountConfig, error) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return AccountConfig{}, fmt.Errorf("account %q not configured", id)
}

// PollInterval returns the scheduler interval with the default applied.
func (c *Config) PollInterval() time.Duration {
	if c.Scheduler.PollInterval.Duration <= 0 {
		return 30 * time.Second
	}
	return c.Scheduler.PollInterval.Duration
}

// duration lets TOML carry intervals as "30s" strings.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}
