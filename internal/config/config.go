package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full tool configuration, readable from a YAML file with
// environment-variable overrides. Every field can also be overridden by a
// CLI flag; flags win over file and environment.
type Config struct {
	API    APIConfig    `yaml:"api"`
	Policy PolicyConfig `yaml:"policy"`
	Run    RunConfig    `yaml:"run"`
	Audit  AuditConfig  `yaml:"audit"`
}

// APIConfig describes the RustDesk Server Pro connection.
type APIConfig struct {
	URL      string `yaml:"url" env:"RUSTDESK_API_URL"`
	Token    string `yaml:"token" env:"RUSTDESK_API_TOKEN"`
	PageSize int    `yaml:"page_size" env:"RUSTDESK_PAGE_SIZE"`

	// TimeoutSeconds is the total per-call timeout.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"RUSTDESK_TIMEOUT_SECONDS"`
	MaxRetries     int `yaml:"max_retries" env:"RUSTDESK_MAX_RETRIES"`
}

// PolicyConfig holds the default eligibility rules; CLI flags override them
// per invocation.
type PolicyConfig struct {
	// OfflineDays is the staleness threshold in days; 0 disables the rule.
	OfflineDays int `yaml:"offline_days" env:"CLEANER_OFFLINE_DAYS"`

	// NoGroup targets devices without a device group.
	NoGroup bool `yaml:"no_group" env:"CLEANER_NO_GROUP"`
}

// RunConfig holds execution-mode defaults.
type RunConfig struct {
	// DryRun defaults to simulation; a live run needs an explicit override.
	DryRun      bool   `yaml:"dry_run" env:"CLEANER_DRY_RUN"`
	AutoConfirm bool   `yaml:"auto_confirm" env:"CLEANER_AUTO_CONFIRM"`
	OnlyDisable bool   `yaml:"only_disable" env:"CLEANER_ONLY_DISABLE"`
	Workers     int    `yaml:"workers" env:"CLEANER_WORKERS"`
	LogFile     string `yaml:"log_file" env:"CLEANER_LOG_FILE"`
}

// AuditConfig controls the local run-history database. The history records
// what the tool did, never what the server holds; device state is always
// re-read from the server.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" env:"CLEANER_AUDIT_ENABLED"`
	Path    string `yaml:"path" env:"CLEANER_AUDIT_DB"`
}

// defaults returns the baseline configuration. Defaults are set on the
// struct rather than in tags so an explicit false in the file sticks.
func defaults() Config {
	return Config{
		API: APIConfig{
			PageSize:       100,
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		Policy: PolicyConfig{
			NoGroup: true,
		},
		Run: RunConfig{
			DryRun:  true,
			Workers: 1,
			LogFile: "rustdesk_cleanup.log",
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    "rustdesk_cleaner.db",
		},
	}
}

// Load reads configuration from the given YAML file plus the environment.
// An empty path reads the environment only; a missing explicit file is an
// error.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read environment: %w", err)
		}
		return &cfg, nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return &cfg, nil
}
