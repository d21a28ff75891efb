package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for worklog-engine.
// Configuration can come from YAML file (config.yaml) or environment
// variables; environment variables override YAML values. Secrets (API keys,
// database password) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	Database   DatabaseConfig   `yaml:"database"`
	Syncro     SyncroConfig     `yaml:"syncro"`
	LLM        LLMConfig        `yaml:"llm"`
	Processing ProcessingConfig `yaml:"processing"`
	Roster     RosterConfig     `yaml:"roster"`
	Ingest     IngestConfig     `yaml:"ingest"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"worklog"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"worklog_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// SyncroConfig holds Syncro API access for roster fetches.
type SyncroConfig struct {
	BaseURL string `yaml:"base_url" env:"SYNCRO_BASE_URL" env-default:""`
	APIKey  string `yaml:"-" env:"SYNCRO_API_KEY"` // Secret - not in YAML
	// PageSize is the per-page record count for paginated roster fetches.
	PageSize int `yaml:"page_size" env:"SYNCRO_PAGE_SIZE" env-default:"100"`
}

// LLMConfig selects and configures the disambiguation/summarization model.
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	// TimeoutSeconds bounds every LLM call; on timeout the caller treats the
	// tier as failed rather than retrying indefinitely.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"30"`
}

// Timeout returns the configured call timeout as a duration.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ProcessingConfig holds the consolidation and linking thresholds.
type ProcessingConfig struct {
	// SegmentMergeGapMinutes is the maximum pause between segments of one
	// session (stage 1).
	SegmentMergeGapMinutes int `yaml:"segment_merge_gap_minutes" env:"SEGMENT_MERGE_GAP_MINUTES" env-default:"30"`
	// WorkItemMergeGapMinutes is the maximum pause between sessions of one
	// work item (stage 2).
	WorkItemMergeGapMinutes int `yaml:"work_item_merge_gap_minutes" env:"WORK_ITEM_MERGE_GAP_MINUTES" env-default:"45"`
	// FuzzyMatchThreshold (0-100) is the minimum score for fuzzy
	// auto-resolution.
	FuzzyMatchThreshold int `yaml:"fuzzy_match_threshold" env:"FUZZY_MATCH_THRESHOLD" env-default:"95"`
	// FuzzyMatchMargin is how far the top candidate's score must exceed the
	// runner-up's before auto-resolving; near-ties go to the LLM arbiter.
	FuzzyMatchMargin int `yaml:"fuzzy_match_margin" env:"FUZZY_MATCH_MARGIN" env-default:"10"`
}

func (c *ProcessingConfig) SegmentMergeGap() time.Duration {
	return time.Duration(c.SegmentMergeGapMinutes) * time.Minute
}

func (c *ProcessingConfig) WorkItemMergeGap() time.Duration {
	return time.Duration(c.WorkItemMergeGapMinutes) * time.Minute
}

// Roster cache policies.
const (
	CachePolicyOnEachRun   = "on_each_run"
	CachePolicyIfOlderThan = "if_older_than_hours"
	CachePolicyManualOnly  = "manual_only"
)

// RosterConfig controls roster snapshot freshness.
type RosterConfig struct {
	// CachePolicy is one of "on_each_run", "if_older_than_hours",
	// "manual_only".
	CachePolicy string `yaml:"cache_policy" env:"ROSTER_CACHE_POLICY" env-default:"if_older_than_hours"`
	ExpiryHours int    `yaml:"expiry_hours" env:"ROSTER_EXPIRY_HOURS" env-default:"24"`
	// ExportPath, when set, writes a YAML copy of each refreshed snapshot
	// for offline inspection.
	ExportPath string `yaml:"export_path" env:"ROSTER_EXPORT_PATH" env-default:""`
}

// Expiry returns the snapshot expiry as a duration.
func (c *RosterConfig) Expiry() time.Duration {
	return time.Duration(c.ExpiryHours) * time.Hour
}

// IngestConfig points the batch readers at their source directories.
type IngestConfig struct {
	ScreenConnectDir string `yaml:"screenconnect_dir" env:"INGEST_SCREENCONNECT_DIR" env-default:"data/screenconnect"`
	NotesDir         string `yaml:"notes_dir" env:"INGEST_NOTES_DIR" env-default:"data/notes"`
	// StateDir holds per-file ingest state so unchanged inputs are skipped.
	StateDir string `yaml:"state_dir" env:"INGEST_STATE_DIR" env-default:"data/state"`
}

// Load reads configuration from the given YAML file with environment
// variable overrides. The version parameter is injected at build time.
func Load(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Processing.FuzzyMatchThreshold < 0 || c.Processing.FuzzyMatchThreshold > 100 {
		return fmt.Errorf("fuzzy_match_threshold must be 0-100, got %d", c.Processing.FuzzyMatchThreshold)
	}
	if c.Processing.SegmentMergeGapMinutes <= 0 || c.Processing.WorkItemMergeGapMinutes <= 0 {
		return fmt.Errorf("merge gaps must be positive")
	}
	switch c.Roster.CachePolicy {
	case CachePolicyOnEachRun, CachePolicyIfOlderThan, CachePolicyManualOnly:
	default:
		return fmt.Errorf("unknown roster cache_policy %q", c.Roster.CachePolicy)
	}
	return nil
}
