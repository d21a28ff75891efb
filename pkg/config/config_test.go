package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "env: local\n")

	cfg, err := Load(path, "1.2.3")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, 30*time.Minute, cfg.Processing.SegmentMergeGap())
	assert.Equal(t, 45*time.Minute, cfg.Processing.WorkItemMergeGap())
	assert.Equal(t, 95, cfg.Processing.FuzzyMatchThreshold)
	assert.Equal(t, 10, cfg.Processing.FuzzyMatchMargin)
	assert.Equal(t, CachePolicyIfOlderThan, cfg.Roster.CachePolicy)
	assert.Equal(t, 24*time.Hour, cfg.Roster.Expiry())
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout())
	assert.Equal(t, "migrations", cfg.Database.MigrationsPath)
}

func TestLoad_YAMLOverrides(t *testing.T) {
	path := writeConfig(t, `
env: production
processing:
  segment_merge_gap_minutes: 15
  fuzzy_match_threshold: 90
roster:
  cache_policy: manual_only
`)

	cfg, err := Load(path, "dev")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, 15*time.Minute, cfg.Processing.SegmentMergeGap())
	assert.Equal(t, 90, cfg.Processing.FuzzyMatchThreshold)
	assert.Equal(t, CachePolicyManualOnly, cfg.Roster.CachePolicy)
}

func TestLoad_SecretsComeFromEnvironment(t *testing.T) {
	t.Setenv("SYNCRO_API_KEY", "secret-key")
	t.Setenv("PGPASSWORD", "db-secret")
	path := writeConfig(t, "env: local\n")

	cfg, err := Load(path, "dev")
	require.NoError(t, err)

	assert.Equal(t, "secret-key", cfg.Syncro.APIKey)
	assert.Contains(t, cfg.Database.ConnectionString(), "password=db-secret")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "threshold out of range",
			yaml: "processing:\n  fuzzy_match_threshold: 150\n",
		},
		{
			name: "negative gap",
			yaml: "processing:\n  segment_merge_gap_minutes: -5\n",
		},
		{
			name: "unknown cache policy",
			yaml: "roster:\n  cache_policy: sometimes\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml), "dev")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "dev")
	assert.Error(t, err)
}
