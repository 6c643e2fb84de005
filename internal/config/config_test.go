package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAndValidateDefaults(t *testing.T) {
	path := writeConfig(t, `
[airports]
airports_db_path = "data/airports.csv"

[briefing]
provider = "none"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.RateLimit.Calls)
	assert.Equal(t, 300, cfg.RateLimit.PeriodSeconds)
	assert.Equal(t, []string{"127.0.0.0/8", "::1/128", "10.0.0.0/8"}, cfg.RateLimit.ExemptCIDRs)
	assert.Equal(t, 50.0, cfg.Fallback.RadiusNM)
	assert.Equal(t, 10, cfg.Fallback.CandidateLimit)
	assert.Equal(t, 30, cfg.Cache.DefaultTTLMinutes)
	assert.Equal(t, 2.0, cfg.Briefing.SameAirportNM)
	assert.Equal(t, 60, cfg.Maintenance.SweepIntervalMinutes)
	assert.Equal(t, 90, cfg.Maintenance.LogRetentionDays)
	assert.Equal(t, 10, cfg.Weather.RequestTimeoutSeconds)
	assert.Equal(t, "sqlite", cfg.Storage.CacheBackend)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "[server]\nport = 70000\n[airports]\nairports_db_path = \"a.csv\""},
		{"bad provider", "[briefing]\nprovider = \"claude\"\n[airports]\nairports_db_path = \"a.csv\""},
		{"bad cidr", "[rate_limit]\nexempt_cidrs = [\"nope\"]\n[airports]\nairports_db_path = \"a.csv\""},
		{"redis without url", "[storage]\ncache_backend = \"redis\"\n[airports]\nairports_db_path = \"a.csv\""},
		{"missing airports", "[briefing]\nprovider = \"none\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("REDIS_URL", "")
			cfg, err := Load(writeConfig(t, tt.body))
			require.NoError(t, err)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := Load(writeConfig(t, "[briefing]\nprovider = \"gemini\"\n[airports]\nairports_db_path = \"a.csv\""))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "g-key", cfg.Briefing.APIKey)
	assert.Equal(t, "redis://cache:6379/1", cfg.Storage.RedisURL)
	assert.Equal(t, "gemini-2.5-flash", cfg.Briefing.Model)
}

func TestLoadWithFallbackMissing(t *testing.T) {
	_, err := LoadWithFallback(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
