package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"DISCORD_TOKEN", "GREETING_MESSAGE", "COMMAND_PREFIX", "BACKGROUND_CYCLE", "GUILD_TIMEOUT",
		"BATTLEMETRICS_URL", "BATTLEMETRICS_TOKEN", "GAME_ID", "STORAGE_BACKEND", "PROPERTIES_FILE",
		"DATABASE_URL", "DATABASE_NAME", "NATS_SERVERS", "OTEL_ENABLED", "OTEL_EXPORTER_TYPE",
		"LOG_LEVEL", "LOG_FORMAT", "ENVIRONMENT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "secret")

	cfg, err := load()

	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.DiscordToken)
	assert.Equal(t, 60, cfg.BackgroundCycle)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval())
	assert.Equal(t, 30*time.Second, cfg.GuildTimeoutDuration())
	assert.Equal(t, "https://api.battlemetrics.com", cfg.BattleMetricsURL)
	assert.Equal(t, "conanexiles", cfg.GameID)
	assert.Equal(t, "/csm", cfg.CommandPrefix)
	assert.Equal(t, StorageBackendFile, cfg.StorageBackend)
	assert.Equal(t, "properties.json", cfg.PropertiesFile)
	assert.Empty(t, cfg.NATSServerList())
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, "development", cfg.Environment)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "secret")
	t.Setenv("BACKGROUND_CYCLE", "15")
	t.Setenv("BATTLEMETRICS_URL", "http://localhost:8080/")
	t.Setenv("STORAGE_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432")
	t.Setenv("DATABASE_NAME", "csmbot")
	t.Setenv("NATS_SERVERS", "nats://a:4222, nats://b:4222,")
	t.Setenv("OTEL_ENABLED", "true")

	cfg, err := load()

	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.ReconcileInterval())
	assert.Equal(t, "http://localhost:8080", cfg.BattleMetricsURL)
	assert.Equal(t, StorageBackendPostgres, cfg.StorageBackend)
	assert.Equal(t, "postgres://u:p@db:5432/csmbot?sslmode=disable", cfg.GetDatabaseURL())
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATSServerList())
	assert.True(t, cfg.OTelEnabled)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing token", env: map[string]string{}},
		{name: "non positive cycle", env: map[string]string{"DISCORD_TOKEN": "x", "BACKGROUND_CYCLE": "0"}},
		{name: "postgres without url", env: map[string]string{"DISCORD_TOKEN": "x", "STORAGE_BACKEND": "postgres"}},
		{name: "unknown backend", env: map[string]string{"DISCORD_TOKEN": "x", "STORAGE_BACKEND": "redis"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedIntegerKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_TOKEN", "x")
	t.Setenv("GUILD_TIMEOUT", "soon")

	cfg, err := load()

	require.NoError(t, err)
	assert.Equal(t, 30, cfg.GuildTimeout)
}

func TestGet_UsesTestConfig(t *testing.T) {
	ResetConfig()
	t.Cleanup(ResetConfig)

	custom := NewTestConfig()
	custom.GameID = "rust"
	SetTestConfig(custom)

	assert.Same(t, custom, Get())
}

func TestStorageBackendFromEnv(t *testing.T) {
	clearEnv(t)
	assert.Equal(t, StorageBackendFile, StorageBackendFromEnv())

	t.Setenv("STORAGE_BACKEND", "POSTGRES")
	assert.Equal(t, StorageBackendPostgres, StorageBackendFromEnv())
}
