package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortex-attention/internal/attention"
	"github.com/normanking/cortex-attention/internal/chat"
	"github.com/normanking/cortex-attention/internal/coordinator"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"simulated"}, cfg.EnabledSources())

	att, err := cfg.ToAttention()
	require.NoError(t, err)
	assert.Equal(t, attention.DefaultConfig().Profiles, att.Profiles)
	assert.Equal(t, attention.DefaultConfig().Transitions, att.Transitions)
	assert.Equal(t, 5*time.Minute, att.QuietPeriod)
}

func TestLoadFromPath_CreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	assert.Equal(t, "cortex", cfg.Persona.Name)
	assert.Equal(t, 10000, cfg.Queue.Capacity)
	assert.Equal(t, "medium", cfg.Attention.Profiles["focused"].MinLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromPath_PartialFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte(`
persona:
  name: nova
  stream_topic: [minecraft, speedrun]
queue:
  capacity: 500
attention:
  profiles:
    deep:
      share: 0.2
      response_rate: 0.05
      batch_size: 1
      interrupt_threshold: 0.95
      base_duration: 15m
      min_level: critical
coordinator:
  backoff_base: 2s
sources:
  simulated:
    enabled: false
  twitch:
    enabled: true
    nick: NovaBot
    token: abc123
    channels: [nova]
responder:
  mode: ollama
  ollama:
    model: qwen2.5
`)
	require.NoError(t, os.WriteFile(path, yaml, 0644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "nova", cfg.Persona.Name)
	assert.Equal(t, 500, cfg.Queue.Capacity)
	assert.Equal(t, queueEpsilon(t), cfg.Queue.Epsilon)
	assert.Equal(t, []string{"twitch"}, cfg.EnabledSources())
	assert.Equal(t, "NovaBot", cfg.Sources.Twitch.Nick)
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Responder.Ollama.URL)

	att, err := cfg.ToAttention()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, att.Profiles[attention.StateDeep].BaseDuration)
	assert.Equal(t, chat.LevelCritical, att.Profiles[attention.StateDeep].MinLevel)
	assert.Equal(t, 5*time.Minute, att.Profiles[attention.StateFocused].BaseDuration)

	var opts coordinator.Options
	require.NoError(t, cfg.ApplyCoordinator(&opts))
	assert.Equal(t, 2*time.Second, opts.BackoffBase)
	assert.Equal(t, 5, opts.MaxAttempts)

	assert.Equal(t, []string{"minecraft", "speedrun"}, cfg.ToActivity().StreamTopic)
	oc, err := cfg.ToOllama()
	require.NoError(t, err)
	assert.Equal(t, "nova", oc.Persona)
}

func queueEpsilon(t *testing.T) float64 {
	t.Helper()
	return Default().Queue.Epsilon
}

func TestLoadFromPath_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("CORTEX_ATTENTION_SOURCES_DISCORD_TOKEN", "from-env")
	t.Setenv("CORTEX_ATTENTION_LOGGING_LEVEL", "debug")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Sources.Discord.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	cfg := Default()
	cfg.Persona.Aliases = []string{"cortexbot"}
	cfg.Sinks.SQLite.Enabled = true
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cortexbot"}, loaded.Persona.Aliases)
	assert.True(t, loaded.Sinks.SQLite.Enabled)
	assert.Equal(t, cfg.Attention.Transitions, loaded.Attention.Transitions)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad duration", func(c *Config) { c.Coordinator.ProcessInterval = "soon" }, "coordinator.process_interval"},
		{"weights", func(c *Config) { c.Salience.Weights.Content = 0.9 }, "weights must sum to 1"},
		{"transition row", func(c *Config) { c.Attention.Transitions["deep"]["deep"] = 0.5 }, "transition probabilities"},
		{"unknown state", func(c *Config) { c.Attention.Profiles["napping"] = ProfileConfig{} }, "napping"},
		{"min level", func(c *Config) {
			p := c.Attention.Profiles["casual"]
			p.MinLevel = "urgent"
			c.Attention.Profiles["casual"] = p
		}, "min_level"},
		{"no sources", func(c *Config) { c.Sources.Simulated.Enabled = false }, "at least one source"},
		{"discord token", func(c *Config) { c.Sources.Discord.Enabled = true }, "discord.token"},
		{"responder mode", func(c *Config) { c.Responder.Mode = "gpt" }, "responder.mode"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"cron spec", func(c *Config) { c.Scheduler.QueueMaxAge = "-1m" }, "cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
