// Package config loads the YAML configuration file, applies environment
// overrides and converts each section into the options its package expects.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/normanking/cortex-attention/internal/channel/discord"
	"github.com/normanking/cortex-attention/internal/channel/simulated"
	"github.com/normanking/cortex-attention/internal/channel/slack"
	"github.com/normanking/cortex-attention/internal/channel/twitch"
	"github.com/normanking/cortex-attention/internal/channel/webchat"
	"github.com/normanking/cortex-attention/internal/logging"
	"github.com/normanking/cortex-attention/internal/salience"
	"github.com/normanking/cortex-attention/internal/sink"
)

// EnvPrefix prefixes every environment override, e.g.
// CORTEX_ATTENTION_SOURCES_TWITCH_TOKEN.
const EnvPrefix = "CORTEX_ATTENTION"

// Config is the complete runtime configuration.
// It is loaded from ~/.cortex-attention/config.yaml and can be overridden by environment variables.
type Config struct {
	Persona     PersonaConfig     `mapstructure:"persona" yaml:"persona"`
	Queue       QueueConfig       `mapstructure:"queue" yaml:"queue"`
	Attention   AttentionConfig   `mapstructure:"attention" yaml:"attention"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`
	Salience    SalienceConfig    `mapstructure:"salience" yaml:"salience"`
	Sources     SourcesConfig     `mapstructure:"sources" yaml:"sources"`
	Sinks       SinksConfig       `mapstructure:"sinks" yaml:"sinks"`
	Responder   ResponderConfig   `mapstructure:"responder" yaml:"responder"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler" yaml:"scheduler"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Logging     logging.Config    `mapstructure:"logging" yaml:"logging"`
}

// PersonaConfig names the persona being addressed in chat.
type PersonaConfig struct {
	Name    string   `mapstructure:"name" yaml:"name"`
	Aliases []string `mapstructure:"aliases" yaml:"aliases"`
	// StreamTopic seeds the relevance rule with what the stream is about.
	StreamTopic []string `mapstructure:"stream_topic" yaml:"stream_topic"`
}

// QueueConfig sizes the priority queue.
type QueueConfig struct {
	Capacity int     `mapstructure:"capacity" yaml:"capacity"`
	Epsilon  float64 `mapstructure:"epsilon" yaml:"epsilon"`
}

// ProfileConfig is one attention state's behavior.
type ProfileConfig struct {
	Share              float64 `mapstructure:"share" yaml:"share"`
	ResponseRate       float64 `mapstructure:"response_rate" yaml:"response_rate"`
	BatchSize          int     `mapstructure:"batch_size" yaml:"batch_size"`
	InterruptThreshold float64 `mapstructure:"interrupt_threshold" yaml:"interrupt_threshold"`
	BaseDuration       string  `mapstructure:"base_duration" yaml:"base_duration"`
	MinLevel           string  `mapstructure:"min_level" yaml:"min_level"`
	Action             string  `mapstructure:"action" yaml:"action"`
}

// AttentionConfig holds the state profiles, transition matrix and interrupt
// thresholds.
type AttentionConfig struct {
	Profiles          map[string]ProfileConfig      `mapstructure:"profiles" yaml:"profiles"`
	Transitions       map[string]map[string]float64 `mapstructure:"transitions" yaml:"transitions"`
	RateJitter        float64                       `mapstructure:"rate_jitter" yaml:"rate_jitter"`
	DurationJitter    float64                       `mapstructure:"duration_jitter" yaml:"duration_jitter"`
	HighRunLength     int                           `mapstructure:"high_run_length" yaml:"high_run_length"`
	VelocityThreshold int                           `mapstructure:"velocity_threshold" yaml:"velocity_threshold"`
	QuietPeriod       string                        `mapstructure:"quiet_period" yaml:"quiet_period"`
	HistorySize       int                           `mapstructure:"history_size" yaml:"history_size"`
	TickInterval      string                        `mapstructure:"tick_interval" yaml:"tick_interval"`
	InterruptMemory   string                        `mapstructure:"interrupt_memory" yaml:"interrupt_memory"`
	// Seed fixes the random source for reproducible runs. 0 seeds from the clock.
	Seed uint64 `mapstructure:"seed" yaml:"seed"`
}

// CoordinatorConfig holds the pipeline intervals and connection policy.
type CoordinatorConfig struct {
	ProcessInterval string `mapstructure:"process_interval" yaml:"process_interval"`
	ContextInterval string `mapstructure:"context_interval" yaml:"context_interval"`
	BackoffBase     string `mapstructure:"backoff_base" yaml:"backoff_base"`
	MaxAttempts     int    `mapstructure:"max_attempts" yaml:"max_attempts"`
	ConnectTimeout  string `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	SendTimeout     string `mapstructure:"send_timeout" yaml:"send_timeout"`
	ResponseTimeout string `mapstructure:"response_timeout" yaml:"response_timeout"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SalienceConfig holds the scoring weights and rule sets.
type SalienceConfig struct {
	Weights     salience.Weights `mapstructure:"weights" yaml:"weights"`
	DecayWindow string           `mapstructure:"decay_window" yaml:"decay_window"`
	LongTenure  string           `mapstructure:"long_tenure" yaml:"long_tenure"`
	ShortTenure string           `mapstructure:"short_tenure" yaml:"short_tenure"`
	Rules       salience.Rules   `mapstructure:"rules" yaml:"rules"`
}

// SourcesConfig enables and configures each chat source.
type SourcesConfig struct {
	Discord   DiscordSource   `mapstructure:"discord" yaml:"discord"`
	Telegram  TelegramSource  `mapstructure:"telegram" yaml:"telegram"`
	Twitch    TwitchSource    `mapstructure:"twitch" yaml:"twitch"`
	Slack     SlackSource     `mapstructure:"slack" yaml:"slack"`
	WebChat   WebChatSource   `mapstructure:"webchat" yaml:"webchat"`
	Simulated SimulatedSource `mapstructure:"simulated" yaml:"simulated"`
}

type DiscordSource struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	discord.Config `mapstructure:",squash" yaml:",inline"`
}

type TelegramSource struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Token         string `mapstructure:"token" yaml:"token"`
	PollTimeout   int    `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	AdminCacheTTL string `mapstructure:"admin_cache_ttl" yaml:"admin_cache_ttl"`
}

type TwitchSource struct {
	Enabled       bool `mapstructure:"enabled" yaml:"enabled"`
	twitch.Config `mapstructure:",squash" yaml:",inline"`
}

type SlackSource struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	slack.Config `mapstructure:",squash" yaml:",inline"`
}

type WebChatSource struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	webchat.Config `mapstructure:",squash" yaml:",inline"`
}

type SimulatedSource struct {
	Enabled          bool `mapstructure:"enabled" yaml:"enabled"`
	simulated.Config `mapstructure:",squash" yaml:",inline"`
}

// SinksConfig selects where context snapshots go.
type SinksConfig struct {
	Log    bool       `mapstructure:"log" yaml:"log"`
	Redis  RedisSink  `mapstructure:"redis" yaml:"redis"`
	SQLite SQLiteSink `mapstructure:"sqlite" yaml:"sqlite"`
	Kafka  KafkaSink  `mapstructure:"kafka" yaml:"kafka"`
}

type RedisSink struct {
	Enabled          bool `mapstructure:"enabled" yaml:"enabled"`
	sink.RedisConfig `mapstructure:",squash" yaml:",inline"`
}

type SQLiteSink struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type KafkaSink struct {
	Enabled          bool `mapstructure:"enabled" yaml:"enabled"`
	sink.KafkaConfig `mapstructure:",squash" yaml:",inline"`
}

// ResponderConfig picks the reply generator.
type ResponderConfig struct {
	// Mode is template, ollama or none.
	Mode   string       `mapstructure:"mode" yaml:"mode"`
	Ollama OllamaConfig `mapstructure:"ollama" yaml:"ollama"`
}

type OllamaConfig struct {
	URL           string  `mapstructure:"url" yaml:"url"`
	Model         string  `mapstructure:"model" yaml:"model"`
	Timeout       string  `mapstructure:"timeout" yaml:"timeout"`
	RatePerMinute float64 `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	MaxChars      int     `mapstructure:"max_chars" yaml:"max_chars"`
	// FallbackToTemplate answers from templates when the model errors.
	FallbackToTemplate bool `mapstructure:"fallback_to_template" yaml:"fallback_to_template"`
}

// SchedulerConfig holds the housekeeping cron specs.
type SchedulerConfig struct {
	QueueCleanup string `mapstructure:"queue_cleanup" yaml:"queue_cleanup"`
	QueueMaxAge  string `mapstructure:"queue_max_age" yaml:"queue_max_age"`
	Retention    string `mapstructure:"retention" yaml:"retention"`
	RetentionAge string `mapstructure:"retention_age" yaml:"retention_age"`
	StatsLog     string `mapstructure:"stats_log" yaml:"stats_log"`
}

// ServerConfig configures the operator HTTP API.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// DefaultPath returns ~/.cortex-attention/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cortex-attention", "config.yaml"), nil
}

// Load reads the default config file.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads path, writing a default config there first if it does
// not exist.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}

	// Defaults are read first so a partial file only overrides what it names.
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	v.SetConfigFile(path)

	// Example: CORTEX_ATTENTION_SOURCES_DISCORD_TOKEN
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Sinks.SQLite.Path = expandPath(cfg.Sinks.SQLite.Path)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	return &cfg, nil
}

// Save writes the config to path, creating its directory.
func (c *Config) Save(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// YAML renders the config as it would be saved.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
