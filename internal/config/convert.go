package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/normanking/cortex-attention/internal/activity"
	"github.com/normanking/cortex-attention/internal/attention"
	"github.com/normanking/cortex-attention/internal/channel/telegram"
	"github.com/normanking/cortex-attention/internal/chat"
	"github.com/normanking/cortex-attention/internal/coordinator"
	"github.com/normanking/cortex-attention/internal/logging"
	"github.com/normanking/cortex-attention/internal/queue"
	"github.com/normanking/cortex-attention/internal/responder"
	"github.com/normanking/cortex-attention/internal/salience"
	"github.com/normanking/cortex-attention/internal/scheduler"
)

// Responder modes.
const (
	ResponderTemplate = "template"
	ResponderOllama   = "ollama"
	ResponderNone     = "none"
)

// durations parses a group of duration fields, keeping the first error.
type durations struct {
	section string
	err     error
}

func (d *durations) parse(field, value string) time.Duration {
	if d.err != nil || value == "" {
		return 0
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		d.err = fmt.Errorf("%s.%s: invalid duration %q", d.section, field, value)
		return 0
	}
	if v < 0 {
		d.err = fmt.Errorf("%s.%s: duration cannot be negative", d.section, field)
		return 0
	}
	return v
}

// ToAttention converts the attention section.
func (c *Config) ToAttention() (attention.Config, error) {
	a := c.Attention
	d := durations{section: "attention"}
	out := attention.Config{
		Profiles:          make(map[attention.State]attention.Profile, len(a.Profiles)),
		Transitions:       make(map[attention.State]map[attention.State]float64, len(a.Transitions)),
		RateJitter:        a.RateJitter,
		DurationJitter:    a.DurationJitter,
		HighRunLength:     a.HighRunLength,
		VelocityThreshold: a.VelocityThreshold,
		QuietPeriod:       d.parse("quiet_period", a.QuietPeriod),
		HistorySize:       a.HistorySize,
		TickInterval:      d.parse("tick_interval", a.TickInterval),
		InterruptMemory:   d.parse("interrupt_memory", a.InterruptMemory),
	}

	for name, p := range a.Profiles {
		state, err := attention.ParseState(name)
		if err != nil {
			return attention.Config{}, fmt.Errorf("attention.profiles: %w", err)
		}
		level, err := chat.ParseLevel(p.MinLevel)
		if err != nil {
			return attention.Config{}, fmt.Errorf("attention.profiles.%s.min_level: %w", name, err)
		}
		out.Profiles[state] = attention.Profile{
			Share:              p.Share,
			ResponseRate:       p.ResponseRate,
			BatchSize:          p.BatchSize,
			InterruptThreshold: p.InterruptThreshold,
			BaseDuration:       d.parse("profiles."+name+".base_duration", p.BaseDuration),
			MinLevel:           level,
			Action:             p.Action,
		}
	}
	for from, row := range a.Transitions {
		fs, err := attention.ParseState(from)
		if err != nil {
			return attention.Config{}, fmt.Errorf("attention.transitions: %w", err)
		}
		r := make(map[attention.State]float64, len(row))
		for to, p := range row {
			ts, err := attention.ParseState(to)
			if err != nil {
				return attention.Config{}, fmt.Errorf("attention.transitions.%s: %w", from, err)
			}
			r[ts] = p
		}
		out.Transitions[fs] = r
	}
	if d.err != nil {
		return attention.Config{}, d.err
	}
	if err := out.Validate(); err != nil {
		return attention.Config{}, fmt.Errorf("attention: %w", err)
	}
	return out, nil
}

// ToSalience converts the salience and persona sections.
func (c *Config) ToSalience() (salience.Config, error) {
	d := durations{section: "salience"}
	out := salience.Config{
		PersonaName:    c.Persona.Name,
		PersonaAliases: c.Persona.Aliases,
		Weights:        c.Salience.Weights,
		DecayWindow:    d.parse("decay_window", c.Salience.DecayWindow),
		LongTenure:     d.parse("long_tenure", c.Salience.LongTenure),
		ShortTenure:    d.parse("short_tenure", c.Salience.ShortTenure),
		Rules:          c.Salience.Rules,
	}
	if d.err != nil {
		return salience.Config{}, d.err
	}
	return out, nil
}

// ToQueue converts the queue section.
func (c *Config) ToQueue() queue.Config {
	q := queue.DefaultConfig()
	if c.Queue.Capacity > 0 {
		q.Capacity = c.Queue.Capacity
	}
	if c.Queue.Epsilon >= 0 {
		q.Epsilon = c.Queue.Epsilon
	}
	return q
}

// ToActivity converts the persona's stream topic into tracker options.
func (c *Config) ToActivity() activity.Config {
	a := activity.DefaultConfig()
	a.StreamTopic = c.Persona.StreamTopic
	return a
}

// ApplyCoordinator copies the coordinator section onto opts.
func (c *Config) ApplyCoordinator(opts *coordinator.Options) error {
	cc := c.Coordinator
	d := durations{section: "coordinator"}
	opts.ProcessInterval = d.parse("process_interval", cc.ProcessInterval)
	opts.ContextInterval = d.parse("context_interval", cc.ContextInterval)
	opts.BackoffBase = d.parse("backoff_base", cc.BackoffBase)
	opts.ConnectTimeout = d.parse("connect_timeout", cc.ConnectTimeout)
	opts.SendTimeout = d.parse("send_timeout", cc.SendTimeout)
	opts.ResponseTimeout = d.parse("response_timeout", cc.ResponseTimeout)
	opts.ShutdownTimeout = d.parse("shutdown_timeout", cc.ShutdownTimeout)
	opts.MaxAttempts = cc.MaxAttempts
	return d.err
}

// ToTelegram converts the telegram source.
func (c *Config) ToTelegram() (telegram.Config, error) {
	t := c.Sources.Telegram
	d := durations{section: "sources.telegram"}
	out := telegram.Config{
		Token:         t.Token,
		PollTimeout:   t.PollTimeout,
		AdminCacheTTL: d.parse("admin_cache_ttl", t.AdminCacheTTL),
	}
	return out, d.err
}

// ToOllama converts the ollama responder.
func (c *Config) ToOllama() (responder.OllamaConfig, error) {
	o := c.Responder.Ollama
	d := durations{section: "responder.ollama"}
	out := responder.OllamaConfig{
		URL:           o.URL,
		Model:         o.Model,
		Persona:       c.Persona.Name,
		Timeout:       d.parse("timeout", o.Timeout),
		RatePerMinute: o.RatePerMinute,
		MaxChars:      o.MaxChars,
	}
	return out, d.err
}

// ToScheduler converts the scheduler section.
func (c *Config) ToScheduler() (scheduler.Config, error) {
	s := c.Scheduler
	d := durations{section: "scheduler"}
	out := scheduler.Config{
		QueueCleanup: s.QueueCleanup,
		QueueMaxAge:  d.parse("queue_max_age", s.QueueMaxAge),
		Retention:    s.Retention,
		RetentionAge: d.parse("retention_age", s.RetentionAge),
		StatsLog:     s.StatsLog,
	}
	return out, d.err
}

// EnabledSources lists the enabled source names in a stable order.
func (c *Config) EnabledSources() []string {
	var out []string
	s := c.Sources
	if s.Discord.Enabled {
		out = append(out, "discord")
	}
	if s.Telegram.Enabled {
		out = append(out, "telegram")
	}
	if s.Twitch.Enabled {
		out = append(out, "twitch")
	}
	if s.Slack.Enabled {
		out = append(out, "slack")
	}
	if s.WebChat.Enabled {
		out = append(out, "webchat")
	}
	if s.Simulated.Enabled {
		name := s.Simulated.Name
		if name == "" {
			name = "simulated"
		}
		out = append(out, name)
	}
	return out
}

// Validate checks every section and returns all problems found.
func (c *Config) Validate() error {
	var errs []error

	if c.Persona.Name == "" {
		errs = append(errs, errors.New("persona.name cannot be empty"))
	}
	if c.Queue.Capacity < 1 {
		errs = append(errs, errors.New("queue.capacity must be at least 1"))
	}
	if c.Queue.Epsilon < 0 {
		errs = append(errs, errors.New("queue.epsilon cannot be negative"))
	}

	if _, err := c.ToAttention(); err != nil {
		errs = append(errs, err)
	}
	if sc, err := c.ToSalience(); err != nil {
		errs = append(errs, err)
	} else if _, err := salience.NewEngine(sc); err != nil {
		errs = append(errs, fmt.Errorf("salience: %w", err))
	}
	var opts coordinator.Options
	if err := c.ApplyCoordinator(&opts); err != nil {
		errs = append(errs, err)
	}
	if c.Coordinator.MaxAttempts < 1 {
		errs = append(errs, errors.New("coordinator.max_attempts must be at least 1"))
	}
	if _, err := c.ToScheduler(); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, c.validateSources()...)

	if c.Sinks.SQLite.Enabled && c.Sinks.SQLite.Path == "" {
		errs = append(errs, errors.New("sinks.sqlite.path cannot be empty"))
	}
	if c.Sinks.Redis.Enabled && c.Sinks.Redis.Addr == "" {
		errs = append(errs, errors.New("sinks.redis.addr cannot be empty"))
	}
	if c.Sinks.Kafka.Enabled && (len(c.Sinks.Kafka.Brokers) == 0 || c.Sinks.Kafka.Topic == "") {
		errs = append(errs, errors.New("sinks.kafka needs brokers and a topic"))
	}

	switch c.Responder.Mode {
	case ResponderTemplate, ResponderNone:
	case ResponderOllama:
		if c.Responder.Ollama.URL == "" || c.Responder.Ollama.Model == "" {
			errs = append(errs, errors.New("responder.ollama needs a url and a model"))
		}
		if _, err := c.ToOllama(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("invalid responder.mode %q, must be one of: template, ollama, none", c.Responder.Mode))
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr cannot be empty"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if f := c.Logging.Format; f != "" && f != "console" && f != "json" {
		errs = append(errs, fmt.Errorf("invalid logging.format %q, must be console or json", f))
	}

	return errors.Join(errs...)
}

func (c *Config) validateSources() []error {
	var errs []error
	s := c.Sources
	if len(c.EnabledSources()) == 0 {
		errs = append(errs, errors.New("sources: at least one source must be enabled"))
	}
	if s.Discord.Enabled && s.Discord.Token == "" {
		errs = append(errs, errors.New("sources.discord.token is required"))
	}
	if s.Telegram.Enabled {
		if s.Telegram.Token == "" {
			errs = append(errs, errors.New("sources.telegram.token is required"))
		}
		if _, err := c.ToTelegram(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Twitch.Enabled && (s.Twitch.Nick == "" || s.Twitch.Token == "" || len(s.Twitch.Channels) == 0) {
		errs = append(errs, errors.New("sources.twitch needs nick, token and at least one channel"))
	}
	if s.Slack.Enabled && (s.Slack.Token == "" || s.Slack.AppToken == "") {
		errs = append(errs, errors.New("sources.slack needs token and app_token"))
	}
	if s.WebChat.Enabled && s.WebChat.Addr == "" {
		errs = append(errs, errors.New("sources.webchat.addr cannot be empty"))
	}
	if s.Simulated.Enabled && s.Simulated.Rate <= 0 {
		errs = append(errs, errors.New("sources.simulated.rate must be positive"))
	}
	return errs
}
