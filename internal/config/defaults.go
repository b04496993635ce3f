package config

import (
	"time"

	"github.com/normanking/cortex-attention/internal/attention"
	"github.com/normanking/cortex-attention/internal/channel/simulated"
	"github.com/normanking/cortex-attention/internal/channel/webchat"
	"github.com/normanking/cortex-attention/internal/coordinator"
	"github.com/normanking/cortex-attention/internal/logging"
	"github.com/normanking/cortex-attention/internal/queue"
	"github.com/normanking/cortex-attention/internal/salience"
	"github.com/normanking/cortex-attention/internal/scheduler"
	"github.com/normanking/cortex-attention/internal/sink"
)

// Default returns a configuration that runs out of the box: a simulated chat
// source, the template responder, the log sink and the HTTP API.
func Default() *Config {
	att := attention.DefaultConfig()
	profiles := make(map[string]ProfileConfig, len(att.Profiles))
	for s, p := range att.Profiles {
		profiles[string(s)] = ProfileConfig{
			Share:              p.Share,
			ResponseRate:       p.ResponseRate,
			BatchSize:          p.BatchSize,
			InterruptThreshold: p.InterruptThreshold,
			BaseDuration:       p.BaseDuration.String(),
			MinLevel:           p.MinLevel.String(),
			Action:             p.Action,
		}
	}
	transitions := make(map[string]map[string]float64, len(att.Transitions))
	for from, row := range att.Transitions {
		r := make(map[string]float64, len(row))
		for to, p := range row {
			r[string(to)] = p
		}
		transitions[string(from)] = r
	}

	sal := salience.DefaultConfig("cortex")
	sched := scheduler.DefaultConfig()

	return &Config{
		Persona: PersonaConfig{
			Name:        "cortex",
			Aliases:     []string{},
			StreamTopic: []string{},
		},
		Queue: QueueConfig{
			Capacity: queue.DefaultCapacity,
			Epsilon:  queue.DefaultEpsilon,
		},
		Attention: AttentionConfig{
			Profiles:          profiles,
			Transitions:       transitions,
			RateJitter:        att.RateJitter,
			DurationJitter:    att.DurationJitter,
			HighRunLength:     att.HighRunLength,
			VelocityThreshold: att.VelocityThreshold,
			QuietPeriod:       att.QuietPeriod.String(),
			HistorySize:       att.HistorySize,
			TickInterval:      att.TickInterval.String(),
			InterruptMemory:   att.InterruptMemory.String(),
		},
		Coordinator: CoordinatorConfig{
			ProcessInterval: coordinator.DefaultProcessInterval.String(),
			ContextInterval: coordinator.DefaultContextInterval.String(),
			BackoffBase:     coordinator.DefaultBackoffBase.String(),
			MaxAttempts:     coordinator.DefaultMaxAttempts,
			ConnectTimeout:  coordinator.DefaultConnectTimeout.String(),
			SendTimeout:     coordinator.DefaultSendTimeout.String(),
			ResponseTimeout: coordinator.DefaultResponseTimeout.String(),
			ShutdownTimeout: coordinator.DefaultShutdownTimeout.String(),
		},
		Salience: SalienceConfig{
			Weights:     sal.Weights,
			DecayWindow: sal.DecayWindow.String(),
			LongTenure:  sal.LongTenure.String(),
			ShortTenure: sal.ShortTenure.String(),
			Rules:       sal.Rules,
		},
		Sources: SourcesConfig{
			Telegram: TelegramSource{PollTimeout: 60, AdminCacheTTL: "10m"},
			WebChat:  WebChatSource{Config: webchat.Config{Addr: "127.0.0.1:8766", Path: "/ws"}},
			Simulated: SimulatedSource{
				Enabled: true,
				Config:  simulated.Config{Name: "simulated", Rate: 0.5, Viewers: 25, Persona: "cortex", Channel: "main"},
			},
		},
		Sinks: SinksConfig{
			Log:    true,
			Redis:  RedisSink{RedisConfig: sink.RedisConfig{Addr: "localhost:6379", Stream: sink.DefaultStream, MaxLen: 10000}},
			SQLite: SQLiteSink{Path: "~/.cortex-attention/attention.db"},
			Kafka:  KafkaSink{KafkaConfig: sink.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "cortex.attention.context"}},
		},
		Responder: ResponderConfig{
			Mode: "template",
			Ollama: OllamaConfig{
				URL:                "http://127.0.0.1:11434",
				Model:              "llama3.2",
				Timeout:            (30 * time.Second).String(),
				RatePerMinute:      20,
				MaxChars:           400,
				FallbackToTemplate: true,
			},
		},
		Scheduler: SchedulerConfig{
			QueueCleanup: sched.QueueCleanup,
			QueueMaxAge:  sched.QueueMaxAge.String(),
			Retention:    sched.Retention,
			RetentionAge: sched.RetentionAge.String(),
			StatsLog:     sched.StatsLog,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8765",
		},
		Logging: logging.DefaultConfig(),
	}
}
