package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/cortex-attention/internal/activity"
	"github.com/normanking/cortex-attention/internal/attention"
	"github.com/normanking/cortex-attention/internal/channel"
	"github.com/normanking/cortex-attention/internal/channel/discord"
	"github.com/normanking/cortex-attention/internal/channel/simulated"
	"github.com/normanking/cortex-attention/internal/channel/slack"
	"github.com/normanking/cortex-attention/internal/channel/telegram"
	"github.com/normanking/cortex-attention/internal/channel/twitch"
	"github.com/normanking/cortex-attention/internal/channel/webchat"
	"github.com/normanking/cortex-attention/internal/config"
	"github.com/normanking/cortex-attention/internal/coordinator"
	"github.com/normanking/cortex-attention/internal/logging"
	"github.com/normanking/cortex-attention/internal/metrics"
	"github.com/normanking/cortex-attention/internal/queue"
	"github.com/normanking/cortex-attention/internal/random"
	"github.com/normanking/cortex-attention/internal/responder"
	"github.com/normanking/cortex-attention/internal/salience"
	"github.com/normanking/cortex-attention/internal/scheduler"
	"github.com/normanking/cortex-attention/internal/server"
	"github.com/normanking/cortex-attention/internal/sink"
	"github.com/normanking/cortex-attention/internal/tui"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the attention pipeline until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, flags, false)
		},
	}
}

func newMonitorCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the pipeline with a live terminal dashboard",
		Long:  "Run the pipeline with a live terminal dashboard. Console logging is silenced; set logging.file to keep a log.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, flags, true)
		},
	}
}

// app holds every long-lived component of a running pipeline.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	queue     *queue.Queue
	coord     *coordinator.Coordinator
	scheduler *scheduler.Scheduler
	server    *server.Server
	history   *sink.SQLiteSink

	closers []io.Closer
}

func runPipeline(cmd *cobra.Command, flags *rootFlags, dashboard bool) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}
	if dashboard {
		cfg.Logging.Output = io.Discard
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		return err
	}

	if dashboard {
		err = tui.Run(ctx, tui.Options{
			Status:  a.coord.Status,
			Queue:   a.queue.Snapshot,
			Persona: cfg.Persona.Name,
			Version: version,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Dashboard exited")
		}
	} else {
		<-ctx.Done()
	}

	logger.Info().Msg("Shutting down")
	a.stop()
	return err
}

func buildApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	adapters, err := buildAdapters(cfg, logger)
	if err != nil {
		return nil, err
	}

	sc, err := cfg.ToSalience()
	if err != nil {
		return nil, err
	}
	engine, err := salience.NewEngine(sc)
	if err != nil {
		return nil, fmt.Errorf("salience: %w", err)
	}

	ac, err := cfg.ToAttention()
	if err != nil {
		return nil, err
	}
	mach, err := attention.New(ac,
		attention.WithLogger(logging.Component(logger, "attention")),
		attention.WithTransitionHook(observeTransition),
	)
	if err != nil {
		return nil, fmt.Errorf("attention: %w", err)
	}

	a.queue = queue.New(cfg.ToQueue())

	snk, err := a.buildSinks()
	if err != nil {
		a.close()
		return nil, err
	}

	respond, err := buildResponder(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	opts := coordinator.Options{
		Adapters: adapters,
		Engine:   engine,
		Queue:    a.queue,
		Machine:  mach,
		Tracker:  activity.New(cfg.ToActivity()),
		Respond:  respond,
		Sink:     snk,
		Recorder: snk,
		Logger:   logging.Component(logger, "coordinator"),
	}
	if err := cfg.ApplyCoordinator(&opts); err != nil {
		a.close()
		return nil, err
	}
	a.coord, err = coordinator.New(opts)
	if err != nil {
		a.close()
		return nil, err
	}

	schedCfg, err := cfg.ToScheduler()
	if err != nil {
		a.close()
		return nil, err
	}
	var pruner scheduler.Pruner
	if a.history != nil {
		pruner = a.history
	}
	a.scheduler, err = scheduler.New(schedCfg, a.queue, a.coord.Status, pruner, logging.Component(logger, "scheduler"))
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.Server.Enabled {
		var history server.History
		if a.history != nil {
			history = a.history
		}
		a.server = server.New(server.Config{Addr: cfg.Server.Addr}, a.coord, a.queue, history, version, logging.Component(logger, "server"))
	}
	return a, nil
}

func buildAdapters(cfg *config.Config, logger zerolog.Logger) ([]channel.Adapter, error) {
	s := cfg.Sources
	var adapters []channel.Adapter
	if s.Discord.Enabled {
		adapters = append(adapters, discord.New(s.Discord.Config, logging.Component(logger, "discord")))
	}
	if s.Telegram.Enabled {
		tc, err := cfg.ToTelegram()
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, telegram.New(tc, logging.Component(logger, "telegram")))
	}
	if s.Twitch.Enabled {
		adapters = append(adapters, twitch.New(s.Twitch.Config, logging.Component(logger, "twitch")))
	}
	if s.Slack.Enabled {
		adapters = append(adapters, slack.New(s.Slack.Config, logging.Component(logger, "slack")))
	}
	if s.WebChat.Enabled {
		adapters = append(adapters, webchat.New(s.WebChat.Config, logging.Component(logger, "webchat")))
	}
	if s.Simulated.Enabled {
		sim := s.Simulated.Config
		if sim.Persona == "" {
			sim.Persona = cfg.Persona.Name
		}
		adapters = append(adapters, simulated.New(sim, logging.Component(logger, "simulated")))
	}
	return adapters, nil
}

// buildSinks returns the enabled sinks fanned out behind one Multi. Sinks that
// hold connections are remembered for close.
func (a *app) buildSinks() (sink.Multi, error) {
	sc := a.cfg.Sinks
	var multi sink.Multi
	if sc.Log {
		multi = append(multi, sink.NewLog(logging.Component(a.logger, "context")))
	}
	if sc.Redis.Enabled {
		r, err := sink.NewRedisSink(sc.Redis.RedisConfig)
		if err != nil {
			return nil, fmt.Errorf("redis sink: %w", err)
		}
		multi = append(multi, r)
		a.closers = append(a.closers, r)
	}
	if sc.SQLite.Enabled {
		s, err := sink.NewSQLiteSink(sc.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite sink: %w", err)
		}
		multi = append(multi, s)
		a.closers = append(a.closers, s)
		a.history = s
	}
	if sc.Kafka.Enabled {
		k, err := sink.NewKafkaSink(sc.Kafka.KafkaConfig)
		if err != nil {
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		multi = append(multi, k)
		a.closers = append(a.closers, k)
	}
	return multi, nil
}

func buildResponder(cfg *config.Config) (responder.Func, error) {
	template := responder.NewTemplate(cfg.Persona.Name, random.New(0))
	switch cfg.Responder.Mode {
	case config.ResponderNone:
		return nil, nil
	case config.ResponderOllama:
		oc, err := cfg.ToOllama()
		if err != nil {
			return nil, err
		}
		o, err := responder.NewOllama(oc)
		if err != nil {
			return nil, fmt.Errorf("ollama responder: %w", err)
		}
		if cfg.Responder.Ollama.FallbackToTemplate {
			return responder.Fallback(o.Respond, template.Respond), nil
		}
		return o.Respond, nil
	default:
		return template.Respond, nil
	}
}

// observeTransition mirrors attention changes into Prometheus.
func observeTransition(prev, next *attention.Cycle) {
	all := make([]string, len(attention.States))
	for i, s := range attention.States {
		all[i] = string(s)
	}
	metrics.SetAttentionState(string(next.State), all)
	if prev != nil {
		metrics.AttentionTransitions.WithLabelValues(string(prev.State), string(next.State), next.Reason).Inc()
	}
}

func (a *app) start(ctx context.Context) error {
	a.coord.Start()
	go func() {
		if err := a.coord.ConnectAll(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Some sources failed to connect")
		}
	}()
	a.scheduler.Start()
	if a.server != nil {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info().
		Str("persona", a.cfg.Persona.Name).
		Strs("sources", a.coord.Sources()).
		Str("responder", a.cfg.Responder.Mode).
		Msg("Cortex attention running")
	return nil
}

func (a *app) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("HTTP server shutdown")
		}
	}
	a.scheduler.Stop(ctx)

	a.coord.Shutdown(ctx)
}

func (a *app) close() {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("Closing sinks")
	}
}
