// Package scheduler runs the periodic housekeeping jobs: queue expiry, history
// retention and the stats log line.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/normanking/cortex-attention/internal/coordinator"
	"github.com/normanking/cortex-attention/internal/metrics"
	"github.com/normanking/cortex-attention/internal/queue"
)

// Config holds the cron specs. An empty spec disables that job.
type Config struct {
	// QueueCleanup removes entries older than QueueMaxAge.
	QueueCleanup string
	QueueMaxAge  time.Duration
	// Retention prunes stored history older than RetentionAge.
	Retention    string
	RetentionAge time.Duration
	StatsLog     string
}

// DefaultConfig expires queue entries after ten minutes and keeps a week of
// history.
func DefaultConfig() Config {
	return Config{
		QueueCleanup: "@every 1m",
		QueueMaxAge:  10 * time.Minute,
		Retention:    "0 4 * * *",
		RetentionAge: 7 * 24 * time.Hour,
		StatsLog:     "@every 5m",
	}
}

// Pruner deletes stored history older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler manages the housekeeping cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	cfg    Config
	queue  *queue.Queue
	status func() coordinator.Status
	pruner Pruner
	logger zerolog.Logger
	now    func() time.Time
}

// New registers every enabled job. status and pruner may be nil.
func New(cfg Config, q *queue.Queue, status func() coordinator.Status, pruner Pruner, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		cfg:    cfg,
		queue:  q,
		status: status,
		pruner: pruner,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}

	jobs := []struct {
		name string
		spec string
		run  func()
		ok   bool
	}{
		{"queue_cleanup", cfg.QueueCleanup, s.cleanupQueue, q != nil && cfg.QueueMaxAge > 0},
		{"retention", cfg.Retention, s.pruneHistory, pruner != nil && cfg.RetentionAge > 0},
		{"stats_log", cfg.StatsLog, s.logStats, status != nil},
	}
	for _, j := range jobs {
		if j.spec == "" || !j.ok {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, j.run); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
		s.logger.Debug().Str("job", j.name).Str("spec", j.spec).Msg("Job scheduled")
	}
	return s, nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) cleanupQueue() {
	n := s.queue.Cleanup(s.cfg.QueueMaxAge)
	metrics.QueueDepth.Set(float64(s.queue.Len()))
	if n == 0 {
		return
	}
	metrics.QueueExpired.Add(float64(n))
	s.logger.Info().Int("expired", n).Dur("max_age", s.cfg.QueueMaxAge).Msg("Expired stale queue entries")
}

func (s *Scheduler) pruneHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := s.now().Add(-s.cfg.RetentionAge)
	n, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("History retention failed")
		return
	}
	s.logger.Info().Int64("rows", n).Time("cutoff", cutoff).Msg("Pruned stored history")
}

func (s *Scheduler) logStats() {
	st := s.status()
	connected := 0
	for _, c := range st.Connections {
		if c.Status == coordinator.StatusConnected {
			connected++
		}
	}
	s.logger.Info().
		Str("state", string(st.Cycle.State)).
		Int("queue_depth", st.Queue.Size).
		Int("sources_connected", connected).
		Int("sources", len(st.Connections)).
		Int64("received", st.Counters.Received).
		Int64("responded", st.Counters.Responded).
		Int64("evicted", st.Counters.Evicted).
		Msg("Attention stats")
}
