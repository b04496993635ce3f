// Package coordinator owns the source connections and moves messages through
// the pipeline: adapters deliver into scoring and the priority queue, and a
// processing tick drains the queue at the pace set by the attention machine.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortex-attention/internal/activity"
	"github.com/normanking/cortex-attention/internal/attention"
	"github.com/normanking/cortex-attention/internal/channel"
	"github.com/normanking/cortex-attention/internal/chat"
	"github.com/normanking/cortex-attention/internal/queue"
	"github.com/normanking/cortex-attention/internal/random"
	"github.com/normanking/cortex-attention/internal/responder"
	"github.com/normanking/cortex-attention/internal/salience"
	"github.com/normanking/cortex-attention/internal/sink"
)

// Defaults for Options fields left zero.
const (
	DefaultProcessInterval = time.Second
	DefaultContextInterval = 30 * time.Second
	DefaultBackoffBase     = 5 * time.Second
	DefaultMaxAttempts     = 5
	DefaultConnectTimeout  = 10 * time.Second
	DefaultSendTimeout     = 5 * time.Second
	DefaultResponseTimeout = 20 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultSendRetryDelay  = 250 * time.Millisecond
)

// Options wires a Coordinator. Engine, Queue, Machine and Tracker are
// required; everything else has a default.
type Options struct {
	Adapters []channel.Adapter
	Engine   *salience.Engine
	Queue    *queue.Queue
	Machine  *attention.Machine
	Tracker  *activity.Tracker

	// Respond generates replies. Nil means the persona never answers.
	Respond responder.Func
	// Sink receives a snapshot on every context tick.
	Sink sink.Sink
	// Recorder, if set, is told about every delivered reply.
	Recorder sink.Recorder

	ProcessInterval time.Duration
	ContextInterval time.Duration
	// TickTimeout bounds one processing tick; a tick still running at the
	// deadline is abandoned with a warning. Defaults to 10x ProcessInterval.
	TickTimeout     time.Duration
	BackoffBase     time.Duration
	MaxAttempts     int
	ConnectTimeout  time.Duration
	SendTimeout     time.Duration
	SendRetryDelay  time.Duration
	ResponseTimeout time.Duration
	ShutdownTimeout time.Duration

	Logger zerolog.Logger
	Random random.Source
	Now    func() time.Time
	// Sleep waits between connection attempts and before a send retry.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) applyDefaults() {
	if o.ProcessInterval <= 0 {
		o.ProcessInterval = DefaultProcessInterval
	}
	if o.ContextInterval <= 0 {
		o.ContextInterval = DefaultContextInterval
	}
	if o.TickTimeout <= 0 {
		o.TickTimeout = 10 * o.ProcessInterval
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.SendRetryDelay < 0 {
		o.SendRetryDelay = 0
	} else if o.SendRetryDelay == 0 {
		o.SendRetryDelay = DefaultSendRetryDelay
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.Random == nil {
		o.Random = random.New(0)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

// Counters are the coordinator's lifetime totals.
type Counters struct {
	Received  int64 `json:"received"`
	Rejected  int64 `json:"rejected"`
	Processed int64 `json:"processed"`
	Responded int64 `json:"responded"`
	// ResponseFailures counts generation errors and sends that failed twice.
	ResponseFailures int64 `json:"response_failures"`
	Evicted          int64 `json:"evicted"`
	Discarded        int64 `json:"discarded"`
	TicksSkipped     int64 `json:"ticks_skipped"`
	// DisconnectedWithoutDrain counts sources that did not close cleanly
	// within the shutdown timeout.
	DisconnectedWithoutDrain int64 `json:"disconnected_without_drain"`
}

type counters struct {
	received, rejected, processed, responded, failures atomic.Int64
	evicted, discarded, skipped, undrained             atomic.Int64
}

func (c *counters) load() Counters {
	return Counters{
		Received:                 c.received.Load(),
		Rejected:                 c.rejected.Load(),
		Processed:                c.processed.Load(),
		Responded:                c.responded.Load(),
		ResponseFailures:         c.failures.Load(),
		Evicted:                  c.evicted.Load(),
		Discarded:                c.discarded.Load(),
		TicksSkipped:             c.skipped.Load(),
		DisconnectedWithoutDrain: c.undrained.Load(),
	}
}

// Status is a point-in-time view for observers.
type Status struct {
	Connections []ConnectionStatus `json:"connections"`
	Cycle       attention.Cycle    `json:"cycle"`
	Action      string             `json:"recommended_action"`
	Queue       queue.Stats        `json:"queue"`
	Counters    Counters           `json:"counters"`
	Snapshot    *chat.Snapshot     `json:"last_snapshot,omitempty"`
	Running     bool               `json:"running"`
}

// Coordinator is the pipeline's owner. Create it with New, then Start it.
type Coordinator struct {
	opts   Options
	logger zerolog.Logger
	engine *salience.Engine
	queue  *queue.Queue
	mach   *attention.Machine
	track  *activity.Tracker
	rng    random.Source
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	handles map[string]*ConnectionHandle
	order   []*ConnectionHandle

	life     context.Context
	stopLife context.CancelFunc
	loops    sync.WaitGroup
	ticks    sync.WaitGroup

	// inbound is held shared by every handleInbound call and exclusively by
	// Shutdown around the final drain, so nothing is queued after it.
	inbound    sync.RWMutex
	started    atomic.Bool
	stopping   atomic.Bool
	processing atomic.Bool
	wake       chan struct{}
	lastSnap   atomic.Pointer[chat.Snapshot]
	counters   counters

	shutdownOnce sync.Once
	final        Counters
}

// New validates opts and registers the inbound callback on every adapter.
func New(opts Options) (*Coordinator, error) {
	if opts.Engine == nil || opts.Queue == nil || opts.Machine == nil || opts.Tracker == nil {
		return nil, errors.New("coordinator: engine, queue, machine and tracker are required")
	}
	opts.applyDefaults()

	life, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "coordinator").Logger(),
		engine:   opts.Engine,
		queue:    opts.Queue,
		mach:     opts.Machine,
		track:    opts.Tracker,
		rng:      opts.Random,
		now:      opts.Now,
		sleep:    opts.Sleep,
		handles:  make(map[string]*ConnectionHandle, len(opts.Adapters)),
		life:     life,
		stopLife: stop,
		wake:     make(chan struct{}, 1),
	}
	for _, a := range opts.Adapters {
		name := a.SourceName()
		if name == "" {
			stop()
			return nil, errors.New("coordinator: adapter with empty source name")
		}
		if _, dup := c.handles[name]; dup {
			stop()
			return nil, fmt.Errorf("coordinator: duplicate source %q", name)
		}
		h := newHandle(a)
		c.handles[name] = h
		c.order = append(c.order, h)
		a.RegisterInboundCallback(c.handleInbound)
	}
	return c, nil
}

// Start launches the attention machine and both ticks. It does not connect
// sources; call ConnectAll for that.
func (c *Coordinator) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.loops.Add(3)
	go func() {
		defer c.loops.Done()
		c.mach.Run(c.life)
	}()
	go func() {
		defer c.loops.Done()
		c.processLoop(c.life)
	}()
	go func() {
		defer c.loops.Done()
		c.contextLoop(c.life)
	}()
	c.logger.Info().
		Int("sources", len(c.order)).
		Dur("process_interval", c.opts.ProcessInterval).
		Dur("context_interval", c.opts.ContextInterval).
		Msg("Coordinator started")
}

// Shutdown stops the ticks and the attention loop, disconnects every source
// within the shutdown timeout, then drains and discards the queue. It is safe
// to call more than once; later calls return the same counters.
func (c *Coordinator) Shutdown(ctx context.Context) Counters {
	c.shutdownOnce.Do(func() {
		c.stopping.Store(true)
		c.stopLife()
		c.loops.Wait()
		c.ticks.Wait()

		dctx, cancel := context.WithTimeout(ctx, c.opts.ShutdownTimeout)
		defer cancel()

		var wg sync.WaitGroup
		for _, h := range c.order {
			wg.Add(1)
			go func(h *ConnectionHandle) {
				defer wg.Done()
				name := h.adapter.SourceName()
				if err := h.adapter.Disconnect(dctx); err != nil {
					c.counters.undrained.Add(1)
					c.logger.Warn().Err(err).Str("source", name).Msg("Source did not disconnect cleanly")
				}
				h.setStatus(StatusDisconnected)
			}(h)
		}
		wg.Wait()

		c.inbound.Lock()
		discarded := c.queue.DrainAll()
		c.counters.discarded.Add(int64(discarded))
		c.inbound.Unlock()

		c.final = c.counters.load()
		c.logger.Info().
			Int64("processed", c.final.Processed).
			Int64("responded", c.final.Responded).
			Int64("evicted", c.final.Evicted).
			Int64("discarded", c.final.Discarded).
			Int64("disconnected_without_drain", c.final.DisconnectedWithoutDrain).
			Msg("Coordinator stopped")
	})
	return c.final
}

// Status returns the current view.
func (c *Coordinator) Status() Status {
	st := Status{
		Cycle:    *c.mach.Current(),
		Action:   c.mach.RecommendedAction(),
		Queue:    c.queue.Stats(),
		Counters: c.counters.load(),
		Snapshot: c.lastSnap.Load(),
		Running:  c.started.Load() && !c.stopping.Load(),
	}
	for _, h := range c.order {
		st.Connections = append(st.Connections, h.snapshot())
	}
	return st
}

// Sources returns the configured source names in registration order.
func (c *Coordinator) Sources() []string {
	out := make([]string, 0, len(c.order))
	for _, h := range c.order {
		out = append(out, h.adapter.SourceName())
	}
	return out
}

// Counters returns the lifetime totals so far.
func (c *Coordinator) Counters() Counters {
	return c.counters.load()
}
