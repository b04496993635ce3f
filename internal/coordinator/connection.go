package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/normanking/cortex-attention/internal/channel"
	"github.com/normanking/cortex-attention/internal/metrics"
)

// ConnStatus is the coordinator's view of one source connection.
type ConnStatus string

const (
	StatusDisconnected ConnStatus = "disconnected"
	StatusConnecting   ConnStatus = "connecting"
	StatusConnected    ConnStatus = "connected"
)

var (
	// ErrUnknownSource is returned for a source name with no adapter.
	ErrUnknownSource = errors.New("unknown source")
	// ErrMaxAttempts is returned when a source exhausts its connection attempts.
	ErrMaxAttempts = errors.New("connection attempts exhausted")
	// ErrConnectInProgress is returned by Reconnect while a connect loop runs.
	ErrConnectInProgress = errors.New("connection attempt already in progress")
)

// ConnectionHandle tracks one adapter. Only the coordinator mutates it.
type ConnectionHandle struct {
	adapter channel.Adapter

	mu          sync.Mutex
	status      ConnStatus
	failures    int
	lastFailure time.Time
	lastError   error
	exhausted   bool
	connectedAt time.Time
}

// ConnectionStatus is a value copy of a handle for observers.
type ConnectionStatus struct {
	Source              string     `json:"source"`
	Status              ConnStatus `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailure         time.Time  `json:"last_failure,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	Exhausted           bool       `json:"exhausted"`
	ConnectedAt         time.Time  `json:"connected_at,omitempty"`
}

func newHandle(a channel.Adapter) *ConnectionHandle {
	return &ConnectionHandle{adapter: a, status: StatusDisconnected}
}

func (h *ConnectionHandle) snapshot() ConnectionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := ConnectionStatus{
		Source:              h.adapter.SourceName(),
		Status:              h.status,
		ConsecutiveFailures: h.failures,
		LastFailure:         h.lastFailure,
		Exhausted:           h.exhausted,
		ConnectedAt:         h.connectedAt,
	}
	if h.lastError != nil {
		s.LastError = h.lastError.Error()
	}
	return s
}

// begin moves the handle to connecting. It fails if a loop already owns it.
func (h *ConnectionHandle) begin(reset bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusConnecting {
		return false
	}
	if reset {
		h.failures = 0
		h.exhausted = false
	}
	h.status = StatusConnecting
	return true
}

func (h *ConnectionHandle) setStatus(s ConnStatus) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

func (h *ConnectionHandle) current() ConnStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// connectLoop makes up to MaxAttempts connection attempts, sleeping
// BackoffBase, 2*BackoffBase, ... between them. The caller must have called
// begin on h.
func (c *Coordinator) connectLoop(ctx context.Context, h *ConnectionHandle) error {
	name := h.adapter.SourceName()
	log := c.logger.With().Str("source", name).Logger()
	delay := c.opts.BackoffBase

	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
		err := h.adapter.Connect(attemptCtx)
		cancel()

		if err == nil {
			h.mu.Lock()
			h.status = StatusConnected
			h.failures = 0
			h.exhausted = false
			h.lastError = nil
			h.connectedAt = c.now()
			h.mu.Unlock()

			metrics.ConnectAttempts.WithLabelValues(name, "success").Inc()
			metrics.ConnectionStatus.WithLabelValues(name).Set(2)
			log.Info().Int("attempt", attempt).Msg("Source connected")
			return nil
		}

		h.mu.Lock()
		h.failures++
		h.lastFailure = c.now()
		h.lastError = err
		failures := h.failures
		h.mu.Unlock()
		metrics.ConnectAttempts.WithLabelValues(name, "failure").Inc()

		if ctx.Err() != nil {
			h.setStatus(StatusDisconnected)
			metrics.ConnectionStatus.WithLabelValues(name).Set(0)
			return ctx.Err()
		}

		if failures >= c.opts.MaxAttempts {
			h.mu.Lock()
			h.status = StatusDisconnected
			h.exhausted = true
			h.mu.Unlock()

			metrics.ConnectionStatus.WithLabelValues(name).Set(3)
			log.Error().Err(err).Int("attempts", failures).Msg("Source connection attempts exhausted; waiting for manual reconnect")
			return fmt.Errorf("%s: %w: %v", name, ErrMaxAttempts, err)
		}

		log.Warn().Err(err).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Source connection failed")
		if err := c.sleep(ctx, delay); err != nil {
			h.setStatus(StatusDisconnected)
			metrics.ConnectionStatus.WithLabelValues(name).Set(0)
			return err
		}
		delay *= 2
	}
}

// ConnectAll connects every source in parallel and waits until each one is
// connected or has exhausted its attempts. Sources that are already connected,
// or exhausted and waiting for Reconnect, are skipped. The returned error
// joins the per-source failures.
func (c *Coordinator) ConnectAll(ctx context.Context) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, h := range c.order {
		if h.current() == StatusConnected || h.snapshot().Exhausted || !h.begin(false) {
			continue
		}
		metrics.ConnectionStatus.WithLabelValues(h.adapter.SourceName()).Set(1)
		wg.Add(1)
		go func(h *ConnectionHandle) {
			defer wg.Done()
			if err := c.connectLoop(ctx, h); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(h)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Reconnect resets a source's failure count and runs the bounded connect
// loop again, disconnecting first if the adapter still reports a session.
func (c *Coordinator) Reconnect(ctx context.Context, source string) error {
	h, ok := c.handles[source]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	if !h.begin(true) {
		return ErrConnectInProgress
	}
	metrics.ConnectionStatus.WithLabelValues(source).Set(1)

	ctx, cancel := c.bound(ctx)
	defer cancel()

	if h.adapter.IsConnected() {
		dctx, dcancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
		if err := h.adapter.Disconnect(dctx); err != nil {
			c.logger.Warn().Err(err).Str("source", source).Msg("Disconnect before reconnect failed")
		}
		dcancel()
	}
	c.logger.Info().Str("source", source).Msg("Manual reconnect requested")
	return c.connectLoop(ctx, h)
}

// superviseConnections notices sources that dropped their session on their
// own and starts a fresh bounded connect loop for each.
func (c *Coordinator) superviseConnections(ctx context.Context) {
	for _, h := range c.order {
		if h.current() != StatusConnected || h.adapter.IsConnected() {
			continue
		}
		name := h.adapter.SourceName()
		if !h.begin(true) {
			continue
		}
		c.logger.Warn().Str("source", name).Msg("Source dropped its session; reconnecting")
		metrics.ConnectionStatus.WithLabelValues(name).Set(1)

		c.loops.Add(1)
		go func(h *ConnectionHandle) {
			defer c.loops.Done()
			_ = c.connectLoop(ctx, h)
		}(h)
	}
}

// bound derives a context that is also cancelled when the coordinator shuts
// down.
func (c *Coordinator) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
