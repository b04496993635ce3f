package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/cortex-attention/internal/attention"
	"github.com/normanking/cortex-attention/internal/chat"
	"github.com/normanking/cortex-attention/internal/metrics"
	"github.com/normanking/cortex-attention/internal/queue"
	"github.com/normanking/cortex-attention/internal/sink"
)

// handleInbound is the single ingestion path every adapter calls into. It
// never blocks on the outbound side.
func (c *Coordinator) handleInbound(msg *chat.Message) {
	if msg == nil {
		return
	}
	c.inbound.RLock()
	defer c.inbound.RUnlock()

	c.counters.received.Add(1)
	if c.stopping.Load() {
		c.counters.rejected.Add(1)
		metrics.MessagesRejected.WithLabelValues(msg.Source, "shutting_down").Inc()
		c.logger.Debug().
			Str("source", msg.Source).
			Str("message_id", msg.ID).
			Msg("Inbound message dropped during shutdown")
		return
	}

	if err := msg.Validate(); err != nil {
		c.reject(msg, "invalid", err)
		return
	}

	rc := c.track.Observe(msg)
	score, err := c.engine.Score(msg, rc)
	if err != nil {
		c.reject(msg, "score", err)
		return
	}
	if err := msg.AttachScore(score); err != nil {
		c.reject(msg, "duplicate", err)
		return
	}
	c.track.RecordScore(msg, score)
	metrics.SalienceScore.Observe(score.Total)
	metrics.MessagesByLevel.WithLabelValues(score.Level.String()).Inc()

	it := c.mach.CheckInterrupt(msg, rc)
	if it != nil {
		metrics.Interrupts.WithLabelValues(string(it.Kind)).Inc()
	}

	if evicted := c.queue.Enqueue(msg, score); evicted != nil {
		c.counters.evicted.Add(1)
		metrics.QueueEvictions.Inc()
		c.logger.Debug().
			Str("evicted_id", evicted.Message.ID).
			Float64("evicted_score", evicted.Score.Total).
			Msg("Queue full, evicted lowest entry")
	}
	metrics.MessagesIngested.WithLabelValues(msg.Source).Inc()
	metrics.QueueDepth.Set(float64(c.queue.Len()))

	c.logger.Debug().
		Str("source", msg.Source).
		Str("message_id", msg.ID).
		Float64("score", score.Total).
		Str("level", score.Level.String()).
		Msg("Message queued")

	if it != nil && (it.Kind == attention.InterruptImmediate || it.Kind == attention.InterruptQueuePriority) {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

func (c *Coordinator) reject(msg *chat.Message, reason string, err error) {
	c.counters.rejected.Add(1)
	metrics.MessagesRejected.WithLabelValues(msg.Source, reason).Inc()

	var verr *chat.ValidationError
	ev := c.logger.Warn().Err(err).Str("source", msg.Source).Str("message_id", msg.ID)
	if errors.As(err, &verr) {
		ev = ev.Str("field", verr.Field)
	}
	ev.Msg("Inbound message rejected")
}

// processLoop runs a processing tick every ProcessInterval, and early when an
// urgent interrupt wakes it.
func (c *Coordinator) processLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tryProcess(ctx, "scheduled")
		case <-c.wake:
			c.tryProcess(ctx, "interrupt")
		}
	}
}

// tryProcess starts a tick unless the previous one is still running, in which
// case this one is skipped.
func (c *Coordinator) tryProcess(ctx context.Context, trigger string) bool {
	if !c.processing.CompareAndSwap(false, true) {
		if trigger == "scheduled" {
			c.counters.skipped.Add(1)
			metrics.TicksSkipped.WithLabelValues("process").Inc()
			c.logger.Warn().Msg("Processing tick still running; skipping this one")
		}
		return false
	}
	c.ticks.Add(1)
	go func() {
		defer c.ticks.Done()
		defer c.processing.Store(false)
		c.processTick(ctx)
	}()
	return true
}

// processTick dequeues up to the live cycle's batch size and answers the
// eligible entries.
func (c *Coordinator) processTick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.TickTimeout)
	defer cancel()

	cyc := c.mach.Current()
	snap := c.contextForResponse(cyc)

	for i := 0; i < cyc.BatchSize; i++ {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				c.logger.Warn().Int("handled", i).Msg("Processing tick abandoned at deadline")
			}
			return
		}
		entry, ok := c.queue.Dequeue()
		if !ok {
			break
		}
		c.counters.processed.Add(1)

		if !c.eligible(entry, cyc) {
			continue
		}
		c.respondTo(ctx, entry, cyc, snap)
	}
	metrics.QueueDepth.Set(float64(c.queue.Len()))
}

// eligible decides whether the persona answers entry under cyc. Critical
// messages always qualify; others must meet the state's minimum level and win
// a draw against the response rate.
func (c *Coordinator) eligible(entry queue.Entry, cyc *attention.Cycle) bool {
	level := entry.Score.Level
	if level == chat.LevelCritical {
		return true
	}
	if !level.AtLeast(cyc.MinLevel) {
		return false
	}
	return c.rng.Float64() < cyc.ResponseRate
}

func (c *Coordinator) respondTo(ctx context.Context, entry queue.Entry, cyc *attention.Cycle, snap chat.Snapshot) {
	if c.opts.Respond == nil {
		return
	}
	msg := entry.Message
	log := c.logger.With().Str("source", msg.Source).Str("message_id", msg.ID).Logger()

	rctx, cancel := context.WithTimeout(ctx, c.opts.ResponseTimeout)
	started := time.Now()
	text, ok, err := c.opts.Respond(rctx, msg, snap)
	cancel()
	metrics.ResponseLatency.Observe(time.Since(started).Seconds())

	if err != nil {
		c.counters.failures.Add(1)
		metrics.ResponsesFailed.WithLabelValues(msg.Source, "generate").Inc()
		log.Warn().Err(err).Msg("Response generation failed")
		return
	}
	text = strings.TrimSpace(text)
	if !ok || text == "" {
		return
	}

	h, found := c.handles[msg.Source]
	if !found {
		log.Warn().Msg("No adapter for message source")
		return
	}
	if err := c.send(ctx, h, text, msg.Channel); err != nil {
		c.counters.failures.Add(1)
		metrics.ResponsesFailed.WithLabelValues(msg.Source, "send").Inc()
		log.Error().Err(err).Msg("Response dropped after retry")
		return
	}

	c.counters.responded.Add(1)
	metrics.ResponsesSent.WithLabelValues(msg.Source).Inc()
	c.track.RecordReply(msg.Author.ID, text)
	log.Info().
		Float64("score", entry.Score.Total).
		Str("state", string(cyc.State)).
		Msg("Response sent")

	if c.opts.Recorder != nil {
		err := c.opts.Recorder.RecordResponse(ctx, sink.Response{
			MessageID: msg.ID,
			Source:    msg.Source,
			Channel:   msg.Channel,
			AuthorID:  msg.Author.ID,
			Prompt:    msg.Text,
			Text:      text,
			Score:     entry.Score.Total,
			Level:     entry.Score.Level,
			State:     string(cyc.State),
			At:        c.now(),
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to record response")
		}
	}
}

// send delivers text, retrying once after SendRetryDelay.
func (c *Coordinator) send(ctx context.Context, h *ConnectionHandle, text, ch string) error {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
		err = h.adapter.Send(sctx, text, ch)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == 1 {
			c.logger.Warn().Err(err).Str("source", h.adapter.SourceName()).Msg("Send failed, retrying once")
			if serr := c.sleep(ctx, c.opts.SendRetryDelay); serr != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
	return fmt.Errorf("send after retry: %w", err)
}

// contextForResponse is the snapshot handed to the responder: the current
// emission window with the live state and queue depth filled in.
func (c *Coordinator) contextForResponse(cyc *attention.Cycle) chat.Snapshot {
	snap := c.track.Peek()
	snap.AttentionState = string(cyc.State)
	snap.QueueDepth = c.queue.Len()
	return snap
}

func (c *Coordinator) contextLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ContextInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.contextTick(ctx)
		}
	}
}

// contextTick emits one snapshot. It reads the queue depth but never changes
// the queue.
func (c *Coordinator) contextTick(ctx context.Context) {
	cyc := c.mach.Current()
	snap := c.track.Snapshot()
	snap.AttentionState = string(cyc.State)
	snap.QueueDepth = c.queue.Len()
	c.lastSnap.Store(&snap)

	if c.opts.Sink != nil {
		ectx, cancel := context.WithTimeout(ctx, c.opts.ContextInterval)
		err := c.opts.Sink.Emit(ectx, snap)
		cancel()
		if err != nil {
			metrics.SnapshotsEmitted.WithLabelValues("error").Inc()
			c.logger.Warn().Err(err).Str("snapshot_id", snap.ID).Msg("Context sink failed")
		} else {
			metrics.SnapshotsEmitted.WithLabelValues("ok").Inc()
		}
	}

	if it := c.mach.CheckInterrupt(nil, c.track.Context()); it != nil {
		metrics.Interrupts.WithLabelValues(string(it.Kind)).Inc()
		c.logger.Info().
			Str("kind", string(it.Kind)).
			Str("reason", it.Reason).
			Str("action", it.Kind.Action()).
			Msg("Attention interrupt")
	}
	c.superviseConnections(ctx)
}
