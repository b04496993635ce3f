// Package sink delivers context snapshots to external consumers. Every sink
// is best effort: the coordinator logs an Emit error and carries on.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortex-attention/internal/chat"
)

// Sink receives one snapshot per context tick.
type Sink interface {
	Emit(ctx context.Context, snap chat.Snapshot) error
}

// Response is a reply the persona actually delivered.
type Response struct {
	MessageID string     `json:"message_id"`
	Source    string     `json:"source"`
	Channel   string     `json:"channel"`
	AuthorID  string     `json:"author_id"`
	Prompt    string     `json:"prompt"`
	Text      string     `json:"text"`
	Score     float64    `json:"score"`
	Level     chat.Level `json:"level"`
	State     string     `json:"state"`
	At        time.Time  `json:"at"`
}

// Recorder persists delivered responses.
type Recorder interface {
	RecordResponse(ctx context.Context, r Response) error
}

// Multi fans a snapshot out to several sinks and joins their errors.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, snap chat.Snapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", s, err))
		}
	}
	return errors.Join(errs...)
}

// RecordResponse forwards to every member that is also a Recorder.
func (m Multi) RecordResponse(ctx context.Context, r Response) error {
	var errs []error
	for _, s := range m {
		if rec, ok := s.(Recorder); ok {
			if err := rec.RecordResponse(ctx, r); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every member that has a Close method.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Log writes snapshots to a zerolog logger.
type Log struct {
	logger zerolog.Logger
}

// NewLog returns a sink that logs each snapshot at info level.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

// Emit implements Sink.
func (l *Log) Emit(_ context.Context, snap chat.Snapshot) error {
	sources := zerolog.Dict()
	for name, st := range snap.Sources {
		sources = sources.Dict(name, zerolog.Dict().
			Int("messages", st.Messages).
			Float64("avg_salience", st.AverageSalience))
	}
	l.logger.Info().
		Str("snapshot_id", snap.ID).
		Int("messages", snap.TotalMessages).
		Float64("avg_salience", snap.AverageSalience).
		Float64("sentiment", snap.Sentiment).
		Str("trend", string(snap.Trend)).
		Int("velocity", snap.Velocity).
		Str("state", snap.AttentionState).
		Int("queue_depth", snap.QueueDepth).
		Strs("topics", snap.RecentTopics).
		Dict("sources", sources).
		Msg("Context snapshot")
	return nil
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, snap chat.Snapshot) error

// Emit implements Sink.
func (f Func) Emit(ctx context.Context, snap chat.Snapshot) error { return f(ctx, snap) }
