package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/normanking/cortex-attention/internal/chat"
)

// SQLiteSink keeps a local history of snapshots and delivered responses.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at path and migrates it.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases consistent
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		at TIMESTAMP NOT NULL,
		attention_state TEXT,
		total_messages INTEGER NOT NULL DEFAULT 0,
		average_salience REAL NOT NULL DEFAULT 0,
		sentiment REAL NOT NULL DEFAULT 0,
		trend TEXT,
		velocity INTEGER NOT NULL DEFAULT 0,
		queue_depth INTEGER NOT NULL DEFAULT 0,
		sources TEXT,
		topics TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_at ON snapshots(at);

	CREATE TABLE IF NOT EXISTS responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL,
		source TEXT NOT NULL,
		channel TEXT,
		author_id TEXT,
		prompt TEXT,
		text TEXT NOT NULL,
		score REAL,
		level TEXT,
		attention_state TEXT,
		at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_responses_at ON responses(at);
	CREATE INDEX IF NOT EXISTS idx_responses_source ON responses(source);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Emit implements Sink.
func (s *SQLiteSink) Emit(ctx context.Context, snap chat.Snapshot) error {
	sources, err := json.Marshal(snap.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	topics, err := json.Marshal(snap.RecentTopics)
	if err != nil {
		return fmt.Errorf("failed to marshal topics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, at, attention_state, total_messages, average_salience,
			sentiment, trend, velocity, queue_depth, sources, topics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.At.UTC(), snap.AttentionState, snap.TotalMessages, snap.AverageSalience,
		snap.Sentiment, string(snap.Trend), snap.Velocity, snap.QueueDepth, string(sources), string(topics),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// RecordResponse implements Recorder.
func (s *SQLiteSink) RecordResponse(ctx context.Context, r Response) error {
	level, _ := r.Level.MarshalText()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO responses (message_id, source, channel, author_id, prompt, text,
			score, level, attention_state, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MessageID, r.Source, r.Channel, r.AuthorID, r.Prompt, r.Text,
		r.Score, string(level), r.State, r.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert response: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots, newest first.
func (s *SQLiteSink) RecentSnapshots(ctx context.Context, limit int) ([]chat.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, attention_state, total_messages, average_salience, sentiment,
			trend, velocity, queue_depth, sources, topics
		FROM snapshots ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []chat.Snapshot
	for rows.Next() {
		var (
			snap            chat.Snapshot
			at              time.Time
			trend           string
			sources, topics string
		)
		if err := rows.Scan(&snap.ID, &at, &snap.AttentionState, &snap.TotalMessages,
			&snap.AverageSalience, &snap.Sentiment, &trend, &snap.Velocity, &snap.QueueDepth,
			&sources, &topics); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.At = at
		snap.Trend = chat.Trend(trend)
		if err := json.Unmarshal([]byte(sources), &snap.Sources); err != nil {
			return nil, fmt.Errorf("failed to decode sources: %w", err)
		}
		if err := json.Unmarshal([]byte(topics), &snap.RecentTopics); err != nil {
			return nil, fmt.Errorf("failed to decode topics: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// RecentResponses returns up to limit responses, newest first.
func (s *SQLiteSink) RecentResponses(ctx context.Context, limit int) ([]Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, source, channel, author_id, prompt, text, score, level, attention_state, at
		FROM responses ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var out []Response
	for rows.Next() {
		var (
			r     Response
			level string
		)
		if err := rows.Scan(&r.MessageID, &r.Source, &r.Channel, &r.AuthorID, &r.Prompt, &r.Text,
			&r.Score, &level, &r.State, &r.At); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		if err := r.Level.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes snapshots and responses recorded before cutoff and returns the
// number of rows removed.
func (s *SQLiteSink) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"snapshots", "responses"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE at < ?", cutoff.UTC())
		if err != nil {
			return total, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error { return s.db.Close() }
