package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/normanking/cortex-attention/internal/chat"
)

// DefaultStream is the stream snapshots are appended to.
const DefaultStream = "cortex:attention:context"

// RedisConfig holds configuration for the Redis stream sink.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Stream   string `mapstructure:"stream" yaml:"stream"`
	// MaxLen caps the stream length (approximate trimming). 0 disables it.
	MaxLen int64 `mapstructure:"max_len" yaml:"max_len"`
}

// RedisSink appends snapshots to a Redis Stream with XADD so any number of
// downstream readers can follow the persona's view of chat.
type RedisSink struct {
	rdb *redis.Client
	cfg RedisConfig
}

// NewRedisSink connects and pings Redis.
func NewRedisSink(cfg RedisConfig) (*RedisSink, error) {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisSink{rdb: rdb, cfg: cfg}, nil
}

// Emit implements Sink.
func (s *RedisSink) Emit(ctx context.Context, snap chat.Snapshot) error {
	values, err := streamValues(snap)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: values,
	}
	if s.cfg.MaxLen > 0 {
		args.MaxLen = s.cfg.MaxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// Stream returns the stream key.
func (s *RedisSink) Stream() string { return s.cfg.Stream }

// Client exposes the underlying client.
func (s *RedisSink) Client() *redis.Client { return s.rdb }

// Close closes the client.
func (s *RedisSink) Close() error { return s.rdb.Close() }

// streamValues flattens the headline fields so consumers can filter without
// decoding, and carries the full snapshot as JSON.
func streamValues(snap chat.Snapshot) (map[string]interface{}, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return map[string]interface{}{
		"id":           snap.ID,
		"at":           snap.At.UTC().Format(time.RFC3339Nano),
		"state":        snap.AttentionState,
		"messages":     snap.TotalMessages,
		"avg_salience": snap.AverageSalience,
		"trend":        string(snap.Trend),
		"queue_depth":  snap.QueueDepth,
		"snapshot":     string(data),
	}, nil
}
