package scheduler

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortex-attention/internal/attention"
	"github.com/normanking/cortex-attention/internal/chat"
	"github.com/normanking/cortex-attention/internal/coordinator"
	"github.com/normanking/cortex-attention/internal/queue"
)

type fakePruner struct {
	cutoff time.Time
	err    error
}

func (p *fakePruner) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return 3, p.err
}

func TestNew_RegistersEnabledJobs(t *testing.T) {
	q := queue.New(queue.DefaultConfig())
	status := func() coordinator.Status { return coordinator.Status{} }

	s, err := New(DefaultConfig(), q, status, &fakePruner{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Jobs())

	s, err = New(DefaultConfig(), q, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Jobs())

	cfg := DefaultConfig()
	cfg.QueueCleanup = "every minute please"
	_, err = New(cfg, q, nil, nil, zerolog.Nop())
	assert.ErrorContains(t, err, "queue_cleanup")
}

func TestCleanupQueue_ExpiresOldEntries(t *testing.T) {
	now := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	qcfg := queue.DefaultConfig()
	qcfg.Now = func() time.Time { return now }
	q := queue.New(qcfg)

	q.Enqueue(&chat.Message{ID: "old", Source: "twitch", Author: chat.Author{ID: "u"}}, chat.Score{Total: 0.5})
	now = now.Add(8 * time.Minute)
	q.Enqueue(&chat.Message{ID: "new", Source: "twitch", Author: chat.Author{ID: "u"}}, chat.Score{Total: 0.5})
	now = now.Add(3 * time.Minute)

	s, err := New(DefaultConfig(), q, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	s.cleanupQueue()

	require.Equal(t, 1, q.Len())
	e, _ := q.Peek()
	assert.Equal(t, "new", e.Message.ID)
	assert.Equal(t, uint64(1), q.Stats().Expired)
}

func TestPruneHistory(t *testing.T) {
	var buf bytes.Buffer
	p := &fakePruner{}
	s, err := New(DefaultConfig(), nil, nil, p, zerolog.New(&buf))
	require.NoError(t, err)
	now := time.Date(2026, 5, 8, 4, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.pruneHistory()
	assert.Equal(t, now.Add(-7*24*time.Hour), p.cutoff)
	assert.Contains(t, buf.String(), `"rows":3`)

	buf.Reset()
	p.err = errors.New("database is locked")
	s.pruneHistory()
	assert.Contains(t, buf.String(), "database is locked")
}

func TestLogStats(t *testing.T) {
	var buf bytes.Buffer
	status := func() coordinator.Status {
		return coordinator.Status{
			Cycle: attention.Cycle{State: attention.StateDeep},
			Queue: queue.Stats{Size: 12},
			Connections: []coordinator.ConnectionStatus{
				{Source: "twitch", Status: coordinator.StatusConnected},
				{Source: "discord", Status: coordinator.StatusDisconnected, Exhausted: true},
			},
			Counters: coordinator.Counters{Received: 40, Responded: 6},
		}
	}
	s, err := New(DefaultConfig(), nil, status, nil, zerolog.New(&buf))
	require.NoError(t, err)

	s.logStats()
	out := buf.String()
	assert.Contains(t, out, `"state":"deep"`)
	assert.Contains(t, out, `"queue_depth":12`)
	assert.Contains(t, out, `"sources_connected":1`)
	assert.Contains(t, out, `"responded":6`)
}

func TestStartStop(t *testing.T) {
	s, err := New(DefaultConfig(), queue.New(queue.DefaultConfig()), nil, nil, zerolog.Nop())
	require.NoError(t, err)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err())
}
