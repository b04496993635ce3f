package activity

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortex-attention/internal/chat"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTracker(c *clock) *Tracker {
	cfg := DefaultConfig()
	cfg.Now = c.Now
	cfg.StreamTopic = []string{"Minecraft", "speedrun"}
	return New(cfg)
}

func message(i int, source, text string) *chat.Message {
	return &chat.Message{
		ID:     fmt.Sprintf("m-%d", i),
		Source: source,
		Author: chat.Author{ID: fmt.Sprintf("u-%d", i)},
		Text:   text,
	}
}

func TestTracker_ObserveVelocityAndLastActivity(t *testing.T) {
	c := &clock{now: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)}
	start := c.Now()
	tr := newTracker(c)

	c.Advance(10 * time.Second)
	rc := tr.Observe(message(1, "twitch", "hello"))
	assert.Equal(t, 1, rc.Velocity)
	assert.Equal(t, start, rc.LastActivity, "silence counts from tracker start")
	assert.Equal(t, []string{"minecraft", "speedrun"}, rc.StreamTopic)

	for i := 2; i <= 5; i++ {
		c.Advance(5 * time.Second)
		rc = tr.Observe(message(i, "twitch", "hi"))
	}
	assert.Equal(t, 5, rc.Velocity)
	assert.Equal(t, c.Now().Add(-5*time.Second), rc.LastActivity)

	c.Advance(61 * time.Second)
	assert.Equal(t, 0, tr.Context().Velocity)
}

func TestTracker_QuietContext(t *testing.T) {
	c := &clock{now: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)}
	tr := newTracker(c)
	tr.Observe(message(1, "twitch", "anyone here"))

	c.Advance(6 * time.Minute)
	rc := tr.Context()
	assert.Equal(t, 6*time.Minute, rc.QuietFor())
}

func TestTracker_RecentTopics(t *testing.T) {
	c := &clock{now: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)}
	tr := newTracker(c)

	tr.Observe(message(1, "twitch", "the boss fight was wild"))
	tr.Observe(message(2, "discord", "boss fight again!"))
	tr.Observe(message(3, "twitch", "boss music slaps"))

	rc := tr.Context()
	assert.Equal(t, []string{"boss", "fight"}, rc.RecentTopics)

	c.Advance(6 * time.Minute)
	assert.Empty(t, tr.Context().RecentTopics)
}

func TestTracker_RepliesOpenThreadsAndStatements(t *testing.T) {
	c := &clock{now: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)}
	tr := newTracker(c)

	tr.RecordReply("u-7", "Pineapple pizza is actually great")
	rc := tr.Context()
	assert.Equal(t, []string{"u-7"}, rc.OpenThreads)
	assert.Equal(t, []string{"pineapple", "pizza", "actually", "great"}, rc.RecentStatements)

	c.Advance(11 * time.Minute)
	rc = tr.Context()
	assert.Empty(t, rc.OpenThreads)
	assert.Empty(t, rc.RecentStatements)
}

func TestTracker_Snapshot(t *testing.T) {
	c := &clock{now: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)}
	tr := newTracker(c)

	record := func(i int, source, text string, total float64) {
		m := message(i, source, text)
		tr.Observe(m)
		tr.RecordScore(m, chat.Score{Total: total})
	}
	record(1, "twitch", "I love this", 0.6)
	record(2, "twitch", "so boring", 0.2)
	record(3, "discord", "great stream", 0.7)

	snap := tr.Snapshot()
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, 3, snap.TotalMessages)
	assert.Equal(t, 3, snap.Velocity)
	assert.InDelta(t, 0.5, snap.AverageSalience, 1e-9)
	require.Contains(t, snap.Sources, "twitch")
	assert.Equal(t, 2, snap.Sources["twitch"].Messages)
	assert.InDelta(t, 0.4, snap.Sources["twitch"].AverageSalience, 1e-9)
	assert.InDelta(t, 0.7, snap.Sources["discord"].AverageSalience, 1e-9)
	assert.InDelta(t, 1.0/3.0, snap.Sentiment, 1e-9)
	assert.Equal(t, chat.TrendSteady, snap.Trend)

	// next window is busier
	for i := 4; i < 10; i++ {
		record(i, "twitch", "hype", 0.3)
	}
	snap = tr.Snapshot()
	assert.Equal(t, 6, snap.TotalMessages)
	assert.Equal(t, chat.TrendRising, snap.Trend)
	assert.InDelta(t, 1.0, snap.Sentiment, 1e-9)

	snap = tr.Snapshot()
	assert.Equal(t, 0, snap.TotalMessages)
	assert.Equal(t, chat.TrendFalling, snap.Trend)
	assert.Empty(t, snap.Sources)
}

func TestSentiment(t *testing.T) {
	assert.Equal(t, 0.0, Sentiment("the cat sat"))
	assert.Equal(t, 1.0, Sentiment("love it, awesome"))
	assert.Equal(t, -1.0, Sentiment("this is boring"))
	assert.Equal(t, 0.0, Sentiment("love and hate"))
}

func TestTracker_ConcurrentObserve(t *testing.T) {
	tr := New(DefaultConfig())
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				m := message(w*100+i, fmt.Sprintf("src-%d", w), "hello chat")
				tr.Observe(m)
				tr.RecordScore(m, chat.Score{Total: 0.5})
			}
		}(w)
	}
	wg.Wait()

	snap := tr.Snapshot()
	assert.Equal(t, 200, snap.TotalMessages)
	assert.Len(t, snap.Sources, 4)
}

func TestTracker_PeekKeepsWindowOpen(t *testing.T) {
	c := &clock{now: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)}
	tr := newTracker(c)
	m := message(1, "twitch", "hello")
	tr.Observe(m)
	tr.RecordScore(m, chat.Score{Total: 0.4})

	assert.Equal(t, 1, tr.Peek().TotalMessages)
	assert.Equal(t, 1, tr.Peek().TotalMessages)
	assert.Equal(t, 1, tr.Snapshot().TotalMessages)
	assert.Equal(t, 0, tr.Peek().TotalMessages)
}
