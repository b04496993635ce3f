package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortex-attention/internal/activity"
	"github.com/normanking/cortex-attention/internal/attention"
	"github.com/normanking/cortex-attention/internal/channel"
	"github.com/normanking/cortex-attention/internal/chat"
	"github.com/normanking/cortex-attention/internal/queue"
	"github.com/normanking/cortex-attention/internal/random"
	"github.com/normanking/cortex-attention/internal/salience"
	"github.com/normanking/cortex-attention/internal/sink"
)

var errRefused = errors.New("connection refused")

type sent struct {
	text    string
	channel string
}

type mockAdapter struct {
	name string

	mu            sync.Mutex
	inbound       channel.InboundFunc
	connected     bool
	connectCalls  int
	failConnects  int // remaining connect failures; -1 fails forever
	failSends     int // remaining send failures
	sends         []sent
	sendAttempts  int
	disconnectErr error
}

func newMockAdapter(name string) *mockAdapter {
	return &mockAdapter{name: name}
}

func (m *mockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
	if m.failConnects != 0 {
		if m.failConnects > 0 {
			m.failConnects--
		}
		return errRefused
	}
	m.connected = true
	return nil
}

func (m *mockAdapter) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return m.disconnectErr
}

func (m *mockAdapter) Send(ctx context.Context, text, ch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendAttempts++
	if m.failSends > 0 {
		m.failSends--
		return errors.New("write: broken pipe")
	}
	m.sends = append(m.sends, sent{text: text, channel: ch})
	return nil
}

func (m *mockAdapter) RegisterInboundCallback(fn channel.InboundFunc) {
	m.mu.Lock()
	m.inbound = fn
	m.mu.Unlock()
}

func (m *mockAdapter) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockAdapter) SourceName() string { return m.name }

func (m *mockAdapter) deliver(msg *chat.Message) {
	m.mu.Lock()
	fn := m.inbound
	m.mu.Unlock()
	fn(msg)
}

func (m *mockAdapter) dropSession() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

func (m *mockAdapter) sentMessages() []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sent(nil), m.sends...)
}

func (m *mockAdapter) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls
}

type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleep) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, w := range r.waits {
		sum += w
	}
	return sum
}

type fixture struct {
	c        *Coordinator
	adapters map[string]*mockAdapter
	sleep    *recordingSleep
	replies  atomic.Int64
}

// newFixture builds a coordinator whose attention machine starts in the
// state picked by machineDraw and whose eligibility draws always return
// eligibilityDraw.
func newFixture(t *testing.T, machineDraw, eligibilityDraw float64, mutate func(*Options), names ...string) *fixture {
	t.Helper()
	if len(names) == 0 {
		names = []string{"twitch"}
	}

	engine, err := salience.NewEngine(salience.DefaultConfig("cortex"))
	require.NoError(t, err)
	mach, err := attention.New(attention.DefaultConfig(), attention.WithRandom(random.NewSequence(machineDraw, 0.5, 0.5)))
	require.NoError(t, err)

	f := &fixture{adapters: map[string]*mockAdapter{}, sleep: &recordingSleep{}}
	var adapters []channel.Adapter
	for _, n := range names {
		a := newMockAdapter(n)
		f.adapters[n] = a
		adapters = append(adapters, a)
	}

	opts := Options{
		Adapters: adapters,
		Engine:   engine,
		Queue:    queue.New(queue.DefaultConfig()),
		Machine:  mach,
		Tracker:  activity.New(activity.DefaultConfig()),
		Respond: func(ctx context.Context, msg *chat.Message, snap chat.Snapshot) (string, bool, error) {
			f.replies.Add(1)
			return "re: " + msg.Text, true, nil
		},
		Logger: zerolog.Nop(),
		Random: random.NewSequence(eligibilityDraw),
		Sleep:  f.sleep.Sleep,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.c, err = New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { f.c.Shutdown(context.Background()) })
	return f
}

func scored(id, source string, total float64) (*chat.Message, chat.Score) {
	m := &chat.Message{
		ID:        id,
		Source:    source,
		Channel:   "main",
		Author:    chat.Author{ID: "author-" + id},
		Text:      "text " + id,
		ArrivedAt: time.Now(),
	}
	s := chat.Score{Total: total, Level: chat.LevelFor(total)}
	_ = m.AttachScore(s)
	return m, s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	engine, _ := salience.NewEngine(salience.DefaultConfig("x"))
	mach, _ := attention.New(attention.DefaultConfig())
	base := Options{
		Engine:  engine,
		Queue:   queue.New(queue.DefaultConfig()),
		Machine: mach,
		Tracker: activity.New(activity.DefaultConfig()),
	}
	dup := base
	dup.Adapters = []channel.Adapter{newMockAdapter("a"), newMockAdapter("a")}
	_, err = New(dup)
	assert.ErrorContains(t, err, "duplicate")
}

func TestConnectAll_BackoffExhaustion(t *testing.T) {
	f := newFixture(t, 0.0, 0.0, nil, "twitch")
	a := f.adapters["twitch"]
	a.failConnects = -1

	err := f.c.ConnectAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxAttempts)

	assert.Equal(t, 5, a.calls())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second}, f.sleep.waits)
	assert.GreaterOrEqual(t, f.sleep.total(), 75*time.Second)

	st := f.c.Status().Connections[0]
	assert.Equal(t, StatusDisconnected, st.Status)
	assert.True(t, st.Exhausted)
	assert.Equal(t, 5, st.ConsecutiveFailures)
	assert.Contains(t, st.LastError, "refused")

	// no sixth automatic attempt
	require.NoError(t, f.c.ConnectAll(context.Background()))
	f.c.superviseConnections(context.Background())
	assert.Equal(t, 5, a.calls())
}

func TestReconnect_ManualAfterExhaustion(t *testing.T) {
	f := newFixture(t, 0.0, 0.0, nil, "twitch")
	a := f.adapters["twitch"]
	a.failConnects = -1
	require.Error(t, f.c.ConnectAll(context.Background()))

	a.mu.Lock()
	a.failConnects = 1
	a.mu.Unlock()

	require.NoError(t, f.c.Reconnect(context.Background(), "twitch"))
	assert.Equal(t, 7, a.calls())

	st := f.c.Status().Connections[0]
	assert.Equal(t, StatusConnected, st.Status)
	assert.False(t, st.Exhausted)
	assert.Zero(t, st.ConsecutiveFailures)

	err := f.c.Reconnect(context.Background(), "kick")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestConnectAll_FailureIsolated(t *testing.T) {
	f := newFixture(t, 0.0, 0.0, nil, "twitch", "discord")
	f.adapters["discord"].failConnects = -1

	err := f.c.ConnectAll(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "discord")
	assert.NotContains(t, err.Error(), "twitch")

	byName := map[string]ConnectionStatus{}
	for _, s := range f.c.Status().Connections {
		byName[s.Source] = s
	}
	assert.Equal(t, StatusConnected, byName["twitch"].Status)
	assert.True(t, byName["discord"].Exhausted)
	assert.Equal(t, 1, f.adapters["twitch"].calls())
}

func TestConnectLoop_CancelledDuringBackoff(t *testing.T) {
	f := newFixture(t, 0.0, 0.0, func(o *Options) {
		o.Sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }
	}, "twitch")
	f.adapters["twitch"].failConnects = -1

	err := f.c.ConnectAll(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	st := f.c.Status().Connections[0]
	assert.False(t, st.Exhausted)
	assert.Equal(t, StatusDisconnected, st.Status)
}

func TestHandleInbound_RejectsInvalidAndQueuesValid(t *testing.T) {
	f := newFixture(t, 0.0, 0.0, nil)
	a := f.adapters["twitch"]

	a.deliver(&chat.Message{ID: "bad", Source: "twitch"})
	a.deliver(&chat.Message{
		ID: "m-1", Source: "twitch", Channel: "main",
		Author: chat.Author{ID: "u-1"}, Text: "@cortex what game is this?",
		Mentions: []string{"cortex"}, ArrivedAt: time.Now(),
	})

	ctr := f.c.Counters()
	assert.Equal(t, int64(2), ctr.Received)
	assert.Equal(t, int64(1), ctr.Rejected)
	require.Equal(t, 1, f.c.queue.Len())

	e, ok := f.c.queue.Peek()
	require.True(t, ok)
	s, scoredOK := e.Message.Score()
	assert.True(t, scoredOK)
	assert.Equal(t, s, e.Score)
	assert.Greater(t, s.Total, 0.0)
}

func TestHandleInbound_AlreadyScoredIsRejected(t *testing.T) {
	f := newFixture(t, 0.0, 0.0, nil)
	m, _ := scored("m-1", "twitch", 0.5)
	f.adapters["twitch"].deliver(m)
	assert.Equal(t, int64(1), f.c.Counters().Rejected)
	assert.Zero(t, f.c.queue.Len())
}

func TestHandleInbound_EvictionCounted(t *testing.T) {
	f := newFixture(t, 0.0, 0.0, func(o *Options) {
		o.Queue = queue.New(queue.Config{Capacity: 2, Epsilon: queue.DefaultEpsilon})
	})
	for i := 0; i < 3; i++ {
		f.adapters["twitch"].deliver(&chat.Message{
			ID: fmt.Sprintf("m-%d", i), Source: "twitch",
			Author: chat.Author{ID: "u"}, Text: "hello", ArrivedAt: time.Now(),
		})
	}
	assert.Equal(t, 2, f.c.queue.Len())
	assert.Equal(t, int64(1), f.c.Counters().Evicted)
}

func TestProcessTick_BatchSizeAndEligibility(t *testing.T) {
	// focused: batch 5, min level medium; the eligibility draw 0.0 always wins
	f := newFixture(t, 0.0, 0.0, nil)
	require.Equal(t, attention.StateFocused, f.c.mach.Current().State)
	a := f.adapters["twitch"]
	require.NoError(t, a.Connect(context.Background()))

	for i, total := range []float64{0.9, 0.7, 0.5, 0.3, 0.45, 0.65, 0.55} {
		m, s := scored(fmt.Sprintf("m-%d", i), "twitch", total)
		f.c.queue.Enqueue(m, s)
	}

	f.c.processTick(context.Background())

	assert.Equal(t, 2, f.c.queue.Len(), "only a batch of five is taken")
	got := a.sentMessages()
	require.Len(t, got, 5)
	assert.Equal(t, "re: text m-0", got[0].text)
	assert.Equal(t, "re: text m-1", got[1].text)
	assert.Equal(t, "re: text m-5", got[2].text)
	assert.Equal(t, "main", got[0].channel)

	ctr := f.c.Counters()
	assert.Equal(t, int64(5), ctr.Processed)
	assert.Equal(t, int64(5), ctr.Responded)

	rc := f.c.track.Context()
	assert.True(t, rc.HasOpenThread("author-m-0"))
}

func TestProcessTick_CriticalBypassesDeepFocus(t *testing.T) {
	// deep: batch 1, critical only; eligibility draw 0.99 never wins
	f := newFixture(t, 0.8, 0.99, nil)
	require.Equal(t, attention.StateDeep, f.c.mach.Current().State)
	a := f.adapters["twitch"]
	require.NoError(t, a.Connect(context.Background()))

	m, s := scored("crit", "twitch", 0.95)
	f.c.queue.Enqueue(m, s)
	f.c.processTick(context.Background())
	require.Len(t, a.sentMessages(), 1)

	m, s = scored("high", "twitch", 0.75)
	f.c.queue.Enqueue(m, s)
	f.c.processTick(context.Background())
	assert.Len(t, a.sentMessages(), 1)
	assert.Equal(t, int64(2), f.c.Counters().Processed)
}

func TestProcessTick_ResponseRateDraw(t *testing.T) {
	// casual: min level high, response rate ~0.4
	f := newFixture(t, 0.5, 0.39, nil)
	require.Equal(t, attention.StateCasual, f.c.mach.Current().State)
	a := f.adapters["twitch"]
	require.NoError(t, a.Connect(context.Background()))

	m, s := scored("high", "twitch", 0.7)
	f.c.queue.Enqueue(m, s)
	f.c.processTick(context.Background())
	assert.Len(t, a.sentMessages(), 1)

	f2 := newFixture(t, 0.5, 0.41, nil)
	a2 := f2.adapters["twitch"]
	require.NoError(t, a2.Connect(context.Background()))
	m, s = scored("high", "twitch", 0.7)
	f2.c.queue.Enqueue(m, s)
	f2.c.processTick(context.Background())
	assert.Empty(t, a2.sentMessages())
	assert.Equal(t, int64(1), f2.c.Counters().Processed)
}

func TestSend_RetriesOnce(t *testing.T) {
	f := newFixture(t, 0.0, 0.0, nil)
	a := f.adapters["twitch"]
	require.NoError(t, a.Connect(context.Background()))
	a.failSends = 1

	m, s := scored("m-1", "twitch", 0.9)
	f.c.queue.Enqueue(m, s)
	f.c.processTick(context.Background())

	assert.Len(t, a.sentMessages(), 1)
	assert.Equal(t, 2, a.sendAttempts)
	assert.Equal(t, int64(1), f.c.Counters().Responded)

	a.failSends = 2
	m, s = scored("m-2", "twitch", 0.9)
	f.c.queue.Enqueue(m, s)
	f.c.processTick(context.Background())

	assert.Equal(t, 4, a.sendAttempts, "no third attempt")
	ctr := f.c.Counters()
	assert.Equal(t, int64(1), ctr.Responded)
	assert.Equal(t, int64(1), ctr.ResponseFailures)
	assert.Zero(t, f.c.queue.Len(), "failed sends are not re-enqueued")
}

func TestProcessTick_ResponderFailureMeansNoResponse(t *testing.T) {
	f := newFixture(t, 0.0, 0.0, func(o *Options) {
		o.Respond = func(context.Context, *chat.Message, chat.Snapshot) (string, bool, error) {
			return "", false, errors.New("model timeout")
		}
	})
	a := f.adapters["twitch"]
	require.NoError(t, a.Connect(context.Background()))

	for i := 0; i < 2; i++ {
		m, s := scored(fmt.Sprintf("m-%d", i), "twitch", 0.9)
		f.c.queue.Enqueue(m, s)
	}
	f.c.processTick(context.Background())

	assert.Empty(t, a.sentMessages())
	ctr := f.c.Counters()
	assert.Equal(t, int64(2), ctr.Processed)
	assert.Equal(t, int64(2), ctr.ResponseFailures)
}

type recorder struct {
	mu        sync.Mutex
	snaps     []chat.Snapshot
	responses []sink.Response
}

func (r *recorder) Emit(_ context.Context, s chat.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
	return nil
}

func (r *recorder) RecordResponse(_ context.Context, resp sink.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
	return nil
}

func TestProcessTick_RecordsResponses(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, 0.0, 0.0, func(o *Options) { o.Recorder = rec })
	require.NoError(t, f.adapters["twitch"].Connect(context.Background()))

	m, s := scored("m-1", "twitch", 0.85)
	f.c.queue.Enqueue(m, s)
	f.c.processTick(context.Background())

	require.Len(t, rec.responses, 1)
	r := rec.responses[0]
	assert.Equal(t, "m-1", r.MessageID)
	assert.Equal(t, "re: text m-1", r.Text)
	assert.Equal(t, chat.LevelCritical, r.Level)
	assert.Equal(t, "focused", r.State)
}

func TestContextTick_EmitsWithoutTouchingQueue(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, 0.5, 0.0, func(o *Options) { o.Sink = rec })
	a := f.adapters["twitch"]

	for i := 0; i < 3; i++ {
		a.deliver(&chat.Message{
			ID: fmt.Sprintf("m-%d", i), Source: "twitch",
			Author: chat.Author{ID: "u"}, Text: "nice play", ArrivedAt: time.Now(),
		})
	}
	before := f.c.queue.Stats()

	f.c.contextTick(context.Background())

	require.Len(t, rec.snaps, 1)
	snap := rec.snaps[0]
	assert.Equal(t, 3, snap.TotalMessages)
	assert.Equal(t, "casual", snap.AttentionState)
	assert.Equal(t, 3, snap.QueueDepth)
	assert.Equal(t, before, f.c.queue.Stats())

	require.NotNil(t, f.c.Status().Snapshot)
	assert.Equal(t, snap.ID, f.c.Status().Snapshot.ID)
}

func TestContextTick_SinkErrorIsNotFatal(t *testing.T) {
	calls := 0
	f := newFixture(t, 0.0, 0.0, func(o *Options) {
		o.Sink = sink.Func(func(context.Context, chat.Snapshot) error {
			calls++
			return errors.New("redis down")
		})
	})
	f.c.contextTick(context.Background())
	f.c.contextTick(context.Background())
	assert.Equal(t, 2, calls)
}

func TestContextTick_ReconnectsDroppedSource(t *testing.T) {
	f := newFixture(t, 0.0, 0.0, nil)
	a := f.adapters["twitch"]
	require.NoError(t, f.c.ConnectAll(context.Background()))
	a.dropSession()

	f.c.contextTick(f.c.life)
	assert.Eventually(t, func() bool {
		return a.IsConnected() && f.c.Status().Connections[0].Status == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, a.calls())
}

func TestTryProcess_SkipsWhileRunning(t *testing.T) {
	f := newFixture(t, 0.0, 0.0, nil)
	f.c.processing.Store(true)

	assert.False(t, f.c.tryProcess(context.Background(), "scheduled"))
	assert.False(t, f.c.tryProcess(context.Background(), "interrupt"))
	assert.Equal(t, int64(1), f.c.Counters().TicksSkipped)

	f.c.processing.Store(false)
	assert.True(t, f.c.tryProcess(context.Background(), "scheduled"))
	f.c.ticks.Wait()
}

func TestShutdown_DrainsAndCounts(t *testing.T) {
	f := newFixture(t, 0.0, 0.0, nil, "twitch", "discord")
	require.NoError(t, f.c.ConnectAll(context.Background()))
	f.adapters["discord"].disconnectErr = errors.New("close timeout")

	for i := 0; i < 4; i++ {
		m, s := scored(fmt.Sprintf("m-%d", i), "twitch", 0.3)
		f.c.queue.Enqueue(m, s)
	}
	f.c.Start()

	ctr := f.c.Shutdown(context.Background())
	assert.Equal(t, int64(1), ctr.DisconnectedWithoutDrain)
	assert.Equal(t, ctr.Discarded+ctr.Processed, int64(4))
	assert.Zero(t, f.c.queue.Len())
	assert.False(t, f.adapters["twitch"].IsConnected())
	assert.False(t, f.c.Status().Running)

	// inbound after shutdown is counted as received and rejected, never queued
	f.adapters["twitch"].deliver(&chat.Message{ID: "late", Source: "twitch", Author: chat.Author{ID: "u"}, Text: "hi"})
	assert.Zero(t, f.c.queue.Len())
	live := f.c.Counters()
	assert.Equal(t, ctr.Received+1, live.Received)
	assert.Equal(t, ctr.Rejected+1, live.Rejected)
	assert.Equal(t, ctr, f.c.Shutdown(context.Background()))
}

func TestShutdown_NothingQueuedAfterDrain(t *testing.T) {
	f := newFixture(t, 0.0, 0.0, nil)
	f.c.Start()

	var (
		wg   sync.WaitGroup
		stop atomic.Bool
		sent atomic.Int64
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; !stop.Load(); i++ {
				f.adapters["twitch"].deliver(&chat.Message{
					ID: fmt.Sprintf("w%d-%d", w, i), Source: "twitch",
					Author: chat.Author{ID: "u"}, Text: "hello", ArrivedAt: time.Now(),
				})
				sent.Add(1)
			}
		}(w)
	}

	require.Eventually(t, func() bool { return sent.Load() > 50 }, time.Second, time.Millisecond)
	final := f.c.Shutdown(context.Background())
	require.Eventually(t, func() bool { return f.c.Counters().Rejected > final.Rejected }, time.Second, time.Millisecond)
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, f.c.queue.Len())
	assert.Equal(t, sent.Load(), f.c.Counters().Received)
}

func TestRun_CriticalMessageAnsweredEndToEnd(t *testing.T) {
	f := newFixture(t, 0.8, 0.99, func(o *Options) {
		o.ProcessInterval = time.Hour
		o.ContextInterval = time.Hour
		cfg := activity.DefaultConfig()
		cfg.StreamTopic = []string{"game"}
		o.Tracker = activity.New(cfg)
	})
	a := f.adapters["twitch"]
	require.NoError(t, f.c.ConnectAll(context.Background()))
	f.c.Start()

	tenure := 400 * 24 * time.Hour
	a.deliver(&chat.Message{
		ID: "m-1", Source: "twitch", Channel: "main",
		Author: chat.Author{
			ID: "u-1", DisplayName: "mod",
			Roles:  chat.Roles{Subscriber: true, Moderator: true},
			Tenure: &tenure,
		},
		Text:      "@cortex are you excited to play this game together?",
		Mentions:  []string{"cortex"},
		ArrivedAt: time.Now(),
	})

	// the immediate-response interrupt wakes the processing loop long before
	// the hourly tick
	assert.Eventually(t, func() bool { return len(a.sentMessages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	ctr := f.c.Shutdown(context.Background())
	assert.Equal(t, int64(1), ctr.Responded)
}
