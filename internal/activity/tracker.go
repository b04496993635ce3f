// Package activity maintains the rolling view of recent chat that the scoring
// engine and attention machine read, and aggregates it into periodic snapshots.
package activity

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/cortex-attention/internal/chat"
	"github.com/normanking/cortex-attention/internal/salience"
)

// Config configures a Tracker.
type Config struct {
	// Window is the trailing span used for message velocity.
	Window time.Duration
	// TopicWindow bounds how long chat keywords count as recent topics.
	TopicWindow time.Duration
	MaxTopics   int
	// ThreadTTL is how long a reply keeps a thread with its author open.
	ThreadTTL     time.Duration
	MaxStatements int
	StreamTopic   []string
	Now           func() time.Time
}

// DefaultConfig returns a 60s velocity window, 5m topics, 10m threads.
func DefaultConfig() Config {
	return Config{
		Window:        time.Minute,
		TopicWindow:   5 * time.Minute,
		MaxTopics:     10,
		ThreadTTL:     10 * time.Minute,
		MaxStatements: 5,
		Now:           time.Now,
	}
}

type topicHit struct {
	word string
	at   time.Time
}

type statement struct {
	keywords []string
	at       time.Time
}

type sourceAgg struct {
	messages int
	salience float64
}

// Tracker is safe for concurrent use by every source's delivery goroutine.
type Tracker struct {
	cfg Config

	mu           sync.Mutex
	arrivals     []time.Time
	lastActivity time.Time
	topics       []topicHit
	statements   []statement
	threads      map[string]time.Time
	streamTopic  []string

	window     map[string]*sourceAgg
	sentiment  float64
	sentimentN int
	prevCount  int
	hasPrev    bool
}

// New returns a Tracker. Silence is measured from the moment it is created
// until the first message arrives.
func New(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.TopicWindow <= 0 {
		cfg.TopicWindow = def.TopicWindow
	}
	if cfg.MaxTopics <= 0 {
		cfg.MaxTopics = def.MaxTopics
	}
	if cfg.ThreadTTL <= 0 {
		cfg.ThreadTTL = def.ThreadTTL
	}
	if cfg.MaxStatements <= 0 {
		cfg.MaxStatements = def.MaxStatements
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		cfg:          cfg,
		lastActivity: cfg.Now(),
		threads:      make(map[string]time.Time),
		streamTopic:  lower(cfg.StreamTopic),
		window:       make(map[string]*sourceAgg),
	}
}

// Observe records msg's arrival and returns the context it should be scored
// under. LastActivity in the result is the arrival before msg; Velocity
// includes msg. Arrivals are stamped with the tracker's clock, not the
// source-reported timestamp.
func (t *Tracker) Observe(msg *chat.Message) chat.RollingContext {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.cfg.Now()
	t.trimLocked(now)
	rc := t.contextLocked(now)

	t.arrivals = append(t.arrivals, now)
	rc.Velocity = len(t.arrivals)
	t.lastActivity = now
	for _, kw := range salience.Keywords(msg.Text) {
		t.topics = append(t.topics, topicHit{word: kw, at: now})
	}
	return rc
}

// Context returns the current rolling context without recording anything.
func (t *Tracker) Context() chat.RollingContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.cfg.Now()
	t.trimLocked(now)
	return t.contextLocked(now)
}

// RecordScore adds a scored message to the current emission window.
func (t *Tracker) RecordScore(msg *chat.Message, score chat.Score) {
	t.mu.Lock()
	defer t.mu.Unlock()

	agg, ok := t.window[msg.Source]
	if !ok {
		agg = &sourceAgg{}
		t.window[msg.Source] = agg
	}
	agg.messages++
	agg.salience += score.Total

	t.sentiment += Sentiment(msg.Text)
	t.sentimentN++
}

// RecordReply notes that the persona answered authorID with text. The author
// gets an open thread and the reply's keywords become a recent statement.
func (t *Tracker) RecordReply(authorID, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.cfg.Now()
	if authorID != "" {
		t.threads[authorID] = now
	}
	if kws := salience.Keywords(text); len(kws) > 0 {
		t.statements = append(t.statements, statement{keywords: kws, at: now})
		if len(t.statements) > t.cfg.MaxStatements {
			t.statements = t.statements[len(t.statements)-t.cfg.MaxStatements:]
		}
	}
}

// SetStreamTopic replaces the current stream topic keywords.
func (t *Tracker) SetStreamTopic(words []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streamTopic = lower(words)
}

// Snapshot aggregates the emission window since the previous snapshot and
// starts a new one. Attention state and queue depth are left for the caller.
func (t *Tracker) Snapshot() chat.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.buildLocked(t.cfg.Now())
	t.prevCount = snap.TotalMessages
	t.hasPrev = true
	t.window = make(map[string]*sourceAgg)
	t.sentiment, t.sentimentN = 0, 0
	return snap
}

// Peek aggregates the current emission window without closing it.
func (t *Tracker) Peek() chat.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buildLocked(t.cfg.Now())
}

func (t *Tracker) buildLocked(now time.Time) chat.Snapshot {
	t.trimLocked(now)

	snap := chat.Snapshot{
		ID:           uuid.NewString(),
		At:           now,
		Sources:      make(map[string]chat.SourceStats, len(t.window)),
		Velocity:     len(t.arrivals),
		RecentTopics: t.recentTopicsLocked(),
	}

	var sum float64
	for src, agg := range t.window {
		snap.TotalMessages += agg.messages
		sum += agg.salience
		stats := chat.SourceStats{Messages: agg.messages}
		if agg.messages > 0 {
			stats.AverageSalience = agg.salience / float64(agg.messages)
		}
		snap.Sources[src] = stats
	}
	if snap.TotalMessages > 0 {
		snap.AverageSalience = sum / float64(snap.TotalMessages)
	}
	if t.sentimentN > 0 {
		snap.Sentiment = t.sentiment / float64(t.sentimentN)
	}
	snap.Trend = trend(t.prevCount, snap.TotalMessages, t.hasPrev)
	return snap
}

func trend(prev, cur int, hasPrev bool) chat.Trend {
	switch {
	case !hasPrev:
		return chat.TrendSteady
	case float64(cur) > float64(prev)*1.2 && cur > prev:
		return chat.TrendRising
	case float64(cur) < float64(prev)*0.8:
		return chat.TrendFalling
	default:
		return chat.TrendSteady
	}
}

func (t *Tracker) contextLocked(now time.Time) chat.RollingContext {
	rc := chat.RollingContext{
		Now:          now,
		Velocity:     len(t.arrivals),
		LastActivity: t.lastActivity,
		StreamTopic:  append([]string(nil), t.streamTopic...),
		RecentTopics: t.recentTopicsLocked(),
	}
	for _, s := range t.statements {
		rc.RecentStatements = append(rc.RecentStatements, s.keywords...)
	}
	for id := range t.threads {
		rc.OpenThreads = append(rc.OpenThreads, id)
	}
	sort.Strings(rc.OpenThreads)
	return rc
}

// recentTopicsLocked ranks recent chat keywords by frequency, breaking ties
// alphabetically.
func (t *Tracker) recentTopicsLocked() []string {
	counts := make(map[string]int)
	for _, h := range t.topics {
		counts[h.word]++
	}
	words := make([]string, 0, len(counts))
	for w, n := range counts {
		if n >= 2 {
			words = append(words, w)
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > t.cfg.MaxTopics {
		words = words[:t.cfg.MaxTopics]
	}
	return words
}

func (t *Tracker) trimLocked(now time.Time) {
	cut := now.Add(-t.cfg.Window)
	i := 0
	for i < len(t.arrivals) && !t.arrivals[i].After(cut) {
		i++
	}
	t.arrivals = t.arrivals[i:]

	topicCut := now.Add(-t.cfg.TopicWindow)
	j := 0
	for j < len(t.topics) && !t.topics[j].at.After(topicCut) {
		j++
	}
	t.topics = t.topics[j:]

	for id, at := range t.threads {
		if now.Sub(at) > t.cfg.ThreadTTL {
			delete(t.threads, id)
		}
	}
	k := 0
	for k < len(t.statements) && now.Sub(t.statements[k].at) > t.cfg.ThreadTTL {
		k++
	}
	t.statements = t.statements[k:]
}

func lower(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, salience.Tokens(w)...)
	}
	return out
}
