// Package queue implements the bounded, score-ordered holding area for
// messages awaiting a response decision.
package queue

import (
	"slices"
	"sync"
	"time"

	"github.com/normanking/cortex-attention/internal/chat"
)

const (
	DefaultCapacity = 10000
	DefaultEpsilon  = 0.01

	// tolerance absorbs float error when comparing a score gap with epsilon.
	tolerance = 1e-12
)

// Entry is one queued message together with the score it was enqueued under.
type Entry struct {
	Message    *chat.Message
	Score      chat.Score
	EnqueuedAt time.Time

	seq uint64
}

// Seq is the entry's insertion sequence number.
func (e Entry) Seq() uint64 { return e.seq }

// Stats counts the queue's lifetime operations.
type Stats struct {
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
	Enqueued uint64 `json:"enqueued"`
	Dequeued uint64 `json:"dequeued"`
	Evicted  uint64 `json:"evicted"`
	Expired  uint64 `json:"expired"`
	Drained  uint64 `json:"drained"`
}

// Config configures a Queue.
type Config struct {
	Capacity int
	// Epsilon is the score gap below which two entries are ordered by
	// insertion instead of by score.
	Epsilon float64
	Now     func() time.Time
}

// DefaultConfig returns capacity 10,000 and epsilon 0.01.
func DefaultConfig() Config {
	return Config{Capacity: DefaultCapacity, Epsilon: DefaultEpsilon, Now: time.Now}
}

// Queue is a bounded max-priority queue. Entries are kept in dequeue order:
// a later entry only moves ahead of an earlier one when its score is higher
// by at least epsilon. It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	entries []*Entry
	seq     uint64
	stats   Stats

	capacity int
	epsilon  float64
	now      func() time.Time
}

// New creates a Queue. Non-positive capacity and negative epsilon fall back to
// the defaults.
func New(cfg Config) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Epsilon < 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Queue{
		entries:  make([]*Entry, 0, min(cfg.Capacity, 1024)),
		capacity: cfg.Capacity,
		epsilon:  cfg.Epsilon,
		now:      cfg.Now,
		stats:    Stats{Capacity: cfg.Capacity},
	}
}

// Enqueue inserts msg under score. When the queue is full the entry last in
// dequeue order is evicted and returned; otherwise evicted is nil. If the
// incoming entry would itself be last, it is the one evicted.
func (q *Queue) Enqueue(msg *chat.Message, score chat.Score) (evicted *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	e := &Entry{Message: msg, Score: score, EnqueuedAt: q.now(), seq: q.seq}
	q.stats.Enqueued++

	pos := len(q.entries)
	for i, cur := range q.entries {
		if q.outranks(e, cur) {
			pos = i
			break
		}
	}

	if len(q.entries) >= q.capacity {
		last := len(q.entries) - 1
		if pos > last {
			q.stats.Evicted++
			return e
		}
		evicted = q.entries[last]
		q.entries[last] = nil
		q.entries = q.entries[:last]
		q.stats.Evicted++
	}

	q.entries = slices.Insert(q.entries, pos, e)
	return evicted
}

// Dequeue removes and returns the highest-priority entry.
func (q *Queue) Dequeue() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	q.stats.Dequeued++
	return *e, true
}

// Peek returns the entry Dequeue would return without removing it.
func (q *Queue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return *q.entries[0], true
}

// DrainByMinimumScore removes every entry whose total is at least threshold
// and returns them in priority order.
func (q *Queue) DrainByMinimumScore(threshold float64) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var drained []Entry
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.Score.Total >= threshold {
			drained = append(drained, *e)
			continue
		}
		kept = append(kept, e)
	}
	clear(q.entries[len(kept):])
	q.entries = kept
	q.stats.Drained += uint64(len(drained))
	return drained
}

// Cleanup removes entries enqueued more than maxAge ago and returns how many
// were removed.
func (q *Queue) Cleanup(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-maxAge)
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.EnqueuedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	removed := len(q.entries) - len(kept)
	clear(q.entries[len(kept):])
	q.entries = kept
	q.stats.Expired += uint64(removed)
	return removed
}

// DrainAll empties the queue and returns the number of entries discarded.
func (q *Queue) DrainAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	clear(q.entries)
	q.entries = q.entries[:0]
	return n
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Stats returns a copy of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Size = len(q.entries)
	return s
}

// Snapshot returns up to limit entries in dequeue order without removing them.
// A non-positive limit returns everything.
func (q *Queue) Snapshot(limit int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = *q.entries[i]
	}
	return out
}

// outranks reports whether a newer entry a belongs ahead of an older entry b.
func (q *Queue) outranks(a, b *Entry) bool {
	if q.epsilon == 0 {
		return a.Score.Total > b.Score.Total
	}
	return a.Score.Total-b.Score.Total >= q.epsilon-tolerance
}
