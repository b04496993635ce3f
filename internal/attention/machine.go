// Package attention implements the clock-driven state machine that paces how
// much of the queue the persona works through and how eagerly it responds.
package attention

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortex-attention/internal/chat"
	"github.com/normanking/cortex-attention/internal/random"
)

// TransitionFunc observes a published cycle. prev is nil for the initial one.
type TransitionFunc func(prev, next *Cycle)

// Option customizes a Machine.
type Option func(*Machine)

// WithRandom replaces the random source used for every draw.
func WithRandom(src random.Source) Option {
	return func(m *Machine) { m.rng = src }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithLogger sets the machine's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithTransitionHook registers fn to run after every published cycle.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(m *Machine) { m.hooks = append(m.hooks, fn) }
}

// Machine owns the live Cycle. Readers call Current, which never blocks and
// never observes a partially built cycle.
type Machine struct {
	cfg    Config
	rng    random.Source
	now    func() time.Time
	logger zerolog.Logger
	hooks  []TransitionFunc

	current atomic.Pointer[Cycle]

	// mu serializes transitions and guards the fields below.
	mu            sync.Mutex
	history       []Cycle
	highRun       int
	quietFrom     time.Time
	lastInterrupt *Interrupt
}

// New validates cfg and starts the machine in a state sampled from the
// configured time shares.
func New(cfg Config, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Machine{
		cfg:    cfg,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = random.New(0)
	}

	shares := make([]float64, len(States))
	for i, s := range States {
		shares[i] = cfg.Profiles[s].Share
	}
	initial := States[random.Pick(m.rng, shares)]

	m.mu.Lock()
	prev, next := m.enterLocked(initial, m.now(), "initial")
	m.mu.Unlock()
	m.notify(prev, next)
	return m, nil
}

// Current returns the live cycle.
func (m *Machine) Current() *Cycle {
	return m.current.Load()
}

// Config returns the machine's configuration.
func (m *Machine) Config() Config {
	return m.cfg
}

// History returns past cycles, oldest first.
func (m *Machine) History() []Cycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Cycle, len(m.history))
	copy(out, m.history)
	return out
}

// Advance moves to the next state if the live cycle's planned duration has
// elapsed by now. It reports whether a transition happened.
func (m *Machine) Advance(now time.Time) bool {
	m.mu.Lock()
	cur := m.current.Load()
	if now.Before(cur.EndsAt()) {
		m.mu.Unlock()
		return false
	}
	next := m.sampleNext(cur.State)
	prev, pub := m.enterLocked(next, now, "scheduled")
	m.mu.Unlock()

	m.notify(prev, pub)
	return true
}

// Force replaces the live cycle with a fresh cycle of state.
func (m *Machine) Force(state State, reason string) {
	m.mu.Lock()
	prev, next := m.enterLocked(state, m.now(), reason)
	m.mu.Unlock()
	m.notify(prev, next)
}

// Run advances the machine on every tick until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) {
	interval := m.cfg.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Advance(m.now())
		}
	}
}

// RecommendedAction describes what the persona should be doing right now.
// A recent interrupt takes precedence over the state's standing guidance.
func (m *Machine) RecommendedAction() string {
	m.mu.Lock()
	last := m.lastInterrupt
	m.mu.Unlock()

	if last != nil && m.now().Sub(last.At) <= m.cfg.InterruptMemory {
		return last.Kind.Action()
	}
	cur := m.Current()
	return m.cfg.Profiles[cur.State].Action
}

func (m *Machine) sampleNext(from State) State {
	row := m.cfg.Transitions[from]
	weights := make([]float64, len(States))
	for i, s := range States {
		weights[i] = row[s]
	}
	return States[random.Pick(m.rng, weights)]
}

// enterLocked builds and publishes a new cycle. Callers hold m.mu.
func (m *Machine) enterLocked(state State, now time.Time, reason string) (prev, next *Cycle) {
	p := m.cfg.Profiles[state]
	rate := p.ResponseRate * random.Uniform(m.rng, 1-m.cfg.RateJitter, 1+m.cfg.RateJitter)
	dur := time.Duration(float64(p.BaseDuration) * random.Uniform(m.rng, 1-m.cfg.DurationJitter, 1+m.cfg.DurationJitter))

	next = &Cycle{
		State:              state,
		StartedAt:          now,
		PlannedDuration:    dur,
		ResponseRate:       chat.Clamp(rate, 0, 1),
		BatchSize:          p.BatchSize,
		InterruptThreshold: p.InterruptThreshold,
		MinLevel:           p.MinLevel,
		Reason:             reason,
	}
	prev = m.current.Swap(next)
	if prev != nil {
		m.history = append(m.history, *prev)
		if n := m.cfg.HistorySize; n > 0 && len(m.history) > n {
			m.history = m.history[len(m.history)-n:]
		}
	}
	return prev, next
}

func (m *Machine) notify(prev, next *Cycle) {
	ev := m.logger.Info().
		Str("state", string(next.State)).
		Dur("planned", next.PlannedDuration).
		Float64("response_rate", next.ResponseRate).
		Str("reason", next.Reason)
	if prev != nil {
		ev = ev.Str("from", string(prev.State))
	}
	ev.Msg("Attention state changed")

	for _, fn := range m.hooks {
		fn(prev, next)
	}
}
