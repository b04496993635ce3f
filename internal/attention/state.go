package attention

import (
	"fmt"
	"math"
	"time"

	"github.com/normanking/cortex-attention/internal/chat"
)

// State is one behavioral mode of the persona.
type State string

const (
	StateFocused State = "focused"
	StateCasual  State = "casual"
	StateDeep    State = "deep"
	StateBreak   State = "break"
)

// States lists every state in a fixed order used for sampling.
var States = []State{StateFocused, StateCasual, StateDeep, StateBreak}

// Label returns a human-readable state name.
func (s State) Label() string {
	switch s {
	case StateFocused:
		return "Focused Interaction"
	case StateCasual:
		return "Casual Monitoring"
	case StateDeep:
		return "Deep Focus"
	case StateBreak:
		return "Break/Transition"
	default:
		return string(s)
	}
}

// ParseState converts a state name into a State.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown attention state %q", s)
}

// Profile is the static behavior of one state.
type Profile struct {
	// Share is the approximate fraction of time spent in the state. It is
	// used to sample the initial state.
	Share              float64
	ResponseRate       float64
	BatchSize          int
	InterruptThreshold float64
	BaseDuration       time.Duration
	// MinLevel gates which non-critical messages may be answered.
	MinLevel chat.Level
	Action   string
}

// Config configures a Machine.
type Config struct {
	Profiles    map[State]Profile
	Transitions map[State]map[State]float64

	// RateJitter and DurationJitter are relative spreads applied to each new
	// cycle's response rate and planned duration.
	RateJitter     float64
	DurationJitter float64

	HighRunLength     int
	VelocityThreshold int
	QuietPeriod       time.Duration

	HistorySize     int
	TickInterval    time.Duration
	InterruptMemory time.Duration
}

// DefaultConfig returns the standard four-state profile table.
func DefaultConfig() Config {
	return Config{
		Profiles: map[State]Profile{
			StateFocused: {
				Share: 0.40, ResponseRate: 0.8, BatchSize: 5, InterruptThreshold: 0.6,
				BaseDuration: 5 * time.Minute, MinLevel: chat.LevelMedium,
				Action: "engage actively with chat and answer questions",
			},
			StateCasual: {
				Share: 0.35, ResponseRate: 0.4, BatchSize: 3, InterruptThreshold: 0.7,
				BaseDuration: 7 * time.Minute, MinLevel: chat.LevelHigh,
				Action: "monitor chat and reply to standout messages",
			},
			StateDeep: {
				Share: 0.20, ResponseRate: 0.1, BatchSize: 1, InterruptThreshold: 0.9,
				BaseDuration: 10 * time.Minute, MinLevel: chat.LevelCritical,
				Action: "stay on the current activity and answer only critical messages",
			},
			StateBreak: {
				Share: 0.05, ResponseRate: 0.6, BatchSize: 4, InterruptThreshold: 0.5,
				BaseDuration: 2 * time.Minute, MinLevel: chat.LevelHigh,
				Action: "take a short breather and chat casually",
			},
		},
		Transitions: map[State]map[State]float64{
			StateFocused: {StateFocused: 0.40, StateCasual: 0.31, StateDeep: 0.13, StateBreak: 0.16},
			StateCasual:  {StateFocused: 0.50, StateCasual: 0.21, StateDeep: 0.13, StateBreak: 0.16},
			StateDeep:    {StateFocused: 0.50, StateCasual: 0.31, StateDeep: 0.03, StateBreak: 0.16},
			StateBreak:   {StateFocused: 0.50, StateCasual: 0.31, StateDeep: 0.13, StateBreak: 0.06},
		},
		RateJitter:        0.10,
		DurationJitter:    0.25,
		HighRunLength:     3,
		VelocityThreshold: 10,
		QuietPeriod:       5 * time.Minute,
		HistorySize:       50,
		TickInterval:      time.Second,
		InterruptMemory:   30 * time.Second,
	}
}

// Validate checks the profile table and transition matrix.
func (c Config) Validate() error {
	for _, s := range States {
		p, ok := c.Profiles[s]
		if !ok {
			return fmt.Errorf("missing profile for state %s", s)
		}
		if p.Share < 0 {
			return fmt.Errorf("state %s: share must be non-negative", s)
		}
		if p.ResponseRate < 0 || p.ResponseRate > 1 {
			return fmt.Errorf("state %s: response rate must be within [0,1]", s)
		}
		if p.InterruptThreshold < 0 || p.InterruptThreshold > 1 {
			return fmt.Errorf("state %s: interrupt threshold must be within [0,1]", s)
		}
		if p.BatchSize < 1 {
			return fmt.Errorf("state %s: batch size must be at least 1", s)
		}
		if p.BaseDuration <= 0 {
			return fmt.Errorf("state %s: base duration must be positive", s)
		}

		row, ok := c.Transitions[s]
		if !ok {
			return fmt.Errorf("missing transition row for state %s", s)
		}
		var sum float64
		for to, pr := range row {
			if _, known := c.Profiles[to]; !known {
				return fmt.Errorf("state %s: transition to unknown state %s", s, to)
			}
			if pr < 0 {
				return fmt.Errorf("state %s: negative transition probability to %s", s, to)
			}
			sum += pr
		}
		if math.Abs(sum-1) > 1e-6 {
			return fmt.Errorf("state %s: transition probabilities sum to %.4f, want 1", s, sum)
		}
	}
	if c.RateJitter < 0 || c.RateJitter >= 1 {
		return fmt.Errorf("rate jitter must be within [0,1)")
	}
	if c.DurationJitter < 0 || c.DurationJitter >= 1 {
		return fmt.Errorf("duration jitter must be within [0,1)")
	}
	if c.HighRunLength < 1 {
		return fmt.Errorf("high run length must be at least 1")
	}
	if c.QuietPeriod <= 0 {
		return fmt.Errorf("quiet period must be positive")
	}
	return nil
}

// Cycle is one timed instance of a state. Cycles are never mutated; a
// transition publishes a new one.
type Cycle struct {
	State              State         `json:"state"`
	StartedAt          time.Time     `json:"started_at"`
	PlannedDuration    time.Duration `json:"planned_duration"`
	ResponseRate       float64       `json:"response_rate"`
	BatchSize          int           `json:"batch_size"`
	InterruptThreshold float64       `json:"interrupt_threshold"`
	MinLevel           chat.Level    `json:"min_level"`
	Reason             string        `json:"reason"`
}

// EndsAt returns when the cycle's planned duration elapses.
func (c *Cycle) EndsAt() time.Time {
	return c.StartedAt.Add(c.PlannedDuration)
}

// Remaining returns the time left in the cycle as of now, never negative.
func (c *Cycle) Remaining(now time.Time) time.Duration {
	d := c.EndsAt().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
