package attention

import (
	"fmt"
	"time"

	"github.com/normanking/cortex-attention/internal/chat"
)

// InterruptKind names the condition behind an interrupt.
type InterruptKind string

const (
	InterruptImmediate      InterruptKind = "immediate-response"
	InterruptQueuePriority  InterruptKind = "queue-priority"
	InterruptAttentionShift InterruptKind = "attention-shift"
	InterruptReEngage       InterruptKind = "re-engage"
)

// Action is the guidance attached to an interrupt kind.
func (k InterruptKind) Action() string {
	switch k {
	case InterruptImmediate:
		return "respond to the critical message immediately"
	case InterruptQueuePriority:
		return "work through the backlog of high-priority messages"
	case InterruptAttentionShift:
		return "chat is spiking: acknowledge the crowd before picking replies"
	case InterruptReEngage:
		return "chat has gone quiet: start a topic to re-engage viewers"
	default:
		return string(k)
	}
}

// Interrupt is an advisory signal that pacing should deviate from the live
// cycle. The machine never acts on the queue itself.
type Interrupt struct {
	Kind      InterruptKind `json:"kind"`
	Reason    string        `json:"reason"`
	At        time.Time     `json:"at"`
	MessageID string        `json:"message_id,omitempty"`
	State     State         `json:"state"`
}

// CheckInterrupt evaluates msg and rc against the interrupt rules and returns
// the most urgent signal, or nil. msg may be nil for a periodic check, in
// which case only the velocity and quiet-period rules apply.
//
// A queue-priority interrupt also forces the machine into the focused state.
func (m *Machine) CheckInterrupt(msg *chat.Message, rc chat.RollingContext) *Interrupt {
	now := rc.Now
	if now.IsZero() {
		now = m.now()
	}
	cur := m.Current()

	m.mu.Lock()
	it := m.evaluateLocked(msg, rc, now, cur)
	if it != nil {
		m.lastInterrupt = it
	}
	m.mu.Unlock()

	if it == nil {
		return nil
	}
	if it.Kind == InterruptQueuePriority && cur.State != StateFocused {
		m.Force(StateFocused, "sustained high-salience run")
	}

	m.logger.Debug().
		Str("kind", string(it.Kind)).
		Str("reason", it.Reason).
		Str("message_id", it.MessageID).
		Msg("Attention interrupt")
	return it
}

// evaluateLocked applies the rules in priority order. Callers hold m.mu.
func (m *Machine) evaluateLocked(msg *chat.Message, rc chat.RollingContext, now time.Time, cur *Cycle) *Interrupt {
	newInterrupt := func(kind InterruptKind, reason string) *Interrupt {
		it := &Interrupt{Kind: kind, Reason: reason, At: now, State: cur.State}
		if msg != nil {
			it.MessageID = msg.ID
		}
		return it
	}

	if msg != nil {
		score, scored := msg.Score()
		level := msg.Level()

		if level.AtLeast(chat.LevelHigh) {
			m.highRun++
		} else {
			m.highRun = 0
		}

		if level == chat.LevelCritical {
			return newInterrupt(InterruptImmediate, fmt.Sprintf("critical message (%.2f)", score.Total))
		}
		if scored && m.highRun >= m.cfg.HighRunLength && score.Total >= cur.InterruptThreshold {
			run := m.highRun
			m.highRun = 0
			return newInterrupt(InterruptQueuePriority, fmt.Sprintf("%d consecutive high-salience messages", run))
		}
	}

	if m.cfg.VelocityThreshold > 0 && rc.Velocity > m.cfg.VelocityThreshold {
		return newInterrupt(InterruptAttentionShift,
			fmt.Sprintf("%d messages in the last minute exceeds %d", rc.Velocity, m.cfg.VelocityThreshold))
	}

	if !rc.LastActivity.IsZero() && !rc.LastActivity.Equal(m.quietFrom) {
		if quiet := now.Sub(rc.LastActivity); quiet >= m.cfg.QuietPeriod {
			m.quietFrom = rc.LastActivity
			return newInterrupt(InterruptReEngage, fmt.Sprintf("no chat activity for %s", quiet.Round(time.Second)))
		}
	}
	return nil
}
