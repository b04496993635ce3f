package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortex-attention/internal/attention"
	"github.com/normanking/cortex-attention/internal/chat"
	"github.com/normanking/cortex-attention/internal/coordinator"
	"github.com/normanking/cortex-attention/internal/queue"
)

var t0 = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

type fixture struct {
	polls int
	now   time.Time
}

func (f *fixture) options() Options {
	return Options{
		Persona: "nova",
		Version: "v0.1.0",
		Now:     func() time.Time { return f.now },
		Status: func() coordinator.Status {
			f.polls++
			return coordinator.Status{
				Running: true,
				Cycle: attention.Cycle{
					State:           attention.StateFocused,
					StartedAt:       t0,
					PlannedDuration: 5 * time.Minute,
					ResponseRate:    0.4,
					BatchSize:       3,
					MinLevel:        chat.LevelMedium,
					Reason:          "scheduled",
				},
				Action: "engage with chat",
				Queue:  queue.Stats{Size: 1, Capacity: 10000},
				Counters: coordinator.Counters{
					Received:         int64(10 * f.polls),
					ResponseFailures: 1,
				},
				Connections: []coordinator.ConnectionStatus{
					{Source: "twitch", Status: coordinator.StatusConnected, ConnectedAt: t0},
					{Source: "discord", Status: coordinator.StatusDisconnected, ConsecutiveFailures: 5, Exhausted: true, LastError: errors.New("401 unauthorized").Error()},
				},
				Snapshot: &chat.Snapshot{Velocity: 12, Trend: chat.TrendRising, RecentTopics: []string{"speedrun"}},
			}
		},
		Queue: func(limit int) []queue.Entry {
			return []queue.Entry{{
				Message: &chat.Message{
					ID: "m1", Source: "twitch",
					Author: chat.Author{ID: "u1", DisplayName: "viewer42"},
					Text:   "what seed is this?",
				},
				Score:      chat.Score{Total: 0.62, Level: chat.LevelHigh},
				EnqueuedAt: t0,
			}}
		},
	}
}

func sized(t *testing.T, a *App) *App {
	t.Helper()
	m, cmd := a.Update(tea.WindowSizeMsg{Width: 160, Height: 40})
	assert.Nil(t, cmd)
	return m.(*App)
}

func TestApp_InitializingBeforeSize(t *testing.T) {
	f := &fixture{now: t0}
	a := NewApp(f.options())
	assert.Equal(t, "Initializing...", a.View())
	assert.Equal(t, 1, f.polls)
}

func TestApp_ViewShowsCycleAndQueue(t *testing.T) {
	f := &fixture{now: t0.Add(90 * time.Second)}
	a := sized(t, NewApp(f.options()))

	view := a.View()
	assert.Contains(t, view, "Cortex-Attention v0.1.0")
	assert.Contains(t, view, "nova")
	assert.Contains(t, view, "FOCUSED")
	assert.Contains(t, view, "00:03:30")
	assert.Contains(t, view, "40%")
	assert.Contains(t, view, "engage with chat")
	assert.Contains(t, view, "12/min")
	assert.Contains(t, view, "speedrun")
	assert.Contains(t, view, "viewer42")
	assert.Contains(t, view, "what seed is this?")
	assert.Contains(t, view, "0.620")
}

func TestApp_TabSwitchesToSources(t *testing.T) {
	f := &fixture{now: t0.Add(2 * time.Minute)}
	a := sized(t, NewApp(f.options()))

	m, _ := a.Update(tea.KeyMsg{Type: tea.KeyTab})
	a = m.(*App)
	require.Equal(t, SourcesPanel, a.currentPanel)

	view := a.View()
	assert.Contains(t, view, "Sources")
	assert.Contains(t, view, "exhausted")
	assert.Contains(t, view, "401 unauthorized")
	assert.Contains(t, view, "2m")
	assert.NotContains(t, view, "what seed is this?")

	m, _ = a.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, QueuePanel, m.(*App).currentPanel)
}

func TestApp_RefreshPollsAndReschedules(t *testing.T) {
	f := &fixture{now: t0}
	a := NewApp(f.options())

	_, cmd := a.Update(refreshMsg(t0.Add(time.Second)))
	assert.NotNil(t, cmd)
	assert.Equal(t, 2, f.polls)
	assert.Equal(t, int64(20), a.status.Counters.Received)

	_, cmd = a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.Nil(t, cmd)
	assert.Equal(t, 3, f.polls)
}

func TestApp_Quit(t *testing.T) {
	f := &fixture{now: t0}
	a := NewApp(f.options())

	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestApp_WaitingWithoutCycle(t *testing.T) {
	a := sized(t, NewApp(Options{Now: func() time.Time { return t0 }}))
	view := a.View()
	assert.Contains(t, view, "waiting for first cycle")
	assert.Contains(t, view, "STARTING")
	assert.Contains(t, view, "stopped")
}

func TestTruncateAndAge(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "45s", shortAge(45*time.Second))
	assert.Equal(t, "3m", shortAge(3*time.Minute))
	assert.Equal(t, "2h", shortAge(2*time.Hour))
	assert.Equal(t, "01:02:03", formatDuration(time.Hour+2*time.Minute+3*time.Second))
}
