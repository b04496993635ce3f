// Package tui is a terminal dashboard over a running coordinator: the current
// attention cycle, pipeline counters, the head of the priority queue and the
// health of every chat source.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/normanking/cortex-attention/internal/coordinator"
	"github.com/normanking/cortex-attention/internal/queue"
)

type Panel int

const (
	QueuePanel Panel = iota
	SourcesPanel
)

// DefaultRefresh is how often the dashboard polls when Options.Refresh is zero.
const DefaultRefresh = time.Second

// Options wires the dashboard to its data.
type Options struct {
	Status  func() coordinator.Status
	Queue   func(limit int) []queue.Entry
	Persona string
	Version string
	Refresh time.Duration
	Now     func() time.Time
}

type refreshMsg time.Time

type App struct {
	opts      Options
	startedAt time.Time

	width, height int
	currentPanel  Panel
	status        coordinator.Status
	entries       []queue.Entry
	refreshedAt   time.Time

	table   table.Model
	spinner spinner.Model
	help    help.Model
	keys    KeyMap
}

func NewApp(opts Options) *App {
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Persona == "" {
		opts.Persona = "cortex"
	}

	t := table.New(table.WithFocused(false), table.WithHeight(10))
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Foreground(Teal).Bold(true)
	styles.Selected = lipgloss.NewStyle()
	t.SetStyles(styles)

	a := &App{
		opts:      opts,
		startedAt: opts.Now(),
		table:     t,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(lipgloss.NewStyle().Foreground(Teal))),
		help:      help.New(),
		keys:      DefaultKeyMap,
	}
	a.refresh()
	return a
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.tick())
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(a.opts.Refresh, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a, tea.Quit
		case key.Matches(msg, a.keys.Tab):
			a.currentPanel = (a.currentPanel + 1) % 2
			a.syncTable()
		case key.Matches(msg, a.keys.Refresh):
			a.refresh()
		}
		return a, nil
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resize()
		return a, nil
	case refreshMsg:
		a.refresh()
		return a, a.tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

// refresh pulls fresh data from the coordinator and queue.
func (a *App) refresh() {
	if a.opts.Status != nil {
		a.status = a.opts.Status()
	}
	if a.opts.Queue != nil {
		a.entries = a.opts.Queue(50)
	}
	a.refreshedAt = a.opts.Now()
	a.syncTable()
}

func (a *App) syncTable() {
	// Columns and rows must agree in length, so clear rows before swapping.
	a.table.SetRows(nil)
	switch a.currentPanel {
	case SourcesPanel:
		a.table.SetColumns(sourceColumns)
		a.table.SetRows(sourceRows(a.status.Connections, a.opts.Now()))
	default:
		a.table.SetColumns(queueColumns)
		a.table.SetRows(queueRows(a.entries, a.opts.Now()))
	}
}

func (a *App) resize() {
	leftWidth := a.leftWidth()
	rightWidth := a.width - leftWidth - 2
	if rightWidth < 20 {
		rightWidth = 20
	}
	height := a.height - 6
	if height < 3 {
		height = 3
	}
	a.table.SetWidth(rightWidth)
	a.table.SetHeight(height)
	a.help.Width = a.width
}

func (a *App) leftWidth() int {
	return int(float64(a.width) * 0.38)
}

func (a *App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	statusBar := a.statusBarView()
	helpBar := a.help.View(a.keys)
	contentHeight := a.height - lipgloss.Height(statusBar) - lipgloss.Height(helpBar) - 2

	left := AttentionPanelStyle.Width(a.leftWidth()).Height(contentHeight).Render(a.attentionView())
	right := TablePanelStyle.Height(contentHeight).Render(a.tableView())

	layout := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	return lipgloss.JoinVertical(lipgloss.Left, statusBar, layout, helpBar)
}

func (a *App) statusBarView() string {
	now := a.opts.Now()
	state := string(a.status.Cycle.State)
	if state == "" {
		state = "starting"
	}
	running := "stopped"
	if a.status.Running {
		running = a.spinner.View() + " running"
	}
	return StatusBarStyle.Width(a.width).Render(fmt.Sprintf(
		"Cortex-Attention %s | %s | %s | %s | Uptime: %s",
		a.opts.Version, a.opts.Persona, strings.ToUpper(state), running,
		formatDuration(now.Sub(a.startedAt)),
	))
}

func (a *App) attentionView() string {
	var b strings.Builder
	now := a.opts.Now()
	c := a.status.Cycle

	b.WriteString(TitleStyle.Render("Attention") + "\n")
	if c.State == "" {
		b.WriteString(LabelStyle.Render("waiting for first cycle") + "\n")
	} else {
		remaining := c.EndsAt().Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		row(&b, "State", StateStyle(c.State).Render(strings.ToUpper(string(c.State))))
		row(&b, "Remaining", formatDuration(remaining))
		row(&b, "Reason", c.Reason)
		row(&b, "Response rate", fmt.Sprintf("%.0f%%", c.ResponseRate*100))
		row(&b, "Batch", fmt.Sprintf("%d", c.BatchSize))
		row(&b, "Min level", LevelStyle(c.MinLevel).Render(c.MinLevel.String()))
		row(&b, "Interrupt at", fmt.Sprintf("%.2f", c.InterruptThreshold))
	}
	if a.status.Action != "" {
		b.WriteString(LabelStyle.Render(a.status.Action) + "\n")
	}

	q := a.status.Queue
	b.WriteString("\n" + TitleStyle.Render("Queue") + "\n")
	row(&b, "Depth", fmt.Sprintf("%d / %d", q.Size, q.Capacity))
	row(&b, "Evicted", fmt.Sprintf("%d", q.Evicted))
	row(&b, "Expired", fmt.Sprintf("%d", q.Expired))

	n := a.status.Counters
	b.WriteString("\n" + TitleStyle.Render("Pipeline") + "\n")
	row(&b, "Received", fmt.Sprintf("%d", n.Received))
	row(&b, "Rejected", fmt.Sprintf("%d", n.Rejected))
	row(&b, "Processed", fmt.Sprintf("%d", n.Processed))
	row(&b, "Responded", fmt.Sprintf("%d", n.Responded))
	failures := fmt.Sprintf("%d", n.ResponseFailures)
	if n.ResponseFailures > 0 {
		failures = ErrorStyle.Render(failures)
	}
	row(&b, "Failures", failures)

	if s := a.status.Snapshot; s != nil {
		b.WriteString("\n" + TitleStyle.Render("Chat") + "\n")
		row(&b, "Velocity", fmt.Sprintf("%d/min", s.Velocity))
		row(&b, "Trend", string(s.Trend))
		row(&b, "Sentiment", fmt.Sprintf("%+.2f", s.Sentiment))
		if len(s.RecentTopics) > 0 {
			row(&b, "Topics", strings.Join(s.RecentTopics, ", "))
		}
	}
	return b.String()
}

func (a *App) tableView() string {
	title := "Queue"
	if a.currentPanel == SourcesPanel {
		title = "Sources"
	}
	return TitleStyle.Render(" "+title) + "\n" + a.table.View()
}

func row(b *strings.Builder, label, value string) {
	b.WriteString(LabelStyle.Render(fmt.Sprintf("%-14s", label)))
	b.WriteString(value)
	b.WriteString("\n")
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Run blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	p := tea.NewProgram(NewApp(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
