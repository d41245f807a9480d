package taskscmder

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/progress"
	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/papercomputeco/quarry/pkg/utils"
	"github.com/papercomputeco/quarry/pkg/vectorize"
)

// maxWatchRows caps the task rows drawn by the watch view.
const maxWatchRows = 15

var (
	watchTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	watchMutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	watchOKStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("70"))
	watchFailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	watchRunningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	watchErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// taskSource is the subset of the API client the watch view polls.
type taskSource interface {
	ListTasks(ctx context.Context) ([]vectorize.Task, error)
	TaskStats(ctx context.Context) (*vectorize.Stats, error)
}

type watchKeyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Quit}
}

func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultWatchKeyMap() watchKeyMap {
	return watchKeyMap{
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type tasksLoadedMsg struct {
	tasks []vectorize.Task
	stats *vectorize.Stats
	err   error
}

type pollMsg time.Time

type watchModel struct {
	ctx      context.Context
	source   taskSource
	interval time.Duration

	tasks   []vectorize.Task
	stats   *vectorize.Stats
	err     error
	updated time.Time

	spinner spinner.Model
	bar     progress.Model
	keys    watchKeyMap
	help    help.Model
	width   int
}

func newWatchModel(ctx context.Context, source taskSource, interval time.Duration) watchModel {
	if interval <= 0 {
		interval = time.Second
	}
	return watchModel{
		ctx:      ctx,
		source:   source,
		interval: interval,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(watchRunningStyle),
		),
		bar: progress.New(
			progress.WithWidth(progressWidth),
			progress.WithColors(lipgloss.Color("214")),
		),
		keys: defaultWatchKeyMap(),
		help: help.New(),
	}
}

func (c *tasksCommander) runWatch(ctx context.Context, in io.Reader) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	ctx = orBackground(ctx)

	program := tea.NewProgram(newWatchModel(ctx, api, c.interval),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(c.out),
	)
	_, err = program.Run()
	return err
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m watchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		tasks, err := m.source.ListTasks(m.ctx)
		if err != nil {
			return tasksLoadedMsg{err: err}
		}
		stats, err := m.source.TaskStats(m.ctx)
		return tasksLoadedMsg{tasks: tasks, stats: stats, err: err}
	}
}

func (m watchModel) poll() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.SetWidth(msg.Width)
		return m, nil

	case tea.KeyPressMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch()
		}
		return m, nil

	case tasksLoadedMsg:
		// The last good snapshot stays on screen when a poll fails.
		m.err = msg.err
		if msg.err == nil {
			m.tasks = msg.tasks
			m.stats = msg.stats
			m.updated = time.Now()
		}
		return m, m.poll()

	case pollMsg:
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() tea.View {
	var b strings.Builder

	b.WriteString(watchTitleStyle.Render("quarry tasks"))
	if m.active() > 0 {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n\n")

	if m.stats != nil {
		s := m.stats
		fmt.Fprintf(&b, "%s  %s\n",
			m.bar.ViewAs(m.overall()),
			watchMutedStyle.Render(fmt.Sprintf("%d/%d done  %d processing  %d pending  %d failed  %d workers",
				s.Completed+s.Failed, s.Total, s.Processing, s.Pending, s.Failed, s.Workers)),
		)
		b.WriteString("\n")
	}

	if len(m.tasks) == 0 && m.err == nil {
		b.WriteString(watchMutedStyle.Render("No tasks yet.") + "\n")
	}
	for i, t := range m.tasks {
		if i == maxWatchRows {
			b.WriteString(watchMutedStyle.Render(fmt.Sprintf("  ... %d more", len(m.tasks)-maxWatchRows)) + "\n")
			break
		}
		b.WriteString(m.row(t) + "\n")
	}

	if m.err != nil {
		b.WriteString("\n" + watchErrorStyle.Render("error: "+m.err.Error()) + "\n")
	}
	if !m.updated.IsZero() {
		b.WriteString("\n" + watchMutedStyle.Render("updated "+m.updated.Format(time.TimeOnly)))
	}
	b.WriteString("\n" + m.help.View(m.keys))

	return tea.NewView(b.String())
}

func (m watchModel) row(t vectorize.Task) string {
	var mark string
	switch t.Status {
	case vectorize.StatusCompleted:
		mark = watchOKStyle.Render("✓")
	case vectorize.StatusFailed:
		mark = watchFailStyle.Render("✗")
	case vectorize.StatusProcessing:
		mark = m.spinner.View()
	default:
		mark = watchMutedStyle.Render("…")
	}

	line := fmt.Sprintf("%s %s  doc %-5d %s %3d/%-3d",
		mark, shortID(t.ID), t.DocumentID, m.bar.ViewAs(t.Progress/100), t.ChunksProcessed, t.ChunksTotal)
	if t.ErrorMessage != "" {
		line += "  " + watchFailStyle.Render(utils.Truncate(utils.OneLine(t.ErrorMessage), 60))
	}
	return line
}

// active counts tasks that have not reached a terminal status.
func (m watchModel) active() int {
	n := 0
	for _, t := range m.tasks {
		if t.Status == vectorize.StatusPending || t.Status == vectorize.StatusProcessing {
			n++
		}
	}
	return n
}

func (m watchModel) overall() float64 {
	if m.stats == nil || m.stats.Total == 0 {
		return 0
	}
	return float64(m.stats.Completed+m.stats.Failed) / float64(m.stats.Total)
}
