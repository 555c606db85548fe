// Package monitor is the live terminal dashboard for the local queue, the
// content cache and recent sync passes.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const syncTimeout = 2 * time.Minute

type keyMap struct {
	Quit      key.Binding
	NextPanel key.Binding
	PrevPanel key.Binding
	Up        key.Binding
	Down      key.Binding
	Sync      key.Binding
	Refresh   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		NextPanel: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next panel")),
		PrevPanel: key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev panel")),
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Sync:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sync now")),
		Refresh:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	}
}

// Model is the bubbletea model for the dashboard
type Model struct {
	opts    Options
	keys    keyMap
	spinner spinner.Model

	data    RefreshDataMsg
	loaded  bool
	panel   Panel
	cursor  [panelCount]int
	syncing bool
	status  string

	width, height int
}

// NewModel creates a dashboard model
func NewModel(opts Options) Model {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = warnStyle
	return Model{
		opts:    opts,
		keys:    defaultKeyMap(),
		spinner: sp,
	}
}

// Init starts the first fetch, the refresh ticker and the spinner
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchData(), m.scheduleTick(), m.spinner.Tick)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.data = msg
		m.loaded = true
		m.clampCursors()
		return m, nil

	case SyncDoneMsg:
		m.syncing = false
		m.status = describeSync(msg)
		return m, m.fetchData()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.NextPanel):
		m.panel = (m.panel + 1) % panelCount
	case key.Matches(msg, m.keys.PrevPanel):
		m.panel = (m.panel + panelCount - 1) % panelCount
	case key.Matches(msg, m.keys.Up):
		if m.cursor[m.panel] > 0 {
			m.cursor[m.panel]--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor[m.panel] < m.rowCount(m.panel)-1 {
			m.cursor[m.panel]++
		}
	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetchData()
	case key.Matches(msg, m.keys.Sync):
		if m.syncing || m.opts.Sync == nil {
			return m, nil
		}
		m.syncing = true
		m.status = ""
		return m, m.runSync()
	}
	return m, nil
}

func (m Model) rowCount(p Panel) int {
	switch p {
	case PanelDrafts:
		return len(m.data.Drafts)
	case PanelCache:
		return len(m.data.Collections)
	case PanelHistory:
		return len(m.data.Runs)
	}
	return 0
}

func (m *Model) clampCursors() {
	for p := Panel(0); p < panelCount; p++ {
		n := m.rowCount(p)
		if m.cursor[p] >= n {
			m.cursor[p] = max(n-1, 0)
		}
	}
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.opts.Interval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) fetchData() tea.Cmd {
	opts := m.opts
	return func() tea.Msg {
		return FetchData(opts)
	}
}

func (m Model) runSync() tea.Cmd {
	sync := m.opts.Sync
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		res, err := sync(ctx)
		return SyncDoneMsg{Result: res, Err: err}
	}
}

func describeSync(msg SyncDoneMsg) string {
	if msg.Err != nil {
		return "sync failed: " + msg.Err.Error()
	}
	r := msg.Result
	if r.QueueBusy {
		return "another sync is already running"
	}
	return fmt.Sprintf("synced %d, failed %d, refreshed %d", r.Drafts.Synced, r.Drafts.Failed, r.Refreshed)
}
