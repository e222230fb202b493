package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"ble-sensors.klederson.com/internal/config"
	"ble-sensors.klederson.com/internal/history"
	"ble-sensors.klederson.com/internal/sensor"
	"ble-sensors.klederson.com/internal/ui"
)

// HistoryLoader is the read side of the history store used by the history
// view.
type HistoryLoader interface {
	HistoryFor(ctx context.Context, mac string, progress history.ProgressFunc) ([]history.Point, error)
}

// Options configures the dashboard.
type Options struct {
	Table      *sensor.Table
	History    HistoryLoader
	Unit       sensor.TemperatureFormat
	Thresholds sensor.Thresholds
	Interval   time.Duration // how often the table is polled
	Source     string        // shown in the menu bar
	Note       string        // shown in the status bar
}

type viewMode int

const (
	viewList viewMode = iota
	viewHistory
)

// shared holds state shared between the Bubble Tea model copies. Because
// Bubble Tea uses value receivers, pointer fields ensure all copies see the
// same underlying data.
type shared struct {
	table    *sensor.Table
	loader   HistoryLoader
	trends   map[string]*TrendRing
	lastSeen map[string]time.Time
	now      func() time.Time

	mu       sync.Mutex
	progress string
}

func (s *shared) setProgress(stage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = stage
}

func (s *shared) getProgress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// AppModel is the root Bubble Tea model of the sensor dashboard.
type AppModel struct {
	width  int
	height int

	live       bool
	source     string
	note       string
	unit       sensor.TemperatureFormat
	thresholds sensor.Thresholds
	interval   time.Duration

	mode   viewMode
	cursor int
	filter ui.FilterState
	hist   ui.HistoryView

	shared *shared

	// Cached snapshot
	readings []sensor.Reading
	rows     []ui.SensorRow
}

// New creates a new AppModel.
func New(opts Options) AppModel {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return AppModel{
		live:       true,
		source:     opts.Source,
		note:       opts.Note,
		unit:       opts.Unit,
		thresholds: opts.Thresholds,
		interval:   interval,
		shared: &shared{
			table:    opts.Table,
			loader:   opts.History,
			trends:   make(map[string]*TrendRing),
			lastSeen: make(map[string]time.Time),
			now:      time.Now,
		},
	}
}

func (m AppModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		pollCmd(0),
	)
}

func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TickMsg:
		m.rebuildRows()
		if m.hist.Loading {
			m.hist.Progress = m.shared.getProgress()
		}
		return m, tickCmd()

	case PollMsg:
		if m.live && m.shared.table.HasPendingChanges() {
			m.refresh()
		}
		return m, pollCmd(m.interval)

	case HistoryLoadedMsg:
		if m.mode != viewHistory || msg.MAC != m.hist.MAC {
			return m, nil
		}
		m.hist.Loading = false
		m.hist.Points = msg.Points
		m.hist.Err = msg.Err
		return m, nil
	}

	return m, nil
}

// refresh takes a new snapshot of the table and feeds the trend buffers with
// every reading not seen before.
func (m *AppModel) refresh() {
	m.readings = m.shared.table.Sorted()
	for _, r := range m.readings {
		if last, ok := m.shared.lastSeen[r.MAC]; ok && last.Equal(r.CapturedAt) {
			continue
		}
		m.shared.lastSeen[r.MAC] = r.CapturedAt
		ring, ok := m.shared.trends[r.MAC]
		if !ok {
			ring = NewTrendRing(config.TrendSamples)
			m.shared.trends[r.MAC] = ring
		}
		ring.Push(r.Temperature)
	}
	m.rebuildRows()
}

func (m *AppModel) rebuildRows() {
	now := m.shared.now()
	rows := make([]ui.SensorRow, 0, len(m.readings))
	for _, r := range m.readings {
		if !m.filter.Matches(r) {
			continue
		}
		row := ui.SensorRow{
			Reading: r,
			Status:  sensor.Evaluate(r, now, m.thresholds),
		}
		if ring, ok := m.shared.trends[r.MAC]; ok {
			row.Trend = ring.Values()
		}
		rows = append(rows, row)
	}
	m.rows = rows
	m.clampCursor()
}

func (m *AppModel) clampCursor() {
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m AppModel) selected() *ui.SensorRow {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return nil
	}
	row := m.rows[m.cursor]
	return &row
}

func (m AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	if m.filter.Active {
		return m.handleSearchKey(msg)
	}
	if m.mode == viewHistory {
		return m.handleHistoryKey(msg)
	}

	switch msg.String() {
	case "q", "Q":
		return m, tea.Quit

	case "p", "P":
		m.live = !m.live
		if m.live {
			m.refresh()
		}

	case "/":
		m.filter.Active = true

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}

	case "home":
		m.cursor = 0

	case "end":
		if len(m.rows) > 0 {
			m.cursor = len(m.rows) - 1
		}

	case "enter":
		row := m.selected()
		if row == nil || m.shared.loader == nil {
			return m, nil
		}
		m.mode = viewHistory
		cmd := m.startHistory(row.Reading.MAC, row.Reading.DisplayName())
		return m, cmd
	}

	return m, nil
}

func (m AppModel) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.filter.Active = false
	case tea.KeyEsc:
		m.filter = ui.FilterState{}
	case tea.KeyBackspace:
		if r := []rune(m.filter.Search); len(r) > 0 {
			m.filter.Search = string(r[:len(r)-1])
		}
	case tea.KeyRunes, tea.KeySpace:
		m.filter.Search += string(msg.Runes)
	}
	m.rebuildRows()
	return m, nil
}

func (m AppModel) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q":
		return m, tea.Quit
	case "esc", "backspace":
		m.mode = viewList
		m.hist = ui.HistoryView{}
	case "r", "R":
		if !m.hist.Loading {
			cmd := m.startHistory(m.hist.MAC, m.hist.Name)
			return m, cmd
		}
	}
	return m, nil
}

func (m *AppModel) startHistory(mac, name string) tea.Cmd {
	m.hist = ui.HistoryView{MAC: mac, Name: name, Loading: true}
	m.shared.setProgress("")
	return loadHistoryCmd(m.shared, mac)
}

func (m AppModel) View() string {
	if m.width == 0 || m.height == 0 {
		return fmt.Sprintf("Initializing %s...", config.AppName)
	}

	menuH := 1
	statusH := 1
	bodyH := m.height - menuH - statusH
	if bodyH < 5 {
		bodyH = 5
	}

	menuBar := ui.RenderMenuBar(m.width, m.source, m.live)
	statusBar := ui.RenderStatusBar(m.width, m.live, ui.CountStatuses(m.rows), m.unit, m.note)

	if m.mode == viewHistory {
		panel := ui.RenderHistoryPanel(m.hist, m.unit, m.width, bodyH)
		return ui.ComposeLayout(menuBar, statusBar, panel)
	}

	listW := m.width * 2 / 3
	if listW < 40 {
		listW = 40
	}
	detailW := m.width - listW
	if detailW < 30 {
		detailW = 30
		listW = m.width - detailW
	}

	now := m.shared.now()
	list := ui.RenderSensorList(m.rows, m.unit, listW, bodyH, m.cursor, m.filter, now)
	detail := ui.RenderDetailPanel(m.selected(), m.unit, detailW, bodyH, now)

	return ui.ComposeLayout(menuBar, statusBar, list, detail)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second/time.Duration(config.TargetFPS), func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func pollCmd(d time.Duration) tea.Cmd {
	if d <= 0 {
		return func() tea.Msg { return PollMsg(time.Now()) }
	}
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return PollMsg(t)
	})
}

func loadHistoryCmd(s *shared, mac string) tea.Cmd {
	return func() tea.Msg {
		points, err := s.loader.HistoryFor(context.Background(), mac, s.setProgress)
		return HistoryLoadedMsg{MAC: mac, Points: points, Err: err}
	}
}
