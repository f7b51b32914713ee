// Package app is the terminal UI: a task list and the running timer, driven
// entirely through the daemon proxy.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"github.com/TomFrankly/notion-time-tracker/internal/badge"
	"github.com/TomFrankly/notion-time-tracker/internal/daemon"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
	"github.com/TomFrankly/notion-time-tracker/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

const tickInterval = time.Second

// Proxy is the slice of the daemon proxy the TUI uses.
type Proxy interface {
	Subscribe(ctx context.Context) (<-chan daemon.Event, error)
	StartAdopting(ctx context.Context, task store.CachedTask) (store.TimerState, error)
	Pause(ctx context.Context) (store.TimerState, error)
	Resume(ctx context.Context) (store.TimerState, error)
	Stop(ctx context.Context) (store.TimerState, error)
	Tasks(ctx context.Context, refresh bool) (store.TaskCache, error)
}

// Model is the root bubbletea model for the timetrack TUI.
type Model struct {
	proxy Proxy
	now   func() time.Time

	// Connection state
	events    <-chan daemon.Event
	cancel    context.CancelFunc
	connected bool
	connError string

	// Timer state, as last reported by the daemon
	state store.TimerState
	badge badge.Badge

	// Tasks
	tasks       []store.CachedTask
	lastFetched int64
	selected    int
	refreshing  bool

	// In-flight transition; a task switch parks the next start here until
	// the stop completes.
	pending      string
	pendingStart *store.CachedTask

	// UI state
	width   int
	height  int
	spinner spinner.Model

	// Errors
	errorMessage   string
	errorTransient bool

	statusText string

	// Reconnect
	reconnecting     bool
	reconnectAttempt int
}

// New creates a new Model with default state.
func New(proxy Proxy) Model {
	return Model{
		proxy:      proxy,
		now:        time.Now,
		state:      store.IdleState(),
		statusText: "Connecting to daemon...",
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(ui.DimStyle)),
	}
}

// Init connects, loads the cached task list and starts the clock.
func (m Model) Init() tea.Cmd {
	return tea.Batch(connectCmd(m.proxy), tasksCmd(m.proxy, false), tickCmd(), m.spinner.Tick)
}

// connectCmd opens the state event stream.
func connectCmd(proxy Proxy) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())
		events, err := proxy.Subscribe(ctx)
		if err != nil {
			cancel()
			return ConnectErrorMsg{Err: err}
		}
		return SubscribedMsg{Events: events, Cancel: cancel}
	}
}

// readEventCmd reads the next event from the stream.
func readEventCmd(events <-chan daemon.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return StreamClosedMsg{}
		}
		return StateEventMsg{Event: ev}
	}
}

func transitionCmd(op string, call func(context.Context) (store.TimerState, error)) tea.Cmd {
	return func() tea.Msg {
		s, err := call(context.Background())
		return TransitionMsg{Op: op, State: s, Err: err}
	}
}

func startCmd(proxy Proxy, task store.CachedTask) tea.Cmd {
	return transitionCmd("start", func(ctx context.Context) (store.TimerState, error) {
		return proxy.StartAdopting(ctx, task)
	})
}

func tasksCmd(proxy Proxy, refresh bool) tea.Cmd {
	return func() tea.Msg {
		cache, err := proxy.Tasks(context.Background(), refresh)
		return TasksMsg{Cache: cache, Err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg {
		return TickMsg{}
	})
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// reconnectCmd schedules a reconnection attempt with exponential backoff.
func reconnectCmd(attempt int) tea.Cmd {
	delay := time.Duration(1<<min(attempt, 4)) * time.Second // 1s, 2s, 4s, 8s, 16s cap
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return ReconnectTickMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case SubscribedMsg:
		m.events = msg.Events
		m.cancel = msg.Cancel
		m.connected = true
		m.connError = ""
		m.reconnecting = false
		m.reconnectAttempt = 0
		m.statusText = "Connected"
		return m, readEventCmd(m.events)

	case ConnectErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.reconnecting = true
		m.statusText = "Daemon not running. Reconnecting..."
		return m, reconnectCmd(m.reconnectAttempt)

	case StateEventMsg:
		cmd := m.handleEvent(msg.Event)
		return m, tea.Batch(cmd, readEventCmd(m.events))

	case StreamClosedMsg:
		m.connected = false
		m.statusText = "Disconnected. Reconnecting..."
		m.reconnecting = true
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.events = nil
		return m, reconnectCmd(m.reconnectAttempt)

	case ReconnectTickMsg:
		m.reconnectAttempt++
		return m, connectCmd(m.proxy)

	case TransitionMsg:
		return m.handleTransition(msg)

	case TasksMsg:
		m.refreshing = false
		if msg.Err != nil {
			return m, m.showError(msg.Err)
		}
		m.tasks = msg.Cache.Tasks
		m.lastFetched = msg.Cache.LastFetched
		if m.selected >= len(m.tasks) {
			m.selected = max(0, len(m.tasks)-1)
		}
		return m, nil

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

// handleEvent applies a daemon event.
func (m *Model) handleEvent(ev daemon.Event) tea.Cmd {
	switch ev.Event {
	case daemon.EventState:
		if ev.State != nil {
			m.setState(*ev.State)
		}
	case daemon.EventError:
		m.errorMessage = ev.Message
		m.errorTransient = true
		return clearTransientErrorCmd()
	}
	return nil
}

func (m *Model) setState(s store.TimerState) {
	m.state = s
	m.badge = badge.For(s.Phase)
	m.statusText = ui.PhaseLabel(s.Phase)
}

func (m Model) handleTransition(msg TransitionMsg) (tea.Model, tea.Cmd) {
	m.pending = ""
	if msg.Err != nil {
		m.pendingStart = nil
		return m, m.showError(fmt.Errorf("%s: %w", msg.Op, msg.Err))
	}
	m.setState(msg.State)

	if msg.Op == "stop" {
		cmds := []tea.Cmd{tasksCmd(m.proxy, true)}
		if next := m.pendingStart; next != nil {
			m.pendingStart = nil
			m.pending = "start"
			cmds = append(cmds, startCmd(m.proxy, *next))
		}
		m.refreshing = true
		return m, tea.Batch(cmds...)
	}
	return m, nil
}

func (m *Model) showError(err error) tea.Cmd {
	m.errorMessage = err.Error()
	m.errorTransient = true
	return clearTransientErrorCmd()
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit

	case KeyJ, KeyDown:
		if m.selected < len(m.tasks)-1 {
			m.selected++
		}
		return m, nil

	case KeyK, KeyUp:
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case KeySpace, KeyEnter:
		return m.toggle()

	case KeyStop:
		if !m.connected || m.pending != "" || m.state.Phase == store.PhaseIdle {
			return m, nil
		}
		m.pending = "stop"
		return m, transitionCmd("stop", m.proxy.Stop)

	case KeyRefresh:
		if m.refreshing {
			return m, nil
		}
		m.refreshing = true
		return m, tasksCmd(m.proxy, true)
	}

	return m, nil
}

// toggle acts on the selected task: start it, pause or resume it when it is
// the tracked task, or stop the tracked task and then start it.
func (m Model) toggle() (tea.Model, tea.Cmd) {
	if !m.connected || m.pending != "" {
		return m, nil
	}
	task, ok := m.selectedTask()
	sameTask := ok && task.ID == m.state.TaskID

	switch {
	case m.state.Phase == store.PhaseRunning && (sameTask || !ok):
		m.pending = "pause"
		return m, transitionCmd("pause", m.proxy.Pause)
	case m.state.Phase == store.PhasePaused && (sameTask || !ok):
		m.pending = "resume"
		return m, transitionCmd("resume", m.proxy.Resume)
	case !ok:
		return m, nil
	case m.state.Phase == store.PhaseIdle:
		m.pending = "start"
		return m, startCmd(m.proxy, task)
	default:
		m.pending = "stop"
		m.pendingStart = &task
		return m, transitionCmd("stop", m.proxy.Stop)
	}
}

func (m Model) selectedTask() (store.CachedTask, bool) {
	if m.selected < 0 || m.selected >= len(m.tasks) {
		return store.CachedTask{}, false
	}
	return m.tasks[m.selected], true
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	sections := []string{
		m.renderHeader(),
		m.renderTimer(),
		ui.DividerStyle.Render(strings.Repeat("─", m.width)),
		m.renderTasks(),
		ui.DividerStyle.Render(strings.Repeat("─", m.width)),
	}
	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("TIMETRACK")
	if b := m.badge.Render(); b != "" {
		title += " " + b
	}
	status := ui.DimStyle.Render(" " + m.statusText)
	if m.pending != "" {
		status = " " + m.spinner.View() + ui.DimStyle.Render(" "+m.pending)
	}
	return title + status
}

func (m Model) renderTimer() string {
	switch m.state.Phase {
	case store.PhaseRunning:
		return ui.RunningStyle.Render("● ") + m.timerLine()
	case store.PhasePaused:
		return ui.PausedStyle.Render("Ⅱ ") + m.timerLine()
	}
	if !m.connected {
		if m.reconnecting {
			return ui.ErrorTextStyle.Render("Daemon not running.") + ui.DimStyle.Render(" Start with: timetrack daemon")
		}
		return ui.DimStyle.Render("Connecting...")
	}
	return ui.IdleStyle.Render("○ Not tracking")
}

func (m Model) timerLine() string {
	title := m.state.TaskTitle
	if title == "" {
		title = m.state.TaskID
	}
	return ui.ElapsedStyle.Render(ui.FormatDuration(m.state.Elapsed(m.now()))) + "  " + title
}

func (m Model) renderTasks() string {
	header := ui.PanelTitleStyle.Render(fmt.Sprintf("TASKS (%d)", len(m.tasks)))
	if m.refreshing {
		header += " " + m.spinner.View() + ui.DimStyle.Render(" refreshing")
	} else if m.lastFetched > 0 {
		header += ui.DimStyle.Render(" updated " + time.UnixMilli(m.lastFetched).Format("15:04"))
	}
	lines := []string{header}

	if len(m.tasks) == 0 {
		lines = append(lines, ui.DimStyle.Render("  No tasks cached. Press r to refresh."))
		return strings.Join(lines, "\n")
	}

	visible := m.height - 7
	if visible < 1 {
		visible = len(m.tasks)
	}
	start := 0
	if m.selected >= visible {
		start = m.selected - visible + 1
	}
	end := min(len(m.tasks), start+visible)

	titleWidth := max(10, m.width-16)
	for i := start; i < end; i++ {
		lines = append(lines, m.renderTask(m.tasks[i], i == m.selected, titleWidth))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderTask(t store.CachedTask, selected bool, titleWidth int) string {
	marker := "  "
	if t.ID == m.state.TaskID {
		switch m.state.Phase {
		case store.PhaseRunning:
			marker = ui.RunningStyle.Render("● ")
		case store.PhasePaused:
			marker = ui.PausedStyle.Render("Ⅱ ")
		}
	}

	title := padRight(truncateToWidth(t.Title, titleWidth), titleWidth)
	if selected {
		title = ui.SelectedStyle.Render(title)
	}
	total := ui.DimStyle.Render(ui.FormatDuration(time.Duration(t.TotalMs) * time.Millisecond))

	line := marker + title + " " + total
	if t.Untracked != nil && t.ID != m.state.TaskID {
		line += ui.UntrackedStyle.Render(" ⏱ open")
	}
	return line
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	var parts []string

	if m.connected {
		action := "Start"
		if task, ok := m.selectedTask(); !ok || task.ID == m.state.TaskID {
			switch m.state.Phase {
			case store.PhaseRunning:
				action = "Pause"
			case store.PhasePaused:
				action = "Resume"
			}
		} else if m.state.Phase != store.PhaseIdle {
			action = "Switch"
		}
		parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" "+action))
		if m.state.Phase != store.PhaseIdle {
			parts = append(parts, ui.FooterKeyStyle.Render("s")+ui.FooterDescStyle.Render(" Stop"))
		}
	}
	parts = append(parts, ui.FooterKeyStyle.Render("j/k")+ui.FooterDescStyle.Render(" Nav"))
	parts = append(parts, ui.FooterKeyStyle.Render("r")+ui.FooterDescStyle.Render(" Refresh"))
	parts = append(parts, ui.FooterKeyStyle.Render("q")+ui.FooterDescStyle.Render(" Quit"))

	return strings.Join(parts, "  ")
}

// Helpers

func padRight(s string, width int) string {
	// Get visible length (ignoring ANSI codes)
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncateToWidth(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}
