// Package tray shows the timer in the system tray: the badge glyph as the
// title, a summary tooltip and a Pause/Resume/Stop menu driven by the daemon.
package tray

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fyne.io/systray"

	"github.com/TomFrankly/notion-time-tracker/internal/badge"
	"github.com/TomFrankly/notion-time-tracker/internal/daemon"
	"github.com/TomFrankly/notion-time-tracker/internal/logging"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
	"github.com/TomFrankly/notion-time-tracker/internal/ui"
)

var log = logging.ForComponent(logging.CompTray)

const (
	reconnectDelay = 2 * time.Second
	callTimeout    = 30 * time.Second
)

// Controller is the subset of the daemon proxy the tray drives.
type Controller interface {
	Subscribe(ctx context.Context) (<-chan daemon.Event, error)
	Pause(ctx context.Context) (store.TimerState, error)
	Resume(ctx context.Context) (store.TimerState, error)
	Stop(ctx context.Context) (store.TimerState, error)
}

// MenuState is what the menu shows for one timer state.
type MenuState struct {
	Status       string
	ToggleLabel  string
	ToggleActive bool
	StopActive   bool
}

// MenuFor derives the menu from a timer state.
func MenuFor(s store.TimerState, now time.Time) MenuState {
	m := MenuState{Status: ui.Summary(s, now), ToggleLabel: "Pause"}
	switch s.Phase {
	case store.PhaseRunning:
		m.ToggleActive = true
		m.StopActive = true
	case store.PhasePaused:
		m.ToggleLabel = "Resume"
		m.ToggleActive = true
		m.StopActive = true
	}
	return m
}

// Tooltip is the hover text for a state, or the disconnected notice.
func Tooltip(s store.TimerState, connected bool, now time.Time) string {
	if !connected {
		return "Time tracker: daemon not running"
	}
	return fmt.Sprintf("Time tracker: %s", ui.Summary(s, now))
}

// Manager owns the tray items. It is a badge.Surface.
type Manager struct {
	ctrl Controller
	now  func() time.Time

	mu        sync.Mutex
	state     store.TimerState
	connected bool

	status *systray.MenuItem
	toggle *systray.MenuItem
	stop   *systray.MenuItem
	quit   *systray.MenuItem
}

// New creates a tray manager for the controller.
func New(ctrl Controller) *Manager {
	return &Manager{ctrl: ctrl, now: time.Now, state: store.IdleState()}
}

// Run blocks on the tray event loop until Quit is chosen or ctx ends.
func (m *Manager) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	systray.Run(func() { m.onReady(ctx, cancel) }, cancel)
}

func (m *Manager) onReady(ctx context.Context, cancel context.CancelFunc) {
	systray.SetTitle("")
	systray.SetTooltip(Tooltip(store.IdleState(), false, m.now()))

	m.status = systray.AddMenuItem("Not tracking", "Current timer")
	m.status.Disable()
	systray.AddSeparator()
	m.toggle = systray.AddMenuItem("Pause", "Pause or resume the timer")
	m.stop = systray.AddMenuItem("Stop", "Stop the timer")
	systray.AddSeparator()
	m.quit = systray.AddMenuItem("Quit", "Close the tray")
	m.render()

	go m.follow(ctx)
	go m.clicks(ctx, cancel)
	go m.tick(ctx)
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
}

// SetBadge shows the glyph as the tray title.
func (m *Manager) SetBadge(b badge.Badge) error {
	systray.SetTitle(b.Text)
	return nil
}

func (m *Manager) setState(s store.TimerState, connected bool) {
	m.mu.Lock()
	m.state = s
	m.connected = connected
	m.mu.Unlock()
	m.render()
}

func (m *Manager) snapshot() (store.TimerState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.connected
}

func (m *Manager) render() {
	s, connected := m.snapshot()
	now := m.now()
	menu := MenuFor(s, now)
	systray.SetTooltip(Tooltip(s, connected, now))
	if m.status == nil {
		return
	}
	m.status.SetTitle(menu.Status)
	m.toggle.SetTitle(menu.ToggleLabel)
	enable(m.toggle, connected && menu.ToggleActive)
	enable(m.stop, connected && menu.StopActive)
}

func enable(item *systray.MenuItem, on bool) {
	if on {
		item.Enable()
	} else {
		item.Disable()
	}
}

// follow keeps a subscription open, reconnecting after the daemon goes away.
func (m *Manager) follow(ctx context.Context) {
	for {
		events, err := m.ctrl.Subscribe(ctx)
		if err != nil {
			log.Debug("subscribe_failed", slog.String("error", err.Error()))
		} else {
			for ev := range events {
				m.apply(ev)
			}
		}
		m.setState(store.IdleState(), false)
		_ = m.SetBadge(badge.Badge{})

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (m *Manager) apply(ev daemon.Event) {
	switch ev.Event {
	case daemon.EventState:
		if ev.State == nil {
			return
		}
		m.setState(*ev.State, true)
		b := badge.For(ev.State.Phase)
		if ev.Badge != nil {
			b = *ev.Badge
		}
		_ = m.SetBadge(b)
	case daemon.EventError:
		log.Warn("daemon_error", slog.String("message", ev.Message))
	}
}

func (m *Manager) clicks(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.toggle.ClickedCh:
			s, _ := m.snapshot()
			switch s.Phase {
			case store.PhaseRunning:
				m.call(ctx, "pause", m.ctrl.Pause)
			case store.PhasePaused:
				m.call(ctx, "resume", m.ctrl.Resume)
			}
		case <-m.stop.ClickedCh:
			m.call(ctx, "stop", m.ctrl.Stop)
		case <-m.quit.ClickedCh:
			cancel()
			return
		}
	}
}

// call runs a transition. The resulting state arrives on the subscription.
func (m *Manager) call(ctx context.Context, op string, fn func(context.Context) (store.TimerState, error)) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if _, err := fn(ctx); err != nil {
		log.Warn("transition_failed", slog.String("op", op), slog.String("error", err.Error()))
		systray.SetTooltip(fmt.Sprintf("Time tracker: %s failed: %v", op, err))
	}
}

// tick refreshes the elapsed time shown in the menu while running.
func (m *Manager) tick(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s, _ := m.snapshot(); s.Phase == store.PhaseRunning {
				m.render()
			}
		}
	}
}
