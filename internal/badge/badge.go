// Package badge derives the status indicator from the timer phase and pushes
// it to whatever surfaces display it.
package badge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/TomFrankly/notion-time-tracker/internal/logging"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
)

var log = logging.ForComponent(logging.CompBadge)

const (
	GlyphRunning = "ON"
	GlyphPaused  = "II"
	ColorRunning = "#22C55E"
	ColorPaused  = "#F59E0B"
)

// Badge is a two-character glyph on a background color. The zero value is
// the cleared badge.
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

// For maps a phase to its badge.
func For(phase store.Phase) Badge {
	switch phase {
	case store.PhaseRunning:
		return Badge{Text: GlyphRunning, Color: ColorRunning}
	case store.PhasePaused:
		return Badge{Text: GlyphPaused, Color: ColorPaused}
	default:
		return Badge{}
	}
}

// Empty reports whether the badge is cleared.
func (b Badge) Empty() bool {
	return b.Text == ""
}

// Render draws the badge for a terminal.
func (b Badge) Render() string {
	if b.Empty() {
		return ""
	}
	return lipgloss.NewStyle().
		Bold(true).
		Padding(0, 1).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color(b.Color)).
		Render(b.Text)
}

// Surface displays a badge.
type Surface interface {
	SetBadge(Badge) error
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(Badge) error

func (f SurfaceFunc) SetBadge(b Badge) error { return f(b) }

// FileSurface writes "<glyph> <color>" to a file, or truncates it when idle.
// Status bars and shell prompts poll it.
type FileSurface struct {
	Path string
}

func (s FileSurface) SetBadge(b Badge) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create badge dir: %w", err)
	}
	var content string
	if !b.Empty() {
		content = b.Text + " " + b.Color + "\n"
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write badge: %w", err)
	}
	return os.Rename(tmp, s.Path)
}

// StateReader reads the persisted timer state.
type StateReader interface {
	Timer() (store.TimerState, error)
}

// Refresher recomputes the badge from persisted state and applies it to
// every surface. It keeps no badge of its own between refreshes.
type Refresher struct {
	src      StateReader
	surfaces []Surface
	interval time.Duration
}

// NewRefresher creates a refresher ticking at interval.
func NewRefresher(src StateReader, interval time.Duration, surfaces ...Surface) *Refresher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Refresher{src: src, surfaces: surfaces, interval: interval}
}

// Refresh applies the badge for the current state and returns it.
func (r *Refresher) Refresh() Badge {
	state, err := r.src.Timer()
	if err != nil {
		log.Warn("state_read_failed", slog.String("error", err.Error()))
		return Badge{}
	}
	b := For(state.Phase)
	for _, s := range r.surfaces {
		if err := s.SetBadge(b); err != nil {
			log.Warn("surface_failed", slog.String("error", err.Error()))
		}
	}
	return b
}

// Run refreshes on every tick and every change notification until ctx is
// done or changes is closed.
func (r *Refresher) Run(ctx context.Context, changes <-chan store.Change) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh()
		case _, ok := <-changes:
			if !ok {
				return
			}
			r.Refresh()
		}
	}
}
