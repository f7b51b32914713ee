// Package ui holds the terminal styles and the display formatting shared by
// the TUI, the tray and the CLI.
package ui

import (
	"fmt"
	"time"

	"github.com/TomFrankly/notion-time-tracker/internal/store"
)

// FormatDuration renders d as H:MM:SS, or M:SS under an hour.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	h, m, s := secs/3600, secs/60%60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// PhaseLabel is the short human label for a phase.
func PhaseLabel(p store.Phase) string {
	switch p {
	case store.PhaseRunning:
		return "RUNNING"
	case store.PhasePaused:
		return "PAUSED"
	default:
		return "IDLE"
	}
}

// Summary is a one-line description of the timer at now.
func Summary(s store.TimerState, now time.Time) string {
	if s.Phase == store.PhaseIdle {
		return "Not tracking"
	}
	title := s.TaskTitle
	if title == "" {
		title = s.TaskID
	}
	return fmt.Sprintf("%s %s %s", PhaseLabel(s.Phase), title, FormatDuration(s.Elapsed(now)))
}
