package ui

import (
	"testing"
	"time"

	"github.com/TomFrankly/notion-time-tracker/internal/store"
)

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{-time.Second, "0:00"},
		{59*time.Second + 900*time.Millisecond, "0:59"},
		{61 * time.Second, "1:01"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
		{27 * time.Hour, "27:00:00"},
	}
	for _, c := range cases {
		if got := FormatDuration(c.d); got != c.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestSummary(t *testing.T) {
	now := time.UnixMilli(100_000)
	running := store.TimerState{
		Phase:            store.PhaseRunning,
		TaskID:           "t1",
		TaskTitle:        "Write report",
		CurrentSessionID: "s1",
		SessionStartTime: 40_000,
		AccumulatedTime:  5_000,
	}
	if got, want := Summary(running, now), "RUNNING Write report 1:05"; got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}

	paused := store.TimerState{Phase: store.PhasePaused, TaskID: "t1", AccumulatedTime: 3_000}
	if got, want := Summary(paused, now), "PAUSED t1 0:03"; got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}

	if got := Summary(store.IdleState(), now); got != "Not tracking" {
		t.Errorf("Summary(idle) = %q", got)
	}
}
