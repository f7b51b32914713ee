package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// openTestStore opens a fresh database file under a temp dir.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "timetrack.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDefaultsWhenMissing(t *testing.T) {
	s := openTestStore(t)

	state, err := s.Timer()
	if err != nil {
		t.Fatalf("Timer: %v", err)
	}
	if state != IdleState() {
		t.Errorf("state = %+v, want idle default", state)
	}

	settings, err := s.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if settings.Filters == nil {
		t.Error("filters should default to an empty slice, not nil")
	}
	if settings.Theme != "system" {
		t.Errorf("theme = %q, want %q", settings.Theme, "system")
	}

	cache, err := s.Tasks()
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if cache.Tasks == nil || len(cache.Tasks) != 0 {
		t.Errorf("tasks = %#v, want empty slice", cache.Tasks)
	}
	if cache.LastFetched != 0 {
		t.Errorf("lastFetched = %d, want 0", cache.LastFetched)
	}
}

func TestTimerRoundTripPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timetrack.sqlite")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	want := TimerState{
		Phase:            PhaseRunning,
		TaskID:           "task-1",
		TaskTitle:        "Write report",
		CurrentSessionID: "sess-1",
		SessionStartTime: 1700000000000,
		AccumulatedTime:  4200,
	}
	if err := s.SaveTimer(want); err != nil {
		t.Fatalf("SaveTimer: %v", err)
	}
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Timer()
	if err != nil {
		t.Fatalf("Timer: %v", err)
	}
	if got != want {
		t.Errorf("state = %+v, want %+v", got, want)
	}

	updated, err := reopened.UpdatedAt(KeyTimer)
	if err != nil {
		t.Fatalf("UpdatedAt: %v", err)
	}
	if updated.IsZero() || time.Since(updated) > time.Minute {
		t.Errorf("updatedAt = %v, want recent", updated)
	}
}

func TestUndecodableTimerFallsBackToIdle(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.db.Exec(`INSERT INTO kv (key, value, updatedAt) VALUES (?, ?, ?)`,
		KeyTimer, `{"phase": 7}`, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	state, err := s.Timer()
	if err != nil {
		t.Fatalf("Timer: %v", err)
	}
	if state != IdleState() {
		t.Errorf("state = %+v, want idle", state)
	}

	running := TimerState{Phase: PhaseRunning, TaskID: "t1", CurrentSessionID: "s1", SessionStartTime: 1}
	if err := s.SaveTimer(running); err != nil {
		t.Fatalf("SaveTimer over drifted blob: %v", err)
	}
	if got, _ := s.Timer(); got != running {
		t.Errorf("state = %+v, want %+v", got, running)
	}
}

func TestUndecodableTasksStillFail(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.db.Exec(`INSERT INTO kv (key, value, updatedAt) VALUES (?, ?, ?)`,
		KeyTasks, `not json`, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Tasks(); !errors.Is(err, errUndecodable) {
		t.Errorf("err = %v, want errUndecodable", err)
	}
}

func TestSubscribeReceivesOldAndNew(t *testing.T) {
	s := openTestStore(t)

	changes, cancel := s.Subscribe(4, KeyTimer)
	defer cancel()

	running := TimerState{Phase: PhaseRunning, TaskID: "t", CurrentSessionID: "s", SessionStartTime: 10}
	if err := s.SaveTimer(running); err != nil {
		t.Fatalf("SaveTimer: %v", err)
	}
	// Settings writes are filtered out of this subscription.
	if err := s.SaveSettings(DefaultSettings()); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	select {
	case c := <-changes:
		if c.Key != KeyTimer {
			t.Fatalf("key = %q, want %q", c.Key, KeyTimer)
		}
		old, cur, err := c.TimerStates()
		if err != nil {
			t.Fatalf("TimerStates: %v", err)
		}
		if old != IdleState() {
			t.Errorf("old = %+v, want idle", old)
		}
		if cur != running {
			t.Errorf("new = %+v, want %+v", cur, running)
		}
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}

	select {
	case c := <-changes:
		t.Errorf("unexpected change for key %q", c.Key)
	default:
	}
}

func TestSubscribeSkipsIdenticalWrites(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveTimer(IdleState()); err != nil {
		t.Fatalf("SaveTimer: %v", err)
	}

	changes, cancel := s.Subscribe(2)
	defer cancel()

	if err := s.SaveTimer(IdleState()); err != nil {
		t.Fatalf("SaveTimer: %v", err)
	}

	select {
	case c := <-changes:
		t.Errorf("unexpected change for identical write: %+v", c)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := openTestStore(t)

	changes, cancel := s.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-changes; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestSettingsValidate(t *testing.T) {
	settings := DefaultSettings()
	err := settings.Validate()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}

	settings.Token = "secret"
	settings.TaskDatabaseID = "db-tasks"
	settings.SessionDatabaseID = "db-sessions"
	if err := settings.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestTimerStateValidate(t *testing.T) {
	valid := []TimerState{
		IdleState(),
		{Phase: PhaseIdle, AccumulatedTime: 8000},
		{Phase: PhaseRunning, TaskID: "t", CurrentSessionID: "s", SessionStartTime: 1},
		{Phase: PhasePaused, TaskID: "t", AccumulatedTime: 5000},
	}
	for _, s := range valid {
		if err := s.Validate(); err != nil {
			t.Errorf("Validate(%+v): %v", s, err)
		}
	}

	invalid := []TimerState{
		{Phase: PhaseIdle, TaskID: "t"},
		{Phase: PhaseRunning, TaskID: "t", CurrentSessionID: "s"},
		{Phase: PhasePaused, TaskID: "t", CurrentSessionID: "s", SessionStartTime: 1},
		{Phase: "stopped"},
	}
	for _, s := range invalid {
		if err := s.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", s)
		}
	}
}

func TestElapsedIncludesOpenInterval(t *testing.T) {
	start := time.UnixMilli(1_000_000)
	state := TimerState{
		Phase:            PhaseRunning,
		TaskID:           "t",
		CurrentSessionID: "s",
		SessionStartTime: start.UnixMilli(),
		AccumulatedTime:  2000,
	}

	got := state.Elapsed(start.Add(3 * time.Second))
	if got != 5*time.Second {
		t.Errorf("elapsed = %v, want 5s", got)
	}

	state.Phase = PhasePaused
	state.CurrentSessionID = ""
	state.SessionStartTime = 0
	if got := state.Elapsed(start.Add(time.Hour)); got != 2*time.Second {
		t.Errorf("paused elapsed = %v, want 2s", got)
	}
}

func TestTaskCacheFind(t *testing.T) {
	cache := TaskCache{Tasks: []CachedTask{{ID: "a", Title: "A", TotalMs: 10}, {ID: "b", Title: "B"}}}

	task, ok := cache.Find("a")
	if !ok || task.Title != "A" {
		t.Errorf("Find(a) = %+v, %v", task, ok)
	}
	if task.PriorTotal() != 10 {
		t.Errorf("PriorTotal = %d, want 10", task.PriorTotal())
	}
	if _, ok := cache.Find("missing"); ok {
		t.Error("Find(missing) should report false")
	}
}
