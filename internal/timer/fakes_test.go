package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TomFrankly/notion-time-tracker/internal/notion"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
)

var errBoom = fmt.Errorf("%w: 503 service unavailable", notion.ErrRemote)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	settings store.Settings
	state    store.TimerState
	saves    int
	saveErr  error
}

func newMemStore() *memStore {
	s := store.DefaultSettings()
	s.Token = "secret"
	s.TaskDatabaseID = "db-tasks"
	s.SessionDatabaseID = "db-sessions"
	return &memStore{settings: s, state: store.IdleState()}
}

func (m *memStore) Settings() (store.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *memStore) Timer() (store.TimerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *memStore) SaveTimer(s store.TimerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.state = s
	return nil
}

// fakeRemote records sessions like the remote store would. calls counts
// writes only.
type fakeRemote struct {
	mu       sync.Mutex
	sessions map[string]*notion.Session
	order    []string
	calls    int
	openErr  error
	closeErr error
	getErr   error
	delay    time.Duration
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{sessions: map[string]*notion.Session{}}
}

func (f *fakeRemote) dial(store.Settings) Sessions { return f }

func (f *fakeRemote) Open(_ context.Context, taskID string, start time.Time) (notion.Session, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.openErr != nil {
		return notion.Session{}, f.openErr
	}
	id := fmt.Sprintf("sess-%d", len(f.order)+1)
	s := &notion.Session{ID: id, TaskID: taskID, Start: &start}
	f.sessions[id] = s
	f.order = append(f.order, id)
	return *s, nil
}

func (f *fakeRemote) Close(_ context.Context, sessionID string, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.closeErr != nil {
		return f.closeErr
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return errors.New("no such session")
	}
	s.End = &end
	return nil
}

func (f *fakeRemote) Get(_ context.Context, id string) (notion.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return notion.Session{}, f.getErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return notion.Session{}, &notion.APIError{Status: 404, Code: "object_not_found", Message: "Could not find page."}
	}
	return *s, nil
}

// seed stores a session as if it had been opened by another client.
func (f *fakeRemote) seed(s notion.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = &s
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// active counts open sessions per task.
func (f *fakeRemote) active() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, s := range f.sessions {
		if s.Active() {
			out[s.TaskID]++
		}
	}
	return out
}

func (f *fakeRemote) closed() []notion.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notion.Session
	for _, id := range f.order {
		if s := f.sessions[id]; s.End != nil {
			out = append(out, *s)
		}
	}
	return out
}
