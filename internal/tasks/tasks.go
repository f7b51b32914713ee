// Package tasks maintains the cached task list: it queries the task database,
// totals each task's closed sessions and flags sessions left open remotely
// that the timer does not own.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/TomFrankly/notion-time-tracker/internal/logging"
	"github.com/TomFrankly/notion-time-tracker/internal/notion"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
)

var log = logging.ForComponent(logging.CompTasks)

// Source reads tasks and their sessions from the remote store.
type Source interface {
	Tasks(ctx context.Context, filter *notion.Filter) ([]notion.Task, error)
	Sessions(ctx context.Context, ids []string) []notion.Session
}

// Dialer binds a Source to the current settings.
type Dialer func(store.Settings) Source

// Store is the slice of the state store the service uses.
type Store interface {
	Settings() (store.Settings, error)
	Timer() (store.TimerState, error)
	Tasks() (store.TaskCache, error)
	SaveTasks(store.TaskCache) error
}

// Service refreshes and serves the task cache.
type Service struct {
	store Store
	dial  Dialer
	now   func() time.Time

	refreshes singleflight.Group
}

// NewService creates a service. now may be nil.
func NewService(st Store, dial Dialer, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: st, dial: dial, now: now}
}

// Cached returns the last fetched task list, empty if never fetched.
func (s *Service) Cached() (store.TaskCache, error) {
	cache, err := s.store.Tasks()
	if err != nil {
		return store.TaskCache{}, fmt.Errorf("read task cache: %w", err)
	}
	return cache, nil
}

// Refresh queries the remote store, rebuilds the cache and persists it.
// Callers arriving while a refresh is in flight share its result.
func (s *Service) Refresh(ctx context.Context) (store.TaskCache, error) {
	v, err, shared := s.refreshes.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if shared {
		log.Debug("refresh_shared")
	}
	if err != nil {
		return store.TaskCache{}, err
	}
	return v.(store.TaskCache), nil
}

func (s *Service) refresh(ctx context.Context) (store.TaskCache, error) {
	settings, err := s.store.Settings()
	if err != nil {
		return store.TaskCache{}, fmt.Errorf("read settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return store.TaskCache{}, err
	}
	filter, err := FilterFor(settings)
	if err != nil {
		return store.TaskCache{}, fmt.Errorf("%w: %w", store.ErrConfig, err)
	}

	src := s.dial(settings)
	remote, err := src.Tasks(ctx, filter)
	if err != nil {
		return store.TaskCache{}, fmt.Errorf("refresh tasks: %w", err)
	}

	var ids []string
	for _, t := range remote {
		ids = append(ids, t.SessionIDs...)
	}
	sessions := src.Sessions(ctx, ids)

	state, err := s.store.Timer()
	if err != nil {
		return store.TaskCache{}, fmt.Errorf("read timer state: %w", err)
	}

	cache := store.TaskCache{
		Tasks:       Aggregate(remote, sessions, state.CurrentSessionID),
		LastFetched: s.now().UnixMilli(),
	}
	if err := s.store.SaveTasks(cache); err != nil {
		return store.TaskCache{}, fmt.Errorf("save task cache: %w", err)
	}
	log.Info("tasks_refreshed",
		slog.Int("tasks", len(cache.Tasks)),
		slog.Int("sessions", len(sessions)),
		slog.Int("requested_sessions", len(ids)))
	return cache, nil
}

// Aggregate totals closed sessions per task and picks the most recent active
// session not owned by the timer as the task's untracked session.
func Aggregate(remote []notion.Task, sessions []notion.Session, currentSessionID string) []store.CachedTask {
	byID := make(map[string]notion.Session, len(sessions))
	for _, sess := range sessions {
		byID[sess.ID] = sess
	}

	out := make([]store.CachedTask, 0, len(remote))
	for _, t := range remote {
		ct := store.CachedTask{
			ID:         t.ID,
			Title:      t.Title,
			Status:     t.Status,
			SessionIDs: append([]string{}, t.SessionIDs...),
		}
		var open []notion.Session
		for _, id := range t.SessionIDs {
			sess, ok := byID[id]
			if !ok {
				continue
			}
			if sess.Active() {
				if sess.ID != currentSessionID {
					open = append(open, sess)
				}
				continue
			}
			ct.TotalMs += sess.Duration().Milliseconds()
		}
		if len(open) > 0 {
			sort.Slice(open, func(i, j int) bool { return open[i].Start.After(*open[j].Start) })
			ct.Untracked = &store.UntrackedSession{ID: open[0].ID, StartTime: open[0].Start.UnixMilli()}
			log.Info("untracked_session", slog.String("task", t.ID), slog.String("session", open[0].ID))
		}
		out = append(out, ct)
	}
	return out
}
