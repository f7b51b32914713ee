package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TomFrankly/notion-time-tracker/internal/logging"

	_ "modernc.org/sqlite"
)

var log = logging.ForComponent(logging.CompStore)

// Keys of the three persisted blobs.
const (
	KeySettings = "settings"
	KeyTimer    = "timerState"
	KeyTasks    = "taskCache"
)

// Change is delivered to subscribers after a blob is rewritten with new content.
// Old is nil when the key had never been written.
type Change struct {
	Key string
	Old json.RawMessage
	New json.RawMessage
}

// TimerStates decodes both sides of a timer change, defaulting missing values.
func (c Change) TimerStates() (old, cur TimerState, err error) {
	old, cur = IdleState(), IdleState()
	if len(c.Old) > 0 {
		if err := json.Unmarshal(c.Old, &old); err != nil {
			return old, cur, fmt.Errorf("decode old timer state: %w", err)
		}
	}
	if err := json.Unmarshal(c.New, &cur); err != nil {
		return old, cur, fmt.Errorf("decode timer state: %w", err)
	}
	return old, cur, nil
}

// Store is the durable key/value store. Writes are last-writer-wins.
type Store struct {
	db *sql.DB

	mu   sync.Mutex
	subs []*subscription
}

type subscription struct {
	ch   chan Change
	keys map[string]bool
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "timetrack", "timetrack.sqlite")
}

// Open opens (creating if needed) the database with WAL.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updatedAt REAL NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection and every subscription channel.
func (s *Store) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		close(sub.ch)
	}
	return s.db.Close()
}

// Settings returns the stored settings, or DefaultSettings when never written.
func (s *Store) Settings() (Settings, error) {
	settings := DefaultSettings()
	if err := s.load(KeySettings, &settings); err != nil {
		return DefaultSettings(), err
	}
	if settings.Filters == nil {
		settings.Filters = []FilterCondition{}
	}
	return settings, nil
}

// SaveSettings replaces the settings blob.
func (s *Store) SaveSettings(settings Settings) error {
	return s.save(KeySettings, settings)
}

// Timer returns the stored timer state, or the idle state when never written.
// A blob that no longer decodes is treated as idle so the next transition can
// overwrite it.
func (s *Store) Timer() (TimerState, error) {
	state := IdleState()
	if err := s.load(KeyTimer, &state); err != nil {
		if errors.Is(err, errUndecodable) {
			log.Error("schema_drift", slog.String("key", KeyTimer), slog.String("error", err.Error()))
			return IdleState(), nil
		}
		return IdleState(), err
	}
	if state.Phase == "" {
		state.Phase = PhaseIdle
	}
	return state, nil
}

// SaveTimer replaces the timer blob.
func (s *Store) SaveTimer(state TimerState) error {
	return s.save(KeyTimer, state)
}

// Tasks returns the cached task list, or an empty cache when never written.
func (s *Store) Tasks() (TaskCache, error) {
	cache := TaskCache{Tasks: []CachedTask{}}
	if err := s.load(KeyTasks, &cache); err != nil {
		return TaskCache{Tasks: []CachedTask{}}, err
	}
	if cache.Tasks == nil {
		cache.Tasks = []CachedTask{}
	}
	return cache, nil
}

// SaveTasks replaces the task cache blob.
func (s *Store) SaveTasks(cache TaskCache) error {
	return s.save(KeyTasks, cache)
}

// UpdatedAt reports when a key was last written; zero if never.
func (s *Store) UpdatedAt(key string) (time.Time, error) {
	var ts float64
	err := s.db.QueryRow(`SELECT updatedAt FROM kv WHERE key = ?`, key).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query %s: %w", key, err)
	}
	return timeFromUnix(ts), nil
}

// Subscribe registers an observer for the given keys (all keys when none are
// given). Delivery is non-blocking: a full channel drops the change. The
// returned func unsubscribes and closes the channel.
func (s *Store) Subscribe(buffer int, keys ...string) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	sub := &subscription{ch: make(chan Change, buffer)}
	if len(keys) > 0 {
		sub.keys = make(map[string]bool, len(keys))
		for _, k := range keys {
			sub.keys[k] = true
		}
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, other := range s.subs {
				if other == sub {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					close(sub.ch)
					return
				}
			}
		})
	}
}

var errUndecodable = errors.New("stored value does not decode")

func (s *Store) load(key string, out any) error {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("query %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return fmt.Errorf("decode %s: %w: %w", key, errUndecodable, err)
	}
	return nil
}

func (s *Store) save(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin %s: %w", key, err)
	}
	defer tx.Rollback()

	var old sql.NullString
	if err := tx.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&old); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("query %s: %w", key, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO kv (key, value, updatedAt) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = excluded.updatedAt
	`, key, string(data), unixFromTime(time.Now())); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}

	var oldRaw json.RawMessage
	if old.Valid {
		oldRaw = json.RawMessage(old.String)
	}
	if bytes.Equal(oldRaw, data) {
		return nil
	}
	s.notify(Change{Key: key, Old: oldRaw, New: json.RawMessage(data)})
	return nil
}

func (s *Store) notify(change Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.keys != nil && !sub.keys[change.Key] {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			log.Warn("change_dropped", slog.String("key", change.Key))
		}
	}
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
