// Package store persists settings, timer state and the cached task list as
// JSON blobs in SQLite and notifies subscribers when a blob changes.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfig reports that required settings are missing.
var ErrConfig = errors.New("configuration error")

// Phase is the three-valued timer state.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhasePaused  Phase = "paused"
)

// TimerState is the persisted singleton owned by the timer state machine.
// Times are milliseconds since the Unix epoch; durations are milliseconds.
type TimerState struct {
	Phase            Phase  `json:"phase"`
	TaskID           string `json:"taskId,omitempty"`
	TaskTitle        string `json:"taskTitle,omitempty"`
	CurrentSessionID string `json:"currentSessionId,omitempty"`
	SessionStartTime int64  `json:"sessionStartTime,omitempty"`
	AccumulatedTime  int64  `json:"accumulatedTime"`
}

// IdleState returns the empty timer state.
func IdleState() TimerState {
	return TimerState{Phase: PhaseIdle}
}

// Elapsed is the accumulated time plus the open interval, if any, measured at now.
func (s TimerState) Elapsed(now time.Time) time.Duration {
	total := s.AccumulatedTime
	if s.Phase == PhaseRunning && s.SessionStartTime > 0 {
		if d := now.UnixMilli() - s.SessionStartTime; d > 0 {
			total += d
		}
	}
	return time.Duration(total) * time.Millisecond
}

// SessionStart returns the start of the open interval, or the zero time.
func (s TimerState) SessionStart() time.Time {
	if s.SessionStartTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.SessionStartTime)
}

// Validate checks the phase invariants: session fields are present only while
// running, and a task is present iff the phase is not idle.
func (s TimerState) Validate() error {
	hasSession := s.CurrentSessionID != ""
	hasStart := s.SessionStartTime != 0
	switch s.Phase {
	case PhaseIdle:
		if s.TaskID != "" || hasSession || hasStart {
			return fmt.Errorf("idle state carries task or session fields")
		}
	case PhaseRunning:
		if s.TaskID == "" || !hasSession || !hasStart {
			return fmt.Errorf("running state missing task or session fields")
		}
	case PhasePaused:
		if s.TaskID == "" {
			return fmt.Errorf("paused state missing task")
		}
		if hasSession || hasStart {
			return fmt.Errorf("paused state carries session fields")
		}
	default:
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	return nil
}

// Property identifies a remote database property by id and name.
type Property struct {
	ID   string `json:"id,omitempty" yaml:"id,omitempty"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// FilterCondition is a single equality condition on a task property.
// Type is one of status, select or checkbox; checkbox values are "true"/"false".
type FilterCondition struct {
	Property string `json:"property" yaml:"property"`
	Type     string `json:"type" yaml:"type"`
	Equals   string `json:"equals" yaml:"equals"`
}

// Settings is the bundle needed to talk to the remote store.
type Settings struct {
	Token                   string            `json:"token" yaml:"token"`
	TaskDatabaseID          string            `json:"taskDatabaseId" yaml:"task_database_id"`
	StatusProperty          Property          `json:"statusProperty" yaml:"status_property"`
	SessionRelationProperty Property          `json:"sessionRelationProperty" yaml:"session_relation_property"`
	SessionTaskProperty     Property          `json:"sessionTaskProperty" yaml:"session_task_property"`
	SessionDatabaseID       string            `json:"sessionDatabaseId" yaml:"session_database_id"`
	StartDateProperty       Property          `json:"startDateProperty" yaml:"start_date_property"`
	EndDateProperty         Property          `json:"endDateProperty" yaml:"end_date_property"`
	Theme                   string            `json:"theme" yaml:"theme"`
	Filters                 []FilterCondition `json:"filters" yaml:"filters"`
}

// DefaultSettings returns the settings used before onboarding.
func DefaultSettings() Settings {
	return Settings{
		SessionTaskProperty: Property{Name: "Task"},
		StartDateProperty:   Property{Name: "Start"},
		EndDateProperty:     Property{Name: "End"},
		Theme:               "system",
		Filters:             []FilterCondition{},
	}
}

// Validate fails with ErrConfig when the credential or a database id is empty.
func (s Settings) Validate() error {
	var missing []string
	if strings.TrimSpace(s.Token) == "" {
		missing = append(missing, "token")
	}
	if strings.TrimSpace(s.TaskDatabaseID) == "" {
		missing = append(missing, "task database id")
	}
	if strings.TrimSpace(s.SessionDatabaseID) == "" {
		missing = append(missing, "session database id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfig, strings.Join(missing, ", "))
	}
	return nil
}

// UntrackedSession is an open remote session the timer does not own.
type UntrackedSession struct {
	ID        string `json:"id"`
	StartTime int64  `json:"startTime"`
}

// CachedTask is one row of the cached task list.
type CachedTask struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Status     string            `json:"status,omitempty"`
	SessionIDs []string          `json:"sessionIds"`
	TotalMs    int64             `json:"totalMs"`
	Untracked  *UntrackedSession `json:"untracked,omitempty"`
}

// PriorTotal is the completed time to hand to a fresh start of this task.
func (t CachedTask) PriorTotal() int64 {
	return t.TotalMs
}

// TaskCache is the cached task list with the time it was fetched.
type TaskCache struct {
	Tasks       []CachedTask `json:"tasks"`
	LastFetched int64        `json:"lastFetched"`
}

// Find returns the cached task with the given id.
func (c TaskCache) Find(id string) (CachedTask, bool) {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return CachedTask{}, false
}
