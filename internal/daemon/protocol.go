// Package daemon is the client proxy between UI surfaces and the timer: NDJSON
// commands and responses over a Unix socket, one response per command, plus a
// state event stream for subscribed connections.
package daemon

import (
	"github.com/TomFrankly/notion-time-tracker/internal/badge"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
)

// Command kinds.
const (
	CmdStart     = "start"
	CmdPause     = "pause"
	CmdResume    = "resume"
	CmdStop      = "stop"
	CmdState     = "state"
	CmdTasks     = "tasks"
	CmdSubscribe = "subscribe"
	CmdPing      = "ping"
)

// Event kinds.
const (
	EventState = "state"
	EventError = "error"
)

// Adopt names a remote session to fold into a start. StartTime is what the
// client last saw; the daemon re-reads the session and uses the remote value.
type Adopt struct {
	SessionID string `json:"sessionId"`
	StartTime int64  `json:"startTime"` // ms since epoch
}

// Command is sent from a client to the daemon.
type Command struct {
	ID         string `json:"id,omitempty"`
	Cmd        string `json:"cmd"`
	TaskID     string `json:"taskId,omitempty"`
	Title      string `json:"title,omitempty"`
	PriorTotal *int64 `json:"priorTotal,omitempty"`
	Adopt      *Adopt `json:"adopt,omitempty"`
	Refresh    *bool  `json:"refresh,omitempty"`
}

// Response is returned by the daemon after processing a command. A failed
// command carries Error and Code and nothing else.
type Response struct {
	ID    string            `json:"id,omitempty"`
	OK    bool              `json:"ok"`
	State *store.TimerState `json:"state,omitempty"`
	Badge *badge.Badge      `json:"badge,omitempty"`
	Tasks *store.TaskCache  `json:"tasks,omitempty"`
	Error string            `json:"error,omitempty"`
	Code  string            `json:"code,omitempty"`
}

// Event is streamed from the daemon to subscribed clients.
type Event struct {
	Event   string            `json:"event"`
	State   *store.TimerState `json:"state,omitempty"`
	Badge   *badge.Badge      `json:"badge,omitempty"`
	Message string            `json:"message,omitempty"`
}

// BoolPtr returns a pointer to a bool value. Convenience for building commands.
func BoolPtr(b bool) *bool { return &b }

// Int64Ptr returns a pointer to an int64 value.
func Int64Ptr(n int64) *int64 { return &n }

func stateEvent(s store.TimerState) Event {
	b := badge.For(s.Phase)
	return Event{Event: EventState, State: &s, Badge: &b}
}
