package app

import (
	"context"

	"github.com/TomFrankly/notion-time-tracker/internal/daemon"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
)

// SubscribedMsg is sent when the state stream to the daemon is open.
type SubscribedMsg struct {
	Events <-chan daemon.Event
	Cancel context.CancelFunc
}

// ConnectErrorMsg is sent when the daemon connection fails.
type ConnectErrorMsg struct {
	Err error
}

// StateEventMsg wraps a streamed event from the daemon.
type StateEventMsg struct {
	Event daemon.Event
}

// StreamClosedMsg is sent when the event stream ends.
type StreamClosedMsg struct{}

// TransitionMsg carries the result of a start, pause, resume or stop.
type TransitionMsg struct {
	Op    string
	State store.TimerState
	Err   error
}

// TasksMsg carries the task list.
type TasksMsg struct {
	Cache store.TaskCache
	Err   error
}

// TickMsg re-renders the elapsed time.
type TickMsg struct{}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}

// ReconnectTickMsg triggers a reconnection attempt.
type ReconnectTickMsg struct{}
