package daemon

import (
	"errors"

	"github.com/TomFrankly/notion-time-tracker/internal/notion"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
	"github.com/TomFrankly/notion-time-tracker/internal/timer"
)

// ErrUnknownCommand is returned for a command kind the daemon does not handle.
var ErrUnknownCommand = errors.New("unknown command")

// Error codes carried in Response.Code.
const (
	CodeConfig         = "config"
	CodeRemote         = "remote"
	CodeConflict       = "conflict"
	CodePersist        = "persist"
	CodeUnknownCommand = "unknown_command"
	CodeBadRequest     = "bad_request"
	CodeInternal       = "internal"
)

var codeErrors = []struct {
	code string
	err  error
}{
	{CodeConfig, store.ErrConfig},
	{CodePersist, timer.ErrPersist},
	{CodeRemote, notion.ErrRemote},
	{CodeConflict, timer.ErrTimerActive},
	{CodeUnknownCommand, ErrUnknownCommand},
	{CodeBadRequest, timer.ErrInvalidRequest},
}

// codeFor classifies an error for the wire. Persist is checked before remote
// since a persist failure may wrap a remote-looking cause.
func codeFor(err error) string {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternal
}

// RemoteError is an error descriptor returned by the daemon. It matches the
// sentinel for its code, so callers can use errors.Is across the socket.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Is(target error) bool {
	for _, ce := range codeErrors {
		if ce.code == e.Code {
			return target == ce.err
		}
	}
	return false
}
