package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/TomFrankly/notion-time-tracker/internal/store"
)

// DefaultTimeout bounds a proxy call whose context has no deadline. It covers
// the remote round trip a transition makes.
const DefaultTimeout = 30 * time.Second

// Proxy exposes the timer operations as request/response calls over the
// daemon socket. Each call is a single round trip on a fresh connection and
// is never retried.
type Proxy struct {
	socketPath string
	timeout    time.Duration
}

// NewProxy creates a proxy for the daemon at socketPath.
func NewProxy(socketPath string) *Proxy {
	return &Proxy{socketPath: socketPath, timeout: DefaultTimeout}
}

// SocketPath is the socket the proxy dials.
func (p *Proxy) SocketPath() string {
	return p.socketPath
}

func (p *Proxy) call(ctx context.Context, cmd Command) (Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	c, err := Dial(ctx, p.socketPath)
	if err != nil {
		return Response{}, err
	}
	defer c.Close()

	resp, err := c.SendCommand(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", cmd.Cmd, err)
	}
	if !resp.OK {
		return resp, &RemoteError{Code: resp.Code, Message: resp.Error}
	}
	return resp, nil
}

func (p *Proxy) state(ctx context.Context, cmd Command) (store.TimerState, error) {
	resp, err := p.call(ctx, cmd)
	if err != nil {
		return store.TimerState{}, err
	}
	if resp.State == nil {
		return store.TimerState{}, fmt.Errorf("%s: response has no state", cmd.Cmd)
	}
	return *resp.State, nil
}

// Start begins tracking a task with the given completed total.
func (p *Proxy) Start(ctx context.Context, taskID, title string, priorTotal int64) (store.TimerState, error) {
	return p.state(ctx, Command{Cmd: CmdStart, TaskID: taskID, Title: title, PriorTotal: Int64Ptr(priorTotal)})
}

// StartAdopting starts a task from a session already open remotely.
func (p *Proxy) StartAdopting(ctx context.Context, task store.CachedTask) (store.TimerState, error) {
	cmd := Command{Cmd: CmdStart, TaskID: task.ID, Title: task.Title, PriorTotal: Int64Ptr(task.PriorTotal())}
	if task.Untracked != nil {
		cmd.Adopt = &Adopt{SessionID: task.Untracked.ID, StartTime: task.Untracked.StartTime}
	}
	return p.state(ctx, cmd)
}

// Pause pauses the running task.
func (p *Proxy) Pause(ctx context.Context) (store.TimerState, error) {
	return p.state(ctx, Command{Cmd: CmdPause})
}

// Resume resumes the paused task.
func (p *Proxy) Resume(ctx context.Context) (store.TimerState, error) {
	return p.state(ctx, Command{Cmd: CmdResume})
}

// Stop stops tracking.
func (p *Proxy) Stop(ctx context.Context) (store.TimerState, error) {
	return p.state(ctx, Command{Cmd: CmdStop})
}

// State returns the current timer state.
func (p *Proxy) State(ctx context.Context) (store.TimerState, error) {
	return p.state(ctx, Command{Cmd: CmdState})
}

// Tasks returns the cached task list, refreshing it first when asked.
func (p *Proxy) Tasks(ctx context.Context, refresh bool) (store.TaskCache, error) {
	resp, err := p.call(ctx, Command{Cmd: CmdTasks, Refresh: BoolPtr(refresh)})
	if err != nil {
		return store.TaskCache{}, err
	}
	if resp.Tasks == nil {
		return store.TaskCache{Tasks: []store.CachedTask{}}, nil
	}
	return *resp.Tasks, nil
}

// Ping checks that the daemon answers.
func (p *Proxy) Ping(ctx context.Context) error {
	_, err := p.call(ctx, Command{Cmd: CmdPing})
	return err
}

// Subscribe opens a long-lived connection and streams state events, starting
// with the current state. The channel closes when ctx is done or the daemon
// goes away.
func (p *Proxy) Subscribe(ctx context.Context) (<-chan Event, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	c, err := Dial(dialCtx, p.socketPath)
	if err != nil {
		return nil, err
	}
	resp, err := c.SendCommand(Command{Cmd: CmdSubscribe})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if !resp.OK {
		c.Close()
		return nil, &RemoteError{Code: resp.Code, Message: resp.Error}
	}
	_ = c.SetDeadline(time.Time{})

	events := make(chan Event, 16)
	events <- Event{Event: EventState, State: resp.State, Badge: resp.Badge}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		c.Close()
	}()
	go func() {
		defer close(events)
		defer close(done)
		for {
			ev, err := c.ReadEvent()
			if err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
