package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TomFrankly/notion-time-tracker/internal/badge"
	"github.com/TomFrankly/notion-time-tracker/internal/logging"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
	"github.com/TomFrankly/notion-time-tracker/internal/timer"
)

var log = logging.ForComponent(logging.CompDaemon)

const writeTimeout = 5 * time.Second

// Timer is the state machine the server dispatches to.
type Timer interface {
	Start(ctx context.Context, req timer.StartRequest) (store.TimerState, error)
	Pause(ctx context.Context) (store.TimerState, error)
	Resume(ctx context.Context) (store.TimerState, error)
	Stop(ctx context.Context) (store.TimerState, error)
	State() (store.TimerState, error)
}

// Tasks serves the task list.
type Tasks interface {
	Cached() (store.TaskCache, error)
	Refresh(ctx context.Context) (store.TaskCache, error)
}

// Server accepts proxy connections and dispatches their commands.
type Server struct {
	timer Timer
	tasks Tasks

	mu   sync.Mutex
	subs map[*peer]struct{}
}

// NewServer creates a server.
func NewServer(t Timer, tasks Tasks) *Server {
	return &Server{timer: t, tasks: tasks, subs: make(map[*peer]struct{})}
}

// Listen opens the daemon socket. A socket file left behind by a dead daemon
// is removed; a live one is an error.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
			conn.Close()
			return nil, fmt.Errorf("daemon already listening on %s", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		log.Info("stale_socket_removed", slog.String("path", path))
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// Serve accepts connections until ctx is done, then closes the listener and
// waits for open connections to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// peer is one client connection. Writes are serialized because broadcasts
// and responses can race on subscribed connections.
type peer struct {
	conn net.Conn
	mu   sync.Mutex
}

func (p *peer) write(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.send(v)
}

// send writes one line. The caller holds p.mu.
func (p *peer) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = p.conn.Write(append(data, '\n'))
	return err
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	p := &peer{conn: conn}
	defer func() {
		s.unsubscribe(p)
		conn.Close()
	}()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		var cmd Command
		var err error
		if jsonErr := json.Unmarshal(scanner.Bytes(), &cmd); jsonErr != nil {
			err = p.write(Response{Error: fmt.Sprintf("malformed command: %v", jsonErr), Code: CodeBadRequest})
		} else if cmd.Cmd == CmdSubscribe {
			err = s.subscribe(p, cmd)
		} else {
			err = p.write(s.Handle(ctx, cmd))
		}
		if err != nil {
			log.Debug("write_failed", slog.String("error", err.Error()))
			return
		}
	}
}

// Handle runs one command and builds its response.
func (s *Server) Handle(ctx context.Context, cmd Command) Response {
	log.Debug("command", slog.String("cmd", cmd.Cmd), slog.String("id", cmd.ID))

	var state store.TimerState
	var err error
	switch cmd.Cmd {
	case CmdPing:
		return Response{ID: cmd.ID, OK: true}
	case CmdState:
		state, err = s.timer.State()
	case CmdStart:
		state, err = s.timer.Start(ctx, startRequest(cmd))
	case CmdPause:
		state, err = s.timer.Pause(ctx)
	case CmdResume:
		state, err = s.timer.Resume(ctx)
	case CmdStop:
		state, err = s.timer.Stop(ctx)
	case CmdTasks:
		return s.handleTasks(ctx, cmd)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Cmd)
	}
	if err != nil {
		return s.failure(cmd, err)
	}
	b := badge.For(state.Phase)
	return Response{ID: cmd.ID, OK: true, State: &state, Badge: &b}
}

func (s *Server) handleTasks(ctx context.Context, cmd Command) Response {
	var cache store.TaskCache
	var err error
	if cmd.Refresh != nil && *cmd.Refresh {
		cache, err = s.tasks.Refresh(ctx)
	} else {
		cache, err = s.tasks.Cached()
	}
	if err != nil {
		return s.failure(cmd, err)
	}
	return Response{ID: cmd.ID, OK: true, Tasks: &cache}
}

func (s *Server) failure(cmd Command, err error) Response {
	code := codeFor(err)
	log.Warn("command_failed",
		slog.String("cmd", cmd.Cmd),
		slog.String("code", code),
		slog.String("error", err.Error()))
	return Response{ID: cmd.ID, Error: err.Error(), Code: code}
}

func startRequest(cmd Command) timer.StartRequest {
	req := timer.StartRequest{TaskID: cmd.TaskID, Title: cmd.Title}
	if cmd.PriorTotal != nil {
		req.PriorTotal = *cmd.PriorTotal
	}
	if cmd.Adopt != nil {
		req.Adopt = &timer.Adoption{SessionID: cmd.Adopt.SessionID}
	}
	return req
}

// subscribe registers p for broadcasts and answers with the current state.
// p.mu is held throughout so no event can reach the peer before the response.
func (s *Server) subscribe(p *peer, cmd Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s.mu.Lock()
	s.subs[p] = struct{}{}
	n := len(s.subs)
	s.mu.Unlock()

	state, err := s.timer.State()
	if err != nil {
		s.unsubscribe(p)
		return p.send(s.failure(cmd, err))
	}
	b := badge.For(state.Phase)
	if err := p.send(Response{ID: cmd.ID, OK: true, State: &state, Badge: &b}); err != nil {
		s.unsubscribe(p)
		return err
	}
	log.Info("subscriber_added", slog.Int("subscribers", n))
	return nil
}

func (s *Server) unsubscribe(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, p)
}

// Broadcast sends an event to every subscriber, dropping those that fail.
func (s *Server) Broadcast(ev Event) {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.subs))
	for p := range s.subs {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		if err := p.write(ev); err != nil {
			log.Debug("subscriber_dropped", slog.String("error", err.Error()))
			s.unsubscribe(p)
			p.conn.Close()
		}
	}
}

// Watch broadcasts a state event for every timer change until ctx is done or
// changes is closed.
func (s *Server) Watch(ctx context.Context, changes <-chan store.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.Key != store.KeyTimer {
				continue
			}
			_, cur, err := change.TimerStates()
			if err != nil {
				log.Warn("change_decode_failed", slog.String("error", err.Error()))
				continue
			}
			s.Broadcast(stateEvent(cur))
		}
	}
}
