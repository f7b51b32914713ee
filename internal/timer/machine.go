// Package timer is the single owner of the persisted TimerState. Every
// transition performs its remote session effect first and writes the new state
// only after the remote call succeeds.
package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/TomFrankly/notion-time-tracker/internal/logging"
	"github.com/TomFrankly/notion-time-tracker/internal/notion"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
)

var log = logging.ForComponent(logging.CompTimer)

var (
	// ErrTimerActive is returned by Start when a task is already running or paused.
	ErrTimerActive = errors.New("timer already active")
	// ErrPersist means the remote effect was applied but the new state could
	// not be written. Local and remote state have diverged.
	ErrPersist = errors.New("state not persisted")
	// ErrInvalidRequest rejects malformed transition arguments.
	ErrInvalidRequest = errors.New("invalid request")
)

// Sessions is the remote session client the machine drives.
type Sessions interface {
	Open(ctx context.Context, taskID string, start time.Time) (notion.Session, error)
	Close(ctx context.Context, sessionID string, end time.Time) error
	Get(ctx context.Context, sessionID string) (notion.Session, error)
}

// Dialer binds a session client to the current settings. It is called per
// transition so settings edits take effect without a restart.
type Dialer func(store.Settings) Sessions

// Store is the slice of the state store the machine uses.
type Store interface {
	Settings() (store.Settings, error)
	Timer() (store.TimerState, error)
	SaveTimer(store.TimerState) error
}

// Adoption seeds a start from a session that is already open remotely. The
// session is re-read before it is adopted.
type Adoption struct {
	SessionID string
}

// StartRequest is the payload of Start.
type StartRequest struct {
	TaskID     string
	Title      string
	PriorTotal int64 // ms
	Adopt      *Adoption
}

// Machine serializes transitions behind one mutex.
type Machine struct {
	mu    sync.Mutex
	store Store
	dial  Dialer
	now   func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a machine over the store and session dialer.
func New(st Store, dial Dialer, opts ...Option) *Machine {
	m := &Machine{store: st, dial: dial, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the persisted state. It does not wait for an in-flight transition.
func (m *Machine) State() (store.TimerState, error) {
	s, err := m.store.Timer()
	if err != nil {
		return store.TimerState{}, fmt.Errorf("read timer state: %w", err)
	}
	return s, nil
}

// Start begins tracking a task. The machine must be idle.
func (m *Machine) Start(ctx context.Context, req StartRequest) (store.TimerState, error) {
	if strings.TrimSpace(req.TaskID) == "" {
		return store.TimerState{}, fmt.Errorf("%w: task id is required", ErrInvalidRequest)
	}
	if req.PriorTotal < 0 {
		return store.TimerState{}, fmt.Errorf("%w: prior total must not be negative", ErrInvalidRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.State()
	if err != nil {
		return cur, err
	}
	if cur.Phase != store.PhaseIdle {
		return cur, fmt.Errorf("%w: tracking %s (%s)", ErrTimerActive, cur.TaskID, cur.Phase)
	}
	sessions, err := m.sessions()
	if err != nil {
		return cur, err
	}

	var sessionID string
	var start time.Time
	if req.Adopt != nil {
		sess, err := m.adoptable(ctx, sessions, req)
		if err != nil {
			return cur, err
		}
		sessionID, start = sess.ID, *sess.Start
		log.Info("session_adopted", slog.String("session", sessionID), slog.String("task", req.TaskID))
	} else {
		start = m.now()
		sess, err := sessions.Open(ctx, req.TaskID, start)
		if err != nil {
			return cur, m.failed("start", cur, err)
		}
		sessionID = sess.ID
	}

	return m.commit("start", cur, store.TimerState{
		Phase:            store.PhaseRunning,
		TaskID:           req.TaskID,
		TaskTitle:        req.Title,
		CurrentSessionID: sessionID,
		SessionStartTime: start.UnixMilli(),
		AccumulatedTime:  req.PriorTotal,
	})
}

// adoptable reads the named session and checks it is open and belongs to
// the task being started.
func (m *Machine) adoptable(ctx context.Context, sessions Sessions, req StartRequest) (notion.Session, error) {
	id := strings.TrimSpace(req.Adopt.SessionID)
	if id == "" {
		return notion.Session{}, fmt.Errorf("%w: adopted session needs an id", ErrInvalidRequest)
	}
	sess, err := sessions.Get(ctx, id)
	if err != nil {
		if isMissing(err) {
			return notion.Session{}, fmt.Errorf("%w: session %s not found", ErrInvalidRequest, id)
		}
		return notion.Session{}, m.failed("start", store.IdleState(), err)
	}
	switch {
	case !sess.Active():
		return notion.Session{}, fmt.Errorf("%w: session %s is not open", ErrInvalidRequest, id)
	case sess.TaskID != "" && sess.TaskID != req.TaskID:
		return notion.Session{}, fmt.Errorf("%w: session %s belongs to task %s", ErrInvalidRequest, id, sess.TaskID)
	}
	return sess, nil
}

// isMissing reports a remote 404, as opposed to a failure to reach the API.
func isMissing(err error) bool {
	var apiErr *notion.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Pause closes the open session and folds its duration into the accumulated
// time. It is a no-op unless running.
func (m *Machine) Pause(ctx context.Context) (store.TimerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.State()
	if err != nil || cur.Phase != store.PhaseRunning {
		return cur, err
	}
	end, err := m.closeOpen(ctx, "pause", cur)
	if err != nil {
		return cur, err
	}

	return m.commit("pause", cur, store.TimerState{
		Phase:           store.PhasePaused,
		TaskID:          cur.TaskID,
		TaskTitle:       cur.TaskTitle,
		AccumulatedTime: cur.AccumulatedTime + interval(cur, end),
	})
}

// Resume opens a new session for the paused task. It is a no-op unless paused.
func (m *Machine) Resume(ctx context.Context) (store.TimerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.State()
	if err != nil || cur.Phase != store.PhasePaused {
		return cur, err
	}
	sessions, err := m.sessions()
	if err != nil {
		return cur, err
	}
	start := m.now()
	sess, err := sessions.Open(ctx, cur.TaskID, start)
	if err != nil {
		return cur, m.failed("resume", cur, err)
	}

	next := cur
	next.Phase = store.PhaseRunning
	next.CurrentSessionID = sess.ID
	next.SessionStartTime = start.UnixMilli()
	return m.commit("resume", cur, next)
}

// Stop closes the open session, if any, and returns to idle. The final
// accumulated time is kept for display until the next start.
func (m *Machine) Stop(ctx context.Context) (store.TimerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.State()
	if err != nil || cur.Phase == store.PhaseIdle {
		return cur, err
	}

	total := cur.AccumulatedTime
	if cur.Phase == store.PhaseRunning {
		end, err := m.closeOpen(ctx, "stop", cur)
		if err != nil {
			return cur, err
		}
		total += interval(cur, end)
	}

	next := store.IdleState()
	next.AccumulatedTime = total
	return m.commit("stop", cur, next)
}

// ReconcileReport describes whether the persisted state agrees with the
// remote session it points at.
type ReconcileReport struct {
	State      store.TimerState
	Session    *notion.Session
	Consistent bool
	Reason     string
}

// ErrReconcileSkipped means the remote session could not be read, so nothing
// is known about whether the state diverged.
var ErrReconcileSkipped = errors.New("reconcile skipped")

// Reconcile checks a running state against its remote session. It never
// mutates state; divergence is reported and logged for manual recovery.
// Transport failures return ErrReconcileSkipped rather than a divergence.
func (m *Machine) Reconcile(ctx context.Context) (ReconcileReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.State()
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{State: cur, Consistent: true}
	if cur.Phase != store.PhaseRunning {
		return report, nil
	}
	sessions, err := m.sessions()
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrReconcileSkipped, err)
	}

	sess, err := sessions.Get(ctx, cur.CurrentSessionID)
	switch {
	case err != nil && !isMissing(err):
		return report, fmt.Errorf("%w: %w", ErrReconcileSkipped, err)
	case err != nil:
		report.Consistent = false
		report.Reason = "session missing remotely"
	case !sess.Active():
		report.Session = &sess
		report.Consistent = false
		report.Reason = "session closed remotely"
	default:
		report.Session = &sess
	}
	if !report.Consistent {
		log.Error("partial_consistency",
			slog.String("session", cur.CurrentSessionID),
			slog.String("task", cur.TaskID),
			slog.String("reason", report.Reason))
	}
	return report, nil
}

func (m *Machine) sessions() (Sessions, error) {
	settings, err := m.store.Settings()
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return m.dial(settings), nil
}

func (m *Machine) closeOpen(ctx context.Context, op string, cur store.TimerState) (time.Time, error) {
	sessions, err := m.sessions()
	if err != nil {
		return time.Time{}, err
	}
	end := m.now()
	if err := sessions.Close(ctx, cur.CurrentSessionID, end); err != nil {
		return time.Time{}, m.failed(op, cur, err)
	}
	return end, nil
}

func (m *Machine) failed(op string, cur store.TimerState, err error) error {
	log.Warn("transition_failed",
		slog.String("op", op),
		slog.String("phase", string(cur.Phase)),
		slog.String("error", err.Error()))
	return fmt.Errorf("%s: %w", op, err)
}

func (m *Machine) commit(op string, prev, next store.TimerState) (store.TimerState, error) {
	task := next.TaskID
	if task == "" {
		task = prev.TaskID
	}
	if err := m.store.SaveTimer(next); err != nil {
		log.Error("partial_consistency",
			slog.String("op", op),
			slog.String("task", task),
			slog.String("prev_session", prev.CurrentSessionID),
			slog.String("next_session", next.CurrentSessionID),
			slog.String("error", err.Error()))
		return prev, fmt.Errorf("%s: %w: %w", op, ErrPersist, err)
	}
	log.Info("transition",
		slog.String("op", op),
		slog.String("from", string(prev.Phase)),
		slog.String("to", string(next.Phase)),
		slog.String("task", task),
		slog.Int64("accumulated_ms", next.AccumulatedTime))
	return next, nil
}

// interval is the length of the open session at end, in ms.
func interval(s store.TimerState, end time.Time) int64 {
	if d := end.UnixMilli() - s.SessionStartTime; d > 0 {
		return d
	}
	return 0
}
