package notion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jomei/notionapi"
)

// SessionProperties names the session database properties.
type SessionProperties struct {
	Task  string
	Start string
	End   string
}

func (p SessionProperties) mapping() Mapping {
	return Mapping{SessionTask: p.Task, SessionStart: p.Start, SessionEnd: p.End}
}

// OpenSession creates an active session record linked to the task.
func (c *Client) OpenSession(ctx context.Context, databaseID string, props SessionProperties, taskID string, start time.Time) (Session, error) {
	values := notionapi.Properties{props.Start: dateValue(start)}
	if props.Task != "" {
		values[props.Task] = &notionapi.RelationProperty{
			Relation: []notionapi.Relation{{ID: notionapi.PageID(taskID)}},
		}
	}

	p, err := c.CreatePage(ctx, databaseID, values)
	if err != nil {
		return Session{}, fmt.Errorf("open session for task %s: %w", taskID, err)
	}
	log.Info("session_opened", slog.String("session", string(p.ID)), slog.String("task", taskID))

	s := decodeSession(*p, props.mapping())
	if s.Start == nil {
		s.Start = &start
	}
	if s.TaskID == "" {
		s.TaskID = taskID
	}
	return s, nil
}

// CloseSession sets the end timestamp of a session record.
func (c *Client) CloseSession(ctx context.Context, props SessionProperties, sessionID string, end time.Time) error {
	values := notionapi.Properties{props.End: dateValue(end)}
	if _, err := c.UpdatePage(ctx, sessionID, values); err != nil {
		return fmt.Errorf("close session %s: %w", sessionID, err)
	}
	log.Info("session_closed", slog.String("session", sessionID))
	return nil
}

// GetSession fetches one session record.
func (c *Client) GetSession(ctx context.Context, props SessionProperties, id string) (Session, error) {
	p, err := c.Page(ctx, id)
	if err != nil {
		return Session{}, fmt.Errorf("read session %s: %w", id, err)
	}
	return decodeSession(*p, props.mapping()), nil
}

// ReadSessions fetches sessions by id. A record that fails to load is skipped
// rather than failing the batch.
func (c *Client) ReadSessions(ctx context.Context, props SessionProperties, ids []string) []Session {
	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		s, err := c.GetSession(ctx, props, id)
		if err != nil {
			log.Warn("session_read_skipped", slog.String("session", id), slog.String("error", err.Error()))
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions
}

// Sessions binds session operations to one database and property mapping.
type Sessions struct {
	client     *Client
	databaseID string
	props      SessionProperties
}

// Sessions returns a session view bound to the given database.
func (c *Client) Sessions(databaseID string, props SessionProperties) *Sessions {
	return &Sessions{client: c, databaseID: databaseID, props: props}
}

// Open creates an active session for the task starting at start.
func (s *Sessions) Open(ctx context.Context, taskID string, start time.Time) (Session, error) {
	return s.client.OpenSession(ctx, s.databaseID, s.props, taskID, start)
}

// Close ends the session at end.
func (s *Sessions) Close(ctx context.Context, sessionID string, end time.Time) error {
	return s.client.CloseSession(ctx, s.props, sessionID, end)
}

// Get fetches one session. Unlike Read it reports why a record is unavailable.
func (s *Sessions) Get(ctx context.Context, sessionID string) (Session, error) {
	return s.client.GetSession(ctx, s.props, sessionID)
}

// Read fetches sessions by id, skipping failures.
func (s *Sessions) Read(ctx context.Context, ids []string) []Session {
	return s.client.ReadSessions(ctx, s.props, ids)
}
