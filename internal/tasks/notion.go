package tasks

import (
	"context"

	"github.com/TomFrankly/notion-time-tracker/internal/notion"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
)

// propertyKey addresses a property by name, falling back to its id.
func propertyKey(p store.Property) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// SessionProperties maps settings onto the session database properties.
func SessionProperties(s store.Settings) notion.SessionProperties {
	return notion.SessionProperties{
		Task:  propertyKey(s.SessionTaskProperty),
		Start: propertyKey(s.StartDateProperty),
		End:   propertyKey(s.EndDateProperty),
	}
}

// TaskProperties maps settings onto the task database properties.
func TaskProperties(s store.Settings) notion.TaskProperties {
	return notion.TaskProperties{
		Status:   propertyKey(s.StatusProperty),
		Sessions: propertyKey(s.SessionRelationProperty),
	}
}

// FilterFor builds the task query filter from the configured conditions.
func FilterFor(s store.Settings) (*notion.Filter, error) {
	conds := make([]notion.Condition, 0, len(s.Filters))
	for _, f := range s.Filters {
		conds = append(conds, notion.Condition{Property: f.Property, Type: f.Type, Equals: f.Equals})
	}
	return notion.FilterFrom(conds)
}

// NotionSource reads tasks and sessions through a Notion client.
type NotionSource struct {
	Client   *notion.Client
	Settings store.Settings
}

func (n NotionSource) Tasks(ctx context.Context, filter *notion.Filter) ([]notion.Task, error) {
	return n.Client.QueryTasks(ctx, n.Settings.TaskDatabaseID, TaskProperties(n.Settings), filter)
}

func (n NotionSource) Sessions(ctx context.Context, ids []string) []notion.Session {
	return n.Client.ReadSessions(ctx, SessionProperties(n.Settings), ids)
}
