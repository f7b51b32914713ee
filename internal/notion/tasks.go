package notion

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
)

// TaskProperties names the task database properties.
type TaskProperties struct {
	Status   string
	Sessions string
}

// QueryTasks lists tasks matching the filter, most recently edited first.
func (c *Client) QueryTasks(ctx context.Context, databaseID string, props TaskProperties, filter *Filter) ([]Task, error) {
	pages, err := c.QueryDatabase(ctx, databaseID, Query{
		Filter: filter,
		Sorts:  []notionapi.SortObject{LastEditedDescending},
	})
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}

	m := Mapping{TaskStatus: props.Status, TaskSessions: props.Sessions}
	tasks := make([]Task, 0, len(pages))
	for _, p := range pages {
		if p.Archived {
			continue
		}
		tasks = append(tasks, decodeTask(p, m))
	}
	return tasks, nil
}
