package cli

import (
	"github.com/TomFrankly/notion-time-tracker/internal/config"
	"github.com/TomFrankly/notion-time-tracker/internal/notion"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
	"github.com/TomFrankly/notion-time-tracker/internal/tasks"
	"github.com/TomFrankly/notion-time-tracker/internal/timer"
)

func notionClient(cfg *config.Config, token string) *notion.Client {
	return notion.New(token, cfg.NotionOptions()...)
}

// sessionDialer binds the timer to the session database named by the
// settings current at the time of each transition.
func sessionDialer(cfg *config.Config) timer.Dialer {
	return func(s store.Settings) timer.Sessions {
		return notionClient(cfg, s.Token).Sessions(s.SessionDatabaseID, tasks.SessionProperties(s))
	}
}

func taskDialer(cfg *config.Config) tasks.Dialer {
	return func(s store.Settings) tasks.Source {
		return tasks.NotionSource{Client: notionClient(cfg, s.Token), Settings: s}
	}
}
