// Package cli is the timetrack command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TomFrankly/notion-time-tracker/internal/config"
	"github.com/TomFrankly/notion-time-tracker/internal/daemon"
)

// options carries the global flags and the configuration loaded from them.
type options struct {
	configPath string
	socketPath string
	cfg        *config.Config
}

func (o *options) proxy() *daemon.Proxy {
	return daemon.NewProxy(o.cfg.SocketPath)
}

func newRootCmd(version string) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "timetrack",
		Short: "Track time against Notion tasks",
		Long: `timetrack runs a background daemon that owns the timer and records each
working interval as a session page in a Notion database. The CLI, terminal UI,
tray and MCP server are clients of that daemon.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(o.configPath)
			if err != nil {
				return err
			}
			if o.socketPath != "" {
				cfg.SocketPath = o.socketPath
			}
			o.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&o.configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	root.PersistentFlags().StringVar(&o.socketPath, "socket", "", "daemon socket path")

	root.AddCommand(
		newDaemonCmd(o),
		newStartCmd(o),
		newTransitionCmd(o, "pause", "Pause the running timer", (*daemon.Proxy).Pause),
		newTransitionCmd(o, "resume", "Resume the paused timer", (*daemon.Proxy).Resume),
		newTransitionCmd(o, "stop", "Stop the timer and close its session", (*daemon.Proxy).Stop),
		newStatusCmd(o),
		newTasksCmd(o),
		newTUICmd(o),
		newMCPCmd(o, version),
		newTrayCmd(o),
		newSettingsCmd(o),
	)
	return root
}

// Execute runs the root command.
func Execute(version string) error {
	root := newRootCmd(version)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
