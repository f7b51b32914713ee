package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/TomFrankly/notion-time-tracker/internal/app"
	"github.com/TomFrankly/notion-time-tracker/internal/logging"
	"github.com/TomFrankly/notion-time-tracker/internal/mcpserver"
	"github.com/TomFrankly/notion-time-tracker/internal/tray"
)

// logToFile sends logs to the configured file so they stay out of the
// terminal and the MCP stdio stream. The returned func closes the file.
func logToFile(o *options) (func(), error) {
	path := o.cfg.LogFile
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logging.Setup(o.cfg.LogLevel, f)
	return func() { f.Close() }, nil
}

func newTUICmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			closeLog, err := logToFile(o)
			if err != nil {
				return err
			}
			defer closeLog()

			p := tea.NewProgram(app.New(o.proxy()), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = p.Run()
			return err
		},
	}
}

func newMCPCmd(o *options, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the timer as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			closeLog, err := logToFile(o)
			if err != nil {
				return err
			}
			defer closeLog()
			return mcpserver.Serve(mcpserver.New(o.proxy(), version))
		},
	}
}

func newTrayCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tray",
		Short: "Show the timer in the system tray",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			closeLog, err := logToFile(o)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			tray.New(o.proxy()).Run(ctx)
			return nil
		},
	}
}
