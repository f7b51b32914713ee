package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TomFrankly/notion-time-tracker/internal/badge"
	"github.com/TomFrankly/notion-time-tracker/internal/daemon"
	"github.com/TomFrankly/notion-time-tracker/internal/logging"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
	"github.com/TomFrankly/notion-time-tracker/internal/tasks"
	"github.com/TomFrankly/notion-time-tracker/internal/timer"
)

func newDaemonCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the timer daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, o)
		},
	}
}

func runDaemon(cmd *cobra.Command, o *options) error {
	cfg := o.cfg
	logging.Setup(cfg.LogLevel, cmd.ErrOrStderr())
	log := logging.ForComponent(logging.CompDaemon)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	machine := timer.New(st, sessionDialer(cfg))
	taskSvc := tasks.NewService(st, taskDialer(cfg), nil)

	report, err := machine.Reconcile(ctx)
	switch {
	case errors.Is(err, timer.ErrReconcileSkipped):
		log.Warn("reconcile_skipped", slog.String("error", err.Error()))
	case err != nil:
		log.Error("reconcile_failed", slog.String("error", err.Error()))
	case !report.Consistent:
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: timer state for task %s disagrees with Notion (%s); stop the timer to reset it\n",
			report.State.TaskID, report.Reason)
	}

	ln, err := daemon.Listen(cfg.SocketPath)
	if err != nil {
		return err
	}
	defer os.Remove(cfg.SocketPath)

	srv := daemon.NewServer(machine, taskSvc)

	events, unsubEvents := st.Subscribe(16, store.KeyTimer)
	defer unsubEvents()
	go srv.Watch(ctx, events)

	badgeChanges, unsubBadge := st.Subscribe(4, store.KeyTimer)
	defer unsubBadge()
	refresher := badge.NewRefresher(st, cfg.TickInterval, badge.FileSurface{Path: cfg.BadgeFile})
	go refresher.Run(ctx, badgeChanges)

	log.Info("daemon_started",
		slog.String("socket", cfg.SocketPath),
		slog.String("db", cfg.DBPath),
		slog.String("badge_file", cfg.BadgeFile))
	err = srv.Serve(ctx, ln)
	log.Info("daemon_stopped")
	return err
}
