package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/TomFrankly/notion-time-tracker/internal/badge"
	"github.com/TomFrankly/notion-time-tracker/internal/daemon"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
	"github.com/TomFrankly/notion-time-tracker/internal/ui"
)

func newStartCmd(o *options) *cobra.Command {
	var (
		title string
		prior time.Duration
		fresh bool
	)
	cmd := &cobra.Command{
		Use:   "start <task-id>",
		Short: "Start timing a task",
		Long: `Start timing a task. When the task is in the cached task list its title and
prior total are filled in, and an open session left behind for it in Notion is
adopted instead of opening a new one (disable with --new).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := o.proxy()
			ctx := cmd.Context()

			cache, err := p.Tasks(ctx, false)
			if err != nil {
				return err
			}
			task, known := cache.Find(args[0])
			if !known {
				task = store.CachedTask{ID: args[0]}
			}
			if title != "" {
				task.Title = title
			}
			if cmd.Flags().Changed("prior") {
				task.TotalMs = prior.Milliseconds()
			}
			if fresh {
				task.Untracked = nil
			}

			state, err := p.StartAdopting(ctx, task)
			if err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), state, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title shown while running")
	cmd.Flags().DurationVar(&prior, "prior", 0, "time already spent on the task")
	cmd.Flags().BoolVar(&fresh, "new", false, "open a new session even if one is left open")
	return cmd
}

type transition func(*daemon.Proxy, context.Context) (store.TimerState, error)

func newTransitionCmd(o *options, use, short string, fn transition) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := fn(o.proxy(), cmd.Context())
			if err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), state, time.Now())
			return nil
		},
	}
}

func newStatusCmd(o *options) *cobra.Command {
	var asBadge bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the timer state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := o.proxy().State(cmd.Context())
			if err != nil {
				return err
			}
			if asBadge {
				fmt.Fprintln(cmd.OutOrStdout(), badge.For(state.Phase).Text)
				return nil
			}
			printState(cmd.OutOrStdout(), state, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asBadge, "badge", false, "print only the badge glyph (empty when idle)")
	return cmd
}

func newTasksCmd(o *options) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks with their tracked totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := o.proxy().Tasks(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			return printTasks(cmd.OutOrStdout(), cache)
		},
	}
	cmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "refresh from Notion first")
	return cmd
}

func printState(w io.Writer, s store.TimerState, now time.Time) {
	b := badge.For(s.Phase)
	if b.Empty() {
		fmt.Fprintln(w, ui.Summary(s, now))
		return
	}
	fmt.Fprintf(w, "%s %s\n", b.Render(), ui.Summary(s, now))
}

func printTasks(w io.Writer, cache store.TaskCache) error {
	if len(cache.Tasks) == 0 {
		fmt.Fprintln(w, "No tasks cached. Run `timetrack tasks --refresh`.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tTOTAL\tNOTE")
	for _, t := range cache.Tasks {
		note := ""
		if t.Untracked != nil {
			note = "open session " + time.UnixMilli(t.Untracked.StartTime).Format("Jan 2 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Title, t.Status, ui.FormatDuration(time.Duration(t.TotalMs)*time.Millisecond), note)
	}
	if cache.LastFetched > 0 {
		fmt.Fprintf(tw, "\nfetched %s\n", time.UnixMilli(cache.LastFetched).Format(time.RFC822))
	}
	return tw.Flush()
}
