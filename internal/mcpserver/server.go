// Package mcpserver exposes the timer as MCP tools over stdio, so assistants
// can start, pause, resume and stop tracking through the daemon.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/TomFrankly/notion-time-tracker/internal/logging"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
	"github.com/TomFrankly/notion-time-tracker/internal/ui"
)

var log = logging.ForComponent(logging.CompMCP)

// Proxy is the slice of the daemon proxy the tools call.
type Proxy interface {
	Start(ctx context.Context, taskID, title string, priorTotal int64) (store.TimerState, error)
	Pause(ctx context.Context) (store.TimerState, error)
	Resume(ctx context.Context) (store.TimerState, error)
	Stop(ctx context.Context) (store.TimerState, error)
	State(ctx context.Context) (store.TimerState, error)
	Tasks(ctx context.Context, refresh bool) (store.TaskCache, error)
}

type handlers struct {
	proxy Proxy
	now   func() time.Time
}

// New builds the MCP server with every timer tool registered.
func New(proxy Proxy, version string) *server.MCPServer {
	s := server.NewMCPServer("timetrack", version, server.WithToolCapabilities(false))
	h := &handlers{proxy: proxy, now: time.Now}

	s.AddTool(mcp.NewTool("timer_start",
		mcp.WithDescription("Start tracking time on a task. Fails if a task is already being tracked; stop it first."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task page id from tasks_list")),
		mcp.WithString("title", mcp.Description("Task title to display")),
		mcp.WithNumber("prior_total_ms", mcp.Description("Time already tracked on the task, in milliseconds")),
	), h.start)
	s.AddTool(mcp.NewTool("timer_pause",
		mcp.WithDescription("Pause the running timer. Does nothing unless running."),
	), h.transition("pause", proxy.Pause))
	s.AddTool(mcp.NewTool("timer_resume",
		mcp.WithDescription("Resume the paused timer. Does nothing unless paused."),
	), h.transition("resume", proxy.Resume))
	s.AddTool(mcp.NewTool("timer_stop",
		mcp.WithDescription("Stop tracking and close the open session."),
	), h.transition("stop", proxy.Stop))
	s.AddTool(mcp.NewTool("timer_state",
		mcp.WithDescription("Show what is being tracked and for how long."),
	), h.transition("state", proxy.State))
	s.AddTool(mcp.NewTool("tasks_list",
		mcp.WithDescription("List tasks with their tracked totals."),
		mcp.WithBoolean("refresh", mcp.Description("Query the task database instead of the cache")),
	), h.tasks)

	return s
}

// Serve runs the server on stdin/stdout until the input closes.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (h *handlers) start(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title := req.GetString("title", "")
	prior := int64(req.GetFloat("prior_total_ms", 0))

	state, err := h.proxy.Start(ctx, taskID, title, prior)
	return h.stateResult("start", state, err)
}

func (h *handlers) transition(op string, call func(context.Context) (store.TimerState, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		state, err := call(ctx)
		return h.stateResult(op, state, err)
	}
}

func (h *handlers) stateResult(op string, state store.TimerState, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		log.Warn("tool_failed", slog.String("op", op), slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err)), nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return mcp.NewToolResultText(ui.Summary(state, h.now()) + "\n" + string(data)), nil
}

func (h *handlers) tasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cache, err := h.proxy.Tasks(ctx, req.GetBool("refresh", false))
	if err != nil {
		log.Warn("tool_failed", slog.String("op", "tasks"), slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("tasks failed: %v", err)), nil
	}
	if len(cache.Tasks) == 0 {
		return mcp.NewToolResultText("No tasks cached. Call tasks_list with refresh=true."), nil
	}

	var b strings.Builder
	for _, t := range cache.Tasks {
		fmt.Fprintf(&b, "%s\t%s\t%s\tprior_total_ms=%d", t.ID, t.Title,
			ui.FormatDuration(time.Duration(t.TotalMs)*time.Millisecond), t.PriorTotal())
		if t.Untracked != nil {
			fmt.Fprintf(&b, "\topen session %s since %s", t.Untracked.ID,
				time.UnixMilli(t.Untracked.StartTime).Format(time.RFC3339))
		}
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(b.String()), nil
}
