package daemon

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// TestLiveDaemon talks to a running daemon without changing its state.
// Skipped if the daemon socket doesn't exist.
func TestLiveDaemon(t *testing.T) {
	sockPath := SocketPath()
	if _, err := os.Stat(sockPath); os.IsNotExist(err) {
		t.Skip("daemon not running (no socket at", sockPath, ")")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := NewProxy(sockPath)

	if err := p.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	s, err := p.State(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	fmt.Printf("State: phase=%s task=%q session=%q accumulated=%dms\n",
		s.Phase, s.TaskTitle, s.CurrentSessionID, s.AccumulatedTime)

	cache, err := p.Tasks(ctx, false)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	fmt.Printf("Cached tasks: %d (fetched %d)\n", len(cache.Tasks), cache.LastFetched)
}
