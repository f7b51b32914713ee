package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxLine = 1024 * 1024

// SocketPath returns the default daemon socket path.
func SocketPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "timetrack", "timetrack.sock")
}

// Client communicates with the daemon over a Unix socket.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	mu      sync.Mutex
}

// Connect dials the daemon Unix socket.
func Connect(socketPath string) (*Client, error) {
	return Dial(context.Background(), socketPath)
}

// Dial dials the daemon Unix socket, honoring ctx for the dial and, when it
// has a deadline, for every later read and write.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return newClient(conn), nil
}

func newClient(conn net.Conn) *Client {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	return &Client{conn: conn, scanner: scanner}
}

// Close shuts down the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SetDeadline bounds subsequent reads and writes. The zero time clears it.
func (c *Client) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SendCommand sends a command and reads one response line. Commands without
// an ID get a fresh one, and the response must echo it.
func (c *Client) SendCommand(cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("encode %s: %w", cmd.Cmd, err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return Response{}, fmt.Errorf("write %s: %w", cmd.Cmd, err)
	}

	var resp Response
	if err := c.readLine("response", &resp); err != nil {
		return Response{}, err
	}
	if resp.ID != cmd.ID {
		return Response{}, fmt.Errorf("response id %q does not match command %s", resp.ID, cmd.ID)
	}
	return resp, nil
}

// ReadEvent blocks for the next event on a subscribed connection.
func (c *Client) ReadEvent() (Event, error) {
	var ev Event
	err := c.readLine("event", &ev)
	return ev, err
}

// readLine decodes one NDJSON line into out. A clean close reads as io.EOF.
func (c *Client) readLine(what string, out any) error {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("read %s: %w", what, err)
		}
		return fmt.Errorf("read %s: %w", what, io.EOF)
	}
	if err := json.Unmarshal(c.scanner.Bytes(), out); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}
