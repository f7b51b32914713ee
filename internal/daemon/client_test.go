package daemon

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
)

// startMockDaemon creates a Unix socket that accepts one connection, reads a
// command and writes back whatever reply builds for it.
func startMockDaemon(t *testing.T, reply func(Command) Response) (string, <-chan Command, func()) {
	t.Helper()

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	received := make(chan Command, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		scanner := bufio.NewScanner(conn)
		if !scanner.Scan() {
			return
		}
		var cmd Command
		json.Unmarshal(scanner.Bytes(), &cmd)
		received <- cmd

		data, _ := json.Marshal(reply(cmd))
		conn.Write(append(data, '\n'))
	}()

	return sockPath, received, func() {
		ln.Close()
		os.Remove(sockPath)
	}
}

func TestClientSendCommand(t *testing.T) {
	sockPath, received, cleanup := startMockDaemon(t, func(cmd Command) Response {
		return Response{ID: cmd.ID, OK: true}
	})
	defer cleanup()

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	got, err := client.SendCommand(Command{Cmd: CmdPing})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !got.OK {
		t.Error("ok = false, want true")
	}

	cmd := <-received
	if cmd.ID == "" {
		t.Error("command was sent without an id")
	}
	if got.ID != cmd.ID {
		t.Errorf("response id = %q, want %q", got.ID, cmd.ID)
	}
}

func TestClientRejectsMismatchedResponse(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"other command", "someone-else"},
		{"missing id", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sockPath, _, cleanup := startMockDaemon(t, func(Command) Response {
				return Response{ID: tt.id, OK: true}
			})
			defer cleanup()

			client, err := Connect(sockPath)
			if err != nil {
				t.Fatalf("connect: %v", err)
			}
			defer client.Close()

			if _, err := client.SendCommand(Command{ID: "mine", Cmd: CmdState}); err == nil {
				t.Errorf("expected error for response id %q", tt.id)
			}
		})
	}
}

func TestClientConnectFailure(t *testing.T) {
	_, err := Connect("/nonexistent/path/timetrack.sock")
	if err == nil {
		t.Error("expected error connecting to nonexistent socket")
	}
}

// startMockEventStream creates a daemon that answers a subscribe then streams events.
func startMockEventStream(t *testing.T, events []Event) (string, func()) {
	t.Helper()

	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		scanner := bufio.NewScanner(conn)
		if !scanner.Scan() {
			return
		}
		var cmd Command
		json.Unmarshal(scanner.Bytes(), &cmd)

		resp, _ := json.Marshal(Response{ID: cmd.ID, OK: true})
		conn.Write(append(resp, '\n'))

		for _, ev := range events {
			data, _ := json.Marshal(ev)
			conn.Write(append(data, '\n'))
		}
	}()

	return sockPath, func() {
		ln.Close()
		os.Remove(sockPath)
	}
}

func TestClientReadEvents(t *testing.T) {
	events := []Event{
		stateEvent(runningState()),
		{Event: EventError, Message: "remote store unavailable"},
	}

	sockPath, cleanup := startMockEventStream(t, events)
	defer cleanup()

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if _, err := client.SendCommand(Command{Cmd: CmdSubscribe}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev1, err := client.ReadEvent()
	if err != nil {
		t.Fatalf("read event 1: %v", err)
	}
	if ev1.Event != EventState || ev1.State == nil || ev1.State.TaskID != "t1" {
		t.Errorf("event1 = %+v", ev1)
	}

	ev2, err := client.ReadEvent()
	if err != nil {
		t.Fatalf("read event 2: %v", err)
	}
	if ev2.Event != EventError || ev2.Message != "remote store unavailable" {
		t.Errorf("event2 = %+v", ev2)
	}

	if _, err := client.ReadEvent(); err == nil {
		t.Error("expected error after the stream closed")
	}
}
