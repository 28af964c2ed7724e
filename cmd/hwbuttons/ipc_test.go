package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// shortSocketPath keeps the path under the sun_path limit that t.TempDir can exceed.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "hwb")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ipc.sock")
}

func startTestIPC(t *testing.T, handle ipcHandler) string {
	t.Helper()
	path := shortSocketPath(t)
	ln, err := listenIPC(path)
	if err != nil {
		t.Fatalf("listenIPC: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveIPC(ctx, ln, path, handle, testLogger()) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serveIPC: %v", err)
			}
		case <-time.After(time.Second):
			t.Errorf("IPC server did not stop")
		}
	})
	return path
}

func TestIPC_RequestReply(t *testing.T) {
	var mu sync.Mutex
	var got []Event
	path := startTestIPC(t, func(_ context.Context, ev Event) (any, error) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		switch ev.(type) {
		case ListActions:
			return []string{"a", "b"}, nil
		case ExecuteAction:
			return nil, errors.New("script failed")
		}
		return nil, nil
	})

	data, err := SendIPCEvent(path, ButtonPress{Line: 17}, time.Second)
	if err != nil {
		t.Fatalf("press: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("press reply carried data: %s", data)
	}

	data, err = SendIPCEvent(path, ListActions{}, time.Second)
	if err != nil {
		t.Fatalf("list_actions: %v", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil || len(ids) != 2 {
		t.Fatalf("list_actions data = %s (%v)", data, err)
	}

	_, err = SendIPCEvent(path, ExecuteAction{ActionID: "external_script"}, time.Second)
	if err == nil || !strings.Contains(err.Error(), "script failed") {
		t.Fatalf("execute_action err = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("handler saw %d events, want 3", len(got))
	}
	if p, ok := got[0].(ButtonPress); !ok || p.Line != 17 {
		t.Fatalf("first event = %#v", got[0])
	}
}

func TestIPC_BadRequestKeepsConnection(t *testing.T) {
	path := startTestIPC(t, func(context.Context, Event) (any, error) { return "pong", nil })

	// A garbage line gets an error reply; the daemon keeps serving.
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(time.Second))

	dec := json.NewDecoder(conn)
	if _, err := conn.Write([]byte("{\"type\":\"nope\"}\n{\"type\":\"get_state\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var first, second IPCResponse
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if first.Status != "error" || !strings.Contains(first.Error, "unknown event type") {
		t.Fatalf("first = %+v", first)
	}
	if second.Status != "ok" || string(second.Data) != `"pong"` {
		t.Fatalf("second = %+v", second)
	}
}

func TestIPC_SocketRemovedOnShutdown(t *testing.T) {
	path := shortSocketPath(t)
	ln, err := listenIPC(path)
	if err != nil {
		t.Fatalf("listenIPC: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveIPC(ctx, ln, path, func(context.Context, Event) (any, error) { return nil, nil }, testLogger())
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("IPC server did not stop")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("socket still present: %v", err)
	}
}
