package buttons

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
)

type commandCall struct {
	dir  string
	args []string
}

type fakeCommands struct {
	mu    sync.Mutex
	calls []commandCall
	err   error
}

func (f *fakeCommands) run(_ context.Context, dir, name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, commandCall{dir: dir, args: append([]string{name}, args...)})
	return f.err
}

func (f *fakeCommands) snapshot() []commandCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]commandCall(nil), f.calls...)
}

func writeScript(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/bash\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestResolveScriptPath_Confinement(t *testing.T) {
	root := t.TempDir()
	home := filepath.Join(root, "home")
	outside := filepath.Join(root, "outside")
	writeScript(t, filepath.Join(home, "scripts", "ok.sh"))
	writeScript(t, filepath.Join(outside, "evil.sh"))
	if err := os.Symlink(filepath.Join(outside, "evil.sh"), filepath.Join(home, "link.sh")); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(home, "dir.sh"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveScriptPath("~/scripts/ok.sh", home)
	if err != nil {
		t.Fatalf("ResolveScriptPath(ok) = %v", err)
	}
	wantHome, _ := filepath.EvalSymlinks(home)
	if want := filepath.Join(wantHome, "scripts", "ok.sh"); got != want {
		t.Fatalf("resolved = %q, want %q", got, want)
	}

	cases := []struct {
		path string
		want error
	}{
		{filepath.Join(outside, "evil.sh"), ErrScriptOutsideHome},
		{filepath.Join(home, "link.sh"), ErrScriptOutsideHome},
		{filepath.Join(home, "scripts", "..", "..", "outside", "evil.sh"), ErrScriptOutsideHome},
		{"~/missing.sh", ErrScriptNotFound},
		{"~/dir.sh", ErrScriptNotFound},
		{"", ErrScriptNotFound},
	}
	for _, tc := range cases {
		if _, err := ResolveScriptPath(tc.path, home); !errors.Is(err, tc.want) {
			t.Errorf("ResolveScriptPath(%q) = %v, want %v", tc.path, err, tc.want)
		}
	}

	// A home prefix that is not a directory boundary is outside.
	writeScript(t, home+"2/x.sh")
	if _, err := ResolveScriptPath(home+"2/x.sh", home); !errors.Is(err, ErrScriptOutsideHome) {
		t.Errorf("sibling dir: err = %v, want ErrScriptOutsideHome", err)
	}
}

func TestDispatcher_ExternalScript(t *testing.T) {
	home := t.TempDir()
	script := filepath.Join(home, "bin", "hello.sh")
	writeScript(t, script)
	resolved, _ := filepath.EvalSymlinks(script)

	cmds := &fakeCommands{}
	d := newTestDispatcher(t, nil, func(c *DispatcherConfig) {
		c.HomeDir = home
		c.RunCommand = cmds.run
	})

	if err := d.ExecuteAction(context.Background(), ActionExternalScript, AuxContext{ScriptPath: "~/bin/hello.sh"}); err != nil {
		t.Fatalf("ExecuteAction: %v", err)
	}
	calls := cmds.snapshot()
	if len(calls) != 1 {
		t.Fatalf("commands = %+v, want 1", calls)
	}
	if want := []string{"bash", resolved}; !reflect.DeepEqual(calls[0].args, want) {
		t.Fatalf("args = %v, want %v", calls[0].args, want)
	}
	if calls[0].dir != filepath.Dir(resolved) {
		t.Fatalf("dir = %q, want %q", calls[0].dir, filepath.Dir(resolved))
	}
}

func TestDispatcher_ExternalScriptRejected(t *testing.T) {
	root := t.TempDir()
	home := filepath.Join(root, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatal(err)
	}
	evil := filepath.Join(root, "evil.sh")
	writeScript(t, evil)
	if err := os.Symlink(evil, filepath.Join(home, "innocent.sh")); err != nil {
		t.Fatal(err)
	}

	cmds := &fakeCommands{}
	d := newTestDispatcher(t, nil, func(c *DispatcherConfig) {
		c.HomeDir = home
		c.RunCommand = cmds.run
	})

	for _, p := range []string{"", evil, "~/innocent.sh", "~/nope.sh"} {
		if err := d.ExecuteAction(context.Background(), ActionExternalScript, AuxContext{ScriptPath: p}); err != nil {
			t.Fatalf("ExecuteAction(%q) = %v, want nil", p, err)
		}
	}
	if calls := cmds.snapshot(); len(calls) != 0 {
		t.Fatalf("commands ran: %+v", calls)
	}
}

func TestDispatcher_ExternalScriptFailureIsNotAnError(t *testing.T) {
	home := t.TempDir()
	writeScript(t, filepath.Join(home, "fail.sh"))
	cmds := &fakeCommands{err: errors.New("exit status 1")}
	d := newTestDispatcher(t, nil, func(c *DispatcherConfig) {
		c.HomeDir = home
		c.RunCommand = cmds.run
	})

	if err := d.ExecuteAction(context.Background(), ActionExternalScript, AuxContext{ScriptPath: filepath.Join(home, "fail.sh")}); err != nil {
		t.Fatalf("ExecuteAction() = %v, want nil", err)
	}
}

func TestDispatcher_CallURL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/redirect":
			http.Redirect(w, r, "/ok", http.StatusFound)
		case "/ok":
			if r.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	d := newTestDispatcher(t, nil, nil)

	if err := d.ExecuteAction(context.Background(), ActionCallURL, AuxContext{URL: srv.URL + "/redirect"}); err != nil {
		t.Fatalf("ExecuteAction(redirect) = %v", err)
	}
	if n := hits.Load(); n != 2 {
		t.Fatalf("hits = %d, want 2 (redirect followed)", n)
	}

	if err := d.ExecuteAction(context.Background(), ActionCallURL, AuxContext{URL: srv.URL + "/broken"}); err != nil {
		t.Fatalf("non-2xx must not be returned: %v", err)
	}

	before := hits.Load()
	for _, u := range []string{"", "ftp://example.com/x", "file:///etc/passwd"} {
		if err := d.ExecuteAction(context.Background(), ActionCallURL, AuxContext{URL: u}); err != nil {
			t.Fatalf("ExecuteAction(%q) = %v", u, err)
		}
	}
	if hits.Load() != before {
		t.Fatal("rejected url was requested")
	}
}

func TestDispatcher_SystemCommands(t *testing.T) {
	t.Setenv("APPNAME", "")
	cmds := &fakeCommands{err: errors.New("sudo: not allowed")}
	d := newTestDispatcher(t, nil, func(c *DispatcherConfig) {
		c.RunCommand = cmds.run
		c.ServiceName = "panel"
	})

	for _, id := range []string{ActionSystemShutdown, ActionSystemReboot, ActionSystemRestartService} {
		if err := d.ExecuteAction(context.Background(), id, AuxContext{}); err != nil {
			t.Fatalf("ExecuteAction(%s) = %v, want nil", id, err)
		}
	}
	t.Setenv("APPNAME", "inky")
	if err := d.ExecuteAction(context.Background(), ActionSystemRestartService, AuxContext{}); err != nil {
		t.Fatal(err)
	}

	want := [][]string{
		{"sudo", "shutdown", "-h", "now"},
		{"sudo", "reboot"},
		{"sudo", "systemctl", "restart", "panel.service"},
		{"sudo", "systemctl", "restart", "inky.service"},
	}
	calls := cmds.snapshot()
	if len(calls) != len(want) {
		t.Fatalf("commands = %+v", calls)
	}
	for i := range want {
		if !reflect.DeepEqual(calls[i].args, want[i]) {
			t.Errorf("command %d = %v, want %v", i, calls[i].args, want[i])
		}
	}
}

func TestDispatcher_CorePlaylistActions(t *testing.T) {
	pl := &fakePlaylist{name: "Default", instances: []Instance{
		fakeInstance{"weather", "Home"},
		fakeInstance{"clock", "Kitchen"},
		fakeInstance{"photos", "Family"},
	}}
	host := newFakeHost(pl)
	d := newTestDispatcher(t, nil, func(c *DispatcherConfig) {
		c.Device, c.Refresh, c.Playlists = host, host, host
	})
	ctx := context.Background()

	// Next starts at the first instance.
	if err := d.ExecuteAction(ctx, ActionTriggerRefresh, AuxContext{}); err != nil {
		t.Fatal(err)
	}
	req, _ := host.lastRequest()
	if req != (RefreshRequest{Playlist: "Default", OwnerID: "weather", Instance: "Home", Force: true}) {
		t.Fatalf("next request = %+v", req)
	}

	// Prev wraps around and persists.
	if err := d.ExecuteAction(ctx, ActionPrevPlaylist, AuxContext{}); err != nil {
		t.Fatal(err)
	}
	req, _ = host.lastRequest()
	if req.Instance != "Family" || !req.Force {
		t.Fatalf("prev request = %+v", req)
	}
	if idx, _ := pl.CurrentIndex(); idx != 2 {
		t.Fatalf("current index = %d, want 2", idx)
	}
	if host.writes != 1 {
		t.Fatalf("WriteConfig calls = %d, want 1", host.writes)
	}

	// Force refresh needs a playlist-driven refresh.
	_, n := host.lastRequest()
	if err := d.ExecuteAction(ctx, ActionForceRefresh, AuxContext{}); err != nil {
		t.Fatal(err)
	}
	if _, m := host.lastRequest(); m != n {
		t.Fatal("force refresh issued without refresh info")
	}
	host.info = RefreshInfo{OwnerID: "clock", InstanceName: "Kitchen", RefreshKind: RefreshKindPlaylist, PlaylistName: "Default"}
	if err := d.ExecuteAction(ctx, ActionForceRefresh, AuxContext{}); err != nil {
		t.Fatal(err)
	}
	req, _ = host.lastRequest()
	if req.OwnerID != "clock" || req.Instance != "Kitchen" {
		t.Fatalf("force request = %+v", req)
	}
}

func TestDispatcher_CoreActionsWithoutHostAreNoops(t *testing.T) {
	d := newTestDispatcher(t, NewRegistry(discardLogger()), nil)
	for _, id := range []string{ActionTriggerRefresh, ActionNextPlaylist, ActionForceRefresh, ActionPrevPlaylist} {
		if err := d.ExecuteAction(context.Background(), id, AuxContext{}); err != nil {
			t.Fatalf("ExecuteAction(%s) = %v, want nil", id, err)
		}
	}
}

func TestDispatcher_CoreActionEmptyPlaylist(t *testing.T) {
	host := newFakeHost(&fakePlaylist{name: "Empty"})
	host.active = "Empty"
	d := newTestDispatcher(t, nil, func(c *DispatcherConfig) {
		c.Device, c.Refresh, c.Playlists = host, host, host
	})
	for _, id := range []string{ActionNextPlaylist, ActionPrevPlaylist} {
		if err := d.ExecuteAction(context.Background(), id, AuxContext{}); err != nil {
			t.Fatal(err)
		}
	}
	if _, n := host.lastRequest(); n != 0 {
		t.Fatalf("requests = %d, want 0", n)
	}
}
