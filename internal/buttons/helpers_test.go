package buttons

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manual clock. Timers fire synchronously inside Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].seq < due[j].seq
			}
			return due[i].at.Before(due[j].at)
		})
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.f()
	}
}

// pending returns the number of armed timers.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// gestureLog collects emitted gestures.
type gestureLog struct {
	mu     sync.Mutex
	events []GestureEvent
}

func (g *gestureLog) emit(ev GestureEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, ev)
}

func (g *gestureLog) kinds() []GestureKind {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]GestureKind, 0, len(g.events))
	for _, ev := range g.events {
		out = append(out, ev.Kind)
	}
	return out
}

// recordingHandler is a slog.Handler that keeps every record.
type recordingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newRecordingLogger() (*slog.Logger, *recordingHandler) {
	h := &recordingHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
	return slog.New(h), h
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

// count returns how many records at level have message msg.
func (h *recordingHandler) count(level slog.Level, msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range *h.records {
		if r.Level == level && r.Message == msg {
			n++
		}
	}
	return n
}

// attr returns the string value of key on the first record with message msg.
func (h *recordingHandler) attr(msg, key string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range *h.records {
		if r.Message != msg {
			continue
		}
		var val string
		var found bool
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == key {
				val, found = a.Value.String(), true
				return false
			}
			return true
		})
		if found {
			return val, true
		}
	}
	return "", false
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// fakeInstance, fakePlaylist and fakeHost implement the host interfaces.
type fakeInstance struct{ owner, name string }

func (i fakeInstance) OwnerID() string { return i.owner }
func (i fakeInstance) Name() string    { return i.name }

type fakePlaylist struct {
	name      string
	instances []Instance
	index     int
	hasIndex  bool
}

func (p *fakePlaylist) Name() string          { return p.name }
func (p *fakePlaylist) Instances() []Instance { return p.instances }
func (p *fakePlaylist) CurrentIndex() (int, bool) {
	return p.index, p.hasIndex
}
func (p *fakePlaylist) SetCurrentIndex(i int) { p.index, p.hasIndex = i, true }
func (p *fakePlaylist) AdvanceAndGetNext() Instance {
	if len(p.instances) == 0 {
		return nil
	}
	if !p.hasIndex {
		p.index, p.hasIndex = 0, true
	} else {
		p.index = (p.index + 1) % len(p.instances)
	}
	return p.instances[p.index]
}
func (p *fakePlaylist) FindInstance(owner, name string) Instance {
	for _, inst := range p.instances {
		if inst.OwnerID() == owner && inst.Name() == name {
			return inst
		}
	}
	return nil
}

type fakeHost struct {
	mu       sync.Mutex
	info     RefreshInfo
	active   string
	lists    map[string]*fakePlaylist
	requests []RefreshRequest
	writes   int
}

func newFakeHost(lists ...*fakePlaylist) *fakeHost {
	h := &fakeHost{lists: make(map[string]*fakePlaylist)}
	for _, l := range lists {
		h.lists[l.name] = l
	}
	return h
}

func (h *fakeHost) RefreshInfo() RefreshInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info
}

func (h *fakeHost) Config(string) (any, bool) { return nil, false }

func (h *fakeHost) UpdateConfig(string, any, bool) error { return nil }

func (h *fakeHost) ManualUpdate(req RefreshRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, req)
	return nil
}

func (h *fakeHost) ActivePlaylist() string { return h.active }

func (h *fakeHost) DetermineActive(time.Time) Playlist {
	for _, l := range h.lists {
		return l
	}
	return nil
}

func (h *fakeHost) Playlist(name string) Playlist {
	if l, ok := h.lists[name]; ok {
		return l
	}
	return nil
}

func (h *fakeHost) WriteConfig() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writes++
	return nil
}

func (h *fakeHost) lastRequest() (RefreshRequest, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.requests) == 0 {
		return RefreshRequest{}, 0
	}
	return h.requests[len(h.requests)-1], len(h.requests)
}

// countingObserver counts dispatcher notifications.
type countingObserver struct {
	started  atomic.Int64
	finished atomic.Int64
	dropped  atomic.Int64
}

func (o *countingObserver) ActionStarted(string, string) { o.started.Add(1) }

func (o *countingObserver) ActionFinished(string, string, time.Duration, error) { o.finished.Add(1) }

func (o *countingObserver) ActionDropped(string) { o.dropped.Add(1) }
