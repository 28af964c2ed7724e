package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hwbuttons/internal/buttons"
)

func newTestStore(t *testing.T, rec *recordingApply) *Store {
	t.Helper()
	s := NewStore(StoreConfig{
		Path:    filepath.Join(t.TempDir(), "conf", "buttons.yaml"),
		Apply:   rec.apply,
		Catalog: func() []buttons.ActionInfo { return buttons.AvailableActions(nil) },
		Logger:  testLogger(),
	})
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestStore_LoadMissingFileIsEmpty(t *testing.T) {
	rec := &recordingApply{}
	s := newTestStore(t, rec)

	if _, ok := s.Config(bindingsKey); ok {
		t.Fatalf("expected no bindings in a fresh store")
	}
	settings, err := s.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if settings.Timing != buttons.DefaultTiming() || len(settings.Buttons) != 0 {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
}

func TestStore_SaveBindingsSanitizesPersistsAndApplies(t *testing.T) {
	rec := &recordingApply{}
	s := newTestStore(t, rec)

	gen, err := s.SaveBindings(ButtonSettings{
		Timing: buttons.TimingConfig{ShortPressMs: 10, DoubleClickIntervalMs: 300, LongPressMs: 9000},
		Buttons: []buttons.ButtonBinding{
			{ID: " door ", GPIOPin: 17, ShortAction: " core_trigger_refresh "},
			{ID: "bad_pin", GPIOPin: 40, ShortAction: buttons.ActionSystemReboot},
			{ID: "dup", GPIOPin: 17, ShortAction: buttons.ActionSystemShutdown},
			{GPIOPin: 22, LongAction: "core_trigger_refrsh"},
		},
	})
	if err != nil {
		t.Fatalf("SaveBindings: %v", err)
	}
	if gen != 1 {
		t.Fatalf("generation = %d, want 1", gen)
	}

	got, n := rec.last()
	if n != 1 {
		t.Fatalf("apply calls = %d, want 1", n)
	}
	wantTiming := buttons.TimingConfig{ShortPressMs: 50, DoubleClickIntervalMs: 300, LongPressMs: 5000}
	if got.Timing != wantTiming {
		t.Fatalf("timing = %+v, want %+v", got.Timing, wantTiming)
	}
	if len(got.Buttons) != 2 {
		t.Fatalf("buttons = %+v, want 2 entries", got.Buttons)
	}
	if got.Buttons[0].ID != "door" || got.Buttons[0].ShortAction != buttons.ActionTriggerRefresh {
		t.Fatalf("first binding not normalized: %+v", got.Buttons[0])
	}
	if got.Buttons[1].ID != "btn_3" || got.Buttons[1].GPIOPin != 22 {
		t.Fatalf("second binding = %+v, want btn_3 on pin 22", got.Buttons[1])
	}
	// Unknown ids are kept; the binding just logs a warning.
	if got.Buttons[1].LongAction != "core_trigger_refrsh" {
		t.Fatalf("unknown action id was rewritten: %q", got.Buttons[1].LongAction)
	}

	if _, err := os.Stat(s.Path()); err != nil {
		t.Fatalf("store file not written: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}

	// A second store over the same file sees the sanitized set.
	rec2 := &recordingApply{}
	s2 := NewStore(StoreConfig{Path: s.Path(), Apply: rec2.apply, Logger: testLogger()})
	if _, err := s2.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	reloaded, _ := rec2.last()
	if reloaded.Timing != wantTiming || len(reloaded.Buttons) != 2 || reloaded.Buttons[1].ID != "btn_3" {
		t.Fatalf("reloaded = %+v", reloaded)
	}
}

func TestStore_UpdateConfigKeepsOtherKeys(t *testing.T) {
	rec := &recordingApply{}
	s := newTestStore(t, rec)

	if err := s.UpdateConfig("timezone", "Europe/Athens", true); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if _, err := s.SaveBindings(ButtonSettings{Buttons: []buttons.ButtonBinding{{GPIOPin: 5}}}); err != nil {
		t.Fatalf("SaveBindings: %v", err)
	}

	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	tz, ok := s.Config("timezone")
	if !ok || tz != "Europe/Athens" {
		t.Fatalf("timezone = %v, %v", tz, ok)
	}
	settings, err := s.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if len(settings.Buttons) != 1 || settings.Buttons[0].ID != "btn_0" {
		t.Fatalf("buttons = %+v", settings.Buttons)
	}
}

func TestStore_ReloadRejectsBrokenYAML(t *testing.T) {
	rec := &recordingApply{}
	s := newTestStore(t, rec)

	if err := os.MkdirAll(filepath.Dir(s.Path()), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(s.Path(), []byte("hardwarebuttons: [unterminated"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := s.Reload(); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, n := rec.last(); n != 0 {
		t.Fatalf("apply called %d times for a broken file", n)
	}
}

func TestStore_WatchReloadsExternalEdit(t *testing.T) {
	rec := &recordingApply{}
	s := newTestStore(t, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(150 * time.Millisecond)

	body := `hardwarebuttons:
  timings:
    short_press_ms: 400
  buttons:
    - id: door
      gpio_pin: 5
      short_action: core_trigger_refresh
`
	if err := os.WriteFile(s.Path(), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	waitUntil(t, 3*time.Second, func() bool {
		got, n := rec.last()
		return n > 0 && len(got.Buttons) == 1 && got.Buttons[0].GPIOPin == 5
	}, "store watcher did not apply the edited file")

	got, _ := rec.last()
	if got.Timing.ShortPressMs != 400 || got.Timing.LongPressMs != buttons.DefaultLongPressMs {
		t.Fatalf("timing = %+v", got.Timing)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("watcher did not stop")
	}
}
