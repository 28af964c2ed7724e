package main

import (
	"io"
	"log/slog"
	"sync"

	"hwbuttons/internal/buttons"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingApply captures every button set handed to ApplyFunc.
type recordingApply struct {
	mu    sync.Mutex
	calls []ButtonSettings
}

func (r *recordingApply) apply(timing buttons.TimingConfig, bindings []buttons.ButtonBinding) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ButtonSettings{Timing: timing, Buttons: bindings})
	return uint64(len(r.calls)), nil
}

func (r *recordingApply) last() (ButtonSettings, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return ButtonSettings{}, 0
	}
	return r.calls[len(r.calls)-1], len(r.calls)
}
