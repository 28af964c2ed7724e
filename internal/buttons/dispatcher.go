package buttons

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// DefaultCeiling bounds how long a caller waits for an action before the gate is freed.
const DefaultCeiling = 120 * time.Second

// ActionObserver is notified about dispatcher activity. Calls happen on dispatcher
// goroutines and must not block.
type ActionObserver interface {
	ActionStarted(execID, actionID string)
	ActionFinished(execID, actionID string, elapsed time.Duration, err error)
	ActionDropped(actionID string)
}

// DispatcherConfig wires a Dispatcher to its collaborators.
type DispatcherConfig struct {
	Registry  *Registry
	Device    DeviceState
	Refresh   RefreshTrigger
	Playlists PlaylistManager

	// Ceiling defaults to DefaultCeiling.
	Ceiling time.Duration

	// HomeDir confines external scripts. Empty means the user's home directory.
	HomeDir string

	// ServiceName is restarted by system_restart_service unless $APPNAME is set.
	ServiceName string

	HTTPClient *http.Client
	RunCommand CommandFunc
	Observer   ActionObserver
	Logger     *slog.Logger
}

// Dispatcher executes actions one at a time. Triggers arriving while an action runs are dropped.
type Dispatcher struct {
	registry  *Registry
	device    DeviceState
	refresh   RefreshTrigger
	playlists PlaylistManager

	ceiling  time.Duration
	home     string
	service  string
	client   *http.Client
	run      CommandFunc
	observer ActionObserver
	logger   *slog.Logger

	gate    *semaphore.Weighted
	workers sync.WaitGroup
}

// NewDispatcher builds a dispatcher from cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		registry:  cfg.Registry,
		device:    cfg.Device,
		refresh:   cfg.Refresh,
		playlists: cfg.Playlists,
		ceiling:   cfg.Ceiling,
		home:      cfg.HomeDir,
		service:   strings.TrimSpace(cfg.ServiceName),
		client:    cfg.HTTPClient,
		run:       cfg.RunCommand,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
		gate:      semaphore.NewWeighted(1),
	}
	if d.ceiling <= 0 {
		d.ceiling = DefaultCeiling
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: urlTimeout}
	}
	if d.run == nil {
		d.run = runCommand
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// ExecuteAction runs actionID if no other action is in flight.
//
// A busy gate drops the trigger and returns nil. The caller waits at most for the ceiling or
// until ctx is done; after that the gate is released, the action keeps running in the
// background and its outcome is only logged. A ceiling expiry returns nil, a done ctx returns
// ctx.Err(). Otherwise the action's error (or ErrActionPanic) is returned.
func (d *Dispatcher) ExecuteAction(ctx context.Context, actionID string, aux AuxContext) error {
	actionID = strings.TrimSpace(actionID)
	if actionID == "" || actionID == ActionNone {
		return nil
	}

	if !d.gate.TryAcquire(1) {
		d.logger.Debug("action already in progress, trigger dropped", "action_id", actionID)
		if d.observer != nil {
			d.observer.ActionDropped(actionID)
		}
		return nil
	}
	var once sync.Once
	release := func() { once.Do(func() { d.gate.Release(1) }) }

	execID := uuid.NewString()
	actx := ActionContext{
		Device:      d.device,
		Refresh:     d.refresh,
		Playlists:   d.playlists,
		Aux:         aux,
		ExecutionID: execID,
	}

	done := make(chan error, 1)
	start := time.Now()
	workerCtx := context.WithoutCancel(ctx)

	d.logger.Debug("action started", "action_id", actionID, "exec_id", execID)
	if d.observer != nil {
		d.observer.ActionStarted(execID, actionID)
	}

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		defer release()

		err := d.executeWithRecovery(workerCtx, actionID, actx)
		elapsed := time.Since(start)
		release()
		if err != nil {
			d.logger.Error("action failed", "action_id", actionID, "exec_id", execID,
				"elapsed", elapsed, "error", err)
		} else {
			d.logger.Debug("action finished", "action_id", actionID, "exec_id", execID, "elapsed", elapsed)
		}
		if d.observer != nil {
			d.observer.ActionFinished(execID, actionID, elapsed, err)
		}
		done <- err
	}()

	ceiling := time.NewTimer(d.ceiling)
	defer ceiling.Stop()

	select {
	case err := <-done:
		return err
	case <-ceiling.C:
		d.logger.Warn("action exceeded ceiling, releasing gate",
			"action_id", actionID, "exec_id", execID, "ceiling", d.ceiling)
		release()
		return nil
	case <-ctx.Done():
		d.logger.Warn("caller gave up waiting, releasing gate",
			"action_id", actionID, "exec_id", execID, "error", ctx.Err())
		release()
		return ctx.Err()
	}
}

// Wait blocks until every worker, including ones abandoned after the ceiling, has returned
// or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// executeWithRecovery resolves and runs an action, converting a panic into ErrActionPanic.
func (d *Dispatcher) executeWithRecovery(ctx context.Context, actionID string, actx ActionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 4096)
			n := runtime.Stack(stack, false)
			err = fmt.Errorf("%w: %s: %v\n%s", ErrActionPanic, actionID, r, stack[:n])
		}
	}()
	return d.resolve(ctx, actionID, actx)
}

// resolve maps an action id onto its handler, in priority order: script and url built-ins,
// system built-ins, display slots, registered anytime actions, core playlist actions.
func (d *Dispatcher) resolve(ctx context.Context, id string, actx ActionContext) error {
	switch id {
	case ActionExternalScript:
		d.runExternalScript(ctx, actx)
		return nil
	case ActionCallURL:
		d.callURL(ctx, actx)
		return nil
	case ActionSystemShutdown:
		d.systemCommand(ctx, actx, "sudo", "shutdown", "-h", "now")
		return nil
	case ActionSystemReboot:
		d.systemCommand(ctx, actx, "sudo", "reboot")
		return nil
	case ActionSystemRestartService:
		d.systemCommand(ctx, actx, "sudo", "systemctl", "restart", d.serviceName()+".service")
		return nil
	}

	if strings.HasPrefix(id, displayActionPrefix) {
		index, err := strconv.Atoi(strings.TrimPrefix(id, displayActionPrefix))
		if err != nil || index < 0 {
			d.logger.Warn("invalid display action id", "action_id", id)
			return nil
		}
		if d.registry == nil {
			return nil
		}
		_, err = d.registry.ExecuteDisplayAction(ctx, index, actx)
		return err
	}

	if !IsBuiltin(id) && d.registry != nil {
		err := d.registry.ExecuteAnytimeAction(ctx, id, actx)
		if !errors.Is(err, ErrActionNotFound) {
			return err
		}
	}

	switch id {
	case ActionTriggerRefresh, ActionNextPlaylist, ActionForceRefresh, ActionPrevPlaylist:
		return d.runCore(ctx, id, actx)
	}

	args := []any{"action_id", id, "exec_id", actx.ExecutionID}
	if s := Suggest(id, AvailableActions(d.registry)); s != "" {
		args = append(args, "did_you_mean", s)
	}
	d.logger.Warn("unknown action", args...)
	return nil
}
