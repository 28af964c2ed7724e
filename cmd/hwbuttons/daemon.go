package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"hwbuttons/internal/buttons"
)

// ============================================================================
// Daemon
// ============================================================================
// The daemon owns the component graph:
//
//   edge sources (gpio, evdev, IPC) -> Manager (classifiers) -> Dispatcher -> actions
//                                        |                         |
//                                        +--> event stream / MQTT <+
//
// Manager and Dispatcher carry their own locking; the daemon only wires them and
// fans their notifications out.
// ============================================================================

const (
	wsEventBuffer   = 128
	shutdownTimeout = 3 * time.Second
)

// lineReconfigurer is an edge source whose lines follow the active bindings.
type lineReconfigurer interface {
	Configure(lines []int) error
	Close() error
}

type daemon struct {
	cfg    Config
	logger *slog.Logger

	registry *buttons.Registry
	dispatch *buttons.Dispatcher
	manager  *buttons.Manager
	store    *Store
	host     *hostBridge

	ws       *Server
	wsEvents chan wsOutboundEvent

	mqtt *mqttBridge

	edgeMu sync.Mutex
	gpio   lineReconfigurer
}

// newDaemon builds the component graph without touching hardware or the network.
func newDaemon(cfg Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:      cfg,
		logger:   logger,
		wsEvents: make(chan wsOutboundEvent, wsEventBuffer),
	}

	d.store = NewStore(StoreConfig{
		Path:    cfg.ButtonsFile,
		Apply:   d.apply,
		Catalog: d.catalog,
		Logger:  logger.With("component", "store"),
	})
	if err := d.store.Load(); err != nil {
		return nil, err
	}

	d.host = newHostBridge(hostBridgeConfig{
		Host:      cfg.Host,
		Store:     d.store,
		OnRefresh: d.onRefresh,
		Logger:    logger.With("component", "host"),
	})

	d.registry = buttons.NewRegistry(logger.With("component", "registry"))
	d.dispatch = buttons.NewDispatcher(buttons.DispatcherConfig{
		Registry:    d.registry,
		Device:      d.host,
		Refresh:     d.host,
		Playlists:   d.host,
		Ceiling:     time.Duration(cfg.Dispatcher.CeilingSec) * time.Second,
		HomeDir:     ExpandPath(cfg.Dispatcher.HomeDir),
		ServiceName: cfg.Host.ServiceName,
		Observer:    d,
		Logger:      logger.With("component", "dispatcher"),
	})
	d.manager = buttons.NewManager(buttons.ManagerConfig{
		Executor:  d.dispatch,
		OnGesture: d.onGesture,
		OnApply:   d.onApply,
		Logger:    logger.With("component", "manager"),
	})
	d.ws = NewServer(logger.With("component", "ws"), d.stateInit, ServerConfig{})

	return d, nil
}

func (d *daemon) apply(timing buttons.TimingConfig, bindings []buttons.ButtonBinding) (uint64, error) {
	return d.manager.Apply(timing, bindings)
}

func (d *daemon) catalog() []buttons.ActionInfo {
	return buttons.AvailableActions(d.registry)
}

func (d *daemon) stateInit() wsStateInit {
	return wsStateInit{
		Snapshot: d.manager.Snapshot(),
		Actions:  d.catalog(),
		Showing:  d.host.RefreshInfo(),
		Registry: d.registry.Stats(),
	}
}

// publish queues an event for the event stream without blocking.
func (d *daemon) publish(typ string, data any) {
	select {
	case d.wsEvents <- wsOutboundEvent{Type: typ, Data: data, At: time.Now().UTC()}:
	default:
		d.logger.Debug("event stream queue full, dropping event", "type", typ)
	}
}

// ---------------------------------------------------------------------------
// Manager / host notifications
// ---------------------------------------------------------------------------

func (d *daemon) onGesture(ev buttons.GestureEvent, action string) {
	d.publish(wsTypeGesture, wsGestureData{
		Line:       ev.Line,
		Binding:    ev.BindingID,
		Gesture:    ev.Kind.String(),
		ActionID:   action,
		Generation: ev.Generation,
	})
	if d.mqtt != nil {
		d.mqtt.PublishGesture(ev, action)
	}
}

func (d *daemon) onApply(snap buttons.Snapshot) {
	d.publish(wsTypeBindingsApplied, snap)

	d.edgeMu.Lock()
	src := d.gpio
	d.edgeMu.Unlock()
	if src != nil {
		if err := src.Configure(bindingLines(snap.Bindings)); err != nil {
			d.logger.Error("gpio reconfigure failed", "generation", snap.Generation, "error", err)
		}
	}
}

func (d *daemon) onRefresh(info buttons.RefreshInfo) {
	d.publish(wsTypeRefreshChanged, info)
}

func bindingLines(bindings []buttons.ButtonBinding) []int {
	lines := make([]int, 0, len(bindings))
	for _, b := range bindings {
		lines = append(lines, b.GPIOPin)
	}
	return lines
}

// ---------------------------------------------------------------------------
// buttons.ActionObserver
// ---------------------------------------------------------------------------

func (d *daemon) ActionStarted(execID, actionID string) {
	d.publish(wsTypeActionStarted, wsActionData{ExecID: execID, ActionID: actionID})
}

func (d *daemon) ActionFinished(execID, actionID string, elapsed time.Duration, err error) {
	data := wsActionData{ExecID: execID, ActionID: actionID, ElapsedMS: elapsed.Milliseconds()}
	if err != nil {
		data.Error = err.Error()
	}
	d.publish(wsTypeActionFinished, data)
}

func (d *daemon) ActionDropped(actionID string) {
	d.publish(wsTypeActionDropped, wsActionData{ActionID: actionID})
}

// ---------------------------------------------------------------------------
// Remote features
// ---------------------------------------------------------------------------

// registerFeature registers (or replaces) the actions of a remote feature module.
func (d *daemon) registerFeature(f FeatureConfig) error {
	if err := f.validate(d.mqtt != nil); err != nil {
		return fmt.Errorf("register feature: %w", err)
	}

	anytime := make(map[string]buttons.AnytimeAction, len(f.Anytime))
	for _, a := range f.Anytime {
		anytime[a.Name] = buttons.AnytimeAction{
			Label:    a.Label,
			Callback: d.remoteFunc(a.Name, a.RemoteEndpoint),
		}
	}
	display := make([]buttons.ActionFunc, 0, len(f.Display))
	for i, ep := range f.Display {
		display = append(display, d.remoteFunc(fmt.Sprintf("display_%d", i), ep))
	}

	d.registry.RegisterActions(f.OwnerID, anytime, display)
	d.logger.Info("feature registered", "owner_id", f.OwnerID, "anytime", len(anytime), "display", len(display))
	return nil
}

func (d *daemon) remoteFunc(name string, ep RemoteEndpoint) buttons.ActionFunc {
	if ep.Topic != "" {
		return d.mqtt.ActionFunc(name, ep.Topic)
	}
	return buttons.RemoteAction{Name: name, URL: ep.URL}.Func()
}

// ---------------------------------------------------------------------------
// IPC
// ---------------------------------------------------------------------------

// handleEvent serves one IPC request.
func (d *daemon) handleEvent(ctx context.Context, ev Event) (any, error) {
	switch e := ev.(type) {
	case ButtonPress:
		d.manager.Press(e.Line)
	case ButtonRelease:
		d.manager.Release(e.Line)
	case ButtonHold:
		d.manager.Hold(e.Line)

	case ExecuteAction:
		if err := d.dispatch.ExecuteAction(ctx, e.ActionID, e.Context); err != nil {
			return nil, err
		}

	case SaveBindings:
		if _, err := d.store.SaveBindings(ButtonSettings{Timing: e.Timing, Buttons: e.Buttons}); err != nil {
			return nil, err
		}
		return d.manager.Snapshot(), nil

	case Reload:
		if _, err := d.store.Reload(); err != nil {
			return nil, err
		}
		return d.manager.Snapshot(), nil

	case SetRefreshInfo:
		d.host.SetRefreshInfo(e.RefreshInfo)

	case RegisterRemoteActions:
		if err := d.registerFeature(e.FeatureConfig); err != nil {
			return nil, err
		}

	case ListActions:
		return d.catalog(), nil

	case GetState:
		return d.stateInit(), nil

	default:
		return nil, fmt.Errorf("unhandled event type %T", ev)
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// run starts every long-lived component and blocks until ctx is canceled or one of them fails.
func (d *daemon) run(ctx context.Context) error {
	if _, err := d.store.Reload(); err != nil {
		return fmt.Errorf("initial bindings: %w", err)
	}

	if d.cfg.MQTT.Broker != "" {
		bridge, err := newMQTTBridge(d.cfg.MQTT, d.logger.With("component", "mqtt"))
		if err != nil {
			return err
		}
		d.mqtt = bridge
		defer bridge.Close()
	}

	for _, f := range d.cfg.Features {
		if err := d.registerFeature(f); err != nil {
			return fmt.Errorf("feature %q: %w", f.OwnerID, err)
		}
	}
	stats := d.registry.Stats()
	d.logger.Info("action registry ready", "anytime", stats.AnytimeCount,
		"owners_with_display", stats.OwnersWithDisplay, "max_display", stats.MaxDisplay)

	if d.cfg.Input.GPIO.Enabled {
		src, err := newGPIOSource(d.cfg.Input.GPIO, d.manager, d.logger.With("component", "gpio"))
		if err != nil {
			return err
		}
		d.edgeMu.Lock()
		d.gpio = src
		d.edgeMu.Unlock()
		defer func() {
			d.edgeMu.Lock()
			d.gpio = nil
			d.edgeMu.Unlock()
			_ = src.Close()
		}()
		if err := src.Configure(d.manager.Lines()); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.ws.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(gctx, d.ws.Hub(), d.wsEvents, d.logger)
		return nil
	})
	g.Go(func() error {
		if err := d.store.Watch(gctx); err != nil {
			d.logger.Warn("buttons store watcher stopped", "error", err)
		}
		return nil
	})
	if len(d.cfg.Input.Evdev.Devices) > 0 {
		g.Go(func() error {
			return runEvdevSource(gctx, d.cfg.Input.Evdev, d.manager, d.logger.With("component", "evdev"))
		})
	}
	g.Go(func() error {
		return runIPCServer(gctx, ExpandPath(d.cfg.IPC.SocketPath), d.handleEvent, d.logger.With("component", "ipc"))
	})
	if d.cfg.HTTP.Port > 0 {
		g.Go(func() error {
			return runHTTPServer(gctx, d.cfg.HTTP.Port, newHTTPMux(d), d.logger.With("component", "http"))
		})
	}

	err := g.Wait()
	d.shutdown()
	return err
}

// shutdown stops gesture processing and gives in-flight actions a short grace period.
func (d *daemon) shutdown() {
	d.manager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.dispatch.Wait(ctx); err != nil {
		d.logger.Warn("actions still running at shutdown", "error", err)
	}
}
