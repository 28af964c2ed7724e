package buttons

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Executor runs a named action. *Dispatcher implements it.
type Executor interface {
	ExecuteAction(ctx context.Context, actionID string, aux AuxContext) error
}

// Snapshot is a consistent view of the active button set.
type Snapshot struct {
	Generation uint64          `json:"generation"`
	Timing     TimingConfig    `json:"timings"`
	Bindings   []ButtonBinding `json:"buttons"`
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Executor Executor

	// OnGesture observes every classified gesture of the active generation, bound or not.
	OnGesture func(ev GestureEvent, action string)

	// OnApply observes every successful Apply.
	OnApply func(Snapshot)

	Clock  Clock
	Logger *slog.Logger
}

type lineState struct {
	binding    ButtonBinding
	classifier *Classifier
}

// Manager owns the active bindings and their classifiers. Every Apply starts a new generation;
// timers and gestures of older generations are dropped.
type Manager struct {
	exec      Executor
	onGesture func(GestureEvent, string)
	onApply   func(Snapshot)
	clock     Clock
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	generation uint64
	timing     TimingConfig
	bindings   []ButtonBinding
	lines      map[int]*lineState
}

// NewManager returns a manager with no bindings at generation 0.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		exec:      cfg.Executor,
		onGesture: cfg.OnGesture,
		onApply:   cfg.OnApply,
		clock:     clock,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		timing:    DefaultTiming(),
		lines:     make(map[int]*lineState),
	}
}

// Apply replaces timing and bindings atomically. Bindings sharing a pin are rejected with
// ErrDuplicatePin and leave the active set untouched. It returns the new generation.
func (m *Manager) Apply(timing TimingConfig, bindings []ButtonBinding) (uint64, error) {
	if err := CheckUniquePins(bindings); err != nil {
		return 0, err
	}
	timing = timing.Clamp()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, context.Canceled
	}
	m.generation++
	gen := m.generation
	for _, ls := range m.lines {
		ls.classifier.Close()
	}

	m.timing = timing
	m.bindings = append([]ButtonBinding(nil), bindings...)
	m.lines = make(map[int]*lineState, len(bindings))
	for _, b := range m.bindings {
		m.lines[b.GPIOPin] = &lineState{
			binding: b,
			classifier: NewClassifier(ClassifierConfig{
				Line:       b.GPIOPin,
				Timing:     timing,
				Generation: gen,
				IsActive:   m.isActive,
				Emit:       m.emit,
				Clock:      m.clock,
				Logger:     m.logger,
			}),
		}
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info("button bindings applied", "generation", gen, "buttons", len(bindings),
		"short_ms", timing.ShortPressMs, "double_ms", timing.DoubleClickIntervalMs, "long_ms", timing.LongPressMs)
	if m.onApply != nil {
		m.onApply(snap)
	}
	return gen, nil
}

func (m *Manager) isActive(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && gen == m.generation
}

func (m *Manager) classifier(line int) *Classifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls, ok := m.lines[line]; ok {
		return ls.classifier
	}
	return nil
}

// Press forwards a press edge on line. Unbound lines are ignored.
func (m *Manager) Press(line int) {
	if c := m.classifier(line); c != nil {
		c.Press()
		return
	}
	m.logger.Debug("press on unbound line", "line", line)
}

// Release forwards a release edge on line.
func (m *Manager) Release(line int) {
	if c := m.classifier(line); c != nil {
		c.Release()
	}
}

// Hold forwards an externally detected hold on line.
func (m *Manager) Hold(line int) {
	if c := m.classifier(line); c != nil {
		c.Hold()
	}
}

func (m *Manager) emit(ev GestureEvent) {
	m.mu.Lock()
	if m.closed || ev.Generation != m.generation {
		m.mu.Unlock()
		m.logger.Debug("stale gesture dropped", "line", ev.Line, "generation", ev.Generation)
		return
	}
	ls, ok := m.lines[ev.Line]
	if !ok {
		m.mu.Unlock()
		return
	}
	binding := ls.binding
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	ev.BindingID = binding.ID
	action := binding.Action(ev.Kind)
	m.logger.Info("gesture", "line", ev.Line, "binding", binding.ID, "gesture", ev.Kind.String(),
		"action_id", action, "generation", ev.Generation)
	if m.onGesture != nil {
		m.onGesture(ev, action)
	}
	if action == "" || action == ActionNone || m.exec == nil {
		return
	}

	aux := binding.Aux(ev.Kind)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.exec.ExecuteAction(m.ctx, action, aux); err != nil {
			m.logger.Debug("gesture action returned error", "binding", binding.ID,
				"action_id", action, "error", err)
		}
	}()
}

// Generation returns the active generation.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Lines returns the bound lines in ascending order.
func (m *Manager) Lines() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.lines))
	for l := range m.lines {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// State returns the classifier state of line.
func (m *Manager) State(line int) (ClassifierState, bool) {
	c := m.classifier(line)
	if c == nil {
		return StateIdle, false
	}
	return c.State(), true
}

// Snapshot returns the active timing, bindings and generation.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		Generation: m.generation,
		Timing:     m.timing,
		Bindings:   append([]ButtonBinding(nil), m.bindings...),
	}
}

// Close cancels all timers, stops accepting edges and waits for dispatch goroutines
// to hand their actions to the executor.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, ls := range m.lines {
		ls.classifier.Close()
	}
	m.lines = make(map[int]*lineState)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}
