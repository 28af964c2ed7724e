package buttons

import (
	"log/slog"
	"sync"
	"time"
)

// GestureKind identifies a classified interaction.
type GestureKind int

const (
	GestureShort GestureKind = iota + 1
	GestureDouble
	GestureLong
)

// String returns the lowercase gesture name used in logs and on the wire.
func (k GestureKind) String() string {
	switch k {
	case GestureShort:
		return "short"
	case GestureDouble:
		return "double"
	case GestureLong:
		return "long"
	default:
		return "unknown"
	}
}

// GestureEvent is emitted at most once per interaction on a line.
// BindingID is filled in by the Manager.
type GestureEvent struct {
	Line       int
	Kind       GestureKind
	At         time.Time
	BindingID  string
	Generation uint64
}

// ClassifierState is the observable state of a Classifier.
type ClassifierState int

const (
	StateIdle ClassifierState = iota
	StatePressed
	StateAwaitingDouble
)

func (s ClassifierState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePressed:
		return "PRESSED"
	case StateAwaitingDouble:
		return "AWAITING_DOUBLE"
	default:
		return "UNKNOWN"
	}
}

// Timer is the subset of *time.Timer the classifier needs.
type Timer interface {
	Stop() bool
}

// Clock schedules classifier timers. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock backed by time.AfterFunc.
var SystemClock Clock = realClock{}

// ClassifierConfig parameterizes one classifier.
type ClassifierConfig struct {
	Line       int
	Timing     TimingConfig
	Generation uint64

	// IsActive reports whether a generation is still current. Nil means always active.
	IsActive func(generation uint64) bool

	// Emit receives classified gestures. It is never called with the classifier lock held.
	Emit func(GestureEvent)

	Clock  Clock
	Logger *slog.Logger
}

// Classifier turns press/release edges of a single line into Short, Double and Long gestures.
//
// Two timers drive it: the hold detector armed on press, and the double-click window armed on
// the first short release. Each armed timer carries a token so a callback racing with Stop
// recognizes that it has been superseded.
type Classifier struct {
	line       int
	timing     TimingConfig
	generation uint64
	isActive   func(uint64) bool
	emit       func(GestureEvent)
	clock      Clock
	logger     *slog.Logger

	mu          sync.Mutex
	closed      bool
	down        bool
	pressedAt   time.Time
	longFired   bool
	holdTimer   Timer
	holdSeq     uint64
	doubleTimer Timer
	doubleSeq   uint64
}

// NewClassifier builds an idle classifier.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		line:       cfg.Line,
		timing:     cfg.Timing.Clamp(),
		generation: cfg.Generation,
		isActive:   cfg.IsActive,
		emit:       cfg.Emit,
		clock:      clock,
		logger:     logger,
	}
}

// Line returns the input line this classifier is attached to.
func (c *Classifier) Line() int { return c.line }

// Generation returns the generation captured at construction.
func (c *Classifier) Generation() uint64 { return c.generation }

// State reports the current state machine position.
func (c *Classifier) State() ClassifierState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.down:
		return StatePressed
	case c.doubleTimer != nil:
		return StateAwaitingDouble
	default:
		return StateIdle
	}
}

func (c *Classifier) active() bool {
	return c.isActive == nil || c.isActive(c.generation)
}

// Press records the start of an interaction and arms the hold detector.
func (c *Classifier) Press() {
	if !c.active() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.down {
		c.logger.Debug("duplicate press ignored", "line", c.line)
		return
	}
	c.down = true
	c.longFired = false
	c.pressedAt = c.clock.Now()

	c.holdSeq++
	token := c.holdSeq
	c.holdTimer = c.clock.AfterFunc(c.timing.longPress(), func() { c.onHoldTimer(token) })
}

// Hold is an external hold-timeout notification, for sources that detect holds themselves.
// It is equivalent to the internal hold detector firing.
func (c *Classifier) Hold() {
	c.mu.Lock()
	token := c.holdSeq
	c.mu.Unlock()
	c.onHoldTimer(token)
}

func (c *Classifier) onHoldTimer(token uint64) {
	if !c.active() {
		c.logger.Debug("stale hold timer ignored", "line", c.line, "generation", c.generation)
		return
	}

	c.mu.Lock()
	if c.closed || !c.down || c.longFired || token != c.holdSeq {
		c.mu.Unlock()
		return
	}
	c.stopHoldLocked()
	c.longFired = true
	c.stopDoubleLocked()
	at := c.clock.Now()
	c.mu.Unlock()

	c.logger.Debug("long press detected", "line", c.line)
	c.fire(GestureLong, at)
}

// Release completes an interaction. A release without a recorded press is ignored,
// which keeps a button held across a rebuild from producing a gesture.
func (c *Classifier) Release() {
	if !c.active() {
		return
	}

	c.mu.Lock()
	if c.closed || !c.down {
		c.mu.Unlock()
		return
	}
	c.down = false
	c.stopHoldLocked()

	if c.longFired {
		c.longFired = false
		c.mu.Unlock()
		return
	}

	now := c.clock.Now()
	held := now.Sub(c.pressedAt)
	short := c.timing.shortPress()

	if c.doubleTimer != nil {
		if held > short {
			c.mu.Unlock()
			c.logger.Debug("second press too long, keeping pending short",
				"line", c.line, "press_ms", held.Milliseconds(), "short_ms", c.timing.ShortPressMs)
			return
		}
		c.stopDoubleLocked()
		c.mu.Unlock()
		c.fire(GestureDouble, now)
		return
	}

	if held > short {
		c.mu.Unlock()
		c.logger.Debug("press longer than short threshold, no gesture",
			"line", c.line, "press_ms", held.Milliseconds(), "short_ms", c.timing.ShortPressMs)
		return
	}

	c.doubleSeq++
	token := c.doubleSeq
	c.doubleTimer = c.clock.AfterFunc(c.timing.doubleWindow(), func() { c.onDoubleWindow(token) })
	c.mu.Unlock()
}

func (c *Classifier) onDoubleWindow(token uint64) {
	if !c.active() {
		c.logger.Debug("stale double-click timer ignored", "line", c.line, "generation", c.generation)
		return
	}

	c.mu.Lock()
	if c.closed || c.doubleTimer == nil || token != c.doubleSeq {
		c.mu.Unlock()
		return
	}
	c.doubleTimer = nil
	at := c.clock.Now()
	c.mu.Unlock()

	c.fire(GestureShort, at)
}

// Close cancels both timers. A closed classifier never emits again.
func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.down = false
	c.longFired = false
	c.stopHoldLocked()
	c.stopDoubleLocked()
}

func (c *Classifier) stopHoldLocked() {
	if c.holdTimer != nil {
		c.holdTimer.Stop()
		c.holdTimer = nil
	}
	c.holdSeq++
}

func (c *Classifier) stopDoubleLocked() {
	if c.doubleTimer != nil {
		c.doubleTimer.Stop()
		c.doubleTimer = nil
	}
	c.doubleSeq++
}

func (c *Classifier) fire(kind GestureKind, at time.Time) {
	if c.emit == nil || !c.active() {
		return
	}
	c.emit(GestureEvent{
		Line:       c.line,
		Kind:       kind,
		At:         at,
		Generation: c.generation,
	})
}
