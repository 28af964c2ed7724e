//go:build linux

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// gpioSource requests one GPIO character-device line per bound pin and turns its edges into
// presses and releases. The requested set follows the active bindings.
type gpioSource struct {
	cfg    GPIOConfig
	sink   lineSink
	logger *slog.Logger

	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

func newGPIOSource(cfg GPIOConfig, sink lineSink, logger *slog.Logger) (lineReconfigurer, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip, gpiocdev.WithConsumer(appName))
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", cfg.Chip, err)
	}
	logger.Info("gpio chip opened", "chip", cfg.Chip, "lines", chip.Lines())
	return &gpioSource{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		chip:   chip,
		lines:  make(map[int]*gpiocdev.Line),
	}, nil
}

func (g *gpioSource) options() []gpiocdev.LineReqOption {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(g.handleEvent),
	}
	if g.cfg.PullUp {
		opts = append(opts, gpiocdev.WithPullUp)
	}
	if g.cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	if g.cfg.DebounceMS > 0 {
		opts = append(opts, gpiocdev.WithDebounce(time.Duration(g.cfg.DebounceMS)*time.Millisecond))
	}
	return opts
}

// handleEvent runs on the gpiocdev event goroutine. Levels are logical, so with
// active_low a falling physical edge arrives as a rising edge.
func (g *gpioSource) handleEvent(evt gpiocdev.LineEvent) {
	switch evt.Type {
	case gpiocdev.LineEventRisingEdge:
		g.sink.Press(evt.Offset)
	case gpiocdev.LineEventFallingEdge:
		g.sink.Release(evt.Offset)
	}
}

// Configure releases lines that are no longer bound and requests the new ones.
func (g *gpioSource) Configure(pins []int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.chip == nil {
		return errors.New("gpio source closed")
	}

	want := make(map[int]struct{}, len(pins))
	for _, p := range pins {
		want[p] = struct{}{}
	}

	for pin, line := range g.lines {
		if _, keep := want[pin]; keep {
			continue
		}
		if err := line.Close(); err != nil {
			g.logger.Warn("gpio line release failed", "pin", pin, "error", err)
		}
		delete(g.lines, pin)
	}

	var errs []error
	added := make([]int, 0, len(want))
	for pin := range want {
		if _, have := g.lines[pin]; have {
			continue
		}
		line, err := g.chip.RequestLine(pin, g.options()...)
		if err != nil {
			errs = append(errs, fmt.Errorf("request pin %d: %w", pin, err))
			continue
		}
		g.lines[pin] = line
		added = append(added, pin)
	}
	sort.Ints(added)
	if len(added) > 0 {
		g.logger.Info("gpio lines requested", "pins", added, "active", len(g.lines))
	}
	return errors.Join(errs...)
}

func (g *gpioSource) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for pin, line := range g.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	g.lines = make(map[int]*gpiocdev.Line)

	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		g.chip = nil
	}
	return errors.Join(errs...)
}
