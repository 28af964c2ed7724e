package buttons

import "time"

// Timing bounds in milliseconds.
const (
	MinShortPressMs = 50
	MaxShortPressMs = 2000

	MinDoubleClickIntervalMs = 100
	MaxDoubleClickIntervalMs = 2000

	MinLongPressMs = 200
	MaxLongPressMs = 5000

	DefaultShortPressMs          = 500
	DefaultDoubleClickIntervalMs = 500
	DefaultLongPressMs           = 1000
)

// TimingConfig holds the gesture thresholds shared by every classifier of a generation.
type TimingConfig struct {
	ShortPressMs          int `yaml:"short_press_ms" json:"short_press_ms"`
	DoubleClickIntervalMs int `yaml:"double_click_interval_ms" json:"double_click_interval_ms"`
	LongPressMs           int `yaml:"long_press_ms" json:"long_press_ms"`
}

// DefaultTiming returns the stock 500/500/1000 ms thresholds.
func DefaultTiming() TimingConfig {
	return TimingConfig{
		ShortPressMs:          DefaultShortPressMs,
		DoubleClickIntervalMs: DefaultDoubleClickIntervalMs,
		LongPressMs:           DefaultLongPressMs,
	}
}

// Clamp returns a copy with every field forced into its allowed range.
// Zero fields take the default before clamping.
func (t TimingConfig) Clamp() TimingConfig {
	d := DefaultTiming()
	if t.ShortPressMs == 0 {
		t.ShortPressMs = d.ShortPressMs
	}
	if t.DoubleClickIntervalMs == 0 {
		t.DoubleClickIntervalMs = d.DoubleClickIntervalMs
	}
	if t.LongPressMs == 0 {
		t.LongPressMs = d.LongPressMs
	}
	t.ShortPressMs = clampInt(t.ShortPressMs, MinShortPressMs, MaxShortPressMs)
	t.DoubleClickIntervalMs = clampInt(t.DoubleClickIntervalMs, MinDoubleClickIntervalMs, MaxDoubleClickIntervalMs)
	t.LongPressMs = clampInt(t.LongPressMs, MinLongPressMs, MaxLongPressMs)
	return t
}

func (t TimingConfig) shortPress() time.Duration {
	return time.Duration(t.ShortPressMs) * time.Millisecond
}

func (t TimingConfig) doubleWindow() time.Duration {
	return time.Duration(t.DoubleClickIntervalMs) * time.Millisecond
}

func (t TimingConfig) longPress() time.Duration {
	return time.Duration(t.LongPressMs) * time.Millisecond
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
