package main

import (
	"bytes"
	"encoding/binary"
	"log/slog"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// Linux input constants used by the evdev source.
const (
	evKey = 0x01

	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2
)

// lineSink receives edges for lines. *buttons.Manager implements it.
type lineSink interface {
	Press(line int)
	Release(line int)
	Hold(line int)
}

// decodeInputEvent parses one raw input_event record.
func decodeInputEvent(buf []byte) (inputEvent, bool) {
	var ev inputEvent
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &ev); err != nil {
		return inputEvent{}, false
	}
	return ev, true
}

// keyRouter turns EV_KEY events into line edges through the configured keymap.
type keyRouter struct {
	keymap map[int]int
	sink   lineSink
	logger *slog.Logger
}

// route forwards ev to the sink. Key repeats are ignored: the classifier's own hold timer
// decides when a press becomes long.
func (r keyRouter) route(ev inputEvent) {
	if ev.Type != evKey {
		return
	}
	line, ok := r.keymap[int(ev.Code)]
	if !ok {
		r.logger.Debug("unmapped key", "code", ev.Code, "value", ev.Value)
		return
	}
	switch ev.Value {
	case keyPress:
		r.sink.Press(line)
	case keyRelease:
		r.sink.Release(line)
	case keyRepeat:
	}
}
