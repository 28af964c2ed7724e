package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"
)

type recordingSink struct {
	edges []string
}

func (s *recordingSink) Press(line int)   { s.edges = append(s.edges, fmt.Sprintf("press:%d", line)) }
func (s *recordingSink) Release(line int) { s.edges = append(s.edges, fmt.Sprintf("release:%d", line)) }
func (s *recordingSink) Hold(line int)    { s.edges = append(s.edges, fmt.Sprintf("hold:%d", line)) }

func TestDecodeInputEvent(t *testing.T) {
	want := inputEvent{Sec: 1700000000, Usec: 250, Type: evKey, Code: 256, Value: keyPress}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, want); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.Len() != binary.Size(inputEvent{}) {
		t.Fatalf("record size = %d", buf.Len())
	}

	got, ok := decodeInputEvent(buf.Bytes())
	if !ok {
		t.Fatalf("decode failed")
	}
	if got != want {
		t.Fatalf("decoded %+v, want %+v", got, want)
	}

	if _, ok := decodeInputEvent(buf.Bytes()[:10]); ok {
		t.Fatalf("short record decoded")
	}
}

func TestKeyRouter_Route(t *testing.T) {
	sink := &recordingSink{}
	r := keyRouter{keymap: map[int]int{256: 17, 257: 27}, sink: sink, logger: testLogger()}

	for _, ev := range []inputEvent{
		{Type: evKey, Code: 256, Value: keyPress},
		{Type: evKey, Code: 256, Value: keyRepeat},
		{Type: evKey, Code: 256, Value: keyRepeat},
		{Type: evKey, Code: 256, Value: keyRelease},
		{Type: 0x00, Code: 0, Value: 0}, // EV_SYN
		{Type: evKey, Code: 300, Value: keyPress},
		{Type: evKey, Code: 257, Value: keyPress},
	} {
		r.route(ev)
	}

	want := []string{"press:17", "release:17", "press:27"}
	if len(sink.edges) != len(want) {
		t.Fatalf("edges = %v, want %v", sink.edges, want)
	}
	for i := range want {
		if sink.edges[i] != want[i] {
			t.Fatalf("edges = %v, want %v", sink.edges, want)
		}
	}
}
