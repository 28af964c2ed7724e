package main

import (
	"encoding/json"
	"fmt"

	"hwbuttons/internal/buttons"
)

// ============================================================================
// IPC Event Types
// ============================================================================
// Events are requests from IPC clients (hwbuttons-ctl, the host application,
// feature modules). The daemon handles each one synchronously and replies with
// an IPCResponse.
// ============================================================================

// Event is a marker interface for all IPC requests.
type Event interface {
	eventMarker()
}

// ButtonPress is a rising edge on a line (IPC edge source).
type ButtonPress struct {
	Line int `json:"line"`
}

func (ButtonPress) eventMarker() {}

// ButtonRelease is a falling edge on a line.
type ButtonRelease struct {
	Line int `json:"line"`
}

func (ButtonRelease) eventMarker() {}

// ButtonHold is an external "held long" notification for a line.
type ButtonHold struct {
	Line int `json:"line"`
}

func (ButtonHold) eventMarker() {}

// ExecuteAction runs an action immediately; the reply carries the action's error.
type ExecuteAction struct {
	ActionID string             `json:"action_id"`
	Context  buttons.AuxContext `json:"context"`
}

func (ExecuteAction) eventMarker() {}

// SaveBindings validates, persists and applies a new button set.
type SaveBindings struct {
	Timing  buttons.TimingConfig    `json:"timings"`
	Buttons []buttons.ButtonBinding `json:"buttons"`
}

func (SaveBindings) eventMarker() {}

// Reload re-reads the buttons store from disk.
type Reload struct{}

func (Reload) eventMarker() {}

// SetRefreshInfo reports what the host is showing now.
type SetRefreshInfo struct {
	buttons.RefreshInfo
}

func (SetRefreshInfo) eventMarker() {}

// RegisterRemoteActions registers (or replaces) a remote feature module's actions.
type RegisterRemoteActions struct {
	FeatureConfig
}

func (RegisterRemoteActions) eventMarker() {}

// ListActions requests the action catalog.
type ListActions struct{}

func (ListActions) eventMarker() {}

// GetState requests the active button snapshot.
type GetState struct{}

func (GetState) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "press":
		var e ButtonPress
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ButtonPress: %w", err)
		}
		return e, nil

	case "release":
		var e ButtonRelease
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ButtonRelease: %w", err)
		}
		return e, nil

	case "hold":
		var e ButtonHold
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ButtonHold: %w", err)
		}
		return e, nil

	case "execute_action":
		var e ExecuteAction
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal ExecuteAction: %w", err)
		}
		return e, nil

	case "save_bindings":
		var e SaveBindings
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal SaveBindings: %w", err)
		}
		return e, nil

	case "reload":
		return Reload{}, nil

	case "set_refresh_info":
		var e SetRefreshInfo
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal SetRefreshInfo: %w", err)
		}
		return e, nil

	case "register_remote_actions":
		var e RegisterRemoteActions
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal RegisterRemoteActions: %w", err)
		}
		return e, nil

	case "list_actions":
		return ListActions{}, nil

	case "get_state":
		return GetState{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	var payload any
	switch e := e.(type) {
	case ButtonPress:
		env.Type, payload = "press", e
	case ButtonRelease:
		env.Type, payload = "release", e
	case ButtonHold:
		env.Type, payload = "hold", e
	case ExecuteAction:
		env.Type, payload = "execute_action", e
	case SaveBindings:
		env.Type, payload = "save_bindings", e
	case Reload:
		env.Type = "reload"
	case SetRefreshInfo:
		env.Type, payload = "set_refresh_info", e
	case RegisterRemoteActions:
		env.Type, payload = "register_remote_actions", e
	case ListActions:
		env.Type = "list_actions"
	case GetState:
		env.Type = "get_state"
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}
