package buttons

import "errors"

// Core errors.
var (
	// ErrActionNotFound indicates no registry entry exists for an action id.
	// The dispatcher uses it to fall through to the next resolution tier.
	ErrActionNotFound = errors.New("buttons: action not registered")

	// ErrActionPanic indicates an action callback panicked.
	ErrActionPanic = errors.New("buttons: action panic")

	// ErrInvalidOwner indicates a registration with an empty owner id.
	ErrInvalidOwner = errors.New("buttons: invalid owner id")

	// ErrDuplicatePin indicates two bindings share one input line.
	ErrDuplicatePin = errors.New("buttons: duplicate gpio pin")

	// ErrScriptOutsideHome indicates a script path resolving outside the home directory.
	ErrScriptOutsideHome = errors.New("buttons: script path outside home directory")

	// ErrScriptNotFound indicates the script file does not exist.
	ErrScriptNotFound = errors.New("buttons: script not found")

	// ErrInvalidURL indicates a call_url target without an http(s) scheme.
	ErrInvalidURL = errors.New("buttons: url must start with http:// or https://")
)
