package buttons

import (
	"context"
	"time"
)

// RefreshKindPlaylist marks refresh info that came from a playlist rotation.
const RefreshKindPlaylist = "Playlist"

// RefreshInfo describes what the host last displayed. Fields are empty before anything was shown.
type RefreshInfo struct {
	OwnerID      string `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	InstanceName string `json:"instance,omitempty" yaml:"instance,omitempty"`
	RefreshKind  string `json:"refresh_kind,omitempty" yaml:"refresh_kind,omitempty"`
	PlaylistName string `json:"playlist,omitempty" yaml:"playlist,omitempty"`
}

// Instance is one configured feature instance inside a playlist.
type Instance interface {
	OwnerID() string
	Name() string
}

// Playlist is the host's ordered rotation of feature instances.
type Playlist interface {
	Name() string
	Instances() []Instance
	// CurrentIndex returns the index last shown, if any.
	CurrentIndex() (int, bool)
	SetCurrentIndex(i int)
	AdvanceAndGetNext() Instance
	FindInstance(ownerID, instanceName string) Instance
}

// PlaylistManager resolves playlists on the host.
type PlaylistManager interface {
	// ActivePlaylist returns the name of the playlist pinned as active, or "".
	ActivePlaylist() string
	DetermineActive(now time.Time) Playlist
	Playlist(name string) Playlist
	// WriteConfig persists playlist positions.
	WriteConfig() error
}

// DeviceState is the host's device and configuration handle.
type DeviceState interface {
	RefreshInfo() RefreshInfo
	Config(key string) (any, bool)
	UpdateConfig(key string, value any, persist bool) error
}

// RefreshRequest asks the host to show an instance next.
type RefreshRequest struct {
	Playlist string `json:"playlist"`
	OwnerID  string `json:"owner_id"`
	Instance string `json:"instance"`
	Force    bool   `json:"force"`
}

// RefreshTrigger hands a resolved request to the host's refresh loop.
type RefreshTrigger interface {
	ManualUpdate(req RefreshRequest) error
}

// AuxContext carries slot-specific parameters for built-in actions.
type AuxContext struct {
	ScriptPath string `json:"script_path,omitempty" yaml:"script_path,omitempty"`
	URL        string `json:"url,omitempty" yaml:"url,omitempty"`
}

// ActionContext is the bag of references handed to every action callback.
type ActionContext struct {
	Device    DeviceState
	Refresh   RefreshTrigger
	Playlists PlaylistManager

	Aux AuxContext

	// CurrentInstance is set for display actions when the active instance resolves.
	CurrentInstance Instance

	// ExecutionID correlates log lines of one dispatch.
	ExecutionID string
}

// ActionFunc is an action callback contributed by a feature module.
type ActionFunc func(ctx context.Context, actx ActionContext) error
