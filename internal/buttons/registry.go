package buttons

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// MaxDisplayActions caps the display actions a single owner may register.
const MaxDisplayActions = 6

// GroupOtherFeatures is the catalog group anytime actions are listed under.
const GroupOtherFeatures = "Other Plugins"

// AnytimeAction is one globally triggerable action contributed by a feature module.
type AnytimeAction struct {
	Label    string
	Callback ActionFunc
}

// ActionInfo describes a registered anytime action for listings.
type ActionInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Group string `json:"group"`
	Owner string `json:"owner_id"`
}

// RegistryStats summarizes registry contents.
type RegistryStats struct {
	AnytimeCount      int `json:"anytime_count"`
	OwnersWithDisplay int `json:"owners_with_display"`
	MaxDisplay        int `json:"max_display"`
}

type anytimeEntry struct {
	label    string
	owner    string
	callback ActionFunc
}

// Registry holds actions contributed by feature modules. All state sits behind one mutex and
// callbacks are always invoked with it released.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	anytime map[string]anytimeEntry
	display map[string][]ActionFunc
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		anytime: make(map[string]anytimeEntry),
		display: make(map[string][]ActionFunc),
	}
}

// RegisterActions adds the actions of one owner. Invalid entries are skipped with a warning.
// A non-nil display slice replaces the owner's display list; nil leaves it untouched.
func (r *Registry) RegisterActions(owner string, anytime map[string]AnytimeAction, display []ActionFunc) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		r.logger.Warn("register actions: empty owner id", "error", ErrInvalidOwner)
		return
	}

	names := make([]string, 0, len(anytime))
	for name := range anytime {
		names = append(names, name)
	}
	sort.Strings(names)

	var valid []ActionFunc
	if display != nil {
		valid = make([]ActionFunc, 0, len(display))
		for i, fn := range display {
			if fn == nil {
				r.logger.Warn("register actions: display action is nil", "owner", owner, "index", i)
				continue
			}
			valid = append(valid, fn)
		}
		if len(valid) > MaxDisplayActions {
			r.logger.Warn("register actions: too many display actions, truncating",
				"owner", owner, "count", len(valid), "max", MaxDisplayActions)
			valid = valid[:MaxDisplayActions]
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		a := anytime[name]
		if strings.TrimSpace(a.Label) == "" {
			r.logger.Warn("register actions: anytime action missing label", "owner", owner, "name", name)
			continue
		}
		if a.Callback == nil {
			r.logger.Warn("register actions: anytime action has no callback", "owner", owner, "name", name)
			continue
		}
		id := owner + "_" + name
		if _, exists := r.anytime[id]; exists {
			r.logger.Debug("register actions: replacing anytime action", "action_id", id)
		}
		r.anytime[id] = anytimeEntry{label: a.Label, owner: owner, callback: a.Callback}
		r.logger.Info("registered anytime action", "action_id", id, "label", a.Label)
	}

	if display != nil {
		r.display[owner] = valid
		r.logger.Info("registered display actions", "owner", owner, "count", len(valid))
	}
}

// ListAnytimeActions returns every anytime action sorted case-insensitively by label.
func (r *Registry) ListAnytimeActions() []ActionInfo {
	r.mu.Lock()
	out := make([]ActionInfo, 0, len(r.anytime))
	for id, e := range r.anytime {
		out = append(out, ActionInfo{ID: id, Label: e.label, Group: GroupOtherFeatures, Owner: e.owner})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i].Label), strings.ToLower(out[j].Label)
		if li != lj {
			return li < lj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MaxDisplayActionCount returns the longest display list registered by any owner.
func (r *Registry) MaxDisplayActionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxDisplayLocked()
}

func (r *Registry) maxDisplayLocked() int {
	n := 0
	for _, list := range r.display {
		if len(list) > n {
			n = len(list)
		}
	}
	return n
}

// ResolveDisplayAction returns the display callback at index for owner.
func (r *Registry) ResolveDisplayAction(owner string, index int) (ActionFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.display[owner]
	if index < 0 || index >= len(list) {
		return nil, false
	}
	return list[index], true
}

// ExecuteAnytimeAction runs the anytime action id. It returns ErrActionNotFound when id is
// not registered; callback errors are logged and returned.
func (r *Registry) ExecuteAnytimeAction(ctx context.Context, id string, actx ActionContext) error {
	r.mu.Lock()
	e, ok := r.anytime[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}

	r.logger.Info("executing anytime action", "action_id", id, "owner", e.owner, "exec_id", actx.ExecutionID)
	if err := e.callback(ctx, actx); err != nil {
		r.logger.Error("anytime action failed", "action_id", id, "exec_id", actx.ExecutionID, "error", err)
		return err
	}
	r.logger.Debug("anytime action completed", "action_id", id, "exec_id", actx.ExecutionID)
	return nil
}

// ExecuteDisplayAction runs display action index of the owner currently shown by the host.
// It reports false with a nil error when nothing applicable is shown.
func (r *Registry) ExecuteDisplayAction(ctx context.Context, index int, actx ActionContext) (bool, error) {
	if actx.Device == nil {
		r.logger.Warn("display action: no device state available", "index", index)
		return false, nil
	}
	info := actx.Device.RefreshInfo()
	if info.OwnerID == "" {
		r.logger.Debug("display action: nothing displayed yet", "index", index)
		return false, nil
	}

	fn, ok := r.ResolveDisplayAction(info.OwnerID, index)
	if !ok {
		r.logger.Debug("display action: not available for current owner", "owner", info.OwnerID, "index", index)
		return false, nil
	}

	actx.CurrentInstance = nil
	if info.RefreshKind == RefreshKindPlaylist && info.PlaylistName != "" && info.InstanceName != "" && actx.Playlists != nil {
		if pl := actx.Playlists.Playlist(info.PlaylistName); pl != nil {
			actx.CurrentInstance = pl.FindInstance(info.OwnerID, info.InstanceName)
		}
	}

	r.logger.Info("executing display action", "owner", info.OwnerID, "index", index,
		"instance", info.InstanceName, "exec_id", actx.ExecutionID)
	if err := fn(ctx, actx); err != nil {
		r.logger.Error("display action failed", "owner", info.OwnerID, "index", index,
			"exec_id", actx.ExecutionID, "error", err)
		return true, err
	}
	return true, nil
}

// Stats summarizes the registry.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RegistryStats{
		AnytimeCount:      len(r.anytime),
		OwnersWithDisplay: len(r.display),
		MaxDisplay:        r.maxDisplayLocked(),
	}
}
