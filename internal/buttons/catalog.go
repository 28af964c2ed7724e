package buttons

import (
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Built-in action ids.
const (
	ActionNone                 = "none"
	ActionTriggerRefresh       = "core_trigger_refresh"
	ActionForceRefresh         = "core_force_refresh"
	ActionNextPlaylist         = "core_next_playlist"
	ActionPrevPlaylist         = "core_prev_playlist"
	ActionSystemShutdown       = "system_shutdown"
	ActionSystemReboot         = "system_reboot"
	ActionSystemRestartService = "system_restart_service"
	ActionExternalScript       = "external_script"
	ActionCallURL              = "call_url"

	displayActionPrefix = "display_action_"
)

// Catalog groups.
const (
	GroupCore           = "Core"
	GroupSystem         = "System"
	GroupCurrentFeature = "Current Plugin"
)

// BuiltinActions lists the actions the dispatcher handles without the registry.
var BuiltinActions = []ActionInfo{
	{ID: ActionTriggerRefresh, Label: "Trigger refresh (next in playlist)", Group: GroupCore},
	{ID: ActionForceRefresh, Label: "Force refresh (re-show current)", Group: GroupCore},
	{ID: ActionNextPlaylist, Label: "Next playlist item", Group: GroupCore},
	{ID: ActionPrevPlaylist, Label: "Previous playlist item", Group: GroupCore},
	{ID: ActionSystemShutdown, Label: "Shutdown", Group: GroupSystem},
	{ID: ActionSystemReboot, Label: "Reboot", Group: GroupSystem},
	{ID: ActionSystemRestartService, Label: "Restart service", Group: GroupSystem},
	{ID: ActionExternalScript, Label: "Run external bash script", Group: GroupSystem},
	{ID: ActionCallURL, Label: "Call URL", Group: GroupSystem},
}

var builtinIDs = func() map[string]struct{} {
	m := make(map[string]struct{}, len(BuiltinActions))
	for _, a := range BuiltinActions {
		m[a.ID] = struct{}{}
	}
	return m
}()

// IsBuiltin reports whether id is handled by the dispatcher itself.
func IsBuiltin(id string) bool {
	_, ok := builtinIDs[id]
	return ok
}

// DisplayActionID returns the action id bound to display slot index (0-based).
func DisplayActionID(index int) string {
	return fmt.Sprintf("%s%d", displayActionPrefix, index)
}

// AvailableActions builds the action catalog offered for bindings: the no-op entry, the
// built-ins, the registered anytime actions and one generic entry per display slot.
func AvailableActions(reg *Registry) []ActionInfo {
	out := []ActionInfo{{ID: "", Label: "(No action)", Group: GroupCore}}
	out = append(out, BuiltinActions...)
	if reg == nil {
		return out
	}
	out = append(out, reg.ListAnytimeActions()...)
	for i := 0; i < reg.MaxDisplayActionCount(); i++ {
		out = append(out, ActionInfo{
			ID:    DisplayActionID(i),
			Label: fmt.Sprintf("Display Action %d", i+1),
			Group: GroupCurrentFeature,
		})
	}
	return out
}

// suggestMaxDistance bounds how far a suggestion may be from the unknown id.
const suggestMaxDistance = 4

// Suggest returns the catalog id closest to id, or "" when nothing is close enough.
func Suggest(id string, catalog []ActionInfo) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return ""
	}
	best, bestDist := "", suggestMaxDistance+1
	for _, a := range catalog {
		if a.ID == "" {
			continue
		}
		d := levenshtein.ComputeDistance(id, strings.ToLower(a.ID))
		if d < bestDist {
			best, bestDist = a.ID, d
		}
	}
	return best
}

// KnownAction reports whether id appears in catalog.
func KnownAction(id string, catalog []ActionInfo) bool {
	for _, a := range catalog {
		if a.ID == id {
			return true
		}
	}
	return false
}
