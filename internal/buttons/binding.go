package buttons

import (
	"fmt"
	"strings"
)

// GPIO pin range accepted for bindings.
const (
	MinGPIOPin = 2
	MaxGPIOPin = 27
)

// ButtonBinding maps one input line to up to three actions.
type ButtonBinding struct {
	ID      string `yaml:"id" json:"id"`
	GPIOPin int    `yaml:"gpio_pin" json:"gpio_pin"`

	ShortAction  string `yaml:"short_action,omitempty" json:"short_action,omitempty"`
	DoubleAction string `yaml:"double_action,omitempty" json:"double_action,omitempty"`
	LongAction   string `yaml:"long_action,omitempty" json:"long_action,omitempty"`

	ScriptPathShort  string `yaml:"script_path_short,omitempty" json:"script_path_short,omitempty"`
	ScriptPathDouble string `yaml:"script_path_double,omitempty" json:"script_path_double,omitempty"`
	ScriptPathLong   string `yaml:"script_path_long,omitempty" json:"script_path_long,omitempty"`

	URLShort  string `yaml:"url_short,omitempty" json:"url_short,omitempty"`
	URLDouble string `yaml:"url_double,omitempty" json:"url_double,omitempty"`
	URLLong   string `yaml:"url_long,omitempty" json:"url_long,omitempty"`
}

// Action returns the action id bound to kind, or "".
func (b ButtonBinding) Action(kind GestureKind) string {
	switch kind {
	case GestureShort:
		return b.ShortAction
	case GestureDouble:
		return b.DoubleAction
	case GestureLong:
		return b.LongAction
	}
	return ""
}

// Aux returns the slot parameters for kind.
func (b ButtonBinding) Aux(kind GestureKind) AuxContext {
	switch kind {
	case GestureShort:
		return AuxContext{ScriptPath: b.ScriptPathShort, URL: b.URLShort}
	case GestureDouble:
		return AuxContext{ScriptPath: b.ScriptPathDouble, URL: b.URLDouble}
	case GestureLong:
		return AuxContext{ScriptPath: b.ScriptPathLong, URL: b.URLLong}
	}
	return AuxContext{}
}

// Normalize trims every field and assigns "btn_<index>" when the id is empty.
func (b ButtonBinding) Normalize(index int) ButtonBinding {
	b.ID = strings.TrimSpace(b.ID)
	if b.ID == "" {
		b.ID = fmt.Sprintf("btn_%d", index)
	}
	for _, f := range []*string{
		&b.ShortAction, &b.DoubleAction, &b.LongAction,
		&b.ScriptPathShort, &b.ScriptPathDouble, &b.ScriptPathLong,
		&b.URLShort, &b.URLDouble, &b.URLLong,
	} {
		*f = strings.TrimSpace(*f)
	}
	return b
}

// Actions returns the non-empty action ids of the binding.
func (b ButtonBinding) Actions() []string {
	var out []string
	for _, id := range []string{b.ShortAction, b.DoubleAction, b.LongAction} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// CheckUniquePins returns ErrDuplicatePin when two bindings share a pin.
func CheckUniquePins(bindings []ButtonBinding) error {
	seen := make(map[int]string, len(bindings))
	for _, b := range bindings {
		if other, ok := seen[b.GPIOPin]; ok {
			return fmt.Errorf("%w: pin %d used by %q and %q", ErrDuplicatePin, b.GPIOPin, other, b.ID)
		}
		seen[b.GPIOPin] = b.ID
	}
	return nil
}
