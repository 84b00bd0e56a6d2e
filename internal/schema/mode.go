package schema

import (
	"fmt"
	"strings"
)

// CompatibilityMode is a compatibility policy: a direction combined with a
// scope (latest version only, or every prior version).
type CompatibilityMode string

const (
	ModeNone               CompatibilityMode = "NONE"
	ModeBackward           CompatibilityMode = "BACKWARD"
	ModeBackwardTransitive CompatibilityMode = "BACKWARD_TRANSITIVE"
	ModeForward            CompatibilityMode = "FORWARD"
	ModeForwardTransitive  CompatibilityMode = "FORWARD_TRANSITIVE"
	ModeForwardFull        CompatibilityMode = "FORWARD_FULL"
	ModeFull               CompatibilityMode = "FULL"
	ModeFullTransitive     CompatibilityMode = "FULL_TRANSITIVE"
)

// Modes lists the seven modes covered by the transition-risk table, from
// most permissive to strictest.
var Modes = []CompatibilityMode{
	ModeNone,
	ModeBackward,
	ModeBackwardTransitive,
	ModeForward,
	ModeForwardTransitive,
	ModeFull,
	ModeFullTransitive,
}

// Direction is the direction component of a CompatibilityMode.
type Direction string

const (
	DirectionNone     Direction = "none"
	DirectionBackward Direction = "backward"
	DirectionForward  Direction = "forward"
	DirectionFull     Direction = "full"
)

// ParseCompatibilityMode parses a mode name, case-insensitively.
func ParseCompatibilityMode(s string) (CompatibilityMode, error) {
	m := CompatibilityMode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", InvalidArgumentf("unknown compatibility mode %q", s)
	}
	return m, nil
}

// Valid reports whether m is a known mode.
func (m CompatibilityMode) Valid() bool {
	switch m {
	case ModeNone, ModeBackward, ModeBackwardTransitive, ModeForward,
		ModeForwardTransitive, ModeForwardFull, ModeFull, ModeFullTransitive:
		return true
	}
	return false
}

// Direction returns the direction half of the mode.
func (m CompatibilityMode) Direction() Direction {
	switch m {
	case ModeBackward, ModeBackwardTransitive:
		return DirectionBackward
	case ModeForward, ModeForwardTransitive:
		return DirectionForward
	case ModeFull, ModeFullTransitive, ModeForwardFull:
		return DirectionFull
	default:
		return DirectionNone
	}
}

// Transitive reports whether the mode checks against every prior version.
func (m CompatibilityMode) Transitive() bool {
	return strings.HasSuffix(string(m), "_TRANSITIVE")
}

// Canonical maps aliases onto the seven modes of the risk table.
func (m CompatibilityMode) Canonical() CompatibilityMode {
	if m == ModeForwardFull {
		return ModeFull
	}
	return m
}

// ModeFor builds the mode for a direction and scope.
func ModeFor(d Direction, transitive bool) (CompatibilityMode, error) {
	var m CompatibilityMode
	switch d {
	case DirectionNone:
		if transitive {
			return "", InvalidArgumentf("direction none has no transitive scope")
		}
		return ModeNone, nil
	case DirectionBackward:
		m = ModeBackward
	case DirectionForward:
		m = ModeForward
	case DirectionFull:
		m = ModeFull
	default:
		return "", InvalidArgumentf("unknown direction %q", d)
	}
	if transitive {
		m += "_TRANSITIVE"
	}
	return m, nil
}

func (m CompatibilityMode) String() string {
	return string(m)
}

// MarshalText is implemented so modes can be used as JSON/YAML map keys.
func (m CompatibilityMode) MarshalText() ([]byte, error) {
	return []byte(m), nil
}

// UnmarshalText validates the mode while decoding.
func (m *CompatibilityMode) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*m = ""
		return nil
	}
	parsed, err := ParseCompatibilityMode(string(b))
	if err != nil {
		return fmt.Errorf("decode compatibility mode: %w", err)
	}
	*m = parsed
	return nil
}
