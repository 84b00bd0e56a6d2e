// Package compat implements compatibility-mode semantics: the transition
// risk table, the transitive version-history checker, and the schema
// compatibility engines used by backends without a native one.
package compat

import (
	"github.com/kamir/global-schema-registry/internal/schema"
)

// Risk classifies a change of compatibility mode.
type Risk string

const (
	RiskSafe          Risk = "SAFE"
	RiskRisky         Risk = "RISKY"
	RiskDangerous     Risk = "DANGEROUS"
	RiskNotApplicable Risk = "N/A"
)

// Transition is the advisory classification of moving a subject or registry
// from one mode to another. It does not gate the change.
type Transition struct {
	From               schema.CompatibilityMode `json:"from"`
	To                 schema.CompatibilityMode `json:"to"`
	Risk               Risk                     `json:"risk"`
	RequiresValidation bool                     `json:"requires_validation"`
	Description        string                   `json:"description"`
}

type modePair struct {
	from, to schema.CompatibilityMode
}

func safe(desc string) Transition {
	return Transition{Risk: RiskSafe, Description: desc}
}

func risky(desc string) Transition {
	return Transition{Risk: RiskRisky, RequiresValidation: true, Description: desc}
}

func dangerous(desc string) Transition {
	return Transition{Risk: RiskDangerous, RequiresValidation: true, Description: desc}
}

const (
	none  = schema.ModeNone
	bwd   = schema.ModeBackward
	bwdT  = schema.ModeBackwardTransitive
	fwd   = schema.ModeForward
	fwdT  = schema.ModeForwardTransitive
	full  = schema.ModeFull
	fullT = schema.ModeFullTransitive
)

var transitions = map[modePair]Transition{
	{none, bwd}:   risky("NONE allowed breaking changes, BACKWARD requires validation"),
	{none, bwdT}:  risky("Strictest backward check needed"),
	{none, fwd}:   risky("Different compatibility direction"),
	{none, fwdT}:  risky("Strictest forward check needed"),
	{none, full}:  dangerous("Both directions must be validated"),
	{none, fullT}: dangerous("Strictest mode - high risk from NONE"),

	{bwd, none}:  safe("Removing restrictions is always safe"),
	{bwd, bwdT}:  safe("Adding transitive check is safe"),
	{bwd, fwd}:   dangerous("Opposite compatibility direction"),
	{bwd, fwdT}:  dangerous("Opposite + transitive"),
	{bwd, full}:  risky("Adds forward compatibility requirement"),
	{bwd, fullT}: dangerous("Adds forward + transitive"),

	{bwdT, none}:  safe("Removing restrictions"),
	{bwdT, bwd}:   safe("Relaxing from transitive to single version"),
	{bwdT, fwd}:   dangerous("Complete direction change"),
	{bwdT, fwdT}:  dangerous("Complete direction change + transitive"),
	{bwdT, full}:  dangerous("Adds forward compatibility"),
	{bwdT, fullT}: dangerous("Adds forward + keeps transitive"),

	{fwd, none}:  safe("Removing restrictions"),
	{fwd, bwd}:   dangerous("Opposite direction"),
	{fwd, bwdT}:  dangerous("Opposite direction + transitive"),
	{fwd, fwdT}:  safe("Adding transitive is safe"),
	{fwd, full}:  risky("Adds backward compatibility"),
	{fwd, fullT}: dangerous("Adds backward + transitive"),

	{fwdT, none}:  safe("Removing restrictions"),
	{fwdT, bwd}:   dangerous("Opposite direction"),
	{fwdT, bwdT}:  dangerous("Opposite direction"),
	{fwdT, fwd}:   safe("Relaxing transitive requirement"),
	{fwdT, full}:  dangerous("Adds backward compatibility"),
	{fwdT, fullT}: risky("Adds backward transitive requirement"),

	{full, none}:  safe("Removing all restrictions"),
	{full, bwd}:   safe("Removing forward requirement"),
	{full, bwdT}:  risky("Removing forward, adding transitive"),
	{full, fwd}:   safe("Removing backward requirement"),
	{full, fwdT}:  risky("Removing backward, adding transitive"),
	{full, fullT}: safe("Adding transitive to both directions"),

	{fullT, none}: safe("From strictest to most permissive"),
	{fullT, bwd}:  safe("Relaxing forward requirement"),
	{fullT, bwdT}: safe("Relaxing forward requirement"),
	{fullT, fwd}:  safe("Relaxing backward requirement"),
	{fullT, fwdT}: safe("Relaxing backward requirement"),
	{fullT, full}: safe("Relaxing transitive requirements"),
}

// LookupTransition classifies moving from one mode to another. FORWARD_FULL
// is classified as FULL. The boolean is false when either mode is unknown.
func LookupTransition(from, to schema.CompatibilityMode) (Transition, bool) {
	if !from.Valid() || !to.Valid() {
		return Transition{}, false
	}
	cf, ct := from.Canonical(), to.Canonical()
	if cf == ct {
		return Transition{
			From:        from,
			To:          to,
			Risk:        RiskNotApplicable,
			Description: "No change",
		}, true
	}
	t, ok := transitions[modePair{cf, ct}]
	if !ok {
		return Transition{}, false
	}
	t.From, t.To = from, to
	return t, true
}

// TransitionTable returns every ordered pair of the seven canonical modes,
// self-transitions included, in a stable order.
func TransitionTable() []Transition {
	out := make([]Transition, 0, len(schema.Modes)*len(schema.Modes))
	for _, from := range schema.Modes {
		for _, to := range schema.Modes {
			t, _ := LookupTransition(from, to)
			out = append(out, t)
		}
	}
	return out
}
