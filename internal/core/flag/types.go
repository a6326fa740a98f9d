// Package flag implements the Flag Object (C7): the entity model, its
// invariants, and the state-transition/evaluation operations spec §3-§4
// defines on top of it.
package flag

import (
	"time"

	"magick/internal/core/id"
	"magick/internal/core/targeting"
)

// Type is a flag's declared value kind (spec §3, invariant I1: a flag's
// type never changes after creation).
type Type string

const (
	TypeBoolean    Type = "boolean"
	TypeString     Type = "string"
	TypeNumber     Type = "number"
	TypeJSON       Type = "json"
	TypePercentage Type = "percentage"
	TypeVariant    Type = "variant"
)

// Status is a flag's lifecycle state (spec §3), independent of its
// boolean/string/number "on" value: active flags evaluate normally,
// inactive flags are force-disabled regardless of value or targeting (P4),
// and deprecated flags evaluate normally only when the caller's context
// opts in via AllowDeprecated.
type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusDeprecated Status = "deprecated"
)

// Variant is one weighted option of a TypeVariant flag (spec §3:
// GetVariant performs weighted random selection across Variants).
type Variant struct {
	Name   string `json:"name"`
	Value  any    `json:"value"`
	Weight int    `json:"weight"`
}

// Flag is the engine's core entity (spec §3). Dependencies lists other
// flag names this flag depends on; the dependency relationship that
// enable()/disable() enforce is the inverted one spec's worked example
// (scenario S4) establishes: enabling F is blocked while any flag that
// lists F in its own Dependencies is itself disabled, and disabling F
// forces every such flag disabled in turn. See the comment on
// TestDependencyInvariant_EnableBlockedByOffDependent in flag_test.go for
// the worked example.
type Flag struct {
	// ID is a stable UUIDv7 correlation id for tracing spans and metrics;
	// Name remains the sole externally visible, user-facing identifier
	// used by enabled?/value/targeting semantics.
	ID     id.ID
	Name   string
	Type   Type
	Status Status

	// RawValue is the flag's current "global" value (spec §3 `value`),
	// consulted on NO_RULES/MATCH. DefaultValue is `default_value`,
	// returned instead on NO_MATCH (spec §4.7 value()).
	RawValue     any
	DefaultValue any

	// Description, DisplayName, and Group are optional string metadata
	// (spec §3); none of the three participate in evaluation.
	Description string
	DisplayName string
	Group       string

	Variants     []Variant
	Targeting    targeting.Map
	Dependencies []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep-enough copy for safe concurrent handoff: callers
// receive a Flag they can read without racing a concurrent mutation of the
// original held inside a Store.
func (f *Flag) Clone() *Flag {
	clone := *f
	clone.Variants = append([]Variant(nil), f.Variants...)
	clone.Dependencies = append([]string(nil), f.Dependencies...)
	clone.Targeting.Rules = append([]targeting.AttributeRule(nil), f.Targeting.Rules...)
	return &clone
}
