package flag

import (
	"context"
	"math/rand"

	"magick/internal/core/apperror"
	"magick/internal/core/evalctx"
	"magick/internal/core/targeting"
	"magick/pkg/logger"
)

// Registry is the small interface Flag needs back onto its owning
// collection, to resolve dependency-cascade checks (spec §3's "non-owning
// handle" design note). engine.Engine implements this; flag never imports
// engine, avoiding an import cycle.
type Registry interface {
	// Get returns the named flag, or (nil, false) if it isn't registered.
	Get(name string) (*Flag, bool)

	// DependentsOf returns every registered flag whose Dependencies list
	// contains name.
	DependentsOf(name string) []*Flag

	// ForceDisable clears a flag's targeting and writes its canonical off
	// value directly, without re-running its own Enable/Disable invariant
	// checks. Used for the one-level, non-recursive cascade I3/I4 requires.
	ForceDisable(name string) error
}

// Enabled reports whether the flag is "on" for the given context (spec
// §4.7 enabled?): an inactive status always loses (P4); a deprecated
// status loses unless ctx.AllowDeprecated is truthy; targeting, when
// present, gates or selects first; and the final step reads the flag's own
// current value, type-dispatched (boolean value==true, string non-empty,
// number >0). Per spec §7, any panic during evaluation is recovered and
// treated as fail-safe false rather than propagated.
func (f *Flag) Enabled(ctx context.Context, ec evalctx.Context) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn(ctx, "flag: recovered from enabled? panic, failing safe", "flag", f.Name, "panic", r)
			result = false
		}
	}()

	if f.Status == StatusInactive {
		return false
	}
	if f.Status == StatusDeprecated {
		logger.Warn(ctx, "flag: deprecated flag evaluated", "flag", f.Name, "allow_deprecated", ec.AllowDeprecated)
		if !ec.AllowDeprecated {
			return false
		}
	}

	if len(f.Targeting.Rules) > 0 {
		switch targeting.NewMatcher(f.Name, f.Targeting).Evaluate(ec) {
		case targeting.NoMatch:
			return false
		case targeting.Matched:
			if f.Type == TypeBoolean {
				return true
			}
			// string/number: a MATCH still has to clear the value check
			// below (spec §4.7 step 3-4).
		}
	}

	return f.isOn()
}

// isOn is the type-dispatched "is this flag's current value truthy" check
// spec §4.7 step 4 requires of enabled?, and that I3/I4's dependency-cascade
// checks reuse to ask "is this flag currently on?" independent of context.
func (f *Flag) isOn() bool {
	return valueTruthy(f.Type, f.RawValue)
}

func valueTruthy(t Type, v any) bool {
	switch t {
	case TypeBoolean:
		b, _ := v.(bool)
		return b
	case TypeString:
		s, _ := v.(string)
		return s != ""
	case TypeNumber:
		n, ok := toFloat(v)
		return ok && n > 0
	default:
		return v != nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Value returns the flag's configured value for ctx (spec §4.7 value()):
// a NO_MATCH targeting verdict returns DefaultValue for every type; on
// NO_RULES or MATCH, TypeVariant performs weighted selection via GetVariant
// and every other type returns the stored RawValue. Unlike enabled?, value()
// does not gate on Status — the spec's value() wording branches only on
// targeting (see DESIGN.md for this Open Question resolution). Per spec §7
// a panic during evaluation is recovered and the default value returned.
func (f *Flag) Value(ctx context.Context, ec evalctx.Context) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn(ctx, "flag: recovered from value panic, returning default", "flag", f.Name, "panic", r)
			out, err = f.DefaultValue, nil
		}
	}()

	verdict := targeting.NoRules
	if len(f.Targeting.Rules) > 0 {
		verdict = targeting.NewMatcher(f.Name, f.Targeting).Evaluate(ec)
	}
	if verdict == targeting.NoMatch {
		return f.DefaultValue, nil
	}

	if f.Type == TypeVariant {
		v, verr := f.GetVariant(ec)
		if verr != nil {
			return nil, verr
		}
		return v.Value, nil
	}
	return f.RawValue, nil
}

// SetValue sets the flag's current value (spec §7 set_value), rejecting a
// value that doesn't match the flag's declared type (I1).
func (f *Flag) SetValue(value any) error {
	if err := validateValue(f.Type, value); err != nil {
		return err
	}
	f.RawValue = value
	return nil
}

// GetVariant performs weighted random selection across f.Variants. An empty
// Variants list is an INVALID_FEATURE_VALUE error (spec §7): a
// TypeVariant flag must declare at least one variant.
func (f *Flag) GetVariant(ec evalctx.Context) (Variant, error) {
	if len(f.Variants) == 0 {
		return Variant{}, apperror.NewInvalidFeatureValue(f.Name, "variant flag has no variants declared")
	}

	total := 0
	for _, v := range f.Variants {
		total += v.Weight
	}
	if total <= 0 {
		return f.Variants[0], nil
	}

	// Deterministic per-subject selection when a user id is present, so a
	// given user always lands on the same variant; otherwise fall back to
	// process-level randomness.
	var pick int
	if ec.UserID != "" {
		pick = int(float64(targeting.Bucket(f.Name, ec.UserID)) / 100.0 * float64(total))
	} else {
		pick = rand.Intn(total)
	}

	cursor := 0
	for _, v := range f.Variants {
		cursor += v.Weight
		if pick < cursor {
			return v, nil
		}
	}
	return f.Variants[len(f.Variants)-1], nil
}

// EnabledFor evaluates enabled? against a Subject capability interface
// merged with an extra attribute map, per spec §4.7's enabled_for? form.
func (f *Flag) EnabledFor(ctx context.Context, subject evalctx.Subject, extra map[string]any) bool {
	base := evalctx.FromSubject(subject)
	merged := evalctx.Merge(base, evalctx.FromMap(extra))
	return f.Enabled(ctx, merged)
}

// OffValue returns the canonical "off" value for f's type (spec §3 I2):
// false for boolean, "" for string, 0 for number. The other (enrichment)
// types have no canonical off value, so disable() leaves RawValue
// untouched for them and only clears targeting.
func (f *Flag) OffValue() (any, bool) {
	switch f.Type {
	case TypeBoolean:
		return false, true
	case TypeString:
		return "", true
	case TypeNumber:
		return 0.0, true
	default:
		return nil, false
	}
}

// ForceOff clears targeting and writes the canonical off value, without
// re-running Enable/Disable's own I3 dependency check — the one-level,
// non-recursive cascade I4 requires.
func (f *Flag) ForceOff() {
	f.Targeting = targeting.Map{}
	if v, ok := f.OffValue(); ok {
		f.RawValue = v
	}
}

// Enable enforces invariant I3: enabling F is blocked while any flag that
// lists F as a dependency is itself off (flag_test.go's
// TestDependencyInvariant_EnableBlockedByOffDependent walks through this
// inverted reading of the dependency relationship). Per I2, enable() is
// boolean-only: a non-boolean
// flag rejects with a typed error rather than mutating anything. On
// success, targeting is cleared and the value is set true.
func (f *Flag) Enable(reg Registry) error {
	if f.Type != TypeBoolean {
		return apperror.NewInvalidFeatureValue(f.Name, "enable() only applies to boolean flags; use set_value for "+string(f.Type)+" flags")
	}
	for _, dependent := range reg.DependentsOf(f.Name) {
		if !dependent.isOn() {
			return apperror.NewConflict("cannot enable " + f.Name + ": dependent flag " + dependent.Name + " is off")
		}
	}
	f.Targeting = targeting.Map{}
	f.RawValue = true
	return nil
}

// Disable clears targeting, writes the canonical off value for f's type,
// and cascades one level: every flag that lists f as a dependency is
// force-disabled too (invariant I4), non-recursively — a disabled
// grandchild is not further inspected.
func (f *Flag) Disable(reg Registry) error {
	f.ForceOff()
	for _, dependent := range reg.DependentsOf(f.Name) {
		if err := reg.ForceDisable(dependent.Name); err != nil {
			return err
		}
	}
	return nil
}

// SetGroup assigns the flag's admin-facing grouping metadata (spec §6
// group assignment).
func (f *Flag) SetGroup(group string) {
	f.Group = group
}

// EnableForRole adds role to the flag's role-targeting selection rule,
// creating the rule if it doesn't exist yet (spec §6 per-role enable;
// S2's worked example: enable_for_role("premium", "admin")).
func (f *Flag) EnableForRole(role string) {
	f.addSelectionValue(targeting.KindRoles, role)
}

// DisableForRole removes role from the flag's role-targeting selection
// rule, dropping the rule entirely once empty (spec §6 per-role disable).
func (f *Flag) DisableForRole(role string) {
	f.removeSelectionValue(targeting.KindRoles, role)
}

// EnableForUser adds userID to the flag's user-targeting selection rule
// (spec §6 per-user enable).
func (f *Flag) EnableForUser(userID string) {
	f.addSelectionValue(targeting.KindUserIDs, userID)
}

// DisableForUser removes userID from the flag's user-targeting selection
// rule (spec §6 per-user disable).
func (f *Flag) DisableForUser(userID string) {
	f.removeSelectionValue(targeting.KindUserIDs, userID)
}

// TargetingUpdate is the admin façade's compound targeting diff-update
// payload (spec §6): Roles and UserIDs replace their respective selection
// rules wholesale; PercentageUsers/PercentageRequests set the rule's
// percentage, or remove it entirely when the value is nil (blank) or <= 0.
// A percentage above 100 is a validation error.
type TargetingUpdate struct {
	Roles              []string
	UserIDs            []string
	PercentageUsers    *float64
	PercentageRequests *float64
}

// ApplyTargetingUpdate diff-applies an admin targeting update (spec §6.1):
// blank/<=0 percentage disables the corresponding rule, >100 is rejected.
func (f *Flag) ApplyTargetingUpdate(u TargetingUpdate) error {
	if u.PercentageUsers != nil && *u.PercentageUsers > 100 {
		return apperror.NewValidation("percentage_users must be <= 100")
	}
	if u.PercentageRequests != nil && *u.PercentageRequests > 100 {
		return apperror.NewValidation("percentage_requests must be <= 100")
	}

	f.replaceSelectionValues(targeting.KindRoles, u.Roles)
	f.replaceSelectionValues(targeting.KindUserIDs, u.UserIDs)

	pctUsers, pctRequests := 0.0, 0.0
	if u.PercentageUsers != nil {
		pctUsers = *u.PercentageUsers
	}
	if u.PercentageRequests != nil {
		pctRequests = *u.PercentageRequests
	}
	f.setPercentageRule(targeting.KindPercentageUsers, pctUsers)
	f.setPercentageRule(targeting.KindPercentageRequests, pctRequests)
	return nil
}

func (f *Flag) addSelectionValue(kind targeting.Kind, value string) {
	for i := range f.Targeting.Rules {
		if f.Targeting.Rules[i].Kind != kind {
			continue
		}
		if !containsStr(f.Targeting.Rules[i].Values, value) {
			f.Targeting.Rules[i].Values = append(f.Targeting.Rules[i].Values, value)
		}
		return
	}
	f.Targeting.Rules = append(f.Targeting.Rules, targeting.AttributeRule{Kind: kind, Values: []string{value}})
}

func (f *Flag) removeSelectionValue(kind targeting.Kind, value string) {
	for i := range f.Targeting.Rules {
		if f.Targeting.Rules[i].Kind != kind {
			continue
		}
		out := f.Targeting.Rules[i].Values[:0]
		for _, v := range f.Targeting.Rules[i].Values {
			if v != value {
				out = append(out, v)
			}
		}
		if len(out) == 0 {
			f.Targeting.Rules = append(f.Targeting.Rules[:i], f.Targeting.Rules[i+1:]...)
			return
		}
		f.Targeting.Rules[i].Values = out
		return
	}
}

func (f *Flag) replaceSelectionValues(kind targeting.Kind, values []string) {
	f.removeRulesOfKind(kind)
	if len(values) == 0 {
		return
	}
	f.Targeting.Rules = append(f.Targeting.Rules, targeting.AttributeRule{Kind: kind, Values: values})
}

func (f *Flag) setPercentageRule(kind targeting.Kind, pct float64) {
	f.removeRulesOfKind(kind)
	if pct <= 0 {
		return
	}
	f.Targeting.Rules = append(f.Targeting.Rules, targeting.AttributeRule{Kind: kind, Percentage: pct})
}

func (f *Flag) removeRulesOfKind(kind targeting.Kind) {
	out := f.Targeting.Rules[:0]
	for _, r := range f.Targeting.Rules {
		if r.Kind != kind {
			out = append(out, r)
		}
	}
	f.Targeting.Rules = out
}

func containsStr(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
