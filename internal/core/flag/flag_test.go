package flag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magick/internal/core/evalctx"
	"magick/internal/core/targeting"
)

// memRegistry is a minimal in-memory Registry for exercising the
// dependency-cascade semantics without the full engine package.
type memRegistry struct {
	flags map[string]*Flag
}

func newMemRegistry(flags ...*Flag) *memRegistry {
	r := &memRegistry{flags: make(map[string]*Flag)}
	for _, f := range flags {
		r.flags[f.Name] = f
	}
	return r
}

func (r *memRegistry) Get(name string) (*Flag, bool) {
	f, ok := r.flags[name]
	return f, ok
}

func (r *memRegistry) DependentsOf(name string) []*Flag {
	var out []*Flag
	for _, f := range r.flags {
		for _, dep := range f.Dependencies {
			if dep == name {
				out = append(out, f)
			}
		}
	}
	return out
}

func (r *memRegistry) ForceDisable(name string) error {
	f, ok := r.flags[name]
	if !ok {
		return nil
	}
	f.ForceOff()
	return nil
}

func TestEnabled_NoTargeting_FollowsValue(t *testing.T) {
	f := &Flag{Name: "f", Type: TypeBoolean, Status: StatusActive, RawValue: true}
	assert.True(t, f.Enabled(context.Background(), evalctx.Context{}))

	f.RawValue = false
	assert.False(t, f.Enabled(context.Background(), evalctx.Context{}))
}

func TestEnabled_StringType_NonEmptyValueIsOn(t *testing.T) {
	// Mirrors S5: a non-empty default string value is "on"; once the value
	// becomes empty, enabled? flips to false.
	f := &Flag{Name: "api_version", Type: TypeString, Status: StatusActive, RawValue: "v1"}
	assert.True(t, f.Enabled(context.Background(), evalctx.Context{}))

	f.RawValue = ""
	assert.False(t, f.Enabled(context.Background(), evalctx.Context{}))
}

func TestEnabled_NumberType_PositiveValueIsOn(t *testing.T) {
	f := &Flag{Name: "threshold", Type: TypeNumber, Status: StatusActive, RawValue: 5.0}
	assert.True(t, f.Enabled(context.Background(), evalctx.Context{}))

	f.RawValue = 0.0
	assert.False(t, f.Enabled(context.Background(), evalctx.Context{}))
}

func TestEnabled_InactiveStatus_AlwaysFalse(t *testing.T) {
	// P4: inactive status wins regardless of value or targeting.
	f := &Flag{
		Name: "f", Type: TypeBoolean, Status: StatusInactive, RawValue: true,
		Targeting: targeting.Map{Rules: []targeting.AttributeRule{
			{Kind: targeting.KindUserIDs, Values: []string{"u-1"}},
		}},
	}
	assert.False(t, f.Enabled(context.Background(), evalctx.Context{UserID: "u-1"}))
}

func TestEnabled_DeprecatedStatus_RequiresAllowDeprecated(t *testing.T) {
	f := &Flag{Name: "f", Type: TypeBoolean, Status: StatusDeprecated, RawValue: true}
	assert.False(t, f.Enabled(context.Background(), evalctx.Context{}))
	assert.True(t, f.Enabled(context.Background(), evalctx.Context{AllowDeprecated: true}))
}

func TestEnabled_TargetingMatchOverridesOffValue(t *testing.T) {
	f := &Flag{
		Name:     "f",
		Type:     TypeBoolean,
		Status:   StatusActive,
		RawValue: false,
		Targeting: targeting.Map{Rules: []targeting.AttributeRule{
			{Kind: targeting.KindUserIDs, Values: []string{"u-1"}},
		}},
	}
	assert.True(t, f.Enabled(context.Background(), evalctx.Context{UserID: "u-1"}))
	assert.False(t, f.Enabled(context.Background(), evalctx.Context{UserID: "other"}))
}

func TestValue_NoMatchReturnsDefaultValue(t *testing.T) {
	f := &Flag{
		Name: "f", Type: TypeString, Status: StatusActive,
		RawValue: "global", DefaultValue: "fallback",
		Targeting: targeting.Map{Rules: []targeting.AttributeRule{
			{Kind: targeting.KindUserIDs, Values: []string{"u-1"}},
		}},
	}
	v, err := f.Value(context.Background(), evalctx.Context{UserID: "other"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)

	v, err = f.Value(context.Background(), evalctx.Context{UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, "global", v)
}

func TestSetValue_RejectsTypeMismatch(t *testing.T) {
	f := &Flag{Name: "f", Type: TypeBoolean}
	assert.Error(t, f.SetValue("not-a-bool"))
	require.NoError(t, f.SetValue(true))
	assert.Equal(t, true, f.RawValue)
}

func TestGetVariant_WeightedSelectionIsStickyPerUser(t *testing.T) {
	f := &Flag{
		Name: "checkout-theme",
		Type: TypeVariant,
		Variants: []Variant{
			{Name: "control", Value: "control", Weight: 50},
			{Name: "treatment", Value: "treatment", Weight: 50},
		},
	}
	v1, err := f.GetVariant(evalctx.Context{UserID: "u-42"})
	require.NoError(t, err)
	v2, err := f.GetVariant(evalctx.Context{UserID: "u-42"})
	require.NoError(t, err)
	assert.Equal(t, v1.Name, v2.Name)
}

func TestGetVariant_NoVariantsIsInvalid(t *testing.T) {
	f := &Flag{Name: "f", Type: TypeVariant}
	_, err := f.GetVariant(evalctx.Context{})
	assert.Error(t, err)
}

func TestValidate_RejectsUnknownType(t *testing.T) {
	f := &Flag{Name: "f", Type: "bogus", Status: StatusActive}
	assert.Error(t, f.Validate())
}

func TestValidate_RejectsUnknownStatus(t *testing.T) {
	f := &Flag{Name: "f", Type: TypeBoolean, Status: "bogus"}
	assert.Error(t, f.Validate())
}

func TestValidate_RejectsSelfDependency(t *testing.T) {
	f := &Flag{Name: "f", Type: TypeBoolean, Status: StatusActive, Dependencies: []string{"f"}}
	assert.Error(t, f.Validate())
}

func TestEnable_RejectsNonBooleanFlag(t *testing.T) {
	f := &Flag{Name: "f", Type: TypeString, Status: StatusActive, RawValue: ""}
	reg := newMemRegistry(f)
	assert.Error(t, f.Enable(reg))
}

// TestDependencyInvariant_EnableBlockedByOffDependent exercises the
// inverted relationship: "advanced" depends on "base". Enabling "base" is
// blocked while "advanced" is off, since "advanced" is a dependent of
// "base", not the other way around.
func TestDependencyInvariant_EnableBlockedByOffDependent(t *testing.T) {
	base := &Flag{Name: "base", Type: TypeBoolean, Status: StatusActive, RawValue: false}
	advanced := &Flag{Name: "advanced", Type: TypeBoolean, Status: StatusActive, RawValue: false, Dependencies: []string{"base"}}
	reg := newMemRegistry(base, advanced)

	err := base.Enable(reg)
	assert.Error(t, err)
	assert.Equal(t, false, base.RawValue)
}

func TestDependencyInvariant_EnableSucceedsWhenDependentsOn(t *testing.T) {
	base := &Flag{Name: "base", Type: TypeBoolean, Status: StatusActive, RawValue: false}
	advanced := &Flag{Name: "advanced", Type: TypeBoolean, Status: StatusActive, RawValue: true, Dependencies: []string{"base"}}
	reg := newMemRegistry(base, advanced)

	require.NoError(t, base.Enable(reg))
	assert.Equal(t, true, base.RawValue)
}

// TestDependencyInvariant_DisableCascadesOneLevel mirrors the spec's worked
// scenario: disabling "base" forces "advanced" (which depends on "base")
// off too, one level deep.
func TestDependencyInvariant_DisableCascadesOneLevel(t *testing.T) {
	base := &Flag{Name: "base", Type: TypeBoolean, Status: StatusActive, RawValue: true}
	advanced := &Flag{Name: "advanced", Type: TypeBoolean, Status: StatusActive, RawValue: true, Dependencies: []string{"base"}}
	reg := newMemRegistry(base, advanced)

	require.NoError(t, base.Disable(reg))
	assert.Equal(t, false, base.RawValue)
	assert.Equal(t, false, advanced.RawValue)
}

func TestEnableForRole_ThenDisableForRole(t *testing.T) {
	f := &Flag{Name: "premium", Type: TypeBoolean, Status: StatusActive, RawValue: false}
	f.EnableForRole("admin")

	assert.True(t, f.Enabled(context.Background(), evalctx.Context{Role: "admin"}))
	assert.False(t, f.Enabled(context.Background(), evalctx.Context{Role: "user"}))

	f.DisableForRole("admin")
	assert.False(t, f.Enabled(context.Background(), evalctx.Context{Role: "admin"}))
}

func TestApplyTargetingUpdate_BlankPercentageDisablesRule(t *testing.T) {
	f := &Flag{Name: "f", Type: TypeBoolean, Status: StatusActive, RawValue: false}
	pct := 50.0
	require.NoError(t, f.ApplyTargetingUpdate(TargetingUpdate{PercentageUsers: &pct}))
	assert.Len(t, f.Targeting.Rules, 1)

	zero := 0.0
	require.NoError(t, f.ApplyTargetingUpdate(TargetingUpdate{PercentageUsers: &zero}))
	assert.Len(t, f.Targeting.Rules, 0)

	require.NoError(t, f.ApplyTargetingUpdate(TargetingUpdate{PercentageUsers: &pct}))
	require.NoError(t, f.ApplyTargetingUpdate(TargetingUpdate{}))
	assert.Len(t, f.Targeting.Rules, 0)
}

func TestApplyTargetingUpdate_RejectsOverHundred(t *testing.T) {
	f := &Flag{Name: "f", Type: TypeBoolean, Status: StatusActive}
	over := 150.0
	assert.Error(t, f.ApplyTargetingUpdate(TargetingUpdate{PercentageUsers: &over}))
}
