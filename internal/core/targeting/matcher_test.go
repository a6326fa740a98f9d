package targeting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"magick/internal/core/evalctx"
)

func TestMatcher_NoRules_ReturnsNoRules(t *testing.T) {
	m := NewMatcher("f", Map{})
	assert.Equal(t, NoRules, m.Evaluate(evalctx.Context{}))
}

func TestMatcher_UserIDsMatch(t *testing.T) {
	m := NewMatcher("f", Map{Rules: []AttributeRule{
		{Kind: KindUserIDs, Values: []string{"u-1", "u-2"}},
	}})
	assert.Equal(t, Matched, m.Evaluate(evalctx.Context{UserID: "u-2"}))
	assert.Equal(t, NoMatch, m.Evaluate(evalctx.Context{UserID: "u-9"}))
}

func TestMatcher_TagsIntersect(t *testing.T) {
	m := NewMatcher("f", Map{Rules: []AttributeRule{
		{Kind: KindTags, Values: []string{"vip"}},
	}})
	assert.Equal(t, Matched, m.Evaluate(evalctx.Context{Tags: []string{"vip", "other"}}))
	assert.Equal(t, NoMatch, m.Evaluate(evalctx.Context{Tags: []string{"other"}}))
}

func TestMatcher_PercentageRequests_EdgeThresholds(t *testing.T) {
	always := NewMatcher("f", Map{Rules: []AttributeRule{
		{Kind: KindPercentageRequests, Percentage: 100},
	}})
	assert.Equal(t, Matched, always.Evaluate(evalctx.Context{}))

	never := NewMatcher("f", Map{Rules: []AttributeRule{
		{Kind: KindPercentageRequests, Percentage: 0},
	}})
	assert.Equal(t, NoMatch, never.Evaluate(evalctx.Context{}))
}

// TestMatcher_DateRangeGate_BlocksSelectionOutsideWindow exercises date_range
// as a gating rule (spec §4.6 step 1): a closed or not-yet-open window
// forces NoMatch even though the user_ids selection rule would otherwise
// match.
func TestMatcher_DateRangeGate_BlocksSelectionOutsideWindow(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	closed := NewMatcher("f", Map{Rules: []AttributeRule{
		{Kind: KindDateRange, EndsAt: &past},
		{Kind: KindUserIDs, Values: []string{"u-1"}},
	}})
	assert.Equal(t, NoMatch, closed.Evaluate(evalctx.Context{UserID: "u-1"}))

	future := time.Now().Add(time.Hour)
	notYetOpen := NewMatcher("f", Map{Rules: []AttributeRule{
		{Kind: KindDateRange, StartsAt: &future},
		{Kind: KindUserIDs, Values: []string{"u-1"}},
	}})
	assert.Equal(t, NoMatch, notYetOpen.Evaluate(evalctx.Context{UserID: "u-1"}))
}

func TestMatcher_DateRangeGate_AllowsSelectionWithinWindow(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	m := NewMatcher("f", Map{Rules: []AttributeRule{
		{Kind: KindDateRange, StartsAt: &past, EndsAt: &future},
		{Kind: KindUserIDs, Values: []string{"u-1"}},
	}})
	assert.Equal(t, Matched, m.Evaluate(evalctx.Context{UserID: "u-1"}))
}

// TestMatcher_IPAllowlistGate_BlocksSelectionOutsideCIDR exercises
// ip_address as a gating rule: a disallowed IP forces NoMatch even when the
// user_ids selection rule matches.
func TestMatcher_IPAllowlistGate_BlocksSelectionOutsideCIDR(t *testing.T) {
	m := NewMatcher("f", Map{Rules: []AttributeRule{
		{Kind: KindIPAllowlist, CIDRs: []string{"10.0.0.0/8"}},
		{Kind: KindUserIDs, Values: []string{"u-1"}},
	}})
	assert.Equal(t, Matched, m.Evaluate(evalctx.Context{IPAddress: "10.1.2.3", UserID: "u-1"}))
	assert.Equal(t, NoMatch, m.Evaluate(evalctx.Context{IPAddress: "192.168.1.1", UserID: "u-1"}))
}

func TestMatcher_CustomAttributesGate_StructuredComparison(t *testing.T) {
	m := NewMatcher("f", Map{Rules: []AttributeRule{
		{Kind: KindCustomAttributes, Field: "seats", Operator: "gte", Value: "50"},
		{Kind: KindUserIDs, Values: []string{"u-1"}},
	}})
	assert.Equal(t, Matched, m.Evaluate(evalctx.Context{UserID: "u-1", Custom: map[string]any{"seats": "100"}}))
	assert.Equal(t, NoMatch, m.Evaluate(evalctx.Context{UserID: "u-1", Custom: map[string]any{"seats": "10"}}))
}

func TestMatcher_CustomAttributesGate_CELExpression(t *testing.T) {
	m := NewMatcher("f", Map{Rules: []AttributeRule{
		{Kind: KindCustomAttributes, Expression: `attrs["plan"] == "enterprise"`},
		{Kind: KindUserIDs, Values: []string{"u-1"}},
	}})
	assert.Equal(t, Matched, m.Evaluate(evalctx.Context{UserID: "u-1", Custom: map[string]any{"plan": "enterprise"}}))
	assert.Equal(t, NoMatch, m.Evaluate(evalctx.Context{UserID: "u-1", Custom: map[string]any{"plan": "free"}}))
}

func TestMatcher_ComplexConditionsGate_And(t *testing.T) {
	m := NewMatcher("f", Map{Rules: []AttributeRule{
		{Kind: KindComplexConditions, Condition: &ComplexConditions{
			Op: "and",
			Rules: []AttributeRule{
				{Kind: KindGroups, Values: []string{"beta"}},
				{Kind: KindCustomAttributes, Field: "seats", Operator: "gt", Value: "10"},
			},
		}},
		{Kind: KindUserIDs, Values: []string{"u-1"}},
	}})
	assert.Equal(t, Matched, m.Evaluate(evalctx.Context{UserID: "u-1", Group: "beta", Custom: map[string]any{"seats": "20"}}))
	assert.Equal(t, NoMatch, m.Evaluate(evalctx.Context{UserID: "u-1", Group: "beta", Custom: map[string]any{"seats": "5"}}))
}

func TestMatcher_ComplexConditionsGate_Or(t *testing.T) {
	m := NewMatcher("f", Map{Rules: []AttributeRule{
		{Kind: KindComplexConditions, Condition: &ComplexConditions{
			Op: "or",
			Rules: []AttributeRule{
				{Kind: KindRoles, Values: []string{"admin"}},
				{Kind: KindGroups, Values: []string{"beta"}},
			},
		}},
		{Kind: KindUserIDs, Values: []string{"u-1"}},
	}})
	assert.Equal(t, Matched, m.Evaluate(evalctx.Context{UserID: "u-1", Role: "admin"}))
	assert.Equal(t, NoMatch, m.Evaluate(evalctx.Context{UserID: "u-1", Role: "guest", Group: "prod"}))
}

// TestMatcher_GatePassesButNoSelectorMatches exercises spec §4.6 step 4: a
// gate that passes with no selection rule firing is still NoMatch, not
// Matched — passing a gate alone never selects a context in.
func TestMatcher_GatePassesButNoSelectorMatches(t *testing.T) {
	m := NewMatcher("f", Map{Rules: []AttributeRule{
		{Kind: KindIPAllowlist, CIDRs: []string{"10.0.0.0/8"}},
	}})
	assert.Equal(t, NoMatch, m.Evaluate(evalctx.Context{IPAddress: "10.1.2.3"}))
}
