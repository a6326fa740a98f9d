package targeting

import (
	"math/rand"
	"net"
	"time"

	"magick/internal/core/evalctx"
)

// Matcher evaluates a flag's targeting Map against an evaluation Context.
type Matcher struct {
	FlagName string
	Rules    Map
}

// NewMatcher builds a Matcher bound to a flag name, since percentage
// bucketing is keyed on (flagName, subjectKey).
func NewMatcher(flagName string, rules Map) *Matcher {
	return &Matcher{FlagName: flagName, Rules: rules}
}

// Evaluate implements spec §4.6's two-phase algorithm: an empty map is
// NoRules; otherwise every gating rule (date_range, ip_address,
// custom_attributes, complex_conditions) must pass or the whole evaluation
// is NoMatch, and only then do the selection rules (user, group, role, tag,
// percentage_users, percentage_requests) get a chance to produce Matched.
func (m *Matcher) Evaluate(ctx evalctx.Context) Result {
	if len(m.Rules.Rules) == 0 {
		return NoRules
	}

	for _, rule := range m.Rules.Rules {
		if isGatingKind(rule.Kind) && !m.evaluateGate(rule, ctx) {
			return NoMatch
		}
	}

	for _, rule := range m.Rules.Rules {
		if !isGatingKind(rule.Kind) && m.evaluateSelection(rule, ctx) {
			return Matched
		}
	}

	return NoMatch
}

func isGatingKind(k Kind) bool {
	switch k {
	case KindDateRange, KindIPAllowlist, KindCustomAttributes, KindComplexConditions:
		return true
	default:
		return false
	}
}

// evaluateGate reports whether a gating rule passes (spec §4.6 step 1):
// an inactive date window, a disallowed IP, a failed custom-attribute
// predicate, or a failed complex_conditions aggregate all fail the gate.
func (m *Matcher) evaluateGate(rule AttributeRule, ctx evalctx.Context) bool {
	switch rule.Kind {
	case KindDateRange:
		return m.dateRangeActive(rule)
	case KindIPAllowlist:
		return ctx.IPAddress != "" && ipAllowed(rule.CIDRs, ctx.IPAddress)
	case KindCustomAttributes:
		return m.evaluateCustomAttributes(rule, ctx.Custom)
	case KindComplexConditions:
		if rule.Condition == nil {
			return true
		}
		return m.evaluateComplex(*rule.Condition, ctx)
	default:
		return true
	}
}

// evaluateSelection reports whether a selection rule matches (spec §4.6
// step 2): membership checks for user/group/role/tag, the deterministic
// percentage_users bucket, or a per-call uniform draw for
// percentage_requests.
func (m *Matcher) evaluateSelection(rule AttributeRule, ctx evalctx.Context) bool {
	switch rule.Kind {
	case KindUserIDs:
		return ctx.UserID != "" && contains(rule.Values, ctx.UserID)
	case KindGroups:
		return ctx.Group != "" && contains(rule.Values, ctx.Group)
	case KindRoles:
		return ctx.Role != "" && contains(rule.Values, ctx.Role)
	case KindTags:
		return anyIntersect(rule.Values, ctx.Tags)
	case KindPercentageUsers:
		return ctx.UserID != "" && InPercentage(m.FlagName, ctx.UserID, rule.Percentage)
	case KindPercentageRequests:
		if rule.Percentage <= 0 {
			return false
		}
		if rule.Percentage >= 100 {
			return true
		}
		return rand.Float64()*100 < rule.Percentage
	default:
		return false
	}
}

// evaluateLeaf evaluates a single complex_conditions leaf as the boolean
// selection- or gate-style check it mirrors (spec §4.6: "each leaf mirrors
// a selection rule"); gating-kind leaves (e.g. a nested date_range or
// custom_attributes check) use the same pass/fail predicate a top-level
// gate would.
func (m *Matcher) evaluateLeaf(rule AttributeRule, ctx evalctx.Context) bool {
	if isGatingKind(rule.Kind) {
		return m.evaluateGate(rule, ctx)
	}
	return m.evaluateSelection(rule, ctx)
}

// dateRangeActive reports whether now falls within the rule's window; a
// nil bound is unbounded on that side.
func (m *Matcher) dateRangeActive(rule AttributeRule) bool {
	now := time.Now()
	if rule.StartsAt != nil && now.Before(*rule.StartsAt) {
		return false
	}
	if rule.EndsAt != nil && now.After(*rule.EndsAt) {
		return false
	}
	return true
}

func (m *Matcher) evaluateCustomAttributes(rule AttributeRule, custom map[string]any) bool {
	if rule.Expression != "" {
		ok, err := evaluateExpression(rule.Expression, custom)
		if err != nil {
			return false
		}
		return ok
	}
	if rule.Field != "" {
		return compareField(rule, custom)
	}
	return false
}

// evaluateComplex recursively evaluates a boolean tree whose leaves mirror
// a top-level selection rule (spec §4.6); nested complex_conditions leaves
// recurse, and custom_attributes leaves still reach the CEL/decimal paths
// above.
func (m *Matcher) evaluateComplex(cond ComplexConditions, ctx evalctx.Context) bool {
	switch cond.Op {
	case "and":
		for _, leaf := range cond.Rules {
			if !m.evaluateLeaf(leaf, ctx) {
				return false
			}
		}
		return len(cond.Rules) > 0
	case "or":
		for _, leaf := range cond.Rules {
			if m.evaluateLeaf(leaf, ctx) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func anyIntersect(allowed, actual []string) bool {
	if len(allowed) == 0 || len(actual) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(allowed))
	for _, v := range allowed {
		set[v] = struct{}{}
	}
	for _, v := range actual {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func ipAllowed(cidrs []string, addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, c := range cidrs {
		if ip.String() == c {
			return true
		}
		_, network, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
