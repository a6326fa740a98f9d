package targeting

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// compareField evaluates a structured Field/Operator/Value rule against the
// context's custom attributes. Numeric comparisons go through
// shopspring/decimal so "9" < "10" holds exactly, instead of the lexical
// ordering a plain string comparison would give.
func compareField(rule AttributeRule, custom map[string]any) bool {
	actual, ok := custom[rule.Field]
	if !ok {
		return false
	}

	switch rule.Operator {
	case "in":
		values, ok := rule.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range values {
			if equalValues(actual, v) {
				return true
			}
		}
		return false
	case "eq":
		return equalValues(actual, rule.Value)
	case "neq":
		return !equalValues(actual, rule.Value)
	case "gt", "gte", "lt", "lte":
		ad, aok := toDecimal(actual)
		bd, bok := toDecimal(rule.Value)
		if !aok || !bok {
			return false
		}
		cmp := ad.Cmp(bd)
		switch rule.Operator {
		case "gt":
			return cmp > 0
		case "gte":
			return cmp >= 0
		case "lt":
			return cmp < 0
		case "lte":
			return cmp <= 0
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if ad, aok := toDecimal(a); aok {
		if bd, bok := toDecimal(b); bok {
			return ad.Equal(bd)
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case float64:
		return decimal.NewFromFloat(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}
