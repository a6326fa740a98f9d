package flag

import (
	"context"

	"magick/internal/core/apperror"
)

// Store decouples Flag persistence from the tiered storage implementation
// (C1-C3); storage.Registry satisfies this structurally, so flag never
// imports storage and no cycle forms.
type Store interface {
	Get(ctx context.Context, name string) (*Flag, error)
	Put(ctx context.Context, f *Flag) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]*Flag, error)
}

// Validate enforces the entity invariants spec §3 attaches to a Flag at
// registration time:
//   - I1: Type must be one of the declared kinds.
//   - a TypeVariant flag must declare at least one Variant.
//   - Dependencies must not include the flag's own name.
//   - Status must be one of the declared lifecycle states.
func (f *Flag) Validate() error {
	switch f.Type {
	case TypeBoolean, TypeString, TypeNumber, TypeJSON, TypePercentage, TypeVariant:
	default:
		return apperror.NewInvalidFeatureType(string(f.Type))
	}

	switch f.Status {
	case StatusActive, StatusInactive, StatusDeprecated:
	default:
		return apperror.NewInvalidFeatureValue(f.Name, "unknown status "+string(f.Status))
	}

	if f.Type == TypeVariant && len(f.Variants) == 0 {
		return apperror.NewInvalidFeatureValue(f.Name, "variant flag must declare at least one variant")
	}

	for _, dep := range f.Dependencies {
		if dep == f.Name {
			return apperror.NewInvalidFeatureValue(f.Name, "flag cannot depend on itself")
		}
	}

	return nil
}

// validateValue enforces I1's value/type binding for SetValue: boolean
// values must be actual bools, string values actual strings, number values
// a float64, float32, int, or int64. TypeJSON, TypePercentage, and TypeVariant accept any
// value, since their shape isn't a single scalar domain.
func validateValue(t Type, value any) error {
	switch t {
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return apperror.NewInvalidFeatureValue("", "boolean flag requires a bool value")
		}
	case TypeString:
		if _, ok := value.(string); !ok {
			return apperror.NewInvalidFeatureValue("", "string flag requires a string value")
		}
	case TypeNumber:
		if _, ok := toFloat(value); !ok {
			return apperror.NewInvalidFeatureValue("", "number flag requires a numeric value")
		}
	}
	return nil
}
