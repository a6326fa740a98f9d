package targeting

import (
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"

	"magick/internal/core/apperror"
)

// predicateCache compiles and caches CEL programs keyed by expression text,
// so repeated evaluations of the same flag don't re-parse/re-check the
// expression on every call (spec §4.6 custom_attributes is evaluated on
// every enabled?/value call and must stay cheap).
type predicateCache struct {
	mu       sync.RWMutex
	programs map[string]cel.Program
	env      *cel.Env
}

var global = newPredicateCache()

func newPredicateCache() *predicateCache {
	env, err := cel.NewEnv(
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic("targeting: failed to construct cel environment: " + err.Error())
	}
	return &predicateCache{
		programs: make(map[string]cel.Program),
		env:      env,
	}
}

func (c *predicateCache) get(expr string) (cel.Program, error) {
	c.mu.RLock()
	prog, ok := c.programs[expr]
	c.mu.RUnlock()
	if ok {
		return prog, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prog, ok := c.programs[expr]; ok {
		return prog, nil
	}

	ast, iss := c.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, apperror.NewInvalidFeatureValue("", "invalid custom_attributes expression: "+iss.Err().Error())
	}
	prog, err := c.env.Program(ast)
	if err != nil {
		return nil, apperror.NewInvalidFeatureValue("", "failed to plan custom_attributes expression: "+err.Error())
	}

	c.programs[expr] = prog
	return prog, nil
}

// evaluateExpression runs a compiled CEL predicate against the supplied
// custom-attribute map. A non-boolean result is treated as no-match rather
// than an error, matching the fail-open posture spec §7 requires of
// targeting evaluation.
func evaluateExpression(expr string, custom map[string]any) (bool, error) {
	prog, err := global.get(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prog.Eval(map[string]any{"attrs": custom})
	if err != nil {
		return false, nil
	}
	if b, ok := out.(ref.Val); ok {
		v, ok := b.Value().(bool)
		return ok && v, nil
	}
	return false, nil
}
