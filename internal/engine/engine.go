// Package engine implements the Engine Façade (C9): the single entry point
// applications call (register/get/enabled?/value/enabled_for?/bulk_enable/
// bulk_disable/reload/reset!), composing the Flag entity (C7), the Storage
// Registry (C5), and the Metrics Pipeline (C8).
package engine

import (
	"context"
	"sync"

	"magick/internal/core/apperror"
	"magick/internal/core/evalctx"
	"magick/internal/core/flag"
	"magick/internal/core/id"
	"magick/internal/metrics"
	"magick/pkg/logger"
)

// Config configures Engine construction.
type Config struct {
	Store   flag.Store
	Metrics *metrics.Pipeline
}

// Engine is the façade the rest of an application calls into. It keeps an
// in-memory index of registered flags (guarded by mu) on top of whatever
// flag.Store backs persistence, so dependency-cascade checks (I3/I4) and
// lookups by name don't round-trip through storage on every call.
type Engine struct {
	mu    sync.RWMutex
	flags map[string]*flag.Flag

	store   flag.Store
	metrics *metrics.Pipeline
}

// New constructs an Engine over the given Config.
func New(cfg Config) *Engine {
	return &Engine{
		flags:   make(map[string]*flag.Flag),
		store:   cfg.Store,
		metrics: cfg.Metrics,
	}
}

// Register adds a new flag definition, validating its invariants (spec §3)
// and persisting it. Re-registering an existing name under a different
// Type is a conflict (I1: type never changes after creation).
func (e *Engine) Register(ctx context.Context, f *flag.Flag) error {
	if f.Status == "" {
		f.Status = flag.StatusActive
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if id.IsNil(f.ID) {
		f.ID = id.New()
	}

	e.mu.Lock()
	if existing, ok := e.flags[f.Name]; ok && existing.Type != f.Type {
		e.mu.Unlock()
		return apperror.NewConflict("flag " + f.Name + " already registered with type " + string(existing.Type))
	}
	e.flags[f.Name] = f
	e.mu.Unlock()

	return e.store.Put(ctx, f)
}

// Get returns the named flag, implementing flag.Registry for dependency
// cascade checks.
func (e *Engine) Get(name string) (*flag.Flag, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, ok := e.flags[name]
	return f, ok
}

// List returns every currently registered flag's in-memory copy, for
// admin-facade listing.
func (e *Engine) List() []*flag.Flag {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*flag.Flag, 0, len(e.flags))
	for _, f := range e.flags {
		out = append(out, f)
	}
	return out
}

// DependentsOf implements flag.Registry: every registered flag that lists
// name in its own Dependencies.
func (e *Engine) DependentsOf(name string) []*flag.Flag {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*flag.Flag
	for _, f := range e.flags {
		for _, dep := range f.Dependencies {
			if dep == name {
				out = append(out, f)
			}
		}
	}
	return out
}

// ForceDisable implements flag.Registry: the non-recursive, one-level
// cascade disable used by Flag.Disable.
func (e *Engine) ForceDisable(name string) error {
	e.mu.Lock()
	f, ok := e.flags[name]
	e.mu.Unlock()
	if !ok {
		return apperror.NewFeatureNotFound(name)
	}
	f.ForceOff()
	return e.store.Put(context.Background(), f)
}

// Enabled reports whether name is enabled for the given evaluation context
// (spec §4.7 enabled?). An unknown flag fails safe: it is treated as
// disabled rather than erroring, so a caller gating a feature never panics
// or 500s because a flag was not yet registered.
func (e *Engine) Enabled(ctx context.Context, name string, ec evalctx.Context) bool {
	f, ok := e.Get(name)
	if !ok {
		e.record(name, metrics.OutcomeError)
		return false
	}
	enabled := f.Enabled(ctx, ec)
	e.record(name, outcomeFor(enabled))
	return enabled
}

// Disabled reports the negation of Enabled (spec §4.9 disabled?).
func (e *Engine) Disabled(ctx context.Context, name string, ec evalctx.Context) bool {
	return !e.Enabled(ctx, name, ec)
}

// EnabledFor evaluates Enabled against a Subject capability interface plus
// extra attributes (spec §4.7 enabled_for?).
func (e *Engine) EnabledFor(ctx context.Context, name string, subject evalctx.Subject, extra map[string]any) bool {
	base := evalctx.FromSubject(subject)
	merged := evalctx.Merge(base, evalctx.FromMap(extra))
	return e.Enabled(ctx, name, merged)
}

// Value returns name's configured value for the given context (spec §4.7
// value()). An unknown flag returns apperror.NewFeatureNotFound.
func (e *Engine) Value(ctx context.Context, name string, ec evalctx.Context) (any, error) {
	f, ok := e.Get(name)
	if !ok {
		return nil, apperror.NewFeatureNotFound(name)
	}
	v, err := f.Value(ctx, ec)
	if err != nil {
		e.record(name, metrics.OutcomeError)
		return nil, err
	}
	e.record(name, outcomeFor(v != nil))
	return v, nil
}

// Enable flips name to enabled, enforcing I3 (spec §4.9).
func (e *Engine) Enable(ctx context.Context, name string) error {
	f, ok := e.Get(name)
	if !ok {
		return apperror.NewFeatureNotFound(name)
	}
	if err := f.Enable(e); err != nil {
		return err
	}
	return e.store.Put(ctx, f)
}

// Disable flips name to disabled, cascading per I4 (spec §4.9).
func (e *Engine) Disable(ctx context.Context, name string) error {
	f, ok := e.Get(name)
	if !ok {
		return apperror.NewFeatureNotFound(name)
	}
	if err := f.Disable(e); err != nil {
		return err
	}
	return e.store.Put(ctx, f)
}

// SetValue sets name's current value (spec §7 set_value; S1/S5's worked
// scenarios).
func (e *Engine) SetValue(ctx context.Context, name string, value any) error {
	f, ok := e.Get(name)
	if !ok {
		return apperror.NewFeatureNotFound(name)
	}
	if err := f.SetValue(value); err != nil {
		return err
	}
	return e.store.Put(ctx, f)
}

// SetGroup assigns name's admin-facing group metadata (spec §6 group
// assignment).
func (e *Engine) SetGroup(ctx context.Context, name, group string) error {
	f, ok := e.Get(name)
	if !ok {
		return apperror.NewFeatureNotFound(name)
	}
	f.SetGroup(group)
	return e.store.Put(ctx, f)
}

// EnableForRole adds role to name's role-targeting selection rule (spec §6
// per-role enable; S2's worked scenario).
func (e *Engine) EnableForRole(ctx context.Context, name, role string) error {
	f, ok := e.Get(name)
	if !ok {
		return apperror.NewFeatureNotFound(name)
	}
	f.EnableForRole(role)
	return e.store.Put(ctx, f)
}

// DisableForRole removes role from name's role-targeting selection rule
// (spec §6 per-role disable).
func (e *Engine) DisableForRole(ctx context.Context, name, role string) error {
	f, ok := e.Get(name)
	if !ok {
		return apperror.NewFeatureNotFound(name)
	}
	f.DisableForRole(role)
	return e.store.Put(ctx, f)
}

// EnableForUser adds userID to name's user-targeting selection rule (spec
// §6 per-user enable).
func (e *Engine) EnableForUser(ctx context.Context, name, userID string) error {
	f, ok := e.Get(name)
	if !ok {
		return apperror.NewFeatureNotFound(name)
	}
	f.EnableForUser(userID)
	return e.store.Put(ctx, f)
}

// DisableForUser removes userID from name's user-targeting selection rule
// (spec §6 per-user disable).
func (e *Engine) DisableForUser(ctx context.Context, name, userID string) error {
	f, ok := e.Get(name)
	if !ok {
		return apperror.NewFeatureNotFound(name)
	}
	f.DisableForUser(userID)
	return e.store.Put(ctx, f)
}

// UpdateTargeting diff-applies a compound targeting update (spec §6.1) to
// name's roles, user ids, and percentage rules.
func (e *Engine) UpdateTargeting(ctx context.Context, name string, update flag.TargetingUpdate) error {
	f, ok := e.Get(name)
	if !ok {
		return apperror.NewFeatureNotFound(name)
	}
	if err := f.ApplyTargetingUpdate(update); err != nil {
		return err
	}
	return e.store.Put(ctx, f)
}

// BulkEnable enables every named flag, collecting per-flag errors (e.g. a
// blocked I3 check) without aborting the whole batch (spec §4.9
// bulk_enable).
func (e *Engine) BulkEnable(ctx context.Context, names []string) map[string]error {
	return e.bulkApply(ctx, names, e.Enable)
}

// BulkDisable disables every named flag, same error-collection semantics
// as BulkEnable (spec §4.9 bulk_disable).
func (e *Engine) BulkDisable(ctx context.Context, names []string) map[string]error {
	return e.bulkApply(ctx, names, e.Disable)
}

func (e *Engine) bulkApply(ctx context.Context, names []string, op func(context.Context, string) error) map[string]error {
	errs := make(map[string]error)
	for _, name := range names {
		if err := op(ctx, name); err != nil {
			errs[name] = err
		}
	}
	return errs
}

// Reload re-reads every flag from the backing store into the in-memory
// index, discarding local edits that were never persisted (spec §4.9
// reload).
func (e *Engine) Reload(ctx context.Context) error {
	flags, err := e.store.List(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.flags = make(map[string]*flag.Flag, len(flags))
	for _, f := range flags {
		e.flags[f.Name] = f
	}
	e.mu.Unlock()
	return nil
}

// Reset clears the in-memory index entirely, per spec §4.9 reset!. Callers
// typically follow Reset with Reload to repopulate from Durable.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.flags = make(map[string]*flag.Flag)
	e.mu.Unlock()
}

// OnInvalidate implements storage.Reloader: re-read the named flag from the
// Store and replace its in-memory copy; if that read fails, the flag is
// dropped from the in-memory index.
func (e *Engine) OnInvalidate(name string) {
	ctx := context.Background()
	f, err := e.store.Get(ctx, name)
	if err != nil {
		logger.Warn(ctx, "engine: failed to refresh invalidated flag", "flag", name, "error", err)
		e.mu.Lock()
		delete(e.flags, name)
		e.mu.Unlock()
		return
	}
	e.mu.Lock()
	e.flags[name] = f
	e.mu.Unlock()
}

// OnReset implements storage.Reloader: a broadcast invalidation reloads
// the full set.
func (e *Engine) OnReset() {
	_ = e.Reload(context.Background())
}

func (e *Engine) record(name string, outcome metrics.Outcome) {
	if e.metrics != nil {
		e.metrics.Record(name, outcome)
	}
}

func outcomeFor(enabled bool) metrics.Outcome {
	if enabled {
		return metrics.OutcomeEnabled
	}
	return metrics.OutcomeDisabled
}

var _ flag.Registry = (*Engine)(nil)
