// Package storage implements the Storage Registry (C5): read-through and
// write-through composition of the Local (C1), Remote (C2), and Durable
// (C3) tiers, guarded by the Circuit Breaker (C4) on Remote writes,
// with cross-process invalidation via the Remote tier's pub/sub channel.
package storage

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"magick/internal/breaker"
	"magick/internal/core/apperror"
	"magick/internal/core/flag"
	"magick/internal/storage/durable"
	"magick/internal/storage/local"
	"magick/internal/storage/remote"
	"magick/pkg/logger"
)

var tracer = otel.Tracer("magick/storage")

// Reloader is the callback interface the engine (C9) implements so the
// Registry can notify it to drop/refresh a flag after an invalidation
// event, without storage importing engine.
type Reloader interface {
	OnInvalidate(name string)
	OnReset()
}

// Config configures retry/debounce behavior independent of the individual
// tiers' own configuration.
type Config struct {
	InvalidationDebounce time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{InvalidationDebounce: 50 * time.Millisecond}
}

// Registry composes the three storage tiers into the single Store flag.Flag
// depends on (spec §4.5): reads fall through Local -> Remote -> Durable,
// populating the faster tiers on the way back up; writes go to Durable
// first, then Remote behind the Circuit Breaker, and finally
// broadcast an invalidation so every other process's Local tier drops its
// stale copy.
type Registry struct {
	local   *local.Store
	remote  *remote.Store
	durable *durable.Store
	cb      *breaker.Breaker
	cfg     Config

	reloader Reloader
}

// New constructs a Registry. remote may be nil (Remote tier disabled,
// falling through straight to Durable) to support deployments without
// Redis, per spec's tiered-degradation note.
func New(localStore *local.Store, remoteStore *remote.Store, durableStore *durable.Store, cb *breaker.Breaker, cfg Config) *Registry {
	return &Registry{
		local:   localStore,
		remote:  remoteStore,
		durable: durableStore,
		cb:      cb,
		cfg:     cfg,
	}
}

// SetReloader wires the engine-side callback; called once during startup
// wiring, after both Registry and Engine exist.
func (r *Registry) SetReloader(reloader Reloader) {
	r.reloader = reloader
}

// Get implements flag.Store, reading through Local, Remote, then Durable.
func (r *Registry) Get(ctx context.Context, name string) (*flag.Flag, error) {
	ctx, span := tracer.Start(ctx, "storage.Get", trace.WithAttributes(attribute.String("flag.name", name)))
	defer span.End()

	if f, ok := r.local.Get(ctx, name); ok {
		return f, nil
	}

	if r.remote != nil {
		if f, ok, err := r.remote.Get(ctx, name); err == nil && ok {
			r.local.Set(ctx, f)
			return f, nil
		} else if err != nil {
			logger.Warn(ctx, "storage: remote tier read failed, falling through to durable", "flag", name, "error", err)
		}
	}

	f, err := r.durable.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	r.local.Set(ctx, f)
	if r.remote != nil {
		if err := r.remote.Set(ctx, f); err != nil {
			logger.Warn(ctx, "storage: failed to backfill remote tier", "flag", name, "error", err)
		}
	}
	return f, nil
}

// Put implements flag.Store, writing through Durable and Remote (behind
// the circuit breaker) and broadcasting an invalidation so other processes
// refresh their Local copy.
func (r *Registry) Put(ctx context.Context, f *flag.Flag) error {
	ctx, span := tracer.Start(ctx, "storage.Put", trace.WithAttributes(attribute.String("flag.name", f.Name)))
	defer span.End()

	if err := r.durable.Upsert(ctx, f); err != nil {
		return err
	}

	r.local.Set(ctx, f)

	if r.remote != nil {
		err := r.cb.Do(ctx, func(ctx context.Context) error {
			return r.remote.Set(ctx, f)
		})
		if err != nil && !errors.Is(err, breaker.ErrOpen) {
			logger.Warn(ctx, "storage: remote write failed", "flag", f.Name, "error", err)
		}
		if err := r.remote.PublishInvalidation(ctx, f.Name); err != nil {
			logger.Warn(ctx, "storage: failed to publish invalidation", "flag", f.Name, "error", err)
		}
	}

	r.notifyLocal(f.Name)
	return nil
}

// Delete implements flag.Store.
func (r *Registry) Delete(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "storage.Delete", trace.WithAttributes(attribute.String("flag.name", name)))
	defer span.End()

	if err := r.durable.Delete(ctx, name); err != nil {
		return err
	}
	r.local.Invalidate(name)

	if r.remote != nil {
		if err := r.remote.Delete(ctx, name); err != nil {
			logger.Warn(ctx, "storage: remote delete failed", "flag", name, "error", err)
		}
		if err := r.remote.PublishInvalidation(ctx, name); err != nil {
			logger.Warn(ctx, "storage: failed to publish invalidation", "flag", name, "error", err)
		}
	}

	r.notifyLocal(name)
	return nil
}

// List implements flag.Store.
func (r *Registry) List(ctx context.Context) ([]*flag.Flag, error) {
	return r.durable.List(ctx)
}

func (r *Registry) notifyLocal(name string) {
	if r.reloader != nil {
		r.reloader.OnInvalidate(name)
	}
}

// WatchInvalidations subscribes to the Remote tier's invalidation channel
// (a no-op if Remote is disabled) and keeps Local in sync across processes,
// debounced per Config.InvalidationDebounce.
func (r *Registry) WatchInvalidations(ctx context.Context) {
	if r.remote == nil {
		return
	}
	r.remote.WatchInvalidations(ctx, r.cfg.InvalidationDebounce, func(inv remote.Invalidation) {
		if inv.Broadcast {
			r.local.Reset()
			if r.reloader != nil {
				r.reloader.OnReset()
			}
			return
		}
		r.local.Invalidate(inv.FlagName)
		if r.reloader != nil {
			r.reloader.OnInvalidate(inv.FlagName)
		}
	})
}

// Reset drops the Local tier and, when Remote is configured, publishes a
// broadcast reset so every subscribed process drops its Local tier too. It
// does not re-read anything from Durable.
func (r *Registry) Reset(ctx context.Context) error {
	r.local.Reset()
	if r.remote != nil {
		if err := r.remote.PublishReset(ctx); err != nil {
			return apperror.NewAdapterError("remote", err)
		}
	}
	return nil
}

var _ flag.Store = (*Registry)(nil)
