// Package metrics implements the Metrics Pipeline (C8): a lock-free,
// per-process counter pipeline for flag evaluation outcomes, periodically
// flushed to Redis via INCRBY so counts aggregate cleanly
// across every process sharing the Remote tier (spec §4.8).
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"magick/pkg/logger"
)

var tracer = otel.Tracer("magick/metrics")

// Outcome is the evaluation result a single metrics event records.
type Outcome string

const (
	OutcomeEnabled  Outcome = "enabled"
	OutcomeDisabled Outcome = "disabled"
	OutcomeExcluded Outcome = "excluded"
	OutcomeError    Outcome = "error"
)

// counterKey identifies one (flag, outcome) counter bucket.
type counterKey struct {
	flag    string
	outcome Outcome
}

// Flusher ships a batch of counter deltas to the shared backing store. The
// Remote tier's *remote.Store satisfies this through its IncrBy method and
// cmd/server passes it in directly; metrics never imports storage/remote so
// the dependency only runs one direction.
type Flusher interface {
	IncrBy(ctx context.Context, key string, delta int64) error
}

// Pipeline accumulates evaluation counts lock-free (each bucket is an
// atomic.Int64 behind a sync.Map keyed by flag+outcome) and flushes them to
// a Flusher on a fixed interval, zeroing only the deltas it successfully
// shipped so a flush failure doesn't drop counts.
type Pipeline struct {
	counters sync.Map // counterKey -> *atomic.Int64
	flusher  Flusher
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// New constructs a Pipeline. A nil Flusher runs the pipeline purely
// in-memory (useful for tests, or a deployment with Remote disabled).
func New(flusher Flusher, interval time.Duration) *Pipeline {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Pipeline{flusher: flusher, interval: interval}
}

// Record increments the in-memory counter for a (flag, outcome) pair. It
// never blocks on I/O and never returns an error: metrics collection must
// not be able to slow down or fail an evaluation call.
func (p *Pipeline) Record(flagName string, outcome Outcome) {
	key := counterKey{flag: flagName, outcome: outcome}
	v, _ := p.counters.LoadOrStore(key, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

// Snapshot returns the current counts without resetting them, keyed as
// "flagName:outcome".
func (p *Pipeline) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	p.counters.Range(func(k, v any) bool {
		key := k.(counterKey)
		out[key.flag+":"+string(key.outcome)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Run starts the periodic flush loop; it blocks until ctx is canceled or
// Stop is called.
func (p *Pipeline) Run(ctx context.Context) {
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush(ctx)
			return
		case <-p.stop:
			p.flush(ctx)
			return
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

// Stop signals Run to flush once more and exit, blocking until it does.
func (p *Pipeline) Stop() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	<-p.done
}

// flush ships every non-zero counter delta to the Flusher, subtracting
// only what was actually sent so a transient failure retries on the next
// tick instead of silently losing counts.
func (p *Pipeline) flush(ctx context.Context) {
	if p.flusher == nil {
		return
	}

	ctx, span := tracer.Start(ctx, "metrics.flush")
	defer span.End()

	p.counters.Range(func(k, v any) bool {
		key := k.(counterKey)
		counter := v.(*atomic.Int64)

		delta := counter.Swap(0)
		if delta == 0 {
			return true
		}

		redisKey := "magick:metrics:" + key.flag + ":" + string(key.outcome)
		span.SetAttributes(attribute.String("metrics.key", redisKey), attribute.Int64("metrics.delta", delta))

		if err := p.flusher.IncrBy(ctx, redisKey, delta); err != nil {
			// Put the delta back so the next tick retries it instead of
			// losing the count.
			counter.Add(delta)
			logger.Warn(ctx, "metrics: flush failed, will retry", "key", redisKey, "error", err)
		}
		return true
	})
}
