package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFlusher struct {
	mu    sync.Mutex
	calls map[string]int64
	fail  bool
}

func newFakeFlusher() *fakeFlusher {
	return &fakeFlusher{calls: make(map[string]int64)}
}

func (f *fakeFlusher) IncrBy(_ context.Context, key string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.calls[key] += delta
	return nil
}

func TestPipeline_RecordAndSnapshot(t *testing.T) {
	p := New(nil, time.Minute)
	p.Record("checkout", OutcomeEnabled)
	p.Record("checkout", OutcomeEnabled)
	p.Record("checkout", OutcomeDisabled)

	snap := p.Snapshot()
	assert.Equal(t, int64(2), snap["checkout:enabled"])
	assert.Equal(t, int64(1), snap["checkout:disabled"])
}

func TestPipeline_FlushShipsAndZeroesCounters(t *testing.T) {
	flusher := newFakeFlusher()
	p := New(flusher, time.Minute)
	p.Record("checkout", OutcomeEnabled)
	p.Record("checkout", OutcomeEnabled)

	p.flush(context.Background())

	flusher.mu.Lock()
	assert.Equal(t, int64(2), flusher.calls["magick:metrics:checkout:enabled"])
	flusher.mu.Unlock()

	snap := p.Snapshot()
	assert.Equal(t, int64(0), snap["checkout:enabled"])
}

func TestPipeline_FailedFlushRetainsDelta(t *testing.T) {
	flusher := newFakeFlusher()
	flusher.fail = true
	p := New(flusher, time.Minute)
	p.Record("checkout", OutcomeEnabled)

	p.flush(context.Background())

	snap := p.Snapshot()
	assert.Equal(t, int64(1), snap["checkout:enabled"])
}

func TestPipeline_RunFlushesOnStop(t *testing.T) {
	flusher := newFakeFlusher()
	p := New(flusher, time.Hour)
	p.Record("checkout", OutcomeEnabled)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	p.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}

	flusher.mu.Lock()
	defer flusher.mu.Unlock()
	require.Equal(t, int64(1), flusher.calls["magick:metrics:checkout:enabled"])
}
