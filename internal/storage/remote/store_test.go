package remote

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"magick/internal/core/flag"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromClient(client, Config{Expiration: time.Minute, Timeout: time.Second})
}

func TestStore_SetGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := &flag.Flag{Name: "checkout", Type: flag.TypeBoolean, Status: flag.StatusActive}
	require.NoError(t, s.Set(ctx, f))

	got, ok, err := s.Get(ctx, "checkout")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, f.Name, got.Name)
	require.Equal(t, f.Status, got.Status)
}

func TestStore_GetMiss(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, &flag.Flag{Name: "f"}))
	require.NoError(t, s.Delete(ctx, "f"))

	_, ok, err := s.Get(ctx, "f")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_LargePayloadRoundTripsCompressed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	variants := make([]flag.Variant, 0, 50)
	for i := 0; i < 50; i++ {
		variants = append(variants, flag.Variant{Name: "variant-with-a-long-name", Value: "some fairly long value payload to push past the compression threshold", Weight: 1})
	}
	f := &flag.Flag{Name: "big-flag", Type: flag.TypeVariant, Variants: variants}

	require.NoError(t, s.Set(ctx, f))
	got, ok, err := s.Get(ctx, "big-flag")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Variants, 50)
}

func TestWatchInvalidations_DebouncesRepeatedMessages(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Invalidation, 10)
	go s.WatchInvalidations(ctx, 20*time.Millisecond, func(inv Invalidation) {
		received <- inv
	})

	time.Sleep(20 * time.Millisecond) // let the subscription establish
	for i := 0; i < 5; i++ {
		require.NoError(t, s.PublishInvalidation(context.Background(), "flag-x"))
	}

	select {
	case inv := <-received:
		require.Equal(t, "flag-x", inv.FlagName)
		require.False(t, inv.Broadcast)
	case <-time.After(time.Second):
		t.Fatal("expected a debounced invalidation event")
	}

	select {
	case <-received:
		t.Fatal("expected repeated messages to be coalesced into one event")
	case <-time.After(50 * time.Millisecond):
	}
}
