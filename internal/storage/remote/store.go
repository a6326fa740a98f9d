package remote

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"magick/internal/core/apperror"
	"magick/internal/core/flag"
)

const (
	// keyPrefix namespaces every per-flag key, matching the literal
	// "magick:features" table/key naming spec's examples use throughout.
	keyPrefix = "magick:features:"

	// InvalidateChannel is the pub/sub channel C5's subscriber listens on
	// to debounce and drop stale Local Store entries across processes.
	InvalidateChannel = "magick:cache:invalidate"

	// broadcastInvalidation is the sentinel payload meaning "drop
	// everything", as opposed to a single flag name.
	broadcastInvalidation = "*"
)

// Config configures the Remote Store's Redis connection, mirroring the
// Expiration/Timeout/Endpoint shape the pack's RedisConfig demonstrates.
type Config struct {
	Endpoint   string
	Password   string
	DB         int
	Expiration time.Duration
	Timeout    time.Duration
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:   endpoint,
		Expiration: time.Hour,
		Timeout:    200 * time.Millisecond,
	}
}

// Store is the Redis-backed shared cache tier. Each flag is stored as a
// single compressed JSON blob under a per-flag key (a degenerate "hash of
// one field" would add no value here since flags are always read/written
// whole, never by individual attribute).
type Store struct {
	client *redis.Client
	cfg    Config
}

// New constructs a Store from Config.
func New(cfg Config) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Endpoint,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Store{client: client, cfg: cfg}
}

// NewFromClient wraps an already-constructed redis.Client, so tests can
// inject a miniredis-backed client directly.
func NewFromClient(client *redis.Client, cfg Config) *Store {
	return &Store{client: client, cfg: cfg}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(name string) string {
	return keyPrefix + name
}

// Get fetches a single flag, returning (nil, false, nil) on a cache miss
// and wrapping any transport failure as an ADAPTER_ERROR.
func (s *Store) Get(ctx context.Context, name string) (*flag.Flag, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(name)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperror.NewAdapterError("remote", err)
	}

	var f flag.Flag
	if err := decode(raw, &f); err != nil {
		return nil, false, apperror.NewAdapterError("remote", err)
	}
	return &f, true, nil
}

// Set writes a flag with the configured expiration.
func (s *Store) Set(ctx context.Context, f *flag.Flag) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	data, err := encode(f)
	if err != nil {
		return apperror.NewAdapterError("remote", err)
	}
	if err := s.client.Set(ctx, s.key(f.Name), data, s.cfg.Expiration).Err(); err != nil {
		return apperror.NewAdapterError("remote", err)
	}
	return nil
}

// Delete removes a flag's cached entry.
func (s *Store) Delete(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
		return apperror.NewAdapterError("remote", err)
	}
	return nil
}

// PublishInvalidation broadcasts a cache-invalidation event for a single
// flag name to every subscribed process.
func (s *Store) PublishInvalidation(ctx context.Context, name string) error {
	if err := s.client.Publish(ctx, InvalidateChannel, name).Err(); err != nil {
		return apperror.NewAdapterError("remote", err)
	}
	return nil
}

// PublishReset broadcasts a full cache-reset event.
func (s *Store) PublishReset(ctx context.Context) error {
	if err := s.client.Publish(ctx, InvalidateChannel, broadcastInvalidation).Err(); err != nil {
		return apperror.NewAdapterError("remote", err)
	}
	return nil
}

// Subscribe returns the pub/sub subscription for the invalidation channel;
// the caller owns its lifecycle and decides how to debounce delivered
// messages (WatchInvalidations, which C5's registry runs, does both).
func (s *Store) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, InvalidateChannel)
}

// IsBroadcastInvalidation reports whether a message payload from the
// invalidation channel means "drop everything" rather than naming one flag.
func IsBroadcastInvalidation(payload string) bool {
	return payload == broadcastInvalidation
}
