package remote

import (
	"context"

	"magick/internal/core/apperror"
)

// IncrBy implements metrics.Flusher, letting the Metrics Pipeline (C8)
// flush counter deltas through the same Redis connection the cache tier
// uses, via INCRBY semantics.
func (s *Store) IncrBy(ctx context.Context, key string, delta int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.client.IncrBy(ctx, key, delta).Err(); err != nil {
		return apperror.NewAdapterError("remote", err)
	}
	return nil
}
