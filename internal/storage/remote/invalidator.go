package remote

import (
	"context"
	"time"

	"magick/pkg/logger"
)

// Invalidation is a single debounced cache-invalidation event delivered to
// the C5 registry's callback.
type Invalidation struct {
	// FlagName is empty when Broadcast is true.
	FlagName  string
	Broadcast bool
}

// WatchInvalidations subscribes to the invalidation channel and delivers
// debounced events to handle: repeated messages for the same flag name
// within debounce are coalesced into one callback invocation, so a burst of
// writes to one flag doesn't thrash the Local Store with repeated evicts.
func (s *Store) WatchInvalidations(ctx context.Context, debounce time.Duration, handle func(Invalidation)) {
	sub := s.Subscribe(ctx)
	defer sub.Close()

	pending := make(map[string]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			payload := msg.Payload
			if existing, scheduled := pending[payload]; scheduled {
				existing.Stop()
			}
			pending[payload] = time.AfterFunc(debounce, func() {
				if IsBroadcastInvalidation(payload) {
					handle(Invalidation{Broadcast: true})
				} else {
					handle(Invalidation{FlagName: payload})
				}
			})
		}
	}
}

// logDropped is used by callers that want to note an undeliverable
// invalidation without failing the watch loop.
func logDropped(ctx context.Context, reason string) {
	logger.Warn(ctx, "remote: dropped invalidation", "reason", reason)
}
