package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Mutator receives the current raw value for a key (nil when absent) and
// returns the replacement value, which the serializer marshals and persists.
// Returning a nil replacement with a nil error skips the write.
type Mutator func(current json.RawMessage) (next any, err error)

// Serializer totally orders read-modify-write operations per key. The
// underlying store has no transactions, so two near-simultaneous mutations
// of the same record (a tab navigation and a scan resetting the same tab,
// say) would otherwise interleave their reads and silently lose one side's
// update.
//
// Each Apply call joins a per-key FIFO chain and runs only after every
// previously queued operation for that key has finished, successfully or
// not. A failed operation never stalls the chain: read/write errors are
// logged here and reported only to the caller that queued the failing
// operation.
type Serializer struct {
	store *Store
	log   *slog.Logger

	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewSerializer creates a Serializer over one store scope.
func NewSerializer(s *Store, log *slog.Logger) *Serializer {
	if log == nil {
		log = slog.Default()
	}
	return &Serializer{store: s, log: log, tails: make(map[string]chan struct{})}
}

// Apply queues fn on key's chain and blocks until it has run. The returned
// error reflects this operation only; operations queued behind it proceed
// regardless of the outcome.
func (s *Serializer) Apply(ctx context.Context, key string, fn Mutator) error {
	done := make(chan struct{})

	s.mu.Lock()
	prev := s.tails[key]
	s.tails[key] = done
	s.mu.Unlock()

	defer func() {
		close(done)
		s.mu.Lock()
		if s.tails[key] == done {
			delete(s.tails, key)
		}
		s.mu.Unlock()
	}()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cur, _, err := s.store.Get(ctx, key)
	if err != nil {
		s.log.Error("store: serialized read failed", "key", key, "error", err)
		return err
	}

	next, err := fn(cur)
	if err != nil {
		s.log.Warn("store: mutator failed", "key", key, "error", err)
		return fmt.Errorf("store: mutate %s: %w", key, err)
	}
	if next == nil {
		return nil
	}

	if err := s.store.Set(ctx, key, next); err != nil {
		s.log.Error("store: serialized write failed", "key", key, "error", err)
		return err
	}
	return nil
}
