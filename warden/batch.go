package warden

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/tabwarden/delivery"
)

// Batcher coalesces closures from one scan into a single notification
// batch. The first closure arms a timer; everything added before it fires
// goes out together, oldest first.
type Batcher struct {
	delay   time.Duration
	deliver func(ctx context.Context, batch []delivery.Closure)

	mu      sync.Mutex
	pending []delivery.Closure
	timer   *time.Timer

	// flushMu serialises flushes so a timer flush and a shutdown flush
	// never interleave deliveries.
	flushMu sync.Mutex
}

// NewBatcher builds a batcher delivering through fn after delay.
func NewBatcher(delay time.Duration, fn func(ctx context.Context, batch []delivery.Closure)) *Batcher {
	return &Batcher{delay: delay, deliver: fn}
}

// Add queues a closure, arming the flush timer on the first one.
func (b *Batcher) Add(c delivery.Closure) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, c)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.delay, func() {
			b.Flush(context.Background())
		})
	}
}

// Flush delivers everything pending immediately. Safe to call with nothing
// queued; used at shutdown so closures are never dropped.
func (b *Batcher) Flush(ctx context.Context) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	sort.Slice(batch, func(i, j int) bool {
		return batch[i].ClosedAt.Before(batch[j].ClosedAt)
	})
	b.deliver(ctx, batch)
}

// deliverBatch appends the batch to the persistent export log, then hands
// it to every configured sender. Senders fail independently; one outage
// never blocks the others or the export.
func (s *Service) deliverBatch(ctx context.Context, batch []delivery.Closure) {
	var full []delivery.Closure
	err := s.ser.Apply(ctx, keyExportLog, func(cur json.RawMessage) (any, error) {
		if cur != nil {
			if err := json.Unmarshal(cur, &full); err != nil {
				return nil, err
			}
		}
		full = append(full, batch...)
		return full, nil
	})
	if err != nil {
		s.log.Error("export log append failed", "err", err)
		full = batch
	}

	s.mu.RLock()
	senders := s.senders
	exporter := s.exporter
	s.mu.RUnlock()

	for _, sender := range senders {
		if err := sender.SendBatch(ctx, batch); err != nil {
			s.log.Error("batch delivery failed", "sender", sender.Name(), "err", err)
			continue
		}
		s.log.Info("batch delivered", "sender", sender.Name(), "closures", len(batch))
	}
	if exporter != nil {
		if err := exporter.Write(full); err != nil {
			s.log.Error("export write failed", "err", err)
		}
	}
}
