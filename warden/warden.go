package warden

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/tabwarden/delivery"
	"github.com/hazyhaar/tabwarden/host"
	"github.com/hazyhaar/tabwarden/store"
)

// Config wires the warden service. Settings and State are separate stores
// so the settings document can be edited out of process and picked up by
// the watcher without contending with state writes.
type Config struct {
	Settings *store.Store
	State    *store.Store
	Host     host.Host

	// FlushDelay is how long the notification batcher waits after the
	// first closure before flushing. Defaults to 5s.
	FlushDelay time.Duration

	// SessionLookupDelay spaces the recently-closed lookup attempts after
	// a close. Defaults to 200ms.
	SessionLookupDelay time.Duration

	// WatchdogTimeout force-clears the scan-in-progress flag if a scan
	// wedges. Defaults to 60s.
	WatchdogTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.FlushDelay <= 0 {
		c.FlushDelay = 5 * time.Second
	}
	if c.SessionLookupDelay <= 0 {
		c.SessionLookupDelay = 200 * time.Millisecond
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service is the warden core. All state mutations funnel through the
// per-key serializer; the browser is only ever touched through the Host
// boundary.
type Service struct {
	cfg  Config
	log  *slog.Logger
	ser  *store.Serializer
	host host.Host

	mu       sync.RWMutex
	settings Settings
	senders  []delivery.Sender
	exporter *delivery.Exporter

	batch    *Batcher
	scanning atomic.Bool

	// rearm wakes the scan loop when the threshold (and so the scan
	// period) changes.
	rearm chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the service. Call Start to attach to the host and begin
// tracking and scanning.
func New(cfg Config) (*Service, error) {
	if cfg.Settings == nil || cfg.State == nil {
		return nil, fmt.Errorf("warden: settings and state stores are required")
	}
	if cfg.Host == nil {
		return nil, fmt.Errorf("warden: host is required")
	}
	cfg.defaults()

	s := &Service{
		cfg:   cfg,
		log:   cfg.Logger,
		ser:   store.NewSerializer(cfg.State, cfg.Logger),
		host:  cfg.Host,
		rearm: make(chan struct{}, 1),
	}
	s.batch = NewBatcher(cfg.FlushDelay, s.deliverBatch)
	return s, nil
}

// Start loads settings, seeds open times from the tabs already present,
// and launches the event tracker, scan loop, and settings watcher.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.ReloadSettings(ctx); err != nil {
		return fmt.Errorf("warden: load settings: %w", err)
	}
	if err := s.seedOpenTimes(ctx); err != nil {
		return fmt.Errorf("warden: seed open times: %w", err)
	}

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.trackEvents()
	}()
	go func() {
		defer s.wg.Done()
		s.scanLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.cfg.Settings.Watch(s.ctx, store.WatchOptions{Logger: s.log}, func() error {
			return s.ReloadSettings(s.ctx)
		})
	}()

	s.log.Info("warden started")
	return nil
}

// Close stops the background loops and force-flushes any pending
// notification batch so closures are never silently dropped on shutdown.
func (s *Service) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.batch.Flush(ctx)

	s.log.Info("warden stopped")
	return nil
}

// wake nudges the scan loop without blocking.
func (s *Service) wake() {
	select {
	case s.rearm <- struct{}{}:
	default:
	}
}
