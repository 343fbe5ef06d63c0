package warden

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/tabwarden/delivery"
)

// History returns the closed-tab history, newest first.
func (s *Service) History(ctx context.Context) ([]ClosedHistoryEntry, error) {
	var hist []ClosedHistoryEntry
	if _, err := s.cfg.State.Load(ctx, keyHistory, &hist); err != nil {
		return nil, err
	}
	if hist == nil {
		hist = []ClosedHistoryEntry{}
	}
	return hist, nil
}

// ClearHistory empties the closed-tab history.
func (s *Service) ClearHistory(ctx context.Context) error {
	return s.ser.Apply(ctx, keyHistory, func(json.RawMessage) (any, error) {
		return []ClosedHistoryEntry{}, nil
	})
}

// Badge returns the count of closures since the badge was last reset.
func (s *Service) Badge(ctx context.Context) (int, error) {
	n := 0
	if _, err := s.cfg.State.Load(ctx, keyBadge, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// ResetBadge zeroes the badge counter.
func (s *Service) ResetBadge(ctx context.Context) error {
	return s.ser.Apply(ctx, keyBadge, func(json.RawMessage) (any, error) {
		return 0, nil
	})
}

// ExportNow rewrites the export file from the accumulated closure log.
func (s *Service) ExportNow(ctx context.Context) error {
	s.mu.RLock()
	exporter := s.exporter
	s.mu.RUnlock()
	if exporter == nil {
		return fmt.Errorf("warden: export path not configured")
	}

	var full []delivery.Closure
	if _, err := s.cfg.State.Load(ctx, keyExportLog, &full); err != nil {
		return err
	}
	return exporter.Write(full)
}

// SendTest sends a probe through the named sender ("email", "chat").
func (s *Service) SendTest(ctx context.Context, platform, recipient string) error {
	s.mu.RLock()
	senders := s.senders
	s.mu.RUnlock()

	for _, sender := range senders {
		if sender.Name() == platform {
			return sender.SendTest(ctx, recipient)
		}
	}
	return fmt.Errorf("warden: no %s sender configured", platform)
}
