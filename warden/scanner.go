package warden

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hazyhaar/tabwarden/host"
)

// scanPeriod derives the check interval from the threshold: a quarter of
// the threshold, clamped to [1m, 60m]. A zero threshold disables scanning.
func scanPeriod(t Threshold) time.Duration {
	if t.IsZero() {
		return 0
	}
	mins := int(t.Duration() / time.Minute)
	period := (mins + 3) / 4
	if period < 1 {
		period = 1
	}
	if period > 60 {
		period = 60
	}
	return time.Duration(period) * time.Minute
}

// eligible reports whether a tab opened at openedMilli is past the
// threshold at now. An age exactly equal to the threshold is not past it.
func eligible(now time.Time, openedMilli int64, t Threshold) bool {
	return now.Sub(time.UnixMilli(openedMilli)) > t.Duration()
}

// scanLoop runs checks on the derived period, re-arming whenever the
// threshold changes.
func (s *Service) scanLoop() {
	for {
		period := scanPeriod(s.threshold())
		if period == 0 {
			select {
			case <-s.ctx.Done():
				return
			case <-s.rearm:
			}
			continue
		}

		timer := time.NewTimer(period)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-s.rearm:
			timer.Stop()
		case <-timer.C:
			if err := s.RunCheck(s.ctx); err != nil {
				s.log.Error("scheduled check failed", "err", err)
			}
		}
	}
}

// RunCheck scans every tracked tab and closes the ones open past the
// threshold that look unread. At most one check runs at a time; a second
// call while one is in flight is a no-op. A watchdog clears the in-flight
// flag if a check wedges on an unresponsive page.
func (s *Service) RunCheck(ctx context.Context) error {
	if !s.scanning.CompareAndSwap(false, true) {
		s.log.Debug("check already in progress")
		return nil
	}
	watchdog := time.AfterFunc(s.cfg.WatchdogTimeout, func() {
		s.log.Warn("check watchdog fired, clearing in-progress flag")
		s.scanning.Store(false)
	})
	defer func() {
		if watchdog.Stop() {
			s.scanning.Store(false)
		}
	}()

	// A zero threshold only disables the ticker; a requested check still
	// evaluates candidates, and with no grace period every tracked tab
	// older than the threshold (any age) qualifies.
	threshold := s.threshold()

	var times openTimes
	if _, err := s.cfg.State.Load(ctx, keyOpenTimes, &times); err != nil {
		return err
	}

	now := time.Now()
	var candidates []host.TabID
	for id, ms := range times {
		if eligible(now, ms, threshold) {
			candidates = append(candidates, host.TabID(id))
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	s.log.Info("check started", "tracked", len(times), "candidates", len(candidates))

	var wg sync.WaitGroup
	for _, id := range candidates {
		wg.Add(1)
		go func(id host.TabID) {
			defer wg.Done()
			s.processCandidate(ctx, id, now)
		}(id)
	}
	wg.Wait()
	return nil
}

func (s *Service) processCandidate(ctx context.Context, id host.TabID, now time.Time) {
	tab, err := s.host.Tab(ctx, id)
	if err != nil {
		if errors.Is(err, host.ErrTabGone) {
			s.removeTab(id)
			return
		}
		s.log.Warn("tab lookup failed", "tab", id, "err", err)
		s.touchTab(id, now)
		return
	}

	// Pinned, audible, and non-HTTP tabs are never closed, and their
	// clocks are left alone so they stay candidates for the next check.
	if tab.Pinned || tab.Audible || !tab.IsHTTP() {
		return
	}

	metrics, err := s.host.CollectMetrics(ctx, id)
	if err != nil {
		// Without metrics the tab must be treated as read. Resetting the
		// clock keeps an uninstrumentable page from being re-judged every
		// check.
		s.log.Debug("metrics unavailable, treating as read", "tab", id, "err", err)
		s.touchTab(id, now)
		return
	}

	if judgeRead(metrics) {
		s.touchTab(id, now)
		return
	}
	s.closeTab(ctx, tab, now)
}
