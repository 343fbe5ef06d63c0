package warden

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hazyhaar/tabwarden/host"
)

// openTimes is the open_times document: tab ID to open timestamp in
// milliseconds since epoch.
type openTimes map[string]int64

func decodeOpenTimes(cur json.RawMessage) (openTimes, error) {
	times := openTimes{}
	if cur != nil {
		if err := json.Unmarshal(cur, &times); err != nil {
			return nil, err
		}
	}
	return times, nil
}

// seedOpenTimes reconciles the open_times document with the tabs actually
// open right now: tabs the daemon has never seen get an entry, entries for
// vanished tabs are dropped. Run once at startup so a restart neither
// forgets tabs nor keeps ghosts.
func (s *Service) seedOpenTimes(ctx context.Context) error {
	tabs, err := s.host.Tabs(ctx)
	if err != nil {
		return err
	}
	return s.ser.Apply(ctx, keyOpenTimes, func(cur json.RawMessage) (any, error) {
		times, err := decodeOpenTimes(cur)
		if err != nil {
			return nil, err
		}
		next := openTimes{}
		for _, tab := range tabs {
			if at, ok := times[string(tab.ID)]; ok {
				next[string(tab.ID)] = at
				continue
			}
			at := tab.LastActiveAt
			if at.IsZero() {
				at = time.Now()
			}
			next[string(tab.ID)] = at.UnixMilli()
		}
		return next, nil
	})
}

// trackEvents consumes the host's lifecycle stream until shutdown.
func (s *Service) trackEvents() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.host.Events():
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Service) handleEvent(ev host.TabEvent) {
	switch ev.Kind {
	case host.TabCreated, host.TabNavigated, host.TabActivated:
		// Activation restarts the clock: a tab the user just looked at is
		// not stale, whatever its age.
		s.touchTab(ev.Tab.ID, ev.At)
	case host.TabRemoved:
		s.removeTab(ev.Tab.ID)
	}
}

// touchTab records at as the tab's open time.
func (s *Service) touchTab(id host.TabID, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	err := s.ser.Apply(s.ctx, keyOpenTimes, func(cur json.RawMessage) (any, error) {
		times, err := decodeOpenTimes(cur)
		if err != nil {
			return nil, err
		}
		times[string(id)] = at.UnixMilli()
		return times, nil
	})
	if err != nil {
		s.log.Warn("touch tab failed", "tab", id, "err", err)
	}
}

// removeTab drops the tab's open-time entry.
func (s *Service) removeTab(id host.TabID) {
	err := s.ser.Apply(s.ctx, keyOpenTimes, func(cur json.RawMessage) (any, error) {
		times, err := decodeOpenTimes(cur)
		if err != nil {
			return nil, err
		}
		if _, ok := times[string(id)]; !ok {
			return nil, nil
		}
		delete(times, string(id))
		return times, nil
	})
	if err != nil {
		s.log.Warn("remove tab failed", "tab", id, "err", err)
	}
}
