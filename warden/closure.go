package warden

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/tabwarden/delivery"
	"github.com/hazyhaar/tabwarden/host"
)

// sessionLookupAttempts bounds the recently-closed lookup after a close.
// The host records closures asynchronously, so the first attempts may miss.
const sessionLookupAttempts = 5

// judgeRead decides whether a page has been read from its metrics. A page
// short enough to fit the viewport (with 20% slack) gives no scroll signal,
// so only interaction marks it read; a longer page counts as read once the
// user has either interacted or scrolled at all.
func judgeRead(m *host.Metrics) bool {
	if m.HasInteracted {
		return true
	}
	isShort := m.PageHeight <= m.ViewHeight*1.2
	return !isShort && m.ScrollY > 0
}

var titlePolicy = bluemonday.StrictPolicy()

// sanitizeTitle strips markup from a page title, falling back to the URL
// when nothing printable remains.
func sanitizeTitle(title, url string) string {
	clean := strings.TrimSpace(titlePolicy.Sanitize(title))
	if clean == "" {
		return url
	}
	return clean
}

// closeTab closes an unread tab and records the closure: history entry,
// badge bump, undoable notification, and a slot in the outgoing batch.
// If the close itself fails the tab's clock is left untouched so the next
// check retries it.
func (s *Service) closeTab(ctx context.Context, tab host.TabInfo, now time.Time) {
	if err := s.host.CloseTab(ctx, tab.ID); err != nil {
		if errors.Is(err, host.ErrTabGone) {
			s.removeTab(tab.ID)
			return
		}
		s.log.Warn("close failed", "tab", tab.ID, "url", tab.URL, "err", err)
		return
	}
	s.removeTab(tab.ID)

	sessionID := s.lookupSession(ctx, tab.URL)
	title := sanitizeTitle(tab.Title, tab.URL)

	entry := ClosedHistoryEntry{
		URL:       tab.URL,
		Title:     title,
		ClosedAt:  now,
		SessionID: sessionID,
		WindowID:  tab.WindowID,
		Index:     tab.Index,
	}
	s.appendHistory(ctx, entry)
	s.incrementBadge(ctx)
	s.notifyClosure(ctx, entry)
	s.batch.Add(delivery.Closure{URL: tab.URL, Title: title, ClosedAt: now})

	s.log.Info("closed unread tab", "url", tab.URL, "title", title, "session", sessionID != "")
}

// lookupSession polls the host's recently-closed records for the URL.
func (s *Service) lookupSession(ctx context.Context, url string) string {
	for i := 0; i < sessionLookupAttempts; i++ {
		if id, ok := s.host.RecentlyClosed(ctx, url); ok {
			return id
		}
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(s.cfg.SessionLookupDelay):
		}
	}
	return ""
}

// appendHistory prepends the entry, trimming to historyCap newest-first.
func (s *Service) appendHistory(ctx context.Context, entry ClosedHistoryEntry) {
	err := s.ser.Apply(ctx, keyHistory, func(cur json.RawMessage) (any, error) {
		var hist []ClosedHistoryEntry
		if cur != nil {
			if err := json.Unmarshal(cur, &hist); err != nil {
				return nil, err
			}
		}
		hist = append([]ClosedHistoryEntry{entry}, hist...)
		if len(hist) > historyCap {
			hist = hist[:historyCap]
		}
		return hist, nil
	})
	if err != nil {
		s.log.Error("append history failed", "url", entry.URL, "err", err)
	}
}

func (s *Service) incrementBadge(ctx context.Context) {
	err := s.ser.Apply(ctx, keyBadge, func(cur json.RawMessage) (any, error) {
		n := 0
		if cur != nil {
			if err := json.Unmarshal(cur, &n); err != nil {
				return nil, err
			}
		}
		return n + 1, nil
	})
	if err != nil {
		s.log.Error("badge increment failed", "err", err)
	}
}
