package warden

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/tabwarden/host"
)

// ErrNotFound is returned for an unknown or already-consumed notification.
var ErrNotFound = errors.New("warden: not found")

// ErrBadIndex is returned for an out-of-range history index.
var ErrBadIndex = errors.New("warden: history index out of range")

func newNotificationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "not_" + id.String()
}

// notifyClosure records an undoable notification for a closed tab.
func (s *Service) notifyClosure(ctx context.Context, entry ClosedHistoryEntry) {
	id := newNotificationID()

	err := s.ser.Apply(ctx, keyUndo, func(cur json.RawMessage) (any, error) {
		undo := map[string]UndoEntry{}
		if cur != nil {
			if err := json.Unmarshal(cur, &undo); err != nil {
				return nil, err
			}
		}
		undo[id] = UndoEntry{
			URL:       entry.URL,
			Title:     entry.Title,
			ClosedAt:  entry.ClosedAt,
			SessionID: entry.SessionID,
			WindowID:  entry.WindowID,
			Index:     entry.Index,
		}
		return undo, nil
	})
	if err != nil {
		s.log.Error("record undo entry failed", "url", entry.URL, "err", err)
		return
	}

	err = s.ser.Apply(ctx, keyNotifications, func(cur json.RawMessage) (any, error) {
		var notes []Notification
		if cur != nil {
			if err := json.Unmarshal(cur, &notes); err != nil {
				return nil, err
			}
		}
		notes = append(notes, Notification{
			ID:        id,
			URL:       entry.URL,
			Title:     entry.Title,
			CreatedAt: time.Now(),
		})
		return notes, nil
	})
	if err != nil {
		s.log.Error("record notification failed", "url", entry.URL, "err", err)
	}
}

// takeUndoEntry removes and returns the undo entry for a notification ID.
func (s *Service) takeUndoEntry(ctx context.Context, id string) (UndoEntry, error) {
	var entry UndoEntry
	found := false
	err := s.ser.Apply(ctx, keyUndo, func(cur json.RawMessage) (any, error) {
		undo := map[string]UndoEntry{}
		if cur != nil {
			if err := json.Unmarshal(cur, &undo); err != nil {
				return nil, err
			}
		}
		e, ok := undo[id]
		if !ok {
			return nil, nil
		}
		found = true
		entry = e
		delete(undo, id)
		return undo, nil
	})
	if err != nil {
		return UndoEntry{}, err
	}
	if !found {
		return UndoEntry{}, ErrNotFound
	}
	return entry, nil
}

// dropNotification removes a notification from the pending list.
func (s *Service) dropNotification(ctx context.Context, id string) error {
	return s.ser.Apply(ctx, keyNotifications, func(cur json.RawMessage) (any, error) {
		var notes []Notification
		if cur != nil {
			if err := json.Unmarshal(cur, &notes); err != nil {
				return nil, err
			}
		}
		kept := notes[:0]
		for _, n := range notes {
			if n.ID != id {
				kept = append(kept, n)
			}
		}
		return kept, nil
	})
}

// Undo reopens the tab behind a notification. The undo entry and the
// notification are consumed whether or not the reopen succeeds, so undo is
// exactly-once; the history entry is left in place and stays restorable
// from the history panel.
func (s *Service) Undo(ctx context.Context, id string) error {
	entry, err := s.takeUndoEntry(ctx, id)
	if err != nil {
		return err
	}
	if derr := s.dropNotification(ctx, id); derr != nil {
		s.log.Warn("drop notification failed", "id", id, "err", derr)
	}

	if _, err := s.reopen(ctx, entry.SessionID, entry.URL, entry.WindowID, entry.Index); err != nil {
		return fmt.Errorf("warden: undo reopen: %w", err)
	}
	s.log.Info("closure undone", "url", entry.URL)
	return nil
}

// Dismiss discards a notification without reopening anything.
func (s *Service) Dismiss(ctx context.Context, id string) error {
	if _, err := s.takeUndoEntry(ctx, id); err != nil {
		return err
	}
	return s.dropNotification(ctx, id)
}

// Notifications lists the pending notifications.
func (s *Service) Notifications(ctx context.Context) ([]Notification, error) {
	var notes []Notification
	if _, err := s.cfg.State.Load(ctx, keyNotifications, &notes); err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []Notification{}
	}
	return notes, nil
}

// RestoreHistoryEntry reopens the history entry at index (newest first) and
// removes it from the history.
func (s *Service) RestoreHistoryEntry(ctx context.Context, index int) error {
	var entry ClosedHistoryEntry
	found := false
	err := s.ser.Apply(ctx, keyHistory, func(cur json.RawMessage) (any, error) {
		var hist []ClosedHistoryEntry
		if cur != nil {
			if err := json.Unmarshal(cur, &hist); err != nil {
				return nil, err
			}
		}
		if index < 0 || index >= len(hist) {
			return nil, nil
		}
		found = true
		entry = hist[index]
		return append(hist[:index], hist[index+1:]...), nil
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrBadIndex
	}

	if _, err := s.reopen(ctx, entry.SessionID, entry.URL, entry.WindowID, entry.Index); err != nil {
		return fmt.Errorf("warden: restore reopen: %w", err)
	}
	s.log.Info("history entry restored", "url", entry.URL)
	return nil
}

// reopen restores via the host's session record when one exists, falling
// back to opening the URL with placement hints.
func (s *Service) reopen(ctx context.Context, sessionID, url string, windowID, index int) (host.TabInfo, error) {
	if sessionID != "" {
		tab, err := s.host.RestoreSession(ctx, sessionID)
		if err == nil {
			return tab, nil
		}
		s.log.Warn("session restore failed, reopening by url", "url", url, "err", err)
	}
	return s.host.OpenTab(ctx, url, &host.PlacementHint{WindowID: windowID, Index: index})
}
