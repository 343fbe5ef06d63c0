// Package warden is the core of the tab warden daemon: it tracks how long
// each tab has been open, periodically scans for tabs past the configured
// threshold, judges them read or unread from page metrics, closes the
// unread ones with undo support, and batches closure notifications out to
// the delivery adapters.
package warden

import "time"

// State document keys. All mutations go through the per-key write
// serializer so concurrent event handling and scans never lose updates.
const (
	keyOpenTimes     = "open_times"
	keyHistory       = "history"
	keyUndo          = "undo"
	keyBadge         = "badge"
	keyNotifications = "notifications"
	keyExportLog     = "export_log"
	keySettings      = "settings"
)

// historyCap bounds the closed-tab history, newest first.
const historyCap = 50

// Threshold is the configured open-time limit before a tab becomes a
// closure candidate.
type Threshold struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// Duration returns the threshold as a time.Duration.
func (t Threshold) Duration() time.Duration {
	return time.Duration(t.Hours)*time.Hour + time.Duration(t.Minutes)*time.Minute
}

// IsZero reports whether the threshold is unset, which disables scanning.
func (t Threshold) IsZero() bool { return t.Hours == 0 && t.Minutes == 0 }

// ClosedHistoryEntry is one record in the closed-tab history.
type ClosedHistoryEntry struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	ClosedAt time.Time `json:"closed_at"`
	// SessionID references the host's recently-closed record when one was
	// found, empty otherwise.
	SessionID string `json:"session_id,omitempty"`
	// WindowID and Index are fallback placement hints for reopening when
	// no session record exists.
	WindowID int `json:"window_id,omitempty"`
	Index    int `json:"index"`
}

// UndoEntry mirrors a ClosedHistoryEntry keyed by notification ID, kept
// until the notification is undone or dismissed.
type UndoEntry struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	ClosedAt  time.Time `json:"closed_at"`
	SessionID string    `json:"session_id,omitempty"`
	WindowID  int       `json:"window_id,omitempty"`
	Index     int       `json:"index"`
}

// Notification is a pending closure notice awaiting undo or dismissal.
type Notification struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
