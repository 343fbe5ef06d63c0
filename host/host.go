// Package host defines the browser host boundary: the tab operations,
// lifecycle events, and page metrics the warden core consumes. The
// production implementation drives a Chrome instance over CDP (see
// RodHost); tests substitute an in-memory fake.
//
// Every operation is context-aware and fallible: tabs vanish between a
// query and the follow-up call, and the core is written to treat that as
// normal (ErrTabGone), never as fatal.
package host

import (
	"context"
	"errors"
	"strings"
	"time"
)

// TabID identifies a tab for as long as it stays open. It is opaque to the
// core; the CDP implementation uses the target ID.
type TabID string

// TabInfo is a point-in-time snapshot of one tab.
type TabInfo struct {
	ID      TabID
	URL     string
	Title   string
	Pinned  bool
	Audible bool

	// WindowID and Index locate the tab for restore hints. Hosts that
	// cannot supply them leave WindowID zero and Index negative.
	WindowID int
	Index    int

	// LastActiveAt is the host's last-known foreground time for the tab,
	// zero when unknown. Used to seed open times across a daemon restart.
	LastActiveAt time.Time
}

// IsHTTP reports whether the tab shows an HTTP(S) document. Everything
// else (devtools, chrome://, about:blank, extensions) is not closeable.
func (t TabInfo) IsHTTP() bool {
	return strings.HasPrefix(t.URL, "http://") || strings.HasPrefix(t.URL, "https://")
}

// EventKind enumerates tab lifecycle transitions.
type EventKind int

const (
	TabCreated EventKind = iota
	TabNavigated
	TabActivated
	TabRemoved
)

func (k EventKind) String() string {
	switch k {
	case TabCreated:
		return "created"
	case TabNavigated:
		return "navigated"
	case TabActivated:
		return "activated"
	case TabRemoved:
		return "removed"
	}
	return "unknown"
}

// TabEvent is one lifecycle transition as emitted by the host.
type TabEvent struct {
	Kind EventKind
	Tab  TabInfo
	At   time.Time
}

// Metrics is the read-signal record collected by the tracker script
// injected into a page. Field names mirror the in-page collector.
type Metrics struct {
	ScrollY       float64 `json:"scrollY"`
	PageHeight    float64 `json:"pageHeight"`
	ViewHeight    float64 `json:"viewHeight"`
	HasInteracted bool    `json:"hasInteracted"`
	Timestamp     int64   `json:"timestamp"`
}

// PlacementHint carries a tab's prior window/position for fallback reopening.
type PlacementHint struct {
	WindowID int
	Index    int
}

// ErrTabGone is returned when an operation targets a tab that no longer
// exists. Callers drop their record of the tab and move on.
var ErrTabGone = errors.New("host: tab gone")

// ErrNoMetrics is returned when read-signal metrics cannot be collected
// (tracker script absent or evaluation refused, e.g. a protected page).
// Callers must treat the tab as read, never as unread.
var ErrNoMetrics = errors.New("host: metrics unavailable")

// Host is the browser boundary consumed by the warden core.
type Host interface {
	// Tabs lists all currently open tabs.
	Tabs(ctx context.Context) ([]TabInfo, error)

	// Tab returns a snapshot of one tab, or ErrTabGone.
	Tab(ctx context.Context, id TabID) (TabInfo, error)

	// CloseTab closes a tab. ErrTabGone when it is already gone.
	CloseTab(ctx context.Context, id TabID) error

	// OpenTab opens url in a fresh tab, honouring the placement hint on a
	// best-effort basis.
	OpenTab(ctx context.Context, url string, hint *PlacementHint) (TabInfo, error)

	// CollectMetrics evaluates the read-signal collector in the tab.
	CollectMetrics(ctx context.Context, id TabID) (*Metrics, error)

	// RecentlyClosed looks up a restorable session record for url. The
	// host records closures asynchronously, so a record may appear only
	// shortly after CloseTab returns.
	RecentlyClosed(ctx context.Context, url string) (sessionID string, ok bool)

	// RestoreSession reopens the tab identified by a RecentlyClosed
	// record, consuming the record.
	RestoreSession(ctx context.Context, sessionID string) (TabInfo, error)

	// Events emits lifecycle transitions until the host closes.
	Events() <-chan TabEvent

	// Close detaches from the browser and closes the event channel.
	Close() error
}
