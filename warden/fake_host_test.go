package warden

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/tabwarden/host"
)

// fakeHost is an in-memory host.Host for exercising the core without a
// browser.
type fakeHost struct {
	mu   sync.Mutex
	tabs map[host.TabID]host.TabInfo

	metrics    map[host.TabID]*host.Metrics
	metricsErr map[host.TabID]error
	closeErr   map[host.TabID]error

	// sessionAfter delays the recently-closed record for a URL by that
	// many lookup attempts.
	sessionAfter map[string]int
	sessions     map[string]string
	lookups      map[string]int

	closed   []host.TabID
	opened   []string
	restored []string

	events chan host.TabEvent
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		tabs:         map[host.TabID]host.TabInfo{},
		metrics:      map[host.TabID]*host.Metrics{},
		metricsErr:   map[host.TabID]error{},
		closeErr:     map[host.TabID]error{},
		sessionAfter: map[string]int{},
		sessions:     map[string]string{},
		lookups:      map[string]int{},
		events:       make(chan host.TabEvent, 16),
	}
}

func (f *fakeHost) addTab(tab host.TabInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabs[tab.ID] = tab
}

func (f *fakeHost) closedTabs() []host.TabID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]host.TabID(nil), f.closed...)
}

func (f *fakeHost) openedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

func (f *fakeHost) restoredSessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.restored...)
}

func (f *fakeHost) Tabs(ctx context.Context) ([]host.TabInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]host.TabInfo, 0, len(f.tabs))
	for _, t := range f.tabs {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeHost) Tab(ctx context.Context, id host.TabID) (host.TabInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tabs[id]
	if !ok {
		return host.TabInfo{}, host.ErrTabGone
	}
	return t, nil
}

func (f *fakeHost) CloseTab(ctx context.Context, id host.TabID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.closeErr[id]; ok {
		return err
	}
	t, ok := f.tabs[id]
	if !ok {
		return host.ErrTabGone
	}
	delete(f.tabs, id)
	f.closed = append(f.closed, id)
	f.sessions[t.URL] = "sess-" + string(id)
	return nil
}

func (f *fakeHost) OpenTab(ctx context.Context, url string, hint *host.PlacementHint) (host.TabInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, url)
	tab := host.TabInfo{ID: host.TabID(fmt.Sprintf("opened-%d", len(f.opened))), URL: url, Index: -1}
	if hint != nil {
		tab.WindowID = hint.WindowID
		tab.Index = hint.Index
	}
	f.tabs[tab.ID] = tab
	return tab, nil
}

func (f *fakeHost) CollectMetrics(ctx context.Context, id host.TabID) (*host.Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.metricsErr[id]; ok {
		return nil, err
	}
	m, ok := f.metrics[id]
	if !ok {
		return nil, host.ErrNoMetrics
	}
	return m, nil
}

func (f *fakeHost) RecentlyClosed(ctx context.Context, url string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups[url]++
	if f.lookups[url] <= f.sessionAfter[url] {
		return "", false
	}
	id, ok := f.sessions[url]
	return id, ok
}

func (f *fakeHost) RestoreSession(ctx context.Context, sessionID string) (host.TabInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for url, id := range f.sessions {
		if id == sessionID {
			delete(f.sessions, url)
			f.restored = append(f.restored, sessionID)
			tab := host.TabInfo{ID: host.TabID("restored-" + sessionID), URL: url, Index: -1}
			f.tabs[tab.ID] = tab
			return tab, nil
		}
	}
	return host.TabInfo{}, host.ErrTabGone
}

func (f *fakeHost) Events() <-chan host.TabEvent { return f.events }

func (f *fakeHost) Close() error {
	close(f.events)
	return nil
}

// httpTab builds a plain closeable tab.
func httpTab(id, url string) host.TabInfo {
	return host.TabInfo{ID: host.TabID(id), URL: url, Title: "Page " + id, WindowID: 1, Index: 0, LastActiveAt: time.Now()}
}
