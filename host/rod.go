package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"
	"github.com/ysmood/gson"
)

// trackerJS is installed once per page load. It records qualifying user
// interaction (click, key press, or a sustained mouse-movement burst) and
// reports foreground transitions through the activation binding.
const trackerJS = `(() => {
	if (window.__twTrack) return;
	const s = { interacted: false, moves: 0, lastMoveAt: 0 };
	window.__twTrack = s;
	addEventListener('click', () => { s.interacted = true; }, true);
	addEventListener('keydown', () => { s.interacted = true; }, true);
	addEventListener('mousemove', () => {
		const now = Date.now();
		if (now - s.lastMoveAt > 1500) s.moves = 0;
		s.lastMoveAt = now;
		s.moves++;
		if (s.moves > 10) s.interacted = true;
	}, true);
	const activated = () => {
		if (document.visibilityState === 'visible' && window.__twActivated) {
			window.__twActivated('');
		}
	};
	addEventListener('focus', activated, true);
	document.addEventListener('visibilitychange', activated, true);
})()`

// collectorJS reads the current read-signal record. Returns null when the
// tracker script never ran in this page, which callers must treat as
// metrics-unavailable.
const collectorJS = `() => {
	if (!window.__twTrack) return null;
	return JSON.stringify({
		scrollY: window.scrollY,
		pageHeight: Math.max(
			document.body ? document.body.scrollHeight : 0,
			document.documentElement ? document.documentElement.scrollHeight : 0),
		viewHeight: window.innerHeight,
		hasInteracted: window.__twTrack.interacted,
		timestamp: Date.now(),
	});
}`

// audibleJS detects actively playing, unmuted media.
const audibleJS = `() => {
	const media = document.querySelectorAll('audio,video');
	for (const m of media) {
		if (!m.paused && !m.muted) return true;
	}
	return false;
}`

// RodConfig configures the CDP host.
type RodConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headless controls local launches; attaching to a remote instance
	// ignores it.
	Headless bool

	// RecentLimit bounds the recently-closed ring. Default: 25.
	RecentLimit int

	Logger *slog.Logger
}

func (c *RodConfig) defaults() {
	if c.RecentLimit <= 0 {
		c.RecentLimit = 25
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// closedSnapshot is one entry of the recently-closed ring. Recorded from
// TargetDestroyed, which arrives after (and asynchronously from) CloseTab.
type closedSnapshot struct {
	sessionID string
	url       string
	windowID  int
	index     int
	closedAt  time.Time
}

// RodHost drives a Chrome instance over CDP via Rod. It attaches every
// page target, injects the tracker script, and translates target events
// into TabEvents.
type RodHost struct {
	cfg     RodConfig
	log     *slog.Logger
	browser *rod.Browser
	lnch    *launcher.Launcher

	mu         sync.Mutex
	pages      map[TabID]*rod.Page
	urlsByID   map[TabID]string
	lastActive map[TabID]time.Time
	recent     []closedSnapshot
	closed     bool

	events chan TabEvent
}

// NewRodHost creates a RodHost. Call Start to attach.
func NewRodHost(cfg RodConfig) *RodHost {
	cfg.defaults()
	return &RodHost{
		cfg:        cfg,
		log:        cfg.Logger,
		pages:      make(map[TabID]*rod.Page),
		urlsByID:   make(map[TabID]string),
		lastActive: make(map[TabID]time.Time),
		events:     make(chan TabEvent, 64),
	}
}

// Start connects to Chrome (or launches one), attaches all existing page
// targets, and begins translating target events.
func (h *RodHost) Start(ctx context.Context) error {
	var wsURL string
	if h.cfg.RemoteURL != "" {
		wsURL = h.cfg.RemoteURL
		h.log.Info("host: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().Headless(h.cfg.Headless)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("host: launch: %w", err)
		}
		wsURL = u
		h.lnch = l
		h.log.Info("host: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("host: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		h.log.Warn("host: ignore cert errors failed", "error", err)
	}
	h.browser = b

	// Attach pre-existing tabs before subscribing, so the first scan sees
	// tabs that were open before the daemon started.
	pages, err := b.Pages()
	if err != nil {
		return fmt.Errorf("host: list pages: %w", err)
	}
	for _, p := range pages {
		h.attach(p)
	}

	go h.eventLoop(ctx)
	return nil
}

func (h *RodHost) eventLoop(ctx context.Context) {
	wait := h.browser.Context(ctx).EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo.Type != "page" {
				return
			}
			p, err := h.browser.PageFromTarget(e.TargetInfo.TargetID)
			if err != nil {
				h.log.Warn("host: attach created target failed",
					"target", e.TargetInfo.TargetID, "error", err)
				return
			}
			info := h.attach(p)
			h.emit(TabEvent{Kind: TabCreated, Tab: info, At: time.Now()})
		},
		func(e *proto.TargetTargetInfoChanged) {
			if e.TargetInfo.Type != "page" {
				return
			}
			id := TabID(e.TargetInfo.TargetID)
			h.mu.Lock()
			_, known := h.pages[id]
			h.mu.Unlock()
			if !known {
				return
			}
			// InfoChanged fires for title updates too; only URL changes
			// count as navigation.
			h.mu.Lock()
			prev := h.urlsByID[id]
			if prev == e.TargetInfo.URL {
				h.mu.Unlock()
				return
			}
			h.urlsByID[id] = e.TargetInfo.URL
			h.mu.Unlock()
			h.emit(TabEvent{
				Kind: TabNavigated,
				Tab:  TabInfo{ID: id, URL: e.TargetInfo.URL, Title: e.TargetInfo.Title, Index: -1},
				At:   time.Now(),
			})
		},
		func(e *proto.TargetTargetDestroyed) {
			id := TabID(e.TargetID)
			h.mu.Lock()
			_, known := h.pages[id]
			if !known {
				h.mu.Unlock()
				return
			}
			url := h.urlsByID[id]
			delete(h.pages, id)
			delete(h.lastActive, id)
			delete(h.urlsByID, id)
			h.recent = append(h.recent, closedSnapshot{
				sessionID: "sess_" + uuid.Must(uuid.NewV7()).String(),
				url:       url,
				index:     -1,
				closedAt:  time.Now(),
			})
			if len(h.recent) > h.cfg.RecentLimit {
				h.recent = h.recent[len(h.recent)-h.cfg.RecentLimit:]
			}
			h.mu.Unlock()
			h.emit(TabEvent{Kind: TabRemoved, Tab: TabInfo{ID: id, URL: url, Index: -1}, At: time.Now()})
		},
	)
	wait()
}

// attach registers a page, installs the tracker script for current and
// future documents, and hooks the activation binding.
func (h *RodHost) attach(p *rod.Page) TabInfo {
	id := TabID(p.TargetID)

	info := TabInfo{ID: id, Index: -1}
	if ti, err := p.Info(); err == nil {
		info.URL = ti.URL
		info.Title = ti.Title
	}

	h.mu.Lock()
	h.pages[id] = p
	h.urlsByID[id] = info.URL
	h.mu.Unlock()

	// Future documents in this tab get the tracker before any page script.
	if _, err := (proto.PageAddScriptToEvaluateOnNewDocument{Source: trackerJS}).Call(p); err != nil {
		h.log.Debug("host: tracker install (new document) failed", "tab", id, "error", err)
	}
	// The current document needs it immediately.
	if _, err := p.Eval(trackerJS); err != nil {
		h.log.Debug("host: tracker install failed", "tab", id, "error", err)
	}

	if _, err := p.Expose("__twActivated", func(gson.JSON) (interface{}, error) {
		now := time.Now()
		h.mu.Lock()
		h.lastActive[id] = now
		url := h.urlsByID[id]
		h.mu.Unlock()
		h.emit(TabEvent{Kind: TabActivated, Tab: TabInfo{ID: id, URL: url, Index: -1}, At: now})
		return nil, nil
	}); err != nil {
		h.log.Debug("host: activation binding failed", "tab", id, "error", err)
	}

	return info
}

// emit sends without blocking. The mutex is held across the send so Close
// cannot close the channel between the closed check and the send; CDP
// callbacks keep firing until the browser connection is actually torn down.
func (h *RodHost) emit(ev TabEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.events <- ev:
	default:
		h.log.Warn("host: event buffer full, dropping", "kind", ev.Kind.String(), "tab", ev.Tab.ID)
	}
}

func (h *RodHost) page(id TabID) (*rod.Page, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pages[id]
	return p, ok
}

// Tabs lists all attached page targets.
func (h *RodHost) Tabs(ctx context.Context) ([]TabInfo, error) {
	h.mu.Lock()
	ids := make([]TabID, 0, len(h.pages))
	for id := range h.pages {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	tabs := make([]TabInfo, 0, len(ids))
	for _, id := range ids {
		info, err := h.Tab(ctx, id)
		if err != nil {
			continue // closed in the meantime
		}
		tabs = append(tabs, info)
	}
	return tabs, nil
}

// Tab snapshots one tab. Pinned state is not observable over CDP and is
// always reported false.
func (h *RodHost) Tab(ctx context.Context, id TabID) (TabInfo, error) {
	p, ok := h.page(id)
	if !ok {
		return TabInfo{}, ErrTabGone
	}

	info := TabInfo{ID: id, Index: -1}
	ti, err := p.Context(ctx).Info()
	if err != nil {
		return TabInfo{}, fmt.Errorf("host: tab info %s: %w", id, ErrTabGone)
	}
	info.URL = ti.URL
	info.Title = ti.Title

	h.mu.Lock()
	info.LastActiveAt = h.lastActive[id]
	h.mu.Unlock()

	if res, err := p.Context(ctx).Eval(audibleJS); err == nil {
		info.Audible = res.Value.Bool()
	}
	return info, nil
}

// CloseTab closes the tab's page target.
func (h *RodHost) CloseTab(ctx context.Context, id TabID) error {
	p, ok := h.page(id)
	if !ok {
		return ErrTabGone
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("host: close %s: %w", id, err)
	}
	return nil
}

// OpenTab opens url in a fresh stealth page. Placement hints cannot be
// honoured over CDP beyond opening in the same browser.
func (h *RodHost) OpenTab(ctx context.Context, url string, hint *PlacementHint) (TabInfo, error) {
	p, err := stealth.Page(h.browser)
	if err != nil {
		return TabInfo{}, fmt.Errorf("host: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := p.Context(navCtx).Navigate(url); err != nil {
		p.Close()
		return TabInfo{}, fmt.Errorf("host: navigate %s: %w", url, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		h.log.Warn("host: wait load timeout", "url", url, "error", err)
	}

	return h.attach(p), nil
}

// CollectMetrics evaluates the collector in the page. ErrNoMetrics when the
// tab is gone, the tracker never ran, or evaluation is refused.
func (h *RodHost) CollectMetrics(ctx context.Context, id TabID) (*Metrics, error) {
	p, ok := h.page(id)
	if !ok {
		return nil, ErrNoMetrics
	}

	res, err := p.Context(ctx).Eval(collectorJS)
	if err != nil {
		return nil, fmt.Errorf("host: collect %s: %w", id, ErrNoMetrics)
	}
	if res.Value.Nil() {
		return nil, ErrNoMetrics
	}

	var m Metrics
	if err := json.Unmarshal([]byte(res.Value.Str()), &m); err != nil {
		return nil, fmt.Errorf("host: decode metrics %s: %w", id, ErrNoMetrics)
	}
	return &m, nil
}

// RecentlyClosed scans the ring newest-first for a snapshot matching url.
func (h *RodHost) RecentlyClosed(ctx context.Context, url string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.recent) - 1; i >= 0; i-- {
		if h.recent[i].url == url {
			return h.recent[i].sessionID, true
		}
	}
	return "", false
}

// RestoreSession reopens the snapshot's URL and consumes the record.
func (h *RodHost) RestoreSession(ctx context.Context, sessionID string) (TabInfo, error) {
	h.mu.Lock()
	var snap closedSnapshot
	found := false
	for i := range h.recent {
		if h.recent[i].sessionID == sessionID {
			snap = h.recent[i]
			h.recent = append(h.recent[:i], h.recent[i+1:]...)
			found = true
			break
		}
	}
	h.mu.Unlock()

	if !found {
		return TabInfo{}, fmt.Errorf("host: unknown session %s", sessionID)
	}
	return h.OpenTab(ctx, snap.url, &PlacementHint{WindowID: snap.windowID, Index: snap.index})
}

// Events returns the lifecycle event stream.
func (h *RodHost) Events() <-chan TabEvent { return h.events }

// Close detaches from Chrome and, for local launches, kills it.
func (h *RodHost) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.events)
	h.mu.Unlock()

	if h.browser != nil {
		h.browser.Close()
	}
	if h.lnch != nil {
		h.lnch.Cleanup()
	}
	return nil
}
