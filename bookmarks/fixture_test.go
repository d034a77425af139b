package bookmarks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	rodcdp "github.com/go-rod/rod/lib/cdp"

	"github.com/hazyhaar/xharvest/bookmarks/internal/cdp"
	"github.com/hazyhaar/xharvest/bookmarks/internal/cdp/cdptest"
	"github.com/hazyhaar/xharvest/bookmarks/internal/scripts"
	"github.com/hazyhaar/xharvest/bookmarks/seed"
)

const feedURL = "https://x.com/i/bookmarks"

type entry struct {
	StatusID string `json:"statusId"`
	Author   string `json:"author"`
	Text     string `json:"text"`
	URL      string `json:"url"`
}

type post struct {
	Meta    map[string]any
	Signals map[string]any
}

// fakeSite scripts one logged-in browser: a feed whose visible window
// changes per harvest, and direct post pages.
type fakeSite struct {
	t *testing.T

	mu        sync.Mutex
	url       string
	landing   string // overrides the location after navigating to the feed
	harvests  int
	scrolls   int
	views     [][]entry // visible entries per harvest; the last repeats
	posts     map[string]post
	navigated []string
	dials     int
	peers     []*cdptest.Peer
}

func newFakeSite(t *testing.T) *fakeSite {
	return &fakeSite{t: t, posts: make(map[string]post)}
}

func postURL(author, id string) string {
	return "https://x.com/" + author + "/status/" + id
}

// feed sets the visible window per harvest.
func (f *fakeSite) feed(views ...[]entry) { f.views = views }

// singlePost adds a non-thread post.
func (f *fakeSite) singlePost(author, id, text string) {
	f.posts[id] = post{
		Meta: map[string]any{
			"author": author, "authorName": strings.ToUpper(author), "text": text,
			"html":      `<p>` + text + ` <a href="https://example.com/ref">ref</a></p>`,
			"timestamp": "2026-01-02T03:04:05.000Z",
		},
		Signals: map[string]any{
			"blocks": []map[string]any{{"author": author, "text": text}},
		},
	}
}

// threadPost adds a consecutive-author thread with a show-thread control.
func (f *fakeSite) threadPost(author, id string, parts ...string) {
	blocks := make([]map[string]any, len(parts))
	for i, p := range parts {
		blocks[i] = map[string]any{"author": author, "text": p}
	}
	f.posts[id] = post{
		Meta:    map[string]any{"author": author, "text": parts[0]},
		Signals: map[string]any{"blocks": blocks, "showThread": true},
	}
}

func (f *fakeSite) eval(expr string) (any, string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case expr == scripts.CollectItems.Source:
		if len(f.views) == 0 {
			return []entry{}, ""
		}
		i := min(f.harvests, len(f.views)-1)
		f.harvests++
		return f.views[i], ""
	case expr == scripts.ItemMetadata.Source:
		p, ok := f.current()
		if !ok {
			return nil, ""
		}
		return p.Meta, ""
	case expr == scripts.ThreadSignals.Source:
		p, ok := f.current()
		if !ok {
			return map[string]any{"blocks": []any{}}, ""
		}
		return p.Signals, ""
	case expr == "window.location.href":
		return f.url, ""
	case expr == "window.scrollY":
		return f.scrolls * 600, ""
	case strings.HasPrefix(expr, "window.scrollBy"):
		f.scrolls++
		return nil, ""
	}
	f.t.Errorf("unexpected expression: %.60q", expr)
	return nil, "unexpected expression"
}

func (f *fakeSite) current() (post, bool) {
	id, err := seed.StatusID(f.url)
	if err != nil {
		return post{}, false
	}
	p, ok := f.posts[id]
	return p, ok
}

func (f *fakeSite) navigate(params json.RawMessage) (any, *rodcdp.Error) {
	var req struct {
		URL string `json:"url"`
	}
	json.Unmarshal(params, &req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, req.URL)
	f.url = req.URL
	if req.URL == feedURL && f.landing != "" {
		f.url = f.landing
	}
	return map[string]any{"frameId": "F1"}, nil
}

// dial is the injected Dialer: each call gets a fresh scripted peer.
func (f *fakeSite) dial(ctx context.Context, _ string, opts ...cdp.Option) (*cdp.Channel, error) {
	peer := cdptest.NewPeer()
	peer.HandleEval(f.eval)
	peer.Handle("Page.navigate", f.navigate)

	f.mu.Lock()
	f.dials++
	f.peers = append(f.peers, peer)
	f.mu.Unlock()

	return cdp.Open(ctx, peer, opts...)
}

func (f *fakeSite) navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigated...)
}

// discoveryServer serves /json/version and /json/list with one feed tab.
func discoveryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"Browser":          "Chrome/130.0.0.0",
			"Protocol-Version": "1.3",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{
			{"id": "T0", "type": "page", "url": "https://example.com/", "webSocketDebuggerUrl": "ws://fake/devtools/page/T0"},
			{"id": "T1", "type": "page", "url": feedURL, "webSocketDebuggerUrl": "ws://fake/devtools/page/T1"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// newTestAdapter wires an Adapter to site through a discovery server.
func newTestAdapter(t *testing.T, site *fakeSite, opts ...Option) *Adapter {
	t.Helper()
	srv := discoveryServer(t)

	cfg := DefaultConfig()
	cfg.Browser.Endpoint = srv.URL
	cfg.RateLimit.MaxNoNewItems = 2

	base := []Option{WithDialer(site.dial), WithSleeper(noSleep)}
	a, err := New(cfg, nil, append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}
