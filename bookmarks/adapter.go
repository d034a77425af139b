// Package bookmarks ingests a logged-in user's saved posts from an already
// running browser. It attaches to the browser over the DevTools protocol,
// scrolls the bookmarks feed to collect item references, then visits each
// item and turns it into a Seed for the rest of the pipeline.
//
// The browser tab is a single stateful resource: every operation that
// touches it runs serially, whatever transport called it.
package bookmarks

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/xharvest/bookmarks/internal/cdp"
	"github.com/hazyhaar/xharvest/bookmarks/internal/collector"
	"github.com/hazyhaar/xharvest/bookmarks/internal/extractor"
	"github.com/hazyhaar/xharvest/bookmarks/internal/page"
	"github.com/hazyhaar/xharvest/bookmarks/internal/render"
	"github.com/hazyhaar/xharvest/bookmarks/internal/sink"
	"github.com/hazyhaar/xharvest/bookmarks/seed"
	"github.com/hazyhaar/xharvest/netguard"
)

// ErrAdapterClosed is returned by operations after Close.
var ErrAdapterClosed = errors.New("bookmarks: adapter closed")

// Dialer opens a Command Channel on a tab's control endpoint.
type Dialer func(ctx context.Context, wsURL string, opts ...cdp.Option) (*cdp.Channel, error)

// ProcessedFunc reports whether sourceID was already ingested.
type ProcessedFunc func(ctx context.Context, sourceID string) (bool, error)

// MarkFunc records sourceID as ingested.
type MarkFunc func(ctx context.Context, sourceID string) error

// Option configures an Adapter.
type Option func(*Adapter)

// WithDialer replaces cdp.Dial.
func WithDialer(d Dialer) Option { return func(a *Adapter) { a.dial = d } }

// WithHTTPClient sets the client used for target discovery.
func WithHTTPClient(c *http.Client) Option { return func(a *Adapter) { a.httpClient = c } }

// WithProcessedStore delegates IsProcessed and MarkProcessed to an
// external dedup store. Either function may be nil.
func WithProcessedStore(isProcessed ProcessedFunc, mark MarkFunc) Option {
	return func(a *Adapter) {
		a.isProcessed = isProcessed
		a.markProcessed = mark
	}
}

// WithSinks sets where Import delivers items, seeds and failures.
func WithSinks(sinks ...Sink) Option { return func(a *Adapter) { a.sinks = sinks } }

// WithCollectProgress reports every scroll iteration.
func WithCollectProgress(f func(CollectProgress)) Option {
	return func(a *Adapter) { a.onCollect = f }
}

// WithExtractProgress reports every item before it is extracted.
func WithExtractProgress(f ExtractProgressFunc) Option {
	return func(a *Adapter) { a.onExtract = f }
}

// WithSleeper replaces the page driver's context-aware sleep.
func WithSleeper(f func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Adapter) { a.sleep = f }
}

// session is one attached tab.
type session struct {
	tab  cdp.Tab
	ch   *cdp.Channel
	page *page.Driver
}

func (s *session) alive() bool {
	select {
	case <-s.ch.Done():
		return false
	default:
		return true
	}
}

// Adapter is the ingestion core behind one browser. It attaches lazily on
// first use and keeps the session until Close or until the connection
// drops, in which case the next call attaches again.
type Adapter struct {
	cfg        *Config
	logger     *slog.Logger
	tabMatch   *regexp.Regexp
	httpClient *http.Client
	disc       *cdp.Discovery
	dial       Dialer
	sleep      func(ctx context.Context, d time.Duration) error
	renderer   *render.Renderer

	isProcessed   ProcessedFunc
	markProcessed MarkFunc
	sinks         []Sink
	sinkR         *sink.Router
	onCollect     func(CollectProgress)
	onExtract     ExtractProgressFunc

	attach singleflight.Group
	tabMu  sync.Mutex // serializes use of the tab

	mu        sync.Mutex
	sess      *session
	closed    bool
	processed map[string]struct{}
}

// New creates an Adapter. A nil cfg uses DefaultConfig.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Adapter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	re, err := regexp.Compile(cfg.Browser.TabMatch)
	if err != nil {
		return nil, fmt.Errorf("bookmarks: tab match: %w", err)
	}

	a := &Adapter{
		cfg:       cfg,
		logger:    logger,
		tabMatch:  re,
		dial:      cdp.Dial,
		renderer:  render.New(),
		processed: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	a.disc = cdp.NewDiscovery(cfg.Browser.Endpoint, a.httpClient)
	a.sinkR = sink.NewRouter(logger, a.sinks...)
	return a, nil
}

// BrowserInfo is what target discovery reports, without attaching.
type BrowserInfo struct {
	Endpoint string      `json:"endpoint"`
	Version  cdp.Version `json:"version"`
	Tabs     []cdp.Tab   `json:"tabs"`
	Selected *cdp.Tab    `json:"selected,omitempty"`
}

// Browser checks the browser is reachable and lists its tabs along with
// the one the Adapter would attach to.
func (a *Adapter) Browser(ctx context.Context) (*BrowserInfo, error) {
	v, err := a.disc.CheckReachable(ctx)
	if err != nil {
		return nil, err
	}
	tabs, err := a.disc.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	info := &BrowserInfo{Endpoint: a.disc.Endpoint(), Version: *v, Tabs: tabs}
	if t, err := cdp.SelectTab(tabs, a.tabMatch); err == nil {
		info.Selected = &t
	}
	return info, nil
}

// session returns the live session, attaching when there is none.
// Concurrent first callers share one attach.
func (a *Adapter) session(ctx context.Context) (*session, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrAdapterClosed
	}
	if s := a.sess; s != nil && s.alive() {
		a.mu.Unlock()
		return s, nil
	}
	a.mu.Unlock()

	// The attach outlives any one caller: a waiter that gives up must not
	// fail the others sharing it.
	ch := a.attach.DoChan("session", func() (any, error) {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.attachTimeout())
		defer cancel()
		return a.open(actx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*session), nil
	}
}

// attachTimeout bounds discovery, dial and stealth injection together.
func (a *Adapter) attachTimeout() time.Duration {
	return 2 * a.cfg.Browser.CallTimeout
}

func (a *Adapter) open(ctx context.Context) (*session, error) {
	if _, err := a.disc.CheckReachable(ctx); err != nil {
		return nil, err
	}
	tab, err := a.disc.FindOrFirst(ctx, a.tabMatch)
	if err != nil {
		return nil, err
	}

	ch, err := a.dial(ctx, tab.ControlEndpoint,
		cdp.WithLogger(a.logger),
		cdp.WithCallTimeout(a.cfg.Browser.CallTimeout))
	if err != nil {
		return nil, fmt.Errorf("bookmarks: attach %s: %w", tab.URL, err)
	}

	popts := []page.Option{page.WithLogger(a.logger)}
	if a.sleep != nil {
		popts = append(popts, page.WithSleeper(a.sleep))
	}
	s := &session{tab: tab, ch: ch, page: page.New(ch, popts...)}

	if a.cfg.StealthEnabled() {
		if err := s.page.InjectStealth(ctx); err != nil {
			ch.Close()
			return nil, fmt.Errorf("bookmarks: attach %s: %w", tab.URL, err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		ch.Close()
		return nil, ErrAdapterClosed
	}
	if old := a.sess; old != nil {
		old.ch.Close()
	}
	a.sess = s
	a.logger.Info("bookmarks: attached", "tab", tab.ID, "url", tab.URL)
	return s, nil
}

// Collect scrolls the configured feed and returns every reference found,
// with how and why the run stopped. On a mid-run failure the partial
// result comes back with the error.
func (a *Adapter) Collect(ctx context.Context) (*CollectResult, error) {
	a.tabMu.Lock()
	defer a.tabMu.Unlock()

	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	res, err := collector.Collect(ctx, s.page, a.cfg.Feed.URL, collector.Config{
		Policy:     a.cfg.RateLimit,
		FeedMatch:  a.cfg.Feed.Match,
		OnProgress: a.onCollect,
		Logger:     a.logger,
	})
	if res != nil {
		a.logger.Info("bookmarks: collected",
			"items", len(res.Items), "scrolls", res.ScrollCount,
			"stop", res.StopReason, "duration", seed.FormatDuration(res.Duration))
	}
	return res, err
}

// CollectItems is Collect returning only the references.
func (a *Adapter) CollectItems(ctx context.Context) ([]Item, error) {
	res, err := a.Collect(ctx)
	if res == nil {
		return nil, err
	}
	return res.Items, err
}

func (a *Adapter) extractor(s *session) *extractor.Extractor {
	return extractor.New(s.page, extractor.Config{
		Policy:   a.cfg.RateLimit,
		Source:   seed.SourceXBookmarks,
		Renderer: a.renderer,
		Logger:   a.logger,
	})
}

// ExtractContent extracts one item. No partial Seed is ever returned.
func (a *Adapter) ExtractContent(ctx context.Context, item Item) (Seed, error) {
	a.tabMu.Lock()
	defer a.tabMu.Unlock()

	s, err := a.session(ctx)
	if err != nil {
		return Seed{}, err
	}
	return a.extractor(s).Extract(ctx, item)
}

// ExtractURL extracts the item at a direct post URL. URLs that are not
// http(s) or that point at a private address are refused before the
// browser is touched.
func (a *Adapter) ExtractURL(ctx context.Context, url string) (Seed, error) {
	if err := netguard.CheckURL(url, nil); err != nil {
		return Seed{}, fmt.Errorf("bookmarks: extract url: %w", err)
	}
	id, err := seed.StatusID(url)
	if err != nil {
		return Seed{}, err
	}
	return a.ExtractContent(ctx, Item{SourceID: id, URL: url})
}

// Extract yields one Outcome per item in input order. The tab stays
// reserved while the sequence is being iterated. When the session cannot
// be established or drops mid-run, every item not yet extracted yields a
// retryable failure carrying that error.
func (a *Adapter) Extract(ctx context.Context, items []Item) iter.Seq[Outcome] {
	return func(yield func(Outcome) bool) {
		seq, stopped := a.stream(ctx, items)
		n := 0
		for o := range seq {
			n++
			if !yield(o) {
				return
			}
		}
		if err := stopped(); err != nil {
			for _, it := range items[n:] {
				if !yield(seed.Failure(it, err, true)) {
					return
				}
			}
		}
	}
}

// stream is Extract for callers that must stop on a session failure
// rather than count it per item. The sequence ends at the first such
// failure without yielding it; stopped then returns it.
func (a *Adapter) stream(ctx context.Context, items []Item) (seq iter.Seq[Outcome], stopped func() error) {
	var stop error
	seq = func(yield func(Outcome) bool) {
		a.tabMu.Lock()
		defer a.tabMu.Unlock()

		s, err := a.session(ctx)
		if err != nil {
			stop = err
			return
		}
		for o := range a.extractor(s).Stream(ctx, items, a.onExtract) {
			if !o.OK() && sessionLost(o.Cause) {
				stop = o.Cause
				return
			}
			if !yield(o) {
				return
			}
		}
	}
	return seq, func() error { return stop }
}

// sessionLost reports whether err ends the session rather than one item.
func sessionLost(err error) bool {
	var unreachable *UnreachableError
	return errors.As(err, &unreachable) ||
		errors.Is(err, cdp.ErrClosed) ||
		errors.Is(err, ErrNoTab) ||
		errors.Is(err, ErrAdapterClosed)
}

// IsProcessed reports whether sourceID was marked in this Adapter's
// lifetime or by the external store.
func (a *Adapter) IsProcessed(ctx context.Context, sourceID string) (bool, error) {
	a.mu.Lock()
	_, ok := a.processed[sourceID]
	a.mu.Unlock()
	if ok || a.isProcessed == nil {
		return ok, nil
	}
	return a.isProcessed(ctx, sourceID)
}

// MarkProcessed records sourceID in memory, then in the external store.
func (a *Adapter) MarkProcessed(ctx context.Context, sourceID string) error {
	a.mu.Lock()
	a.processed[sourceID] = struct{}{}
	a.mu.Unlock()
	if a.markProcessed == nil {
		return nil
	}
	return a.markProcessed(ctx, sourceID)
}

// Close releases the session and the sinks. Safe to call when never
// attached, and more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	s := a.sess
	a.sess = nil
	a.mu.Unlock()

	var errs []error
	if s != nil {
		if err := s.ch.Close(); err != nil {
			errs = append(errs, err)
		}
		a.logger.Info("bookmarks: detached", "tab", s.tab.ID)
	}
	if err := a.sinkR.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
