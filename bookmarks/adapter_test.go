package bookmarks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"

	"github.com/hazyhaar/xharvest/bookmarks/internal/cdp"
	"github.com/hazyhaar/xharvest/bookmarks/seed"
	"github.com/hazyhaar/xharvest/netguard"
)

func TestCollect_StopsAfterStreak(t *testing.T) {
	site := newFakeSite(t)
	site.feed(
		[]entry{{StatusID: "1", URL: postURL("a", "1")}, {StatusID: "2", URL: postURL("a", "2")}},
		[]entry{{StatusID: "2", URL: postURL("a", "2")}, {StatusID: "3", URL: postURL("b", "3"), Text: "1/ a thread"}},
		[]entry{{StatusID: "3", URL: postURL("b", "3")}, {StatusID: "4", URL: postURL("b", "4")}},
	)

	var progress []CollectProgress
	a := newTestAdapter(t, site, WithCollectProgress(func(p CollectProgress) { progress = append(progress, p) }))

	res, err := a.Collect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(res.Items))
	for i, it := range res.Items {
		ids[i] = it.SourceID
	}
	if !slices.Equal(ids, []string{"1", "2", "3", "4"}) {
		t.Errorf("ids = %v", ids)
	}
	if res.StopReason != "exhausted" {
		t.Errorf("stop reason = %q", res.StopReason)
	}
	if len(progress) != 5 || res.ScrollCount != 4 {
		t.Errorf("harvests = %d, scrolls = %d; want 5, 4", len(progress), res.ScrollCount)
	}
	if !res.Items[2].ThreadHint {
		t.Error("thread marker in preview not flagged")
	}
	if res.LastPosition != 2400 {
		t.Errorf("last position = %v", res.LastPosition)
	}
	if nav := site.navigations(); len(nav) != 1 || nav[0] != feedURL {
		t.Errorf("navigations = %v", nav)
	}
}

func TestCollect_NavigationMismatch(t *testing.T) {
	site := newFakeSite(t)
	site.landing = "https://x.com/i/flow/login"
	a := newTestAdapter(t, site)

	_, err := a.CollectItems(context.Background())
	var mm *NavigationMismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("got %v, want NavigationMismatchError", err)
	}
	if mm.Got != site.landing {
		t.Errorf("got location %q", mm.Got)
	}
}

func TestExtractContent_Thread(t *testing.T) {
	site := newFakeSite(t)
	site.threadPost("carol", "77", "first", "second", "third")
	a := newTestAdapter(t, site)

	s, err := a.ExtractContent(context.Background(), Item{SourceID: "77", URL: postURL("carol", "77")})
	if err != nil {
		t.Fatal(err)
	}
	if !s.IsThread || len(s.Content) != 3 || s.Content[2] != "third" {
		t.Errorf("seed: thread=%v content=%q", s.IsThread, s.Content)
	}
	if s.Metadata[seed.MetaThreadConfidence] != 1.0 {
		t.Errorf("confidence = %v", s.Metadata[seed.MetaThreadConfidence])
	}
}

func TestExtractURL_Single(t *testing.T) {
	site := newFakeSite(t)
	site.singlePost("dave", "5", "just one")
	a := newTestAdapter(t, site)

	s, err := a.ExtractURL(context.Background(), postURL("dave", "5"))
	if err != nil {
		t.Fatal(err)
	}
	if s.IsThread || len(s.Content) != 1 || s.Content[0] != "just one" {
		t.Errorf("seed: %+v", s)
	}
	if s.Metadata[seed.MetaAuthorName] != "DAVE" {
		t.Errorf("author name = %v", s.Metadata[seed.MetaAuthorName])
	}
	if links, _ := s.Metadata[seed.MetaLinks].([]string); len(links) != 1 {
		t.Errorf("links = %v", s.Metadata[seed.MetaLinks])
	}

	if _, err := a.ExtractURL(context.Background(), "https://x.com/home"); !errors.As(err, new(*InvalidReferenceError)) {
		t.Errorf("bad url: got %v", err)
	}
	if _, err := a.ExtractURL(context.Background(), "http://10.0.0.1/a/status/6"); !errors.Is(err, netguard.ErrPrivateTarget) {
		t.Errorf("private url: got %v", err)
	}
	if slices.Contains(site.navigations(), "http://10.0.0.1/a/status/6") {
		t.Error("browser sent to a private address")
	}
}

func TestSession_AttachedOnceAndReused(t *testing.T) {
	site := newFakeSite(t)
	site.singlePost("a", "1", "x")
	site.singlePost("a", "2", "y")
	a := newTestAdapter(t, site)

	var wg sync.WaitGroup
	for _, id := range []string{"1", "2", "1", "2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.ExtractURL(context.Background(), postURL("a", id)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if site.dials != 1 {
		t.Errorf("dials = %d, want 1", site.dials)
	}
	if got := len(site.peers[0].CallsTo("Page.addScriptToEvaluateOnNewDocument")); got != 1 {
		t.Errorf("stealth injected %d times", got)
	}
}

func TestSession_ReattachAfterDrop(t *testing.T) {
	site := newFakeSite(t)
	site.singlePost("a", "1", "x")
	a := newTestAdapter(t, site)
	ctx := context.Background()

	if _, err := a.ExtractURL(ctx, postURL("a", "1")); err != nil {
		t.Fatal(err)
	}
	site.peers[0].Close()
	<-a.sess.ch.Done()

	if _, err := a.ExtractURL(ctx, postURL("a", "1")); err != nil {
		t.Fatalf("after drop: %v", err)
	}
	if site.dials != 2 {
		t.Errorf("dials = %d, want 2", site.dials)
	}
}

func TestStealthDisabled(t *testing.T) {
	site := newFakeSite(t)
	site.singlePost("a", "1", "x")
	off := false
	a := newTestAdapter(t, site)
	a.cfg.Browser.Stealth = &off

	if _, err := a.ExtractURL(context.Background(), postURL("a", "1")); err != nil {
		t.Fatal(err)
	}
	if got := len(site.peers[0].CallsTo("Page.addScriptToEvaluateOnNewDocument")); got != 0 {
		t.Errorf("stealth injected %d times", got)
	}
}

func TestExtract_OrderAndFailures(t *testing.T) {
	site := newFakeSite(t)
	site.singlePost("a", "1", "one")
	site.singlePost("a", "3", "three")
	var seen []int
	a := newTestAdapter(t, site, WithExtractProgress(func(cur, total int, _ Item) { seen = append(seen, cur) }))

	items := []Item{
		{SourceID: "1", URL: postURL("a", "1")},
		{SourceID: "2", URL: postURL("a", "2")},
		{SourceID: "3", URL: postURL("a", "3")},
	}
	var out []Outcome
	for o := range a.Extract(context.Background(), items) {
		out = append(out, o)
	}
	if len(out) != 3 {
		t.Fatalf("outcomes = %d", len(out))
	}
	if !out[0].OK() || out[1].OK() || !out[2].OK() {
		t.Errorf("ok pattern: %v %v %v", out[0].OK(), out[1].OK(), out[2].OK())
	}
	if out[1].Item.SourceID != "2" || !out[1].Retryable {
		t.Errorf("failure outcome: %+v", out[1])
	}
	if !slices.Equal(seen, []int{1, 2, 3}) {
		t.Errorf("progress = %v", seen)
	}
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	cfg := DefaultConfig()
	cfg.Browser.Endpoint = srv.URL
	a, err := New(cfg, nil, WithDialer(func(context.Context, string, ...cdp.Option) (*cdp.Channel, error) {
		t.Fatal("dialed without a reachable browser")
		return nil, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	_, err = a.CollectItems(context.Background())
	var ue *UnreachableError
	if !errors.As(err, &ue) {
		t.Fatalf("got %v, want UnreachableError", err)
	}
	if _, err := a.Browser(context.Background()); !errors.As(err, &ue) {
		t.Fatalf("Browser: got %v", err)
	}
}

func TestProcessed_LayeredOverStore(t *testing.T) {
	external := map[string]bool{"old": true}
	var marked []string
	a, err := New(nil, nil, WithProcessedStore(
		func(_ context.Context, id string) (bool, error) { return external[id], nil },
		func(_ context.Context, id string) error { marked = append(marked, id); return nil },
	))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	ctx := context.Background()

	if ok, _ := a.IsProcessed(ctx, "old"); !ok {
		t.Error("external id not processed")
	}
	if ok, _ := a.IsProcessed(ctx, "new"); ok {
		t.Error("new id processed")
	}
	if err := a.MarkProcessed(ctx, "new"); err != nil {
		t.Fatal(err)
	}
	delete(external, "new")
	if ok, _ := a.IsProcessed(ctx, "new"); !ok {
		t.Error("same-run mark forgotten")
	}
	if !slices.Equal(marked, []string{"new"}) {
		t.Errorf("marked = %v", marked)
	}
}

func TestClose(t *testing.T) {
	a, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close never attached: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := a.CollectItems(context.Background()); !errors.Is(err, ErrAdapterClosed) {
		t.Fatalf("after close: %v", err)
	}

	site := newFakeSite(t)
	site.singlePost("a", "1", "x")
	b := newTestAdapter(t, site)
	if _, err := b.ExtractURL(context.Background(), postURL("a", "1")); err != nil {
		t.Fatal(err)
	}
	ch := b.sess.ch
	b.Close()
	select {
	case <-ch.Done():
	default:
		t.Fatal("channel still open after Close")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.MaxTotalScrolls = -1
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestSession_AttachSurvivesCancelledCaller(t *testing.T) {
	site := newFakeSite(t)
	dialing := make(chan struct{})
	release := make(chan struct{})
	var dialCtxErr error
	slowDial := func(ctx context.Context, ws string, opts ...cdp.Option) (*cdp.Channel, error) {
		close(dialing)
		<-release
		dialCtxErr = ctx.Err()
		return site.dial(ctx, ws, opts...)
	}
	a := newTestAdapter(t, site, WithDialer(slowDial))

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := a.session(first)
		firstErr <- err
	}()
	<-dialing

	second := make(chan error, 1)
	go func() {
		_, err := a.session(context.Background())
		second <- err
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: got %v", err)
	}
	close(release)
	if err := <-second; err != nil {
		t.Fatalf("waiting caller: %v", err)
	}
	if dialCtxErr != nil {
		t.Errorf("attach ran under a cancelled context: %v", dialCtxErr)
	}
	if site.dials != 1 {
		t.Errorf("dials = %d, want 1", site.dials)
	}
}

func TestExtract_SessionDropFailsRemainder(t *testing.T) {
	site := newFakeSite(t)
	site.singlePost("a", "1", "one")
	site.singlePost("a", "2", "two")
	site.singlePost("a", "3", "three")
	a := newTestAdapter(t, site)

	items := []Item{
		{SourceID: "1", URL: postURL("a", "1")},
		{SourceID: "2", URL: postURL("a", "2")},
		{SourceID: "3", URL: postURL("a", "3")},
	}
	var out []Outcome
	for o := range a.Extract(context.Background(), items) {
		out = append(out, o)
		if len(out) == 1 {
			site.peers[0].Close()
			<-a.sess.ch.Done()
		}
	}
	if len(out) != 3 || !out[0].OK() {
		t.Fatalf("outcomes = %+v", out)
	}
	for _, o := range out[1:] {
		if o.OK() || !o.Retryable || !errors.Is(o.Cause, ErrClosed) {
			t.Errorf("outcome %s: %+v", o.Item.SourceID, o)
		}
	}
	if out[1].Item.SourceID != "2" || out[2].Item.SourceID != "3" {
		t.Errorf("order: %s %s", out[1].Item.SourceID, out[2].Item.SourceID)
	}
}
