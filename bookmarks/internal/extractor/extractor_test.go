package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/xharvest/bookmarks/internal/cdp"
	"github.com/hazyhaar/xharvest/bookmarks/internal/scripts"
	"github.com/hazyhaar/xharvest/bookmarks/internal/thread"
	"github.com/hazyhaar/xharvest/bookmarks/seed"
)

// pageFixture is what a direct page renders.
type pageFixture struct {
	meta    *metadata
	signals thread.Signals
	navErr  error
}

// sitePage serves fixtures keyed by URL and records every interaction in
// order.
type sitePage struct {
	pages   map[string]pageFixture
	current string
	log     []string
	onSleep func()
}

func (s *sitePage) Navigate(_ context.Context, url string, settle time.Duration) error {
	s.log = append(s.log, "nav "+url)
	s.current = url
	return s.pages[url].navErr
}

func (s *sitePage) Eval(_ context.Context, sc scripts.Script, out any) error {
	s.log = append(s.log, "eval "+sc.Name)
	fx := s.pages[s.current]
	var v any
	switch sc.Name {
	case scripts.ItemMetadata.Name:
		if fx.meta == nil {
			return nil
		}
		v = fx.meta
	case scripts.ThreadSignals.Name:
		v = fx.signals
	default:
		return fmt.Errorf("unexpected script %s", sc.ID())
	}
	raw, _ := json.Marshal(v)
	return json.Unmarshal(raw, out)
}

func (s *sitePage) SleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	s.log = append(s.log, "sleep")
	if s.onSleep != nil {
		s.onSleep()
	}
	return ctx.Err()
}

func url(id int) string { return fmt.Sprintf("https://x.com/alice/status/%d", id) }

func single(text string) pageFixture {
	return pageFixture{
		meta:    &metadata{Author: "@alice", AuthorName: "Alice", Text: text, Timestamp: "2026-01-02T03:04:05.000Z"},
		signals: thread.Signals{Blocks: []thread.Block{{Author: "alice", Text: text}}},
	}
}

func threadPage(parts ...string) pageFixture {
	blocks := make([]thread.Block, len(parts))
	for i, p := range parts {
		blocks[i] = thread.Block{Author: "alice", Text: p}
	}
	blocks = append(blocks, thread.Block{Author: "bob", Text: "reply"})
	return pageFixture{
		meta:    &metadata{Author: "@alice", AuthorName: "Alice", Text: parts[0]},
		signals: thread.Signals{Blocks: blocks, ShowThread: true},
	}
}

func newTestExtractor(p Page) *Extractor {
	return New(p, Config{Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }})
}

func item(id int) seed.Item { return seed.Item{SourceID: fmt.Sprint(id), URL: url(id)} }

func TestExtract_SinglePost(t *testing.T) {
	page := &sitePage{pages: map[string]pageFixture{url(1): single("Just shipped the release")}}
	s, err := newTestExtractor(page).Extract(context.Background(), item(1))
	if err != nil {
		t.Fatal(err)
	}
	if s.SourceID != "1" || s.Source != seed.SourceXBookmarks || s.URL != url(1) {
		t.Errorf("seed identity: %+v", s)
	}
	if len(s.Content) != 1 || s.Content[0] != "Just shipped the release" {
		t.Errorf("content: %q", s.Content)
	}
	if s.IsThread || s.Author != "@alice" {
		t.Errorf("seed: %+v", s)
	}
	if s.Metadata[seed.MetaAuthorName] != "Alice" || s.Metadata[seed.MetaThreadMethod] != thread.MethodNone {
		t.Errorf("metadata: %v", s.Metadata)
	}
	if s.Metadata[seed.MetaTimestamp] != "2026-01-02T03:04:05.000Z" {
		t.Errorf("timestamp: %v", s.Metadata[seed.MetaTimestamp])
	}
	if want := []string{"nav " + url(1), "eval item_metadata", "eval thread_signals"}; strings.Join(page.log, "|") != strings.Join(want, "|") {
		t.Errorf("interactions: %v", page.log)
	}
}

func TestExtract_ThreadUsesParts(t *testing.T) {
	page := &sitePage{pages: map[string]pageFixture{url(7): threadPage("one", "two", "three")}}
	s, err := newTestExtractor(page).Extract(context.Background(), item(7))
	if err != nil {
		t.Fatal(err)
	}
	if !s.IsThread || strings.Join(s.Content, ",") != "one,two,three" {
		t.Errorf("thread seed: %+v", s)
	}
	if s.Metadata[seed.MetaThreadParts] != 3 {
		t.Errorf("thread parts: %v", s.Metadata[seed.MetaThreadParts])
	}
	if c, _ := s.Metadata[seed.MetaThreadConfidence].(float64); c < 0.999 {
		t.Errorf("confidence: %v", c)
	}
}

func TestExtract_RichText(t *testing.T) {
	fx := single("see example.com/post")
	fx.meta.HTML = `<span>see </span><a href="https://t.co/xyz">example.com/post</a>`
	page := &sitePage{pages: map[string]pageFixture{url(2): fx}}

	s, err := newTestExtractor(page).Extract(context.Background(), item(2))
	if err != nil {
		t.Fatal(err)
	}
	links, _ := s.Metadata[seed.MetaLinks].([]string)
	if len(links) != 1 || links[0] != "https://t.co/xyz" {
		t.Errorf("links: %v", s.Metadata[seed.MetaLinks])
	}
	md, _ := s.Metadata[seed.MetaMarkdown].(string)
	if !strings.Contains(md, "https://t.co/xyz") {
		t.Errorf("markdown: %q", md)
	}
}

func TestExtract_NoPost(t *testing.T) {
	page := &sitePage{pages: map[string]pageFixture{url(3): {}}}
	_, err := newTestExtractor(page).Extract(context.Background(), item(3))
	var ee *ExtractionError
	if !errors.As(err, &ee) || ee.URL != url(3) {
		t.Fatalf("got %v, want ExtractionError", err)
	}
}

func TestExtract_InvalidReference(t *testing.T) {
	page := &sitePage{}
	_, err := newTestExtractor(page).Extract(context.Background(), seed.Item{URL: "https://x.com/alice"})
	var ire *seed.InvalidReferenceError
	if !errors.As(err, &ire) {
		t.Fatalf("got %v, want InvalidReferenceError", err)
	}
	if len(page.log) != 0 {
		t.Errorf("malformed reference should not navigate: %v", page.log)
	}
}

func TestExtract_NoBlocks(t *testing.T) {
	fx := single("x")
	fx.signals = thread.Signals{}
	page := &sitePage{pages: map[string]pageFixture{url(4): fx}}
	_, err := newTestExtractor(page).Extract(context.Background(), item(4))
	if !errors.Is(err, thread.ErrNoContent) {
		t.Fatalf("got %v, want ErrNoContent", err)
	}
}

func collect(seq func(func(seed.Outcome) bool)) []seed.Outcome {
	var out []seed.Outcome
	for o := range seq {
		out = append(out, o)
	}
	return out
}

func TestStream_OrderAndLengthWithFailures(t *testing.T) {
	page := &sitePage{pages: map[string]pageFixture{
		url(1): single("first"),
		url(2): {},
		url(3): single("third"),
		url(4): {navErr: errors.New("net::ERR_TIMED_OUT")},
		url(5): single("fifth"),
	}}
	items := []seed.Item{item(1), item(2), item(3), {URL: "https://x.com/bad"}, item(4), item(5)}

	var progress []int
	outs := collect(newTestExtractor(page).Stream(context.Background(), items, func(cur, total int, _ seed.Item) {
		progress = append(progress, cur)
		if total != len(items) {
			t.Errorf("total: got %d", total)
		}
	}))

	if len(outs) != len(items) {
		t.Fatalf("outcomes: got %d, want %d", len(outs), len(items))
	}
	for i, o := range outs {
		if o.Item.URL != items[i].URL {
			t.Errorf("outcome %d out of order: %s", i, o.Item.URL)
		}
	}
	wantOK := []bool{true, false, true, false, false, true}
	for i, o := range outs {
		if o.OK() != wantOK[i] {
			t.Errorf("outcome %d: ok=%v err=%q", i, o.OK(), o.Err)
		}
	}
	if outs[3].Retryable {
		t.Error("malformed reference should not be retryable")
	}
	if !outs[1].Retryable || !outs[4].Retryable {
		t.Error("page failures should be retryable")
	}
	if len(progress) != len(items) || progress[0] != 1 || progress[5] != 6 {
		t.Errorf("progress: %v", progress)
	}
}

func TestStream_SleepsBetweenItemsOnly(t *testing.T) {
	page := &sitePage{pages: map[string]pageFixture{
		url(1): single("a"), url(2): single("b"), url(3): single("c"),
	}}
	collect(newTestExtractor(page).Stream(context.Background(), []seed.Item{item(1), item(2), item(3)}, nil))

	sleeps := 0
	for _, l := range page.log {
		if l == "sleep" {
			sleeps++
		}
	}
	if sleeps != 2 {
		t.Errorf("sleeps: got %d, want 2", sleeps)
	}
	if page.log[len(page.log)-1] == "sleep" {
		t.Error("slept after the last item")
	}
}

func TestStream_CancelKeepsYielded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	page := &sitePage{pages: map[string]pageFixture{
		url(1): single("a"), url(2): single("b"), url(3): single("c"),
	}}
	page.onSleep = cancel

	outs := collect(newTestExtractor(page).Stream(ctx, []seed.Item{item(1), item(2), item(3)}, nil))
	if len(outs) != 1 || !outs[0].OK() {
		t.Errorf("outcomes after cancel: %+v", outs)
	}
}

func TestStream_ConsumerStops(t *testing.T) {
	page := &sitePage{pages: map[string]pageFixture{url(1): single("a"), url(2): single("b")}}
	n := 0
	for range newTestExtractor(page).Stream(context.Background(), []seed.Item{item(1), item(2)}, nil) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("yielded %d", n)
	}
	for _, l := range page.log {
		if l == "nav "+url(2) {
			t.Error("navigated after the consumer stopped")
		}
	}
}

func TestStream_ClosedSessionFailsRemainder(t *testing.T) {
	closedErr := &cdp.ProtocolError{Method: "Page.navigate", Err: cdp.ErrClosed}
	page := &sitePage{pages: map[string]pageFixture{
		url(1): single("a"),
		url(2): {navErr: closedErr},
		url(3): single("c"),
	}}
	outs := collect(newTestExtractor(page).Stream(context.Background(), []seed.Item{item(1), item(2), item(3)}, nil))

	if len(outs) != 3 {
		t.Fatalf("outcomes: %d", len(outs))
	}
	if !outs[0].OK() || outs[1].OK() || outs[2].OK() {
		t.Errorf("ok flags: %v %v %v", outs[0].OK(), outs[1].OK(), outs[2].OK())
	}
	for _, l := range page.log {
		if l == "nav "+url(3) {
			t.Error("navigated on a closed session")
		}
	}
	if page.log[len(page.log)-1] == "sleep" {
		t.Error("slept after the session closed")
	}
}

func TestToSeed_ThreadWithoutPartsFallsBack(t *testing.T) {
	c := &Content{
		URL:  url(9),
		Text: "anchor",
		Thread: thread.Result{
			Info: seed.ThreadInfo{IsThread: true, Confidence: 0.95, EstimatedParts: 2},
		},
	}
	s, err := ToSeed(seed.SourceXBookmarks, c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Content) != 1 || s.Content[0] != "anchor" || !s.IsThread {
		t.Errorf("seed: %+v", s)
	}
	if _, ok := s.Metadata[seed.MetaMarkdown]; ok {
		t.Error("markdown set without html")
	}
}
