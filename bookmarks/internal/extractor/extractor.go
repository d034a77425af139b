// Package extractor opens each collected reference on its direct page and
// turns it into a Seed. The feed preview is never used as content: it is
// truncated for long posts.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/hazyhaar/xharvest/bookmarks/internal/cdp"
	"github.com/hazyhaar/xharvest/bookmarks/internal/render"
	"github.com/hazyhaar/xharvest/bookmarks/internal/scripts"
	"github.com/hazyhaar/xharvest/bookmarks/internal/thread"
	"github.com/hazyhaar/xharvest/bookmarks/seed"
)

// Page is the slice of the page driver the extractor needs.
type Page interface {
	Navigate(ctx context.Context, url string, settle time.Duration) error
	Eval(ctx context.Context, s scripts.Script, out any) error
	SleepWithJitter(ctx context.Context, base, jitter time.Duration) error
}

// ExtractionError means the direct page rendered no anchor post.
type ExtractionError struct {
	URL string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extractor: no post content at %s", e.URL)
}

// ProgressFunc is called before each item with its 1-based position.
type ProgressFunc func(current, total int, item seed.Item)

// Config configures an Extractor.
type Config struct {
	Policy   seed.Policy
	Source   seed.Source // default seed.SourceXBookmarks
	Renderer *render.Renderer
	Logger   *slog.Logger
	Now      func() time.Time
}

func (c *Config) defaults() {
	if c.Policy == (seed.Policy{}) {
		c.Policy = seed.DefaultPolicy()
	}
	if c.Source == "" {
		c.Source = seed.SourceXBookmarks
	}
	if c.Renderer == nil {
		c.Renderer = render.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Extractor drives one tab. Not safe for concurrent use.
type Extractor struct {
	page Page
	cfg  Config
}

// New creates an Extractor over p.
func New(p Page, cfg Config) *Extractor {
	cfg.defaults()
	return &Extractor{page: p, cfg: cfg}
}

// Content is everything read from one direct page.
type Content struct {
	URL         string
	Author      string
	AuthorName  string
	Text        string
	HTML        string
	Timestamp   string
	Thread      thread.Result
	ExtractedAt time.Time
}

// metadata is the item_metadata script output.
type metadata struct {
	Author     string `json:"author"`
	AuthorName string `json:"authorName"`
	Text       string `json:"text"`
	HTML       string `json:"html"`
	Timestamp  string `json:"timestamp"`
}

// Read navigates to item.URL and reads the anchor post and its thread.
func (x *Extractor) Read(ctx context.Context, item seed.Item) (*Content, error) {
	if _, err := seed.StatusID(item.URL); err != nil {
		return nil, err
	}
	if err := x.page.Navigate(ctx, item.URL, x.cfg.Policy.PageSettle); err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}

	var meta *metadata
	if err := x.page.Eval(ctx, scripts.ItemMetadata, &meta); err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}
	if meta == nil {
		return nil, &ExtractionError{URL: item.URL}
	}

	th, err := thread.Detect(ctx, x.page)
	if err != nil {
		return nil, fmt.Errorf("extractor: %s: %w", item.URL, err)
	}

	return &Content{
		URL:         item.URL,
		Author:      meta.Author,
		AuthorName:  meta.AuthorName,
		Text:        meta.Text,
		HTML:        meta.HTML,
		Timestamp:   meta.Timestamp,
		Thread:      th,
		ExtractedAt: x.cfg.Now(),
	}, nil
}

// Extract reads one item and converts it. It is the single-item form of
// Stream and returns the error instead of an Outcome.
func (x *Extractor) Extract(ctx context.Context, item seed.Item) (seed.Seed, error) {
	c, err := x.Read(ctx, item)
	if err != nil {
		return seed.Seed{}, err
	}
	return ToSeed(x.cfg.Source, c, x.cfg.Renderer)
}

// ToSeed assembles a Seed. Thread parts become the content when the page is
// a thread and parts were recovered, otherwise the single anchor text.
func ToSeed(src seed.Source, c *Content, r *render.Renderer) (seed.Seed, error) {
	id, err := seed.StatusID(c.URL)
	if err != nil {
		return seed.Seed{}, err
	}

	content := []string{c.Text}
	if c.Thread.Info.IsThread && len(c.Thread.Parts) > 0 {
		content = append([]string(nil), c.Thread.Parts...)
	}

	meta := map[string]any{
		seed.MetaAuthorName:       c.AuthorName,
		seed.MetaTimestamp:        c.Timestamp,
		seed.MetaThreadConfidence: c.Thread.Info.Confidence,
		seed.MetaThreadMethod:     c.Thread.Info.DetectionMethod,
		seed.MetaThreadParts:      c.Thread.Info.EstimatedParts,
	}
	if c.HTML != "" {
		if r != nil {
			meta[seed.MetaMarkdown] = r.Markdown(c.HTML, c.URL, c.Text)
		}
		if links := render.Links(c.HTML, c.URL); len(links) > 0 {
			meta[seed.MetaLinks] = links
		}
	}

	return seed.Seed{
		Source:      src,
		SourceID:    id,
		URL:         c.URL,
		Author:      c.Author,
		Content:     content,
		IsThread:    c.Thread.Info.IsThread,
		HasImages:   c.Thread.HasImages,
		ExtractedAt: c.ExtractedAt,
		Metadata:    meta,
	}, nil
}

// Stream yields one Outcome per item, in input order. A failed item becomes
// a failure Outcome and the stream goes on. Between items, not after the
// last, it pauses per policy. Cancelling ctx stops the stream before the
// next item; Outcomes already yielded stand.
//
// Once the session is closed, remaining items fail immediately without
// touching the page.
func (x *Extractor) Stream(ctx context.Context, items []seed.Item, onProgress ProgressFunc) iter.Seq[seed.Outcome] {
	return func(yield func(seed.Outcome) bool) {
		log := x.cfg.Logger
		pol := x.cfg.Policy
		var closed error

		for i, item := range items {
			if ctx.Err() != nil {
				log.Info("extractor: stopped", "done", i, "total", len(items), "error", ctx.Err())
				return
			}
			if onProgress != nil {
				onProgress(i+1, len(items), item)
			}

			if closed != nil {
				if !yield(seed.Failure(item, closed, true)) {
					return
				}
				continue
			}

			var out seed.Outcome
			s, err := x.Extract(ctx, item)
			if err != nil {
				log.Warn("extractor: item failed", "url", item.URL, "error", err)
				out = seed.Failure(item, err, seed.Retryable(err))
				if errors.Is(err, cdp.ErrClosed) {
					closed = err
				}
			} else {
				log.Debug("extractor: item done", "id", s.SourceID, "thread", s.IsThread, "parts", len(s.Content))
				out = seed.Success(item, s)
			}
			if !yield(out) {
				return
			}

			if i < len(items)-1 && closed == nil {
				if err := x.page.SleepWithJitter(ctx, pol.BetweenItemsDelay, pol.BetweenItemsJitter); err != nil {
					log.Info("extractor: stopped", "done", i+1, "total", len(items), "error", err)
					return
				}
			}
		}
	}
}
