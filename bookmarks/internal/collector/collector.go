// Package collector scrolls the bookmarks feed and gathers item references
// until the feed stops yielding new ones or the scroll cap is reached.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/xharvest/bookmarks/internal/scripts"
	"github.com/hazyhaar/xharvest/bookmarks/internal/thread"
	"github.com/hazyhaar/xharvest/bookmarks/seed"
)

// DefaultFeedMatch is the substring the landing URL must contain.
const DefaultFeedMatch = "/bookmarks"

// Stop reasons. Both are normal terminations.
const (
	StopExhausted = "exhausted"
	StopScrollCap = "scroll_cap"
)

// Page is the slice of the page driver the collector needs.
type Page interface {
	Navigate(ctx context.Context, url string, settle time.Duration) error
	CurrentURL(ctx context.Context) (string, error)
	Eval(ctx context.Context, s scripts.Script, out any) error
	ScrollBy(ctx context.Context, px int, smooth bool) error
	ScrollPosition(ctx context.Context) (float64, error)
	SleepWithJitter(ctx context.Context, base, jitter time.Duration) error
}

// NavigationMismatchError means the feed URL redirected elsewhere, usually a
// login wall after the session expired.
type NavigationMismatchError struct {
	Want string
	Got  string
}

func (e *NavigationMismatchError) Error() string {
	return fmt.Sprintf("collector: navigation landed on %q, expected a URL containing %q", e.Got, e.Want)
}

// Progress is reported once per harvest.
type Progress struct {
	ScrollNumber     int           `json:"scroll_number"`
	TotalFound       int           `json:"total_found"`
	NewItemsFound    int           `json:"new_items_found"`
	Elapsed          time.Duration `json:"elapsed"`
	NoNewItemsStreak int           `json:"no_new_items_streak"`
}

// Result is what a run found, however it stopped.
type Result struct {
	Items        []seed.Item   `json:"items"`
	ScrollCount  int           `json:"scroll_count"`
	Duration     time.Duration `json:"duration"`
	StopReason   string        `json:"stop_reason"`
	LastPosition float64       `json:"last_position"`
}

// Config configures a collection run.
type Config struct {
	Policy     seed.Policy
	FeedMatch  string         // default DefaultFeedMatch
	OnProgress func(Progress) // optional
	Logger     *slog.Logger
	Now        func() time.Time
}

func (c *Config) defaults() {
	if c.FeedMatch == "" {
		c.FeedMatch = DefaultFeedMatch
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Policy == (seed.Policy{}) {
		c.Policy = seed.DefaultPolicy()
	}
}

// feedEntry is one element of the collect_items script output.
type feedEntry struct {
	StatusID  string `json:"statusId"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
}

// Collect navigates p to feedURL and harvests item references. Items are in
// first-seen order with no duplicate SourceID.
func Collect(ctx context.Context, p Page, feedURL string, cfg Config) (*Result, error) {
	cfg.defaults()
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("collector: %w", err)
	}
	log := cfg.Logger
	pol := cfg.Policy
	start := cfg.Now()

	if err := p.Navigate(ctx, feedURL, pol.PageSettle); err != nil {
		return nil, fmt.Errorf("collector: %w", err)
	}
	landed, err := p.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("collector: read location: %w", err)
	}
	if !strings.Contains(landed, cfg.FeedMatch) {
		return nil, &NavigationMismatchError{Want: cfg.FeedMatch, Got: landed}
	}

	acc := newAccumulator()
	res := &Result{StopReason: StopScrollCap}
	streak := 0

	for res.ScrollCount < pol.MaxTotalScrolls {
		var visible []feedEntry
		if err := p.Eval(ctx, scripts.CollectItems, &visible); err != nil {
			return partial(res, acc, cfg, start), fmt.Errorf("collector: harvest: %w", err)
		}

		fresh := acc.merge(visible, cfg.Now())

		if cfg.OnProgress != nil {
			cfg.OnProgress(Progress{
				ScrollNumber:     res.ScrollCount + 1,
				TotalFound:       acc.len(),
				NewItemsFound:    fresh,
				Elapsed:          cfg.Now().Sub(start),
				NoNewItemsStreak: streak,
			})
		}
		log.Debug("collector: harvest",
			"scroll", res.ScrollCount+1, "visible", len(visible), "new", fresh, "total", acc.len())

		if fresh == 0 {
			streak++
			if streak >= pol.MaxNoNewItems {
				res.StopReason = StopExhausted
				break
			}
		} else {
			streak = 0
		}

		if err := p.ScrollBy(ctx, pol.ScrollAmountPx, true); err != nil {
			return partial(res, acc, cfg, start), fmt.Errorf("collector: scroll: %w", err)
		}
		if err := p.SleepWithJitter(ctx, pol.ScrollDelay, pol.ScrollJitter); err != nil {
			return partial(res, acc, cfg, start), err
		}
		res.ScrollCount++
	}

	if pos, err := p.ScrollPosition(ctx); err == nil {
		res.LastPosition = pos
	} else {
		log.Warn("collector: read scroll position", "error", err)
	}

	partial(res, acc, cfg, start)
	log.Info("collector: done",
		"items", len(res.Items), "scrolls", res.ScrollCount,
		"stop", res.StopReason, "duration", seed.FormatDuration(res.Duration))
	return res, nil
}

func partial(res *Result, acc *accumulator, cfg Config, start time.Time) *Result {
	res.Items = acc.items()
	res.Duration = cfg.Now().Sub(start)
	return res
}

// accumulator is keyed by status id and keeps first-seen order.
type accumulator struct {
	seen  map[string]struct{}
	order []seed.Item
}

func newAccumulator() *accumulator {
	return &accumulator{seen: make(map[string]struct{})}
}

// merge adds unseen entries and returns how many were new.
func (a *accumulator) merge(entries []feedEntry, now time.Time) int {
	fresh := 0
	for _, e := range entries {
		if e.StatusID == "" {
			continue
		}
		if _, ok := a.seen[e.StatusID]; ok {
			continue
		}
		a.seen[e.StatusID] = struct{}{}
		a.order = append(a.order, seed.Item{
			SourceID:    e.StatusID,
			URL:         e.URL,
			Author:      e.Author,
			PreviewText: e.Text,
			Timestamp:   e.Timestamp,
			ThreadHint:  thread.HasMarkers(e.Text),
			CollectedAt: now,
		})
		fresh++
	}
	return fresh
}

func (a *accumulator) len() int { return len(a.order) }

func (a *accumulator) items() []seed.Item {
	out := make([]seed.Item, len(a.order))
	copy(out, a.order)
	return out
}
