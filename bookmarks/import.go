package bookmarks

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/xharvest/bookmarks/seed"
	"github.com/hazyhaar/xharvest/idgen"
	"github.com/hazyhaar/xharvest/kit"
)

// Stats summarizes one import run. LastProcessedID lets a caller resume.
type Stats struct {
	RunID           string        `json:"run_id"`
	Collected       int           `json:"collected"`
	Extracted       int           `json:"extracted"`
	Skipped         int           `json:"skipped"`
	Failed          int           `json:"failed"`
	Duration        time.Duration `json:"duration"`
	LastProcessedID string        `json:"last_processed_id,omitempty"`
}

// Import runs both phases: collect the feed, drop references already
// processed, extract the rest, deliver each result to the sinks and mark
// delivered seeds processed.
//
// Per-item failures are counted and delivered as failures; the run goes
// on. A collection failure, a lost browser session or cancellation ends
// the run and returns the stats gathered so far with the error. Items the
// run did not reach are neither delivered nor marked.
func (a *Adapter) Import(ctx context.Context) (*Stats, error) {
	r := a.newRun(ctx)
	a.logger.Info("bookmarks: import started", "run", r.st.RunID, "feed", a.cfg.Feed.URL)

	res, err := a.Collect(r.ctx)
	if err != nil {
		return r.done(fmt.Errorf("bookmarks: import: %w", err))
	}
	r.st.Collected = len(res.Items)
	if err := a.sinkR.SendItems(r.ctx, res.Items); err != nil {
		a.logger.Warn("bookmarks: deliver items failed", "run", r.st.RunID, "error", err)
	}
	return a.process(r, res.Items)
}

// ImportItems is Import without the collection phase: it extracts and
// delivers the given references, skipping processed ones. Used to retry
// earlier failures.
func (a *Adapter) ImportItems(ctx context.Context, items []Item) (*Stats, error) {
	r := a.newRun(ctx)
	r.st.Collected = len(items)
	a.logger.Info("bookmarks: item import started", "run", r.st.RunID, "items", len(items))
	return a.process(r, items)
}

type run struct {
	ctx   context.Context
	st    *Stats
	start time.Time
}

func (a *Adapter) newRun(ctx context.Context) *run {
	id := idgen.Run()
	return &run{ctx: kit.WithRunID(ctx, id), st: &Stats{RunID: id}, start: time.Now()}
}

func (r *run) done(err error) (*Stats, error) {
	r.st.Duration = time.Since(r.start)
	return r.st, err
}

func (a *Adapter) process(r *run, items []Item) (*Stats, error) {
	ctx, st := r.ctx, r.st

	pending := make([]Item, 0, len(items))
	for _, it := range items {
		ok, err := a.IsProcessed(ctx, it.SourceID)
		if err != nil {
			return r.done(fmt.Errorf("bookmarks: import: is processed %s: %w", it.SourceID, err))
		}
		if ok {
			st.Skipped++
			continue
		}
		pending = append(pending, it)
	}
	a.logger.Info("bookmarks: extracting", "run", st.RunID, "pending", len(pending), "skipped", st.Skipped)

	outcomes, stopped := a.stream(ctx, pending)
	for o := range outcomes {
		if !o.OK() {
			st.Failed++
			if err := a.sinkR.SendFailure(ctx, o); err != nil {
				a.logger.Warn("bookmarks: deliver failure failed", "run", st.RunID, "id", o.Item.SourceID, "error", err)
			}
			continue
		}
		if err := a.sinkR.SendSeed(ctx, *o.Seed); err != nil {
			st.Failed++
			a.logger.Warn("bookmarks: deliver seed failed", "run", st.RunID, "id", o.Seed.SourceID, "error", err)
			continue
		}
		if err := a.MarkProcessed(ctx, o.Seed.SourceID); err != nil {
			a.logger.Warn("bookmarks: mark processed failed", "run", st.RunID, "id", o.Seed.SourceID, "error", err)
		}
		st.Extracted++
		st.LastProcessedID = o.Seed.SourceID
	}

	if err := stopped(); err != nil {
		a.logger.Warn("bookmarks: import stopped, session lost", "run", st.RunID,
			"extracted", st.Extracted, "remaining", len(pending)-st.Extracted-st.Failed, "error", err)
		return r.done(fmt.Errorf("bookmarks: import: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return r.done(fmt.Errorf("bookmarks: import: %w", err))
	}
	r.done(nil)
	a.logger.Info("bookmarks: import done", "run", st.RunID,
		"collected", st.Collected, "extracted", st.Extracted,
		"skipped", st.Skipped, "failed", st.Failed,
		"duration", seed.FormatDuration(st.Duration))
	return st, nil
}
