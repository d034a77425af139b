package sink

import (
	"context"

	"github.com/hazyhaar/xharvest/bookmarks/seed"
)

// ItemsFunc is called with each collection result.
type ItemsFunc func(ctx context.Context, items []seed.Item) error

// SeedFunc is called for each extracted Seed.
type SeedFunc func(ctx context.Context, s seed.Seed) error

// FailureFunc is called for each failed Outcome.
type FailureFunc func(ctx context.Context, o seed.Outcome) error

// Callback delivers results as in-process function calls, no
// serialization.
type Callback struct {
	onItems   ItemsFunc
	onSeed    SeedFunc
	onFailure FailureFunc
}

// NewCallback creates a Callback sink. Any handler may be nil.
func NewCallback(onItems ItemsFunc, onSeed SeedFunc, onFailure FailureFunc) *Callback {
	return &Callback{onItems: onItems, onSeed: onSeed, onFailure: onFailure}
}

func (c *Callback) SendItems(ctx context.Context, items []seed.Item) error {
	if c.onItems != nil {
		return c.onItems(ctx, items)
	}
	return nil
}

func (c *Callback) SendSeed(ctx context.Context, s seed.Seed) error {
	if c.onSeed != nil {
		return c.onSeed(ctx, s)
	}
	return nil
}

func (c *Callback) SendFailure(ctx context.Context, o seed.Outcome) error {
	if c.onFailure != nil {
		return c.onFailure(ctx, o)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
