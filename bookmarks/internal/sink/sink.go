// Package sink delivers collection and extraction results to output
// backends: stdout JSON lines, a webhook, or an in-process callback.
package sink

import (
	"context"

	"github.com/hazyhaar/xharvest/bookmarks/seed"
	"github.com/hazyhaar/xharvest/kit"
)

// Sink is the output interface.
type Sink interface {
	// SendItems delivers the references found by one collection run.
	SendItems(ctx context.Context, items []seed.Item) error
	// SendSeed delivers one extracted Seed.
	SendSeed(ctx context.Context, s seed.Seed) error
	// SendFailure delivers a failed extraction Outcome.
	SendFailure(ctx context.Context, o seed.Outcome) error
	Close() error
}

// Envelope types.
const (
	TypeItems   = "items"
	TypeSeed    = "seed"
	TypeFailure = "failure"
)

// Envelope wraps every serialized payload. Run is the run id carried by
// the context, empty outside a run.
type Envelope struct {
	Type string `json:"type"`
	Run  string `json:"run,omitempty"`
	Data any    `json:"data"`
}

func wrap(ctx context.Context, typ string, data any) Envelope {
	return Envelope{Type: typ, Run: kit.GetRunID(ctx), Data: data}
}
