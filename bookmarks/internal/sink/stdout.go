package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/xharvest/bookmarks/seed"
)

// Stdout writes one JSON envelope per line to an io.Writer.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) SendItems(ctx context.Context, items []seed.Item) error {
	return s.write(wrap(ctx, TypeItems, items))
}

func (s *Stdout) SendSeed(ctx context.Context, sd seed.Seed) error {
	return s.write(wrap(ctx, TypeSeed, sd))
}

func (s *Stdout) SendFailure(ctx context.Context, o seed.Outcome) error {
	return s.write(wrap(ctx, TypeFailure, o))
}

func (s *Stdout) Close() error { return nil }

func (s *Stdout) write(e Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(e)
}
