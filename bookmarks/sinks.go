package bookmarks

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/xharvest/bookmarks/internal/sink"
)

// Sink is the output interface for import runs.
type Sink = sink.Sink

// Envelope wraps every serialized sink payload.
type Envelope = sink.Envelope

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// ItemsFunc, SeedFunc and FailureFunc are in-process sink handlers.
type (
	ItemsFunc   = sink.ItemsFunc
	SeedFunc    = sink.SeedFunc
	FailureFunc = sink.FailureFunc
)

// NewCallbackSink creates an in-process sink with no serialization. Any
// handler may be nil.
func NewCallbackSink(onItems ItemsFunc, onSeed SeedFunc, onFailure FailureFunc) Sink {
	return sink.NewCallback(onItems, onSeed, onFailure)
}

// SinksFromConfig builds the sinks a configuration declares. stdout is
// written to w.
func SinksFromConfig(cfg *Config, w io.Writer, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for i, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			out = append(out, sink.NewStdout(w))
		case "webhook":
			out = append(out, sink.NewWebhook(sc.URL,
				sink.WithWebhookRetries(sc.MaxRetries),
				sink.WithWebhookTimeout(sc.Timeout),
				sink.WithWebhookLogger(logger)))
		default:
			return nil, fmt.Errorf("bookmarks: sinks[%d]: unknown type %q", i, sc.Type)
		}
	}
	return out, nil
}
