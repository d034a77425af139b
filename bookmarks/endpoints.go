package bookmarks

import (
	"context"
	"errors"

	"github.com/hazyhaar/xharvest/kit"
)

// ExtractRequest names one direct post.
type ExtractRequest struct {
	URL string `json:"url"`
}

// endpoint wraps op with the logging middleware under name.
func (a *Adapter) endpoint(name string, op kit.Endpoint) kit.Endpoint {
	return kit.Logging(a.logger, name)(op)
}

func (a *Adapter) browserEndpoint() kit.Endpoint {
	return a.endpoint("browser", func(ctx context.Context, _ any) (any, error) {
		return a.Browser(ctx)
	})
}

func (a *Adapter) collectEndpoint() kit.Endpoint {
	return a.endpoint("collect", func(ctx context.Context, _ any) (any, error) {
		return a.Collect(ctx)
	})
}

func (a *Adapter) extractEndpoint() kit.Endpoint {
	return a.endpoint("extract", func(ctx context.Context, req any) (any, error) {
		r, ok := req.(ExtractRequest)
		if !ok || r.URL == "" {
			return nil, errMissingURL
		}
		return a.ExtractURL(ctx, r.URL)
	})
}

func (a *Adapter) importEndpoint() kit.Endpoint {
	return a.endpoint("import", func(ctx context.Context, _ any) (any, error) {
		return a.Import(ctx)
	})
}

var errMissingURL = errors.New("bookmarks: url is required")
