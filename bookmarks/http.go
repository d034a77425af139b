package bookmarks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/xharvest/kit"
	"github.com/hazyhaar/xharvest/netguard"
	"github.com/hazyhaar/xharvest/shield"
)

// DefaultRateLimits throttle the routes that drive the browser.
var DefaultRateLimits = map[string]shield.RateLimitConfig{
	"POST /collect": {MaxRequests: 6, Window: time.Minute},
	"POST /extract": {MaxRequests: 30, Window: time.Minute},
	"POST /import":  {MaxRequests: 2, Window: time.Minute},
}

// Handler returns the HTTP control API:
//
//	GET  /healthz  liveness
//	GET  /browser  discovery report, no attach
//	POST /collect  collection run, returns the CollectResult
//	POST /extract  {"url": "..."}, returns the Seed
//	POST /import   full import run, returns the Stats
func (a *Adapter) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(a.logger, DefaultRateLimits) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/browser", a.serve(a.browserEndpoint(), noBody))
	r.Post("/collect", a.serve(a.collectEndpoint(), noBody))
	r.Post("/extract", a.serve(a.extractEndpoint(), decodeExtract))
	r.Post("/import", a.serve(a.importEndpoint(), noBody))
	return r
}

type httpDecodeFunc func(*http.Request) (any, error)

func noBody(*http.Request) (any, error) { return nil, nil }

func decodeExtract(r *http.Request) (any, error) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if req.URL == "" {
		req.URL = r.URL.Query().Get("url")
	}
	return req, nil
}

func (a *Adapter) serve(ep kit.Endpoint, decode httpDecodeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
			return
		}
		resp, err := ep(r.Context(), req)
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// statusOf maps the error taxonomy onto HTTP.
func statusOf(err error) int {
	var (
		unreachable *UnreachableError
		invalidRef  *InvalidReferenceError
		mismatch    *NavigationMismatchError
		extraction  *ExtractionError
		evaluation  *EvaluationError
		protocol    *ProtocolError
	)
	switch {
	case errors.Is(err, errMissingURL), errors.As(err, &invalidRef),
		errors.Is(err, netguard.ErrInvalidURL), errors.Is(err, netguard.ErrUnsafeScheme),
		errors.Is(err, netguard.ErrPrivateTarget):
		return http.StatusBadRequest
	case errors.As(err, &unreachable), errors.Is(err, ErrNoTab), errors.Is(err, ErrAdapterClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &mismatch):
		return http.StatusConflict
	case errors.As(err, &extraction), errors.As(err, &evaluation), errors.Is(err, ErrNoContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &protocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
