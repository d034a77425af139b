package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/xharvest/bookmarks/seed"
	"github.com/hazyhaar/xharvest/netguard"
)

// Delivery headers. The key is stable across retries: per Seed for seeds,
// per run for item batches, per item and run for failures. Receivers use
// it to drop duplicates.
const (
	HeaderDeliveryKey  = "X-Xharvest-Key"
	HeaderEnvelopeType = "X-Xharvest-Type"
)

// maxReplyBody bounds how much of a rejected delivery's reply is logged.
const maxReplyBody = 4 << 10

// errRejected marks replies no retry will change.
var errRejected = errors.New("webhook: rejected")

// Webhook POSTs each envelope as JSON to one endpoint. Transport errors,
// 408, 429 and 5xx replies are retried with doubling backoff; other 4xx
// replies fail at once.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many times a delivery is retried. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookTimeout bounds each POST. Default: 10s.
func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.client.Timeout = d }
}

// WithWebhookBackoff sets the first retry delay. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookLogger sets the logger. Nil keeps slog.Default.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) SendItems(ctx context.Context, items []seed.Item) error {
	e := wrap(ctx, TypeItems, items)
	return w.deliver(ctx, e, "items:"+e.Run)
}

func (w *Webhook) SendSeed(ctx context.Context, s seed.Seed) error {
	return w.deliver(ctx, wrap(ctx, TypeSeed, s), "seed:"+string(s.Source)+":"+s.SourceID)
}

func (w *Webhook) SendFailure(ctx context.Context, o seed.Outcome) error {
	e := wrap(ctx, TypeFailure, o)
	return w.deliver(ctx, e, "failure:"+o.Item.SourceID+":"+e.Run)
}

func (w *Webhook) Close() error { return nil }

func (w *Webhook) deliver(ctx context.Context, e Envelope, key string) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("webhook: marshal %s: %w", e.Type, err)
	}
	log := w.logger.With("type", e.Type, "key", key)

	wait := w.backoff
	for attempt := 1; ; attempt++ {
		err = w.post(ctx, body, e.Type, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, errRejected) || ctx.Err() != nil {
			return err
		}
		if attempt > w.maxRetries {
			return fmt.Errorf("webhook: gave up after %d attempts: %w", attempt, err)
		}
		log.Warn("webhook: delivery failed", "attempt", attempt, "retry_in", wait, "error", err)

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
		wait *= 2
	}
}

// post makes one attempt.
func (w *Webhook) post(ctx context.Context, body []byte, typ, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEnvelopeType, typ)
	req.Header.Set(HeaderDeliveryKey, key)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	reply, _ := netguard.LimitedReadAll(resp.Body, maxReplyBody)
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("webhook: status %d", code)
	default:
		return fmt.Errorf("%w: status %d: %s", errRejected, code, bytes.TrimSpace(reply))
	}
}
