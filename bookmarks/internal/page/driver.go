// Package page is a thin driver over a tab's command channel: navigate,
// evaluate, scroll, and the jittered pauses that keep the access pattern
// from looking scripted.
package page

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/xharvest/bookmarks/internal/scripts"
)

// Caller sends one protocol command. *cdp.Channel satisfies it.
type Caller interface {
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
}

type protoRequest interface {
	ProtoReq() string
}

// EvaluationError is an exception thrown by a script inside the page.
type EvaluationError struct {
	Script      string
	Description string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("page: evaluate %s: %s", e.Script, e.Description)
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithSleeper replaces the real pause, for tests.
func WithSleeper(f func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Driver) { d.sleep = f }
}

// WithJitter replaces the uniform jitter source. f returns a value in [0, max).
func WithJitter(f func(max time.Duration) time.Duration) Option {
	return func(d *Driver) { d.jitter = f }
}

// Driver operates one tab. It is not safe for concurrent use: the tab's
// navigation and scroll state is shared.
type Driver struct {
	ch     Caller
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// New creates a Driver over ch.
func New(ch Caller, opts ...Option) *Driver {
	d := &Driver{
		ch:     ch,
		logger: slog.Default(),
		sleep:  sleepCtx,
		jitter: uniformJitter,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// InjectStealth registers the stealth evasions to run before any page
// script on every later navigation.
func (d *Driver) InjectStealth(ctx context.Context) error {
	_, err := d.do(ctx, proto.PageAddScriptToEvaluateOnNewDocument{Source: stealth.JS})
	if err != nil {
		return fmt.Errorf("page: inject stealth: %w", err)
	}
	return nil
}

// Navigate loads url then waits settle unconditionally. The feed is a
// single-page app with no reliable network-idle signal.
func (d *Driver) Navigate(ctx context.Context, url string, settle time.Duration) error {
	raw, err := d.do(ctx, proto.PageNavigate{URL: url})
	if err != nil {
		return fmt.Errorf("page: navigate %s: %w", url, err)
	}

	var res struct {
		ErrorText string `json:"errorText"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &res)
	}
	if res.ErrorText != "" {
		return fmt.Errorf("page: navigate %s: %s", url, res.ErrorText)
	}

	d.logger.Debug("page: navigated", "url", url, "settle", settle)
	return d.Sleep(ctx, settle)
}

// Eval runs s in the page with by-value return and decodes the value into
// out. A null or undefined value leaves out untouched. out may be nil.
func (d *Driver) Eval(ctx context.Context, s scripts.Script, out any) error {
	raw, err := d.do(ctx, proto.RuntimeEvaluate{
		Expression:    s.Source,
		ReturnByValue: true,
		AwaitPromise:  true,
	})
	if err != nil {
		return fmt.Errorf("page: evaluate %s: %w", s.ID(), err)
	}

	var res struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("page: evaluate %s: decode response: %w", s.ID(), err)
	}

	if ex := res.ExceptionDetails; ex != nil {
		desc := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			desc = ex.Exception.Description
		}
		return &EvaluationError{Script: s.ID(), Description: desc}
	}

	if out == nil || len(res.Result.Value) == 0 || string(res.Result.Value) == "null" {
		return nil
	}
	if err := json.Unmarshal(res.Result.Value, out); err != nil {
		return fmt.Errorf("page: evaluate %s: decode value: %w", s.ID(), err)
	}
	return nil
}

// Evaluate runs s and returns its value as T.
func Evaluate[T any](ctx context.Context, d *Driver, s scripts.Script) (T, error) {
	var v T
	err := d.Eval(ctx, s, &v)
	return v, err
}

// ScrollBy scrolls the window down by px.
func (d *Driver) ScrollBy(ctx context.Context, px int, smooth bool) error {
	behavior := "auto"
	if smooth {
		behavior = "smooth"
	}
	expr := fmt.Sprintf("window.scrollBy({ top: %d, behavior: '%s' })", px, behavior)
	return d.Eval(ctx, scripts.Inline("scroll_by", expr), nil)
}

// ScrollPosition returns window.scrollY.
func (d *Driver) ScrollPosition(ctx context.Context) (float64, error) {
	return Evaluate[float64](ctx, d, scripts.Inline("scroll_y", "window.scrollY"))
}

// CurrentURL returns window.location.href.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	return Evaluate[string](ctx, d, scripts.Inline("location", "window.location.href"))
}

// Sleep pauses for dur or until ctx is done.
func (d *Driver) Sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	return d.sleep(ctx, dur)
}

// SleepWithJitter pauses base + uniform(0, jitter).
func (d *Driver) SleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	extra := time.Duration(0)
	if jitter > 0 {
		extra = d.jitter(jitter)
	}
	return d.Sleep(ctx, base+extra)
}

func (d *Driver) do(ctx context.Context, req protoRequest) (json.RawMessage, error) {
	return d.ch.Send(ctx, req.ProtoReq(), req)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func uniformJitter(max time.Duration) time.Duration {
	return time.Duration(rand.Int64N(int64(max)))
}
