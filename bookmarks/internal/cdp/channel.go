// Package cdp is a minimal DevTools protocol client: one duplex command
// channel per browser tab plus the HTTP introspection endpoints used to
// find that tab.
//
// The channel only correlates requests and responses. It enables the Page,
// Runtime and DOM domains on open and otherwise ignores unsolicited events,
// except Inspector.detached which closes it.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rodcdp "github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/xharvest/reqtable"
)

// Conn is the duplex transport under a Channel. *rodcdp.WebSocket
// satisfies it; tests use an in-memory peer.
type Conn interface {
	Send(msg []byte) error
	Read() ([]byte, error)
	Close() error
}

// Request is a typed protocol command, e.g. proto.PageNavigate.
type Request interface {
	ProtoReq() string
}

// EventHandler receives unsolicited event frames on the read goroutine.
type EventHandler func(method string, params json.RawMessage)

// frame is any message coming from the browser: a response when ID != 0,
// an event otherwise.
type frame struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rodcdp.Error   `json:"error,omitempty"`
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithCallTimeout bounds every call. Zero disables the bound. Default: 30s.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Channel) { c.timeout = d }
}

// WithEventHandler registers a handler for event frames.
func WithEventHandler(h EventHandler) Option {
	return func(c *Channel) { c.onEvent = h }
}

// Channel is one live connection to one tab. Send is safe for concurrent
// use although the pipeline drives it serially.
type Channel struct {
	conn    Conn
	calls   *reqtable.Table[frame]
	logger  *slog.Logger
	timeout time.Duration
	onEvent EventHandler

	sendMu    sync.Mutex
	closeOnce sync.Once
	done      chan struct{}

	mu       sync.Mutex
	closeErr error
}

// Dial connects to a tab's control endpoint and opens a Channel on it.
func Dial(ctx context.Context, wsURL string, opts ...Option) (*Channel, error) {
	ws := &rodcdp.WebSocket{}
	if err := ws.Connect(ctx, wsURL, nil); err != nil {
		return nil, &ProtocolError{Method: "connect", Err: err}
	}
	return Open(ctx, ws, opts...)
}

// Open starts reading from conn and enables the Page, Runtime and DOM
// domains before returning. On failure conn is closed.
func Open(ctx context.Context, conn Conn, opts ...Option) (*Channel, error) {
	c := &Channel{
		conn:    conn,
		calls:   reqtable.New[frame](),
		logger:  slog.Default(),
		timeout: 30 * time.Second,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	go c.readLoop()

	for _, req := range []Request{proto.PageEnable{}, proto.RuntimeEnable{}, proto.DOMEnable{}} {
		if _, err := c.Do(ctx, req); err != nil {
			c.Close()
			return nil, fmt.Errorf("cdp: enable %s: %w", req.ProtoReq(), err)
		}
	}

	c.logger.Debug("cdp: channel open")
	return c, nil
}

// Send issues one command and waits for its response. It fails with
// *ProtocolError when the browser returns an error payload, the connection
// closes first, or the call timeout elapses.
func (c *Channel) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id, resCh, err := c.calls.Register()
	if err != nil {
		return nil, &ProtocolError{Method: method, Err: err}
	}

	if params == nil {
		params = struct{}{}
	}
	msg, err := json.Marshal(rodcdp.Request{ID: int(id), Method: method, Params: params})
	if err != nil {
		c.calls.Forget(id)
		return nil, fmt.Errorf("cdp: %s: marshal params: %w", method, err)
	}

	c.sendMu.Lock()
	err = c.conn.Send(msg)
	c.sendMu.Unlock()
	if err != nil {
		c.calls.Forget(id)
		return nil, &ProtocolError{Method: method, Err: err}
	}

	var timeout <-chan time.Time
	if c.timeout > 0 {
		t := time.NewTimer(c.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case res := <-resCh:
		if res.Err != nil {
			return nil, &ProtocolError{Method: method, Err: res.Err}
		}
		if res.Value.Error != nil {
			return nil, &ProtocolError{
				Method:  method,
				Code:    res.Value.Error.Code,
				Message: res.Value.Error.Message,
			}
		}
		return res.Value.Result, nil
	case <-timeout:
		c.calls.Forget(id)
		return nil, &ProtocolError{Method: method, Err: ErrTimeout}
	case <-ctx.Done():
		c.calls.Forget(id)
		return nil, fmt.Errorf("cdp: %s: %w", method, ctx.Err())
	}
}

// Do sends a typed protocol request.
func (c *Channel) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	return c.Send(ctx, req.ProtoReq(), req)
}

// Pending returns the number of outstanding calls.
func (c *Channel) Pending() int {
	return c.calls.Len()
}

// Done is closed once the read loop has exited.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns why the channel closed, nil while open or after a plain Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Close fails every pending call with ErrClosed, closes the transport and
// waits for the read loop to exit. Safe to call more than once.
func (c *Channel) Close() error {
	c.shutdown(nil)
	<-c.done
	return nil
}

func (c *Channel) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = cause
		c.mu.Unlock()

		n := c.calls.Fail(ErrClosed)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("cdp: close transport", "error", err)
		}
		if cause != nil {
			c.logger.Warn("cdp: connection lost", "error", cause, "failed_calls", n)
		} else {
			c.logger.Debug("cdp: channel closed", "failed_calls", n)
		}
	})
}

func (c *Channel) readLoop() {
	defer close(c.done)

	for {
		data, err := c.conn.Read()
		if err != nil {
			c.shutdown(fmt.Errorf("read: %w", err))
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("cdp: malformed frame", "error", err, "size", len(data))
			continue
		}

		if f.ID != 0 {
			if !c.calls.Resolve(f.ID, f, nil) {
				c.logger.Debug("cdp: response for unknown call", "id", f.ID)
			}
			continue
		}

		if f.Method == "Inspector.detached" {
			var p struct {
				Reason string `json:"reason"`
			}
			_ = json.Unmarshal(f.Params, &p)
			c.shutdown(fmt.Errorf("inspector detached: %s", p.Reason))
			continue
		}

		if c.onEvent != nil && f.Method != "" {
			c.onEvent(f.Method, f.Params)
		}
	}
}
