// Package cdptest provides an in-memory DevTools peer that satisfies
// cdp.Conn, answering commands from registered handlers.
package cdptest

import (
	"encoding/json"
	"errors"
	"sync"

	rodcdp "github.com/go-rod/rod/lib/cdp"
)

// ErrPeerClosed is returned by Send and Read after Close.
var ErrPeerClosed = errors.New("cdptest: peer closed")

// Handler answers one command. A non-nil *rodcdp.Error is sent back as the
// response's error payload.
type Handler func(params json.RawMessage) (any, *rodcdp.Error)

// Call is one command received by the peer.
type Call struct {
	ID     int64
	Method string
	Params json.RawMessage
}

// Peer is a scripted browser tab. Methods without a handler answer {}.
type Peer struct {
	mu       sync.Mutex
	handlers map[string]Handler
	held     map[string]bool
	calls    []Call

	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewPeer creates an open peer.
func NewPeer() *Peer {
	return &Peer{
		handlers: make(map[string]Handler),
		held:     make(map[string]bool),
		out:      make(chan []byte, 1024),
		closed:   make(chan struct{}),
	}
}

// Handle registers h for method.
func (p *Peer) Handle(method string, h Handler) {
	p.mu.Lock()
	p.handlers[method] = h
	p.mu.Unlock()
}

// Hold makes the peer never answer method, leaving the call pending.
func (p *Peer) Hold(method string) {
	p.mu.Lock()
	p.held[method] = true
	p.mu.Unlock()
}

// Emit pushes an unsolicited event frame.
func (p *Peer) Emit(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(map[string]any{"method": method, "params": json.RawMessage(raw)})
	if err != nil {
		return err
	}
	return p.push(msg)
}

// Calls returns a copy of every command received so far.
func (p *Peer) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsTo returns the commands received for method.
func (p *Peer) CallsTo(method string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Send receives one command from the client and queues its answer.
func (p *Peer) Send(msg []byte) error {
	select {
	case <-p.closed:
		return ErrPeerClosed
	default:
	}

	var req struct {
		ID     int64           `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(msg, &req); err != nil {
		return err
	}

	p.mu.Lock()
	p.calls = append(p.calls, Call{ID: req.ID, Method: req.Method, Params: req.Params})
	h := p.handlers[req.Method]
	held := p.held[req.Method]
	p.mu.Unlock()

	if held {
		return nil
	}

	resp := map[string]any{"id": req.ID}
	if h == nil {
		resp["result"] = struct{}{}
	} else {
		res, cerr := h(req.Params)
		if cerr != nil {
			resp["error"] = cerr
		} else {
			if res == nil {
				res = struct{}{}
			}
			resp["result"] = res
		}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return p.push(data)
}

// Read blocks until a frame is available or the peer closes.
func (p *Peer) Read() ([]byte, error) {
	select {
	case msg := <-p.out:
		return msg, nil
	case <-p.closed:
		return nil, ErrPeerClosed
	}
}

// Close unblocks Read and rejects later Sends.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// Raw queues an arbitrary frame, for malformed-input tests.
func (p *Peer) Raw(msg []byte) error {
	return p.push(msg)
}

func (p *Peer) push(msg []byte) error {
	select {
	case <-p.closed:
		return ErrPeerClosed
	case p.out <- msg:
		return nil
	}
}
