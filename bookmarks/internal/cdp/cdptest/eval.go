package cdptest

import (
	"encoding/json"

	rodcdp "github.com/go-rod/rod/lib/cdp"
)

// EvalFunc answers a Runtime.evaluate expression. A non-empty exception is
// reported as an in-page exception with that description.
type EvalFunc func(expression string) (value any, exception string)

// HandleEval installs f as the Runtime.evaluate handler, wrapping values as
// by-value remote objects.
func (p *Peer) HandleEval(f EvalFunc) {
	p.Handle("Runtime.evaluate", func(params json.RawMessage) (any, *rodcdp.Error) {
		var req struct {
			Expression string `json:"expression"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &rodcdp.Error{Code: -32602, Message: "invalid params"}
		}

		v, exc := f(req.Expression)
		if exc != "" {
			return map[string]any{
				"result": map[string]any{"type": "object", "subtype": "error"},
				"exceptionDetails": map[string]any{
					"exceptionId": 1,
					"text":        "Uncaught",
					"exception":   map[string]any{"type": "object", "description": exc},
				},
			}, nil
		}
		if v == nil {
			return map[string]any{
				"result": map[string]any{"type": "object", "subtype": "null", "value": nil},
			}, nil
		}
		return map[string]any{"result": map[string]any{"type": "object", "value": v}}, nil
	})
}
