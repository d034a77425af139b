package cdp

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is the fixed failure delivered to every pending call when the
	// connection goes away.
	ErrClosed = errors.New("cdp: connection closed")

	// ErrTimeout is wrapped by ProtocolError when a call outlives CallTimeout.
	ErrTimeout = errors.New("cdp: call timed out")

	// ErrNoTab is returned by FindOrFirst when no usable tab exists.
	ErrNoTab = errors.New("cdp: no suitable tab found, open a tab in the browser")
)

// ProtocolError is a transport-level failure of one call, or an error
// payload returned by the browser for it.
type ProtocolError struct {
	Method  string
	Code    int    // browser error code, 0 for transport failures
	Message string // browser error message
	Err     error  // transport cause (ErrClosed, ErrTimeout, write error)
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cdp: %s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("cdp: %s: %s (code %d)", e.Method, e.Message, e.Code)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// remediation is shown to operators when the debugging endpoint is down.
const remediation = `start Chrome with remote debugging enabled and log in to the feed in that window:
  google-chrome --remote-debugging-port=9222 --user-data-dir="$HOME/chrome-profile-cdp"`

// UnreachableError means the browser's introspection endpoint did not
// answer 200. Error() carries remediation text for the operator.
type UnreachableError struct {
	Endpoint string
	Status   int   // HTTP status, 0 when no response
	Err      error // network cause, nil when a response arrived
}

func (e *UnreachableError) Error() string {
	cause := fmt.Sprintf("HTTP %d", e.Status)
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return fmt.Sprintf("cdp: browser not reachable at %s (%s); %s", e.Endpoint, cause, remediation)
}

func (e *UnreachableError) Unwrap() error { return e.Err }
