package seed

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

var statusRe = regexp.MustCompile(`/status/(\d+)`)

// InvalidReferenceError is returned when a canonical URL carries no
// status id. It is a hard error: the reference cannot be converted.
type InvalidReferenceError struct {
	URL string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("seed: invalid reference url: %q", e.URL)
}

// StatusID derives the source id from a canonical direct-page URL.
func StatusID(url string) (string, error) {
	m := statusRe.FindStringSubmatch(url)
	if m == nil || m[1] == "" {
		return "", &InvalidReferenceError{URL: url}
	}
	return m[1], nil
}

// Retryable reports whether a failed extraction may succeed on a later
// attempt. A malformed reference never will.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var ire *InvalidReferenceError
	return !errors.As(err, &ire)
}

// FormatDuration renders d as "1m 5s" or "42s".
func FormatDuration(d time.Duration) string {
	secs := int(d / time.Second)
	mins := secs / 60
	secs %= 60
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}
