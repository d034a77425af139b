// Package netguard screens URLs that arrive from remote callers before the
// browser is sent to them, and bounds reads of HTTP bodies.
package netguard

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"net/url"
	"strings"
)

var (
	// ErrInvalidURL is returned for URLs that do not parse or lack a host.
	ErrInvalidURL = errors.New("netguard: invalid url")

	// ErrUnsafeScheme is returned for anything but http and https.
	ErrUnsafeScheme = errors.New("netguard: only http and https urls are allowed")

	// ErrPrivateTarget is returned when a URL points at a loopback,
	// link-local or private address.
	ErrPrivateTarget = errors.New("netguard: url targets a private or loopback address")

	// ErrTooLarge is returned by LimitedReadAll past its limit.
	ErrTooLarge = errors.New("netguard: body too large")
)

// Resolver maps a host name to its addresses. net.DefaultResolver's
// LookupHost, wrapped with a context, fits.
type Resolver func(host string) ([]string, error)

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("fc00::/7"),
}

// CheckURL rejects raw unless it is an absolute http(s) URL whose host is
// not a private address. Literal IPs are always checked; host names only
// when resolve is non-nil. A resolver error lets the URL through, the
// connection itself will fail.
func CheckURL(raw string, resolve Resolver) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return ErrPrivateTarget
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsPrivate(addr) {
			return ErrPrivateTarget
		}
		return nil
	}
	if resolve == nil {
		return nil
	}
	addrs, err := resolve(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if addr, err := netip.ParseAddr(a); err == nil && IsPrivate(addr) {
			return ErrPrivateTarget
		}
	}
	return nil
}

// IsPrivate reports whether addr is loopback, link-local, unspecified or
// in a private range.
func IsPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified() || addr.IsPrivate() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// LimitedReadAll reads r up to limit bytes and fails with ErrTooLarge past
// that.
func LimitedReadAll(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
