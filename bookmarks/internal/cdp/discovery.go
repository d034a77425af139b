package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hazyhaar/xharvest/netguard"
)

const maxDiscoveryBody = 4 << 20

// Version is the browser's /json/version answer.
type Version struct {
	Product         string `json:"Browser"`
	ProtocolVersion string `json:"Protocol-Version"`
	UserAgent       string `json:"User-Agent"`
	BrowserWSURL    string `json:"webSocketDebuggerUrl"`
}

// Tab is a snapshot of one debuggable target taken at discovery time.
type Tab struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	URL             string `json:"url"`
	Type            string `json:"type"`
	ControlEndpoint string `json:"webSocketDebuggerUrl"`
}

// Discovery queries a browser's HTTP introspection endpoints. All methods
// are read-only and safe to retry.
type Discovery struct {
	endpoint string
	client   *http.Client
}

// NewDiscovery targets endpoint (e.g. "http://localhost:9222"). A nil client
// gets a 10s timeout.
func NewDiscovery(endpoint string, client *http.Client) *Discovery {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Discovery{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

// Endpoint returns the base URL queried.
func (d *Discovery) Endpoint() string { return d.endpoint }

// CheckReachable confirms a debuggable browser answers. Any failure is an
// *UnreachableError.
func (d *Discovery) CheckReachable(ctx context.Context) (*Version, error) {
	var v Version
	if err := d.getJSON(ctx, "/json/version", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListTabs enumerates the browser's targets.
func (d *Discovery) ListTabs(ctx context.Context) ([]Tab, error) {
	var tabs []Tab
	if err := d.getJSON(ctx, "/json/list", &tabs); err != nil {
		return nil, err
	}
	return tabs, nil
}

// FindOrFirst returns the first tab whose URL matches pattern, else the
// first tab of type "page", else ErrNoTab. A nil pattern skips matching.
func (d *Discovery) FindOrFirst(ctx context.Context, pattern *regexp.Regexp) (Tab, error) {
	tabs, err := d.ListTabs(ctx)
	if err != nil {
		return Tab{}, err
	}
	return SelectTab(tabs, pattern)
}

// SelectTab applies the FindOrFirst policy to an already fetched list.
func SelectTab(tabs []Tab, pattern *regexp.Regexp) (Tab, error) {
	if pattern != nil {
		for _, t := range tabs {
			if pattern.MatchString(t.URL) {
				return t, nil
			}
		}
	}
	for _, t := range tabs {
		if t.Type == "page" {
			return t, nil
		}
	}
	return Tab{}, ErrNoTab
}

func (d *Discovery) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("cdp: new request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &UnreachableError{Endpoint: d.endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &UnreachableError{Endpoint: d.endpoint, Status: resp.StatusCode}
	}

	body, err := netguard.LimitedReadAll(resp.Body, maxDiscoveryBody)
	if err != nil {
		return fmt.Errorf("cdp: read %s: %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("cdp: decode %s: %w", path, err)
	}
	return nil
}
