package bookmarks

import (
	"github.com/hazyhaar/xharvest/bookmarks/internal/cdp"
	"github.com/hazyhaar/xharvest/bookmarks/internal/collector"
	"github.com/hazyhaar/xharvest/bookmarks/internal/config"
	"github.com/hazyhaar/xharvest/bookmarks/internal/extractor"
	"github.com/hazyhaar/xharvest/bookmarks/internal/page"
	"github.com/hazyhaar/xharvest/bookmarks/internal/thread"
	"github.com/hazyhaar/xharvest/bookmarks/seed"
)

// Data model, re-exported from seed.
type (
	Item       = seed.Item
	Seed       = seed.Seed
	Outcome    = seed.Outcome
	ThreadInfo = seed.ThreadInfo
	Policy     = seed.Policy
)

// CollectResult is what one collection run found, however it stopped.
type CollectResult = collector.Result

// CollectProgress is reported after every harvest.
type CollectProgress = collector.Progress

// ExtractProgressFunc is called before each item is extracted.
type ExtractProgressFunc = extractor.ProgressFunc

// Errors. Use errors.As for the struct types and errors.Is for the
// sentinels.
type (
	UnreachableError        = cdp.UnreachableError
	ProtocolError           = cdp.ProtocolError
	EvaluationError         = page.EvaluationError
	NavigationMismatchError = collector.NavigationMismatchError
	ExtractionError         = extractor.ExtractionError
	InvalidReferenceError   = seed.InvalidReferenceError
)

var (
	ErrNoTab     = cdp.ErrNoTab
	ErrClosed    = cdp.ErrClosed
	ErrTimeout   = cdp.ErrTimeout
	ErrNoContent = thread.ErrNoContent
)

// Retryable reports whether a failed extraction may succeed on a new
// attempt.
func Retryable(err error) bool { return seed.Retryable(err) }

// Config is the top-level configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig locates the running browser.
type BrowserConfig = config.BrowserConfig

// FeedConfig is the feed to import.
type FeedConfig = config.FeedConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config { return config.Default() }

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes a YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}
