// Package scripts holds the DOM scripts evaluated in the page. Each asset
// documents its input/output contract in its header and is versioned so a
// change in the site's markup shows up as a version bump, not a silent edit.
package scripts

import (
	_ "embed"
	"fmt"
)

// Script is a named, versioned page expression.
type Script struct {
	Name    string
	Version int
	Source  string
}

// ID is "name@vN", used in logs and errors.
func (s Script) ID() string {
	return fmt.Sprintf("%s@v%d", s.Name, s.Version)
}

var (
	//go:embed collect_items.js
	collectItemsJS string

	//go:embed item_metadata.js
	itemMetadataJS string

	//go:embed thread_signals.js
	threadSignalsJS string
)

var (
	// CollectItems lists the item references rendered on the feed.
	CollectItems = Script{Name: "collect_items", Version: 1, Source: collectItemsJS}

	// ItemMetadata reads the anchor post of a direct page.
	ItemMetadata = Script{Name: "item_metadata", Version: 1, Source: itemMetadataJS}

	// ThreadSignals reports the raw signals the thread detector classifies.
	ThreadSignals = Script{Name: "thread_signals", Version: 1, Source: threadSignalsJS}
)

// Inline wraps a one-off expression (scroll, location) as a Script.
func Inline(name, source string) Script {
	return Script{Name: name, Version: 0, Source: source}
}

// All returns every embedded asset.
func All() []Script {
	return []Script{CollectItems, ItemMetadata, ThreadSignals}
}
