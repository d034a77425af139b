package seed

import (
	"errors"
	"time"
)

// Policy is the pacing of a run: scroll cadence, stop thresholds, settle
// wait after navigation and the pause between direct-page visits.
type Policy struct {
	ScrollDelay        time.Duration `json:"scroll_delay" yaml:"scroll_delay"`
	ScrollJitter       time.Duration `json:"scroll_jitter" yaml:"scroll_jitter"`
	ScrollAmountPx     int           `json:"scroll_amount_px" yaml:"scroll_amount_px"`
	MaxNoNewItems      int           `json:"max_no_new_items" yaml:"max_no_new_items"`
	MaxTotalScrolls    int           `json:"max_total_scrolls" yaml:"max_total_scrolls"`
	PageSettle         time.Duration `json:"page_settle" yaml:"page_settle"`
	BetweenItemsDelay  time.Duration `json:"between_items_delay" yaml:"between_items_delay"`
	BetweenItemsJitter time.Duration `json:"between_items_jitter" yaml:"between_items_jitter"`
}

// DefaultPolicy is conservative enough to stay under the site's throttling.
func DefaultPolicy() Policy {
	return Policy{
		ScrollDelay:        2500 * time.Millisecond,
		ScrollJitter:       1000 * time.Millisecond,
		ScrollAmountPx:     600,
		MaxNoNewItems:      5,
		MaxTotalScrolls:    100,
		PageSettle:         5 * time.Second,
		BetweenItemsDelay:  5 * time.Second,
		BetweenItemsJitter: 3 * time.Second,
	}
}

// Validate rejects caps that would never stop or never scroll.
func (p Policy) Validate() error {
	switch {
	case p.ScrollAmountPx <= 0:
		return errors.New("seed: policy: scroll_amount_px must be positive")
	case p.MaxNoNewItems <= 0:
		return errors.New("seed: policy: max_no_new_items must be positive")
	case p.MaxTotalScrolls <= 0:
		return errors.New("seed: policy: max_total_scrolls must be positive")
	case p.ScrollDelay < 0, p.ScrollJitter < 0, p.PageSettle < 0,
		p.BetweenItemsDelay < 0, p.BetweenItemsJitter < 0:
		return errors.New("seed: policy: durations must not be negative")
	}
	return nil
}
