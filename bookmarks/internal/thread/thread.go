// Package thread classifies a post's direct page as a single post or a
// multi-part thread.
//
// The page script only reports what is rendered (blocks, UI controls);
// classification is the pure function Classify so the confidence
// arithmetic is testable without a browser.
package thread

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"

	"github.com/hazyhaar/xharvest/bookmarks/internal/scripts"
	"github.com/hazyhaar/xharvest/bookmarks/seed"
)

// ErrNoContent means the page rendered no post at all. It is distinct from
// "not a thread".
var ErrNoContent = errors.New("thread: no content blocks on page")

// Detection methods, reported in ThreadInfo.DetectionMethod.
const (
	MethodNone        = "none"
	MethodNumbered    = "numbered_start"
	MethodMarker      = "explicit_marker"
	MethodShowThread  = "ui_show_thread"
	MethodConnector   = "thread_connector"
	MethodConsecutive = "consecutive_same_author"
)

// Indicator weights.
const (
	WeightNumbered    = 0.90
	WeightMarker      = 0.85
	WeightShowThread  = 0.95
	WeightConnector   = 0.85
	WeightConsecutive = 0.75
)

// Threshold is the confidence at or above which a page is a thread.
const Threshold = 0.60

const (
	boostTwo   = 0.10
	boostThree = 0.05
)

var (
	numberedRe = regexp.MustCompile(`\(?1\s*/\s*[\d\w)]?`)
	markers    = []string{"thread:", "🧵", "a thread", "thread 👇", "/thread"}
)

// Block is one rendered post, in document order.
type Block struct {
	Author    string `json:"author"`
	Text      string `json:"text"`
	HasImages bool   `json:"hasImages"`
}

// Signals is the raw output of the thread_signals script.
type Signals struct {
	Blocks     []Block `json:"blocks"`
	ShowThread bool    `json:"showThread"`
	Connector  bool    `json:"connector"`
}

// Result is a classified page.
type Result struct {
	Info      seed.ThreadInfo
	Parts     []string
	HasImages bool
}

type indicator struct {
	method string
	weight float64
}

// Classify applies the thread heuristic to sig. Block 0 is the anchor.
func Classify(sig Signals) (Result, error) {
	if len(sig.Blocks) == 0 {
		return Result{}, ErrNoContent
	}
	anchor := sig.Blocks[0]

	var fired []indicator
	if numberedRe.MatchString(anchor.Text) {
		fired = append(fired, indicator{MethodNumbered, WeightNumbered})
	}
	if hasMarker(anchor.Text) {
		fired = append(fired, indicator{MethodMarker, WeightMarker})
	}
	if sig.ShowThread {
		fired = append(fired, indicator{MethodShowThread, WeightShowThread})
	}
	if sig.Connector {
		fired = append(fired, indicator{MethodConnector, WeightConnector})
	}

	// Only the leading run counts. A later same-author block after an
	// interruption is a self-reply, not a continuation.
	var parts []string
	consecutive := 0
	for _, b := range sig.Blocks {
		if b.Author != anchor.Author {
			break
		}
		consecutive++
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	if consecutive > 1 {
		fired = append(fired, indicator{MethodConsecutive, WeightConsecutive})
	}

	if len(fired) == 0 {
		return Result{
			Info: seed.ThreadInfo{
				IsThread:        false,
				Confidence:      0,
				DetectionMethod: MethodNone,
				EstimatedParts:  1,
			},
			Parts:     []string{anchor.Text},
			HasImages: anchor.HasImages,
		}, nil
	}

	best := fired[0]
	for _, ind := range fired[1:] {
		if ind.weight >= best.weight {
			best = ind
		}
	}
	conf := Confidence(best.weight, len(fired))

	hasImages := false
	for _, b := range sig.Blocks {
		if b.HasImages {
			hasImages = true
			break
		}
	}

	return Result{
		Info: seed.ThreadInfo{
			IsThread:        isThread(conf, consecutive),
			Confidence:      conf,
			DetectionMethod: best.method,
			EstimatedParts:  consecutive,
		},
		Parts:     parts,
		HasImages: hasImages,
	}, nil
}

// Confidence is the aggregate for n fired indicators whose strongest weight
// is best: +0.10 from two, a further +0.05 from three, each step capped at 1.
func Confidence(best float64, n int) float64 {
	if n <= 0 {
		return 0
	}
	c := best
	if n >= 2 {
		c = math.Min(c+boostTwo, 1.0)
	}
	if n >= 3 {
		c = math.Min(c+boostThree, 1.0)
	}
	return c
}

// Observed consecutive same-author posts override a low aggregate.
func isThread(conf float64, consecutive int) bool {
	return conf >= Threshold || consecutive > 1
}

// HasMarkers is the cheap text-only check: a numbered start or an explicit
// marker.
func HasMarkers(text string) bool {
	return numberedRe.MatchString(text) || hasMarker(text)
}

func hasMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Evaluator runs a page script. *page.Driver satisfies it.
type Evaluator interface {
	Eval(ctx context.Context, s scripts.Script, out any) error
}

// Detect reads the signals of the page ev is positioned on and classifies
// them.
func Detect(ctx context.Context, ev Evaluator) (Result, error) {
	var sig Signals
	if err := ev.Eval(ctx, scripts.ThreadSignals, &sig); err != nil {
		return Result{}, err
	}
	return Classify(sig)
}
