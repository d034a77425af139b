package thread

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hazyhaar/xharvest/bookmarks/internal/scripts"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func blocks(authors ...string) []Block {
	out := make([]Block, len(authors))
	for i, a := range authors {
		out[i] = Block{Author: a, Text: "post by " + a}
	}
	return out
}

func TestConfidence_Table(t *testing.T) {
	tests := []struct {
		best float64
		n    int
		want float64
	}{
		{0, 0, 0},
		{0.75, 1, 0.75},
		{0.90, 1, 0.90},
		{0.85, 2, 0.95},
		{0.95, 2, 1.0},
		{0.85, 3, 1.0},
		{0.75, 3, 0.90},
		{0.90, 5, 1.0},
	}
	for _, tt := range tests {
		if got := Confidence(tt.best, tt.n); !near(got, tt.want) {
			t.Errorf("Confidence(%v, %d): got %v, want %v", tt.best, tt.n, got, tt.want)
		}
	}
}

func TestClassify_NoBlocks(t *testing.T) {
	_, err := Classify(Signals{ShowThread: true})
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("got %v, want ErrNoContent", err)
	}
}

func TestClassify_SingleBlockNoIndicators(t *testing.T) {
	res, err := Classify(Signals{Blocks: []Block{
		{Author: "alice", Text: "Just shipped the new release", HasImages: true},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Info.IsThread || res.Info.Confidence != 0 {
		t.Errorf("info: %+v", res.Info)
	}
	if res.Info.DetectionMethod != MethodNone || res.Info.EstimatedParts != 1 {
		t.Errorf("info: %+v", res.Info)
	}
	if len(res.Parts) != 1 || res.Parts[0] != "Just shipped the new release" {
		t.Errorf("parts: %q", res.Parts)
	}
	if !res.HasImages {
		t.Error("anchor images not reported")
	}
}

func TestClassify_NoIndicatorsKeepsEmptyAnchorText(t *testing.T) {
	res, err := Classify(Signals{Blocks: []Block{{Author: "alice"}, {Author: "bob", Text: "reply"}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Parts) != 1 || res.Parts[0] != "" {
		t.Errorf("parts: %q", res.Parts)
	}
}

func TestClassify_NoIndicatorsIgnoresReplyImages(t *testing.T) {
	res, _ := Classify(Signals{Blocks: []Block{
		{Author: "alice", Text: "hello"},
		{Author: "bob", Text: "nice", HasImages: true},
	}})
	if res.HasImages {
		t.Error("reply images should not count without indicators")
	}
}

func TestClassify_ShowThreadThreeParts(t *testing.T) {
	sig := Signals{
		Blocks: []Block{
			{Author: "alice", Text: "Here is how we cut build times"},
			{Author: "alice", Text: "First, cache the module downloads"},
			{Author: "alice", Text: "Then split the test packages", HasImages: true},
			{Author: "bob", Text: "Great write-up"},
		},
		ShowThread: true,
	}
	res, err := Classify(sig)
	if err != nil {
		t.Fatal(err)
	}
	if !near(res.Info.Confidence, 1.0) {
		t.Errorf("confidence: got %v, want 1.0", res.Info.Confidence)
	}
	if !res.Info.IsThread {
		t.Error("should be a thread")
	}
	if res.Info.DetectionMethod != MethodShowThread {
		t.Errorf("method: got %q", res.Info.DetectionMethod)
	}
	if res.Info.EstimatedParts != 3 {
		t.Errorf("estimated parts: got %d", res.Info.EstimatedParts)
	}
	want := []string{
		"Here is how we cut build times",
		"First, cache the module downloads",
		"Then split the test packages",
	}
	if len(res.Parts) != len(want) {
		t.Fatalf("parts: got %q", res.Parts)
	}
	for i := range want {
		if res.Parts[i] != want[i] {
			t.Errorf("part %d: got %q, want %q", i, res.Parts[i], want[i])
		}
	}
	if !res.HasImages {
		t.Error("images in any block should be reported")
	}
}

func TestClassify_SingleIndicatorWeights(t *testing.T) {
	tests := []struct {
		name   string
		sig    Signals
		method string
		weight float64
	}{
		{"numbered", Signals{Blocks: []Block{{Author: "a", Text: "1/ notes on caching"}}}, MethodNumbered, WeightNumbered},
		{"numbered paren", Signals{Blocks: []Block{{Author: "a", Text: "(1/5) notes on caching"}}}, MethodNumbered, WeightNumbered},
		{"marker", Signals{Blocks: []Block{{Author: "a", Text: "Thread: notes on caching"}}}, MethodMarker, WeightMarker},
		{"emoji", Signals{Blocks: []Block{{Author: "a", Text: "notes on caching 🧵"}}}, MethodMarker, WeightMarker},
		{"show thread", Signals{Blocks: blocks("a"), ShowThread: true}, MethodShowThread, WeightShowThread},
		{"connector", Signals{Blocks: blocks("a"), Connector: true}, MethodConnector, WeightConnector},
		{"consecutive", Signals{Blocks: blocks("a", "a", "b")}, MethodConsecutive, WeightConsecutive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Classify(tt.sig)
			if err != nil {
				t.Fatal(err)
			}
			if res.Info.DetectionMethod != tt.method {
				t.Errorf("method: got %q, want %q", res.Info.DetectionMethod, tt.method)
			}
			if !near(res.Info.Confidence, tt.weight) {
				t.Errorf("confidence: got %v, want %v", res.Info.Confidence, tt.weight)
			}
			if !res.Info.IsThread {
				t.Error("a single indicator above threshold should classify as thread")
			}
		})
	}
}

func TestClassify_TwoIndicatorsBoost(t *testing.T) {
	res, _ := Classify(Signals{
		Blocks:    []Block{{Author: "a", Text: "a thread on caching"}},
		Connector: true,
	})
	if !near(res.Info.Confidence, 0.95) {
		t.Errorf("confidence: got %v, want 0.95", res.Info.Confidence)
	}
	// Equal weights: the later indicator wins.
	if res.Info.DetectionMethod != MethodConnector {
		t.Errorf("method: got %q", res.Info.DetectionMethod)
	}
}

func TestClassify_ThreeIndicatorsBoost(t *testing.T) {
	res, _ := Classify(Signals{Blocks: []Block{
		{Author: "a", Text: "1/ a thread on caching"},
		{Author: "a", Text: "2/ more"},
	}})
	// numbered 0.90 + explicit marker + consecutive: 0.90 + 0.10 capped, then +0.05 capped.
	if !near(res.Info.Confidence, 1.0) {
		t.Errorf("confidence: got %v, want 1.0", res.Info.Confidence)
	}
	if res.Info.DetectionMethod != MethodNumbered {
		t.Errorf("method: got %q", res.Info.DetectionMethod)
	}
}

func TestClassify_ConsecutiveStopsAtFirstOtherAuthor(t *testing.T) {
	sig := Signals{Blocks: []Block{
		{Author: "alice", Text: "one"},
		{Author: "alice", Text: "two"},
		{Author: "bob", Text: "interrupt"},
		{Author: "alice", Text: "self-reply"},
		{Author: "alice", Text: "another self-reply"},
	}}
	res, err := Classify(sig)
	if err != nil {
		t.Fatal(err)
	}
	if res.Info.EstimatedParts != 2 {
		t.Errorf("estimated parts: got %d, want 2", res.Info.EstimatedParts)
	}
	if len(res.Parts) != 2 || res.Parts[1] != "two" {
		t.Errorf("parts: %q", res.Parts)
	}
}

func TestClassify_ReplyAfterAnchorIsNotThread(t *testing.T) {
	res, _ := Classify(Signals{Blocks: blocks("alice", "bob", "alice")})
	if res.Info.IsThread {
		t.Errorf("self-reply after interruption classified as thread: %+v", res.Info)
	}
	if res.Info.EstimatedParts != 1 {
		t.Errorf("estimated parts: got %d", res.Info.EstimatedParts)
	}
}

func TestClassify_EmptyPartTextsSkipped(t *testing.T) {
	res, _ := Classify(Signals{Blocks: []Block{
		{Author: "a", Text: "text"},
		{Author: "a", Text: ""},
		{Author: "a", Text: "more"},
	}})
	if res.Info.EstimatedParts != 3 {
		t.Errorf("estimated parts: got %d", res.Info.EstimatedParts)
	}
	if len(res.Parts) != 2 {
		t.Errorf("parts: %q", res.Parts)
	}
}

func TestIsThread_ConsecutiveOverridesLowConfidence(t *testing.T) {
	tests := []struct {
		conf        float64
		consecutive int
		want        bool
	}{
		{0.30, 2, true},
		{0.00, 3, true},
		{0.59, 1, false},
		{0.60, 1, true},
		{0.30, 0, false},
	}
	for _, tt := range tests {
		if got := isThread(tt.conf, tt.consecutive); got != tt.want {
			t.Errorf("isThread(%v, %d): got %v, want %v", tt.conf, tt.consecutive, got, tt.want)
		}
	}

	res, _ := Classify(Signals{Blocks: blocks("a", "a")})
	if !res.Info.IsThread {
		t.Errorf("two consecutive posts: %+v", res.Info)
	}
}

func TestHasMarkers(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"1/ how we did it", true},
		{"(1/5) how we did it", true},
		{"1 / n", true},
		{"A THREAD about caches", true},
		{"thread 👇", true},
		{"/thread", true},
		{"🧵", true},
		{"nothing to see here", false},
		{"10/10 would read again", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := HasMarkers(tt.text); got != tt.want {
			t.Errorf("HasMarkers(%q): got %v, want %v", tt.text, got, tt.want)
		}
	}
}

type fakeEval struct {
	sig Signals
	err error
	ran []string
}

func (f *fakeEval) Eval(_ context.Context, s scripts.Script, out any) error {
	f.ran = append(f.ran, s.ID())
	if f.err != nil {
		return f.err
	}
	*(out.(*Signals)) = f.sig
	return nil
}

func TestDetect(t *testing.T) {
	ev := &fakeEval{sig: Signals{Blocks: blocks("a", "a", "a"), ShowThread: true}}
	res, err := Detect(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if len(ev.ran) != 1 || ev.ran[0] != scripts.ThreadSignals.ID() {
		t.Errorf("scripts run: %v", ev.ran)
	}
	if !res.Info.IsThread || len(res.Parts) != 3 {
		t.Errorf("result: %+v", res)
	}
}

func TestDetect_EvalError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Detect(context.Background(), &fakeEval{err: boom})
	if !errors.Is(err, boom) {
		t.Errorf("got %v", err)
	}
}

func TestDetect_EmptyPage(t *testing.T) {
	_, err := Detect(context.Background(), &fakeEval{})
	if !errors.Is(err, ErrNoContent) {
		t.Errorf("got %v, want ErrNoContent", err)
	}
}
