// Package seed defines the content shapes handed between the bookmark
// ingestion core and the rest of the pipeline. Consumers import this
// package only: storage, triage and publication treat Seed.Content as an
// opaque ordered text sequence and Seed.Metadata as an opaque bag.
package seed

import "time"

// Source identifies the adapter that produced a seed.
type Source string

const (
	SourceXBookmarks Source = "x-bookmarks"
)

// Item is a lightweight reference gathered while scrolling the feed.
// SourceID is the uniqueness key.
type Item struct {
	SourceID    string    `json:"source_id"`
	URL         string    `json:"url"`
	Author      string    `json:"author,omitempty"`
	PreviewText string    `json:"preview_text,omitempty"`
	Timestamp   string    `json:"timestamp,omitempty"`
	ThreadHint  bool      `json:"thread_hint,omitempty"` // preview carries a thread marker
	CollectedAt time.Time `json:"collected_at"`
}

// ThreadInfo is the classification of one direct page.
type ThreadInfo struct {
	IsThread        bool    `json:"is_thread"`
	Confidence      float64 `json:"confidence"` // [0,1]
	DetectionMethod string  `json:"detection_method"`
	EstimatedParts  int     `json:"estimated_parts"`
}

// Seed is the normalized unit of ingested content. Content is never empty:
// one entry per thread part, or a single entry. IsThread usually equals
// len(Content) > 1 but a thread with unrecoverable parts may carry one entry.
type Seed struct {
	Source      Source         `json:"source"`
	SourceID    string         `json:"source_id"`
	URL         string         `json:"url"`
	Author      string         `json:"author,omitempty"`
	Content     []string       `json:"content"`
	IsThread    bool           `json:"is_thread"`
	HasImages   bool           `json:"has_images"`
	ExtractedAt time.Time      `json:"extracted_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Metadata keys set by the extractor.
const (
	MetaAuthorName       = "authorName"
	MetaTimestamp        = "timestamp"
	MetaThreadConfidence = "threadConfidence"
	MetaThreadMethod     = "threadMethod"
	MetaThreadParts      = "threadParts"
	MetaMarkdown         = "markdown"
	MetaLinks            = "links"
)

// Outcome is produced once per extraction attempt. Exactly one of Seed or
// Err is set; Item is always the input reference.
type Outcome struct {
	Item      Item   `json:"item"`
	Seed      *Seed  `json:"seed,omitempty"`
	Err       string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Cause     error  `json:"-"` // the failure itself, for errors.Is and errors.As
}

// OK reports whether the extraction succeeded.
func (o Outcome) OK() bool { return o.Seed != nil }

// Success builds a successful Outcome.
func Success(item Item, s Seed) Outcome {
	return Outcome{Item: item, Seed: &s}
}

// Failure builds a failed Outcome.
func Failure(item Item, err error, retryable bool) Outcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Outcome{Item: item, Err: msg, Retryable: retryable, Cause: err}
}
