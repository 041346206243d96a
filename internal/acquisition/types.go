// Package acquisition defines the shared domain types for the URL acquisition pipeline.
package acquisition

import (
	"fmt"
	"time"
)

// Sentinel is written into every registry cell that has no applicable value.
const Sentinel = "-"

// State is the lifecycle position of a single Item.
type State string

// Item states. Rejected and the failure states are absorbing within a run.
const (
	// StatePending marks a freshly ingested row.
	StatePending State = "pending"
	// StateCleaned marks a row whose URL passed normalization.
	StateCleaned State = "cleaned"
	// StateRejected marks a non-URL or duplicate line.
	StateRejected State = "rejected"
	// StateClassified marks a row whose content kind is known.
	StateClassified State = "classified"
	// StateUnclassified marks a failed probe.
	StateUnclassified State = "unclassified"
	// StateFetched marks a row with a persisted artifact.
	StateFetched State = "fetched"
	// StateFetchFailed marks a failed download.
	StateFetchFailed State = "fetch_failed"
	// StateSkipped marks a download refused by policy.
	StateSkipped State = "skipped"
	// StateProcessed marks a row with extracted text.
	StateProcessed State = "processed"
	// StateProcessFailed marks a failed extraction.
	StateProcessFailed State = "process_failed"
)

// States lists every state in lifecycle order.
var States = []State{
	StatePending,
	StateCleaned,
	StateRejected,
	StateClassified,
	StateUnclassified,
	StateFetched,
	StateFetchFailed,
	StateSkipped,
	StateProcessed,
	StateProcessFailed,
}

// ParseState converts a persisted state string.
func ParseState(raw string) (State, error) {
	for _, s := range States {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown state %q", raw)
}

// Kind is the resource classification of a URL.
type Kind string

// Content kinds.
const (
	KindNone     Kind = ""
	KindDocument Kind = "document"
	KindPage     Kind = "page"
	KindUnknown  Kind = "unknown"
)

// ParseKind converts a persisted content kind; the sentinel maps to KindNone.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindDocument, KindPage, KindUnknown:
		return Kind(raw), nil
	case KindNone, Sentinel:
		return KindNone, nil
	default:
		return KindNone, fmt.Errorf("unknown content kind %q", raw)
	}
}

// Fetchable reports whether the fetch phase handles this kind.
func (k Kind) Fetchable() bool {
	return k == KindDocument || k == KindPage
}

// Dir is the kind-specific directory name used for artifacts.
func (k Kind) Dir() string {
	switch k {
	case KindDocument:
		return "documents"
	case KindPage:
		return "pages"
	default:
		return "other"
	}
}

// Item is one registry row.
type Item struct {
	ID              int       `json:"id"`
	SourceURL       string    `json:"source_url"`
	CanonicalURL    string    `json:"canonical_url,omitempty"`
	State           State     `json:"state"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Kind            Kind      `json:"content_kind,omitempty"`
	RawArtifactPath string    `json:"raw_artifact_path,omitempty"`
	ArtifactSize    int64     `json:"artifact_size_bytes,omitempty"`
	ContentSHA256   string    `json:"content_sha256,omitempty"`
	MirrorURI       string    `json:"mirror_uri,omitempty"`
	IngestedAt      time.Time `json:"ingested_at"`
	ClassifiedAt    time.Time `json:"classified_at,omitzero"`
	FetchedAt       time.Time `json:"fetched_at,omitzero"`
	ProcessedPath   string    `json:"processed_file_path,omitempty"`
	PageCount       int       `json:"document_page_count,omitempty"`
	Language        string    `json:"detected_language,omitempty"`
	ProcessedAt     time.Time `json:"processed_at,omitzero"`
}

// Handoff is the payload passed to downstream processing for a fetched item.
type Handoff struct {
	ID              int    `json:"id"`
	RawArtifactPath string `json:"raw_artifact_path"`
	ContentKind     Kind   `json:"content_kind"`
	CanonicalURL    string `json:"canonical_url"`
	MirrorURI       string `json:"mirror_uri,omitempty"`
}
