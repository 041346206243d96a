package acquisition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Phase tags the pipeline step that produced an Event.
type Phase string

// Pipeline phases in execution order.
const (
	PhaseNormalize Phase = "normalize"
	PhaseClassify  Phase = "classify"
	PhaseFetch     Phase = "fetch"
	PhaseProcess   Phase = "process"
)

// Phases lists the phases in execution order.
var Phases = []Phase{PhaseNormalize, PhaseClassify, PhaseFetch, PhaseProcess}

// ParsePhase converts a CLI or persisted phase name.
func ParsePhase(raw string) (Phase, error) {
	for _, p := range Phases {
		if string(p) == strings.ToLower(strings.TrimSpace(raw)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", raw)
}

// Outcome is the binary result of one operation.
type Outcome string

// Supported outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Reason classifies a failure outcome.
type Reason string

// Failure reasons.
const (
	ReasonNotURL       Reason = "not_a_url"
	ReasonDuplicate    Reason = "duplicate"
	ReasonHTTPStatus   Reason = "http_status"
	ReasonTimeout      Reason = "timeout"
	ReasonTransport    Reason = "transport"
	ReasonPolicyDenied Reason = "policy_denied"
	ReasonStorage      Reason = "storage"
	ReasonExtract      Reason = "extract"
	ReasonUnsupported  Reason = "unsupported"
)

// Detail carries phase-specific outcome data. Only the fields relevant to the
// event's phase and outcome are populated.
type Detail struct {
	CanonicalURL  string `json:"canonical_url,omitempty"`
	Kind          Kind   `json:"kind,omitempty"`
	StatusCode    int    `json:"status_code,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
	Path          string `json:"path,omitempty"`
	Size          int64  `json:"size,omitempty"`
	SHA256        string `json:"sha256,omitempty"`
	MirrorURI     string `json:"mirror_uri,omitempty"`
	Rendered      bool   `json:"rendered,omitempty"`
	SourcePath    string `json:"source_path,omitempty"`
	ProcessedPath string `json:"processed_path,omitempty"`
	PageCount     int    `json:"page_count,omitempty"`
	Language      string `json:"language,omitempty"`
	Reason        Reason `json:"reason,omitempty"`
	Message       string `json:"message,omitempty"`

	// Elapsed is the wall time the operation took.
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

// ErrorText renders the registry error_message for a failure detail.
func (d Detail) ErrorText() string {
	if d.Reason == "" {
		return d.Message
	}
	if d.Message == "" {
		return string(d.Reason)
	}
	return string(d.Reason) + ": " + d.Message
}

// Event is an immutable record describing the outcome of one operation.
type Event struct {
	RunID      string    `json:"run_id"`
	Seq        int64     `json:"seq"`
	ItemID     int       `json:"item_id,omitempty"`
	SubjectURL string    `json:"subject_url"`
	Phase      Phase     `json:"phase"`
	Outcome    Outcome   `json:"outcome"`
	Detail     Detail    `json:"detail"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate performs coarse structural validation.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if _, err := ParsePhase(string(e.Phase)); err != nil {
		return err
	}
	switch e.Outcome {
	case OutcomeSuccess:
	case OutcomeFailure:
		if e.Detail.Reason == "" {
			return errors.New("failure requires a reason")
		}
	default:
		return fmt.Errorf("unknown outcome %q", e.Outcome)
	}
	if e.ItemID == 0 && e.SubjectURL == "" && e.Detail.SourcePath == "" {
		return errors.New("event must identify its subject")
	}
	return nil
}

// Success builds a success event for the given phase.
func Success(phase Phase, item Item, detail Detail) Event {
	return Event{
		ItemID:     item.ID,
		SubjectURL: subject(item),
		Phase:      phase,
		Outcome:    OutcomeSuccess,
		Detail:     detail,
	}
}

// Failure builds a failure event for the given phase.
func Failure(phase Phase, item Item, reason Reason, message string) Event {
	return Event{
		ItemID:     item.ID,
		SubjectURL: subject(item),
		Phase:      phase,
		Outcome:    OutcomeFailure,
		Detail:     Detail{Reason: reason, Message: message},
	}
}

func subject(item Item) string {
	if item.CanonicalURL != "" {
		return item.CanonicalURL
	}
	return item.SourceURL
}

// Recorder accepts events from phase workers. Implementations must be safe for
// concurrent use and must not block on slow observers.
type Recorder interface {
	Record(ctx context.Context, evt Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, evt Event)

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, evt Event) {
	f(ctx, evt)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
