package progress

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StagePhaseStart Stage = "PHASE_START"
	StageItemDone   Stage = "ITEM_DONE"
	StagePhaseDone  Stage = "PHASE_DONE"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one progress milestone.
type Event struct {
	// RunID identifies the acquisition run.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Phase scopes phase and item milestones.
	Phase acquisition.Phase
	// ItemID is the registry row an ITEM_DONE refers to.
	ItemID int
	// Site is the host label of the item URL.
	Site string
	// URL is the item URL; it should not contain credentials.
	URL string
	// Outcome and Reason summarize an ITEM_DONE.
	Outcome acquisition.Outcome
	Reason  acquisition.Reason
	// StatusClass groups the HTTP response code when one was observed.
	StatusClass StatusClass
	// Bytes is the artifact size for fetch completions.
	Bytes int64
	// Total is the number of eligible items on PHASE_START.
	Total int
	// Dur is the item, phase, or run latency.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePhaseStart, StagePhaseDone:
		if e.Phase == "" {
			return fmt.Errorf("%s requires phase", e.Stage)
		}
	case StageItemDone:
		if e.Phase == "" {
			return errors.New("item done requires phase")
		}
		if e.Outcome == "" {
			return errors.New("item done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes. Zero means no response was seen.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code == 0:
		return ""
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

// ItemDone converts an acquisition event into an ITEM_DONE milestone.
func ItemDone(runID uuid.UUID, evt acquisition.Event, dur time.Duration) Event {
	note := ""
	if evt.Outcome == acquisition.OutcomeFailure {
		note = evt.Detail.Message
	}
	return Event{
		RunID:       runID,
		TS:          evt.Timestamp,
		Stage:       StageItemDone,
		Phase:       evt.Phase,
		ItemID:      evt.ItemID,
		Site:        Site(evt.SubjectURL),
		URL:         evt.SubjectURL,
		Outcome:     evt.Outcome,
		Reason:      evt.Detail.Reason,
		StatusClass: ClassifyStatus(evt.Detail.StatusCode),
		Bytes:       evt.Detail.Size,
		Dur:         dur,
		Note:        note,
	}
}

// Site returns the lower-cased host of raw, or "unknown".
func Site(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
