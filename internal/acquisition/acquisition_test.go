package acquisition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEligible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		phase Phase
		state State
		kind  Kind
		want  bool
	}{
		{"pending normalizes", PhaseNormalize, StatePending, KindNone, true},
		{"cleaned does not renormalize", PhaseNormalize, StateCleaned, KindNone, false},
		{"cleaned classifies", PhaseClassify, StateCleaned, KindNone, true},
		{"rejected never classifies", PhaseClassify, StateRejected, KindNone, false},
		{"classified page fetches", PhaseFetch, StateClassified, KindPage, true},
		{"classified unknown does not fetch", PhaseFetch, StateClassified, KindUnknown, false},
		{"fetched refetches", PhaseFetch, StateFetched, KindDocument, true},
		{"processed is past fetch", PhaseFetch, StateProcessed, KindDocument, false},
		{"unclassified never fetches", PhaseFetch, StateUnclassified, KindNone, false},
		{"fetched processes", PhaseProcess, StateFetched, KindPage, true},
		{"skipped never processes", PhaseProcess, StateSkipped, KindPage, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Eligible(tt.phase, tt.state, tt.kind))
		})
	}
}

func TestNext(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StateCleaned, Next(PhaseNormalize, OutcomeSuccess, ""))
	assert.Equal(t, StateRejected, Next(PhaseNormalize, OutcomeFailure, ReasonDuplicate))
	assert.Equal(t, StateUnclassified, Next(PhaseClassify, OutcomeFailure, ReasonTimeout))
	assert.Equal(t, StateSkipped, Next(PhaseFetch, OutcomeFailure, ReasonPolicyDenied))
	assert.Equal(t, StateFetchFailed, Next(PhaseFetch, OutcomeFailure, ReasonHTTPStatus))
	assert.Equal(t, StateProcessed, Next(PhaseProcess, OutcomeSuccess, ""))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	base := Event{
		RunID:      "run",
		ItemID:     1,
		SubjectURL: "https://example.com",
		Phase:      PhaseFetch,
		Outcome:    OutcomeSuccess,
		Timestamp:  time.Unix(0, 1),
	}
	require.NoError(t, base.Validate())

	missingReason := base
	missingReason.Outcome = OutcomeFailure
	require.ErrorContains(t, missingReason.Validate(), "reason")

	badPhase := base
	badPhase.Phase = "download"
	require.ErrorContains(t, badPhase.Validate(), "unknown phase")

	anonymous := base
	anonymous.ItemID = 0
	anonymous.SubjectURL = ""
	require.ErrorContains(t, anonymous.Validate(), "subject")
}

func TestDetailErrorText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "duplicate", Detail{Reason: ReasonDuplicate}.ErrorText())
	assert.Equal(t, "http_status: 404 Not Found", Detail{Reason: ReasonHTTPStatus, Message: "404 Not Found"}.ErrorText())
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()

	p, err := ParsePhase(" Fetch ")
	require.NoError(t, err)
	assert.Equal(t, PhaseFetch, p)

	k, err := ParseKind(Sentinel)
	require.NoError(t, err)
	assert.Equal(t, KindNone, k)

	_, err = ParseState("done")
	require.Error(t, err)
}
