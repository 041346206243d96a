package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
	"github.com/JakeFAU/url-acquirer/internal/metrics"
)

// Stats reports what one Reconcile call did.
type Stats struct {
	Phase      acquisition.Phase `json:"phase"`
	Events     int               `json:"events"`
	Applied    int               `json:"applied"`
	NotRun     int               `json:"not_run"`
	Unmatched  int               `json:"unmatched"`
	Ineligible int               `json:"ineligible"`
	Superseded int               `json:"superseded"`
}

// Reconcile folds every event recorded for phase in the bound run into the
// ledger. Events are matched by item id, falling back to canonical URL (or the
// artifact path for the process phase). The first matching event per item
// wins. Eligible items without an event keep their state and have the phase's
// output fields reset, so every cell stays deterministic. The updated ledger
// is persisted atomically; on a write error the in-memory view is unchanged.
func (r *Registry) Reconcile(ctx context.Context, phase acquisition.Phase) (Stats, error) {
	stats := Stats{Phase: phase}
	if _, err := acquisition.ParsePhase(string(phase)); err != nil {
		return stats, fmt.Errorf("reconcile %q: %w", phase, ErrUnknownPhase)
	}

	r.mu.RLock()
	source, runID := r.source, r.runID
	r.mu.RUnlock()
	if source == nil {
		return stats, fmt.Errorf("reconcile %s: %w", phase, ErrNoEventSource)
	}
	events, err := source.Events(ctx, runID, phase)
	if err != nil {
		return stats, fmt.Errorf("reconcile %s: load events: %w", phase, err)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	stats.Events = len(events)

	r.mu.Lock()
	defer r.mu.Unlock()

	work := append([]acquisition.Item(nil), r.items...)
	m := newMatcher(phase, work, r.index)
	applied := make(map[int]bool, len(m.eligible))
	for _, evt := range events {
		if evt.Phase != phase {
			stats.Unmatched++
			continue
		}
		pos, ok := m.match(evt, applied)
		switch {
		case !ok:
			stats.Unmatched++
			r.logger.Debug("reconcile: event matches no item",
				zap.String("phase", string(phase)),
				zap.Int("item_id", evt.ItemID),
				zap.String("url", evt.SubjectURL))
		case !m.eligible[pos]:
			stats.Ineligible++
			r.logger.Debug("reconcile: item not eligible for phase",
				zap.String("phase", string(phase)),
				zap.Int("item_id", work[pos].ID),
				zap.String("state", string(work[pos].State)))
		case applied[pos]:
			stats.Superseded++
		default:
			apply(&work[pos], evt)
			applied[pos] = true
			stats.Applied++
		}
	}
	for pos := range m.eligible {
		if applied[pos] {
			continue
		}
		markNotRun(&work[pos], phase)
		stats.NotRun++
	}
	sortByID(work)

	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("reconcile %s: %w", phase, err)
	}
	if err := writeFile(r.path, work); err != nil {
		return stats, fmt.Errorf("reconcile %s: %w", phase, err)
	}
	r.replace(work)
	observe(stats)
	r.logger.Info("registry reconciled",
		zap.String("phase", string(phase)),
		zap.String("run_id", runID),
		zap.Int("events", stats.Events),
		zap.Int("applied", stats.Applied),
		zap.Int("not_run", stats.NotRun),
		zap.Int("unmatched", stats.Unmatched),
		zap.Int("ineligible", stats.Ineligible),
		zap.Int("superseded", stats.Superseded))
	return stats, nil
}

func observe(s Stats) {
	phase := string(s.Phase)
	metrics.ObserveReconcile(phase, "applied", s.Applied)
	metrics.ObserveReconcile(phase, "not_run", s.NotRun)
	metrics.ObserveReconcile(phase, "unmatched", s.Unmatched)
	metrics.ObserveReconcile(phase, "ineligible", s.Ineligible)
	metrics.ObserveReconcile(phase, "superseded", s.Superseded)
}

type matcher struct {
	phase    acquisition.Phase
	index    map[int]int
	eligible map[int]bool
	byURL    map[string]int
	bySource map[string][]int
	byPath   map[string]int
}

func newMatcher(phase acquisition.Phase, items []acquisition.Item, index map[int]int) *matcher {
	m := &matcher{
		phase:    phase,
		index:    index,
		eligible: map[int]bool{},
		byURL:    map[string]int{},
		bySource: map[string][]int{},
		byPath:   map[string]int{},
	}
	for pos, it := range items {
		if !acquisition.Eligible(phase, it.State, it.Kind) {
			continue
		}
		m.eligible[pos] = true
		if it.CanonicalURL != "" {
			if _, taken := m.byURL[it.CanonicalURL]; !taken {
				m.byURL[it.CanonicalURL] = pos
			}
		}
		m.bySource[it.SourceURL] = append(m.bySource[it.SourceURL], pos)
		if it.RawArtifactPath != "" {
			m.byPath[it.RawArtifactPath] = pos
		}
	}
	return m
}

// match resolves the ledger position an event refers to.
func (m *matcher) match(evt acquisition.Event, applied map[int]bool) (int, bool) {
	if evt.ItemID > 0 {
		pos, ok := m.index[evt.ItemID]
		return pos, ok
	}
	switch m.phase {
	case acquisition.PhaseNormalize:
		// Normalize events name the raw line. Lines may repeat, so take the
		// first row of that line not yet applied.
		for _, pos := range m.bySource[evt.SubjectURL] {
			if !applied[pos] {
				return pos, true
			}
		}
		return 0, false
	case acquisition.PhaseProcess:
		if pos, ok := m.byPath[evt.Detail.SourcePath]; ok {
			return pos, true
		}
	}
	pos, ok := m.byURL[evt.SubjectURL]
	return pos, ok
}

func apply(it *acquisition.Item, evt acquisition.Event) {
	success := evt.Outcome == acquisition.OutcomeSuccess
	it.State = acquisition.Next(evt.Phase, evt.Outcome, evt.Detail.Reason)
	it.ErrorMessage = ""
	if !success {
		it.ErrorMessage = evt.Detail.ErrorText()
	}

	switch evt.Phase {
	case acquisition.PhaseNormalize:
		it.CanonicalURL = ""
		if success {
			it.CanonicalURL = evt.Detail.CanonicalURL
			if it.CanonicalURL == "" {
				it.CanonicalURL = evt.SubjectURL
			}
		}
		clearClassify(it)
		clearFetch(it)
		clearProcess(it)
	case acquisition.PhaseClassify:
		clearClassify(it)
		clearFetch(it)
		clearProcess(it)
		if success {
			it.Kind = evt.Detail.Kind
			if it.Kind == acquisition.KindNone {
				it.Kind = acquisition.KindUnknown
			}
			it.ClassifiedAt = evt.Timestamp
		}
	case acquisition.PhaseFetch:
		clearFetch(it)
		clearProcess(it)
		if success {
			it.RawArtifactPath = evt.Detail.Path
			it.ArtifactSize = evt.Detail.Size
			it.ContentSHA256 = evt.Detail.SHA256
			it.MirrorURI = evt.Detail.MirrorURI
			it.FetchedAt = evt.Timestamp
		}
	case acquisition.PhaseProcess:
		clearProcess(it)
		if success {
			it.ProcessedPath = evt.Detail.ProcessedPath
			it.PageCount = evt.Detail.PageCount
			it.Language = evt.Detail.Language
			it.ProcessedAt = evt.Timestamp
		}
	}
}

// markNotRun resets the phase output of an eligible item that produced no
// event. Items already holding output from an earlier run keep it.
func markNotRun(it *acquisition.Item, phase acquisition.Phase) {
	switch phase {
	case acquisition.PhaseNormalize:
		it.CanonicalURL = ""
	case acquisition.PhaseClassify:
		if it.State == acquisition.StateCleaned {
			clearClassify(it)
		}
	case acquisition.PhaseFetch:
		if it.State == acquisition.StateClassified {
			clearFetch(it)
		}
	case acquisition.PhaseProcess:
		if it.State == acquisition.StateFetched {
			clearProcess(it)
		}
	}
}

func clearClassify(it *acquisition.Item) {
	it.Kind = acquisition.KindNone
	it.ClassifiedAt = time.Time{}
}

func clearFetch(it *acquisition.Item) {
	it.RawArtifactPath = ""
	it.ArtifactSize = 0
	it.ContentSHA256 = ""
	it.MirrorURI = ""
	it.FetchedAt = time.Time{}
}

func clearProcess(it *acquisition.Item) {
	it.ProcessedPath = ""
	it.PageCount = 0
	it.Language = ""
	it.ProcessedAt = time.Time{}
}
