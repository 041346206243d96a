// Package normalize canonicalizes and deduplicates raw URL lines.
package normalize

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
)

// DefaultTrackingParams are the query keys stripped when no override is configured.
var DefaultTrackingParams = []string{
	"utm_source",
	"utm_medium",
	"utm_campaign",
	"utm_term",
	"utm_content",
	"fbclid",
	"gclid",
	"ysclid",
}

// Result is the normalization outcome for one input line.
type Result struct {
	Item    acquisition.Item
	Reason  acquisition.Reason
	Message string
}

// Accepted reports whether the line produced a canonical URL.
func (r Result) Accepted() bool {
	return r.Reason == ""
}

// Event converts the result into a normalize-phase event.
// Its subject is always the raw line.
func (r Result) Event() acquisition.Event {
	evt := acquisition.Failure(acquisition.PhaseNormalize, r.Item, r.Reason, r.Message)
	if r.Accepted() {
		evt = acquisition.Success(acquisition.PhaseNormalize, r.Item, acquisition.Detail{
			CanonicalURL: r.Item.CanonicalURL,
		})
	}
	evt.SubjectURL = r.Item.SourceURL
	return evt
}

// Normalizer strips tracking parameters and removes duplicate URLs.
type Normalizer struct {
	tracking map[string]struct{}
}

// New builds a Normalizer for the given tracking parameter set. An empty set
// selects DefaultTrackingParams.
func New(trackingParams []string) *Normalizer {
	if len(trackingParams) == 0 {
		trackingParams = DefaultTrackingParams
	}
	set := make(map[string]struct{}, len(trackingParams))
	for _, p := range trackingParams {
		p = strings.TrimSpace(p)
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return &Normalizer{tracking: set}
}

// Normalize assigns ids in input order and returns one Result per line. The
// first occurrence of a canonical URL wins; later ones are rejected as duplicates.
func (n *Normalizer) Normalize(lines []string) []Result {
	results := make([]Result, 0, len(lines))
	firstSeen := make(map[string]int, len(lines))
	for i, line := range lines {
		res := Result{Item: acquisition.Item{
			ID:        i + 1,
			SourceURL: line,
			State:     acquisition.StatePending,
		}}
		canonical, ok := n.Canonicalize(line)
		switch {
		case !ok:
			res.Reason = acquisition.ReasonNotURL
		default:
			if first, dup := firstSeen[canonical]; dup {
				res.Reason = acquisition.ReasonDuplicate
				res.Message = fmt.Sprintf("same canonical URL as item %d", first)
				break
			}
			firstSeen[canonical] = res.Item.ID
			res.Item.CanonicalURL = canonical
		}
		results = append(results, res)
	}
	return results
}

// Canonicalize validates raw as an http(s) URL and strips tracking parameters.
// The input string is returned untouched when no parameter was removed.
func (n *Normalizer) Canonicalize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "", false
	}
	return n.stripTracking(raw), true
}

func (n *Normalizer) stripTracking(raw string) string {
	base, fragment := raw, ""
	if h := strings.IndexByte(raw, '#'); h >= 0 {
		base, fragment = raw[:h], raw[h:]
	}
	q := strings.IndexByte(base, '?')
	if q < 0 {
		return raw
	}
	prefix, query := base[:q], base[q+1:]

	pairs := strings.Split(query, "&")
	kept := make([]string, 0, len(pairs))
	removed := false
	for _, pair := range pairs {
		if _, drop := n.tracking[queryKey(pair)]; drop {
			removed = true
			continue
		}
		kept = append(kept, pair)
	}
	if !removed {
		return raw
	}
	if len(kept) == 0 {
		return prefix + fragment
	}
	return prefix + "?" + strings.Join(kept, "&") + fragment
}

func queryKey(pair string) string {
	key := pair
	if i := strings.IndexByte(pair, '='); i >= 0 {
		key = pair[:i]
	}
	if unescaped, err := url.QueryUnescape(key); err == nil {
		return unescaped
	}
	return key
}
