package headless

import (
	"bytes"
	"strings"
)

const defaultBodyThreshold = 2048

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// Detector flags static HTML that is probably an unrendered JavaScript shell.
type Detector struct {
	BodyThreshold int
}

// NewDetector creates a Detector; threshold <= 0 selects 2048 bytes.
func NewDetector(threshold int) *Detector {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	return &Detector{BodyThreshold: threshold}
}

// NeedsRender reports whether a 200 page body should be re-rendered.
func (d *Detector) NeedsRender(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < d.BodyThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script elements cover a quarter of the body.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
