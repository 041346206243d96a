// Package blocklist refuses fetches to configured hosts.
package blocklist

import (
	"net/url"
	"slices"
	"strings"
)

// List matches hosts exactly or, for "*.example.com" and ".example.com"
// patterns, the domain and every subdomain. A nil List blocks nothing.
type List struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a List; it returns nil when patterns holds nothing usable.
func New(patterns []string) *List {
	l := &List{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			l.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			l.addSuffix(strings.TrimPrefix(value, "."))
		default:
			l.exact[value] = struct{}{}
		}
	}
	if len(l.exact) == 0 && len(l.suffixes) == 0 {
		return nil
	}
	return l
}

func (l *List) addSuffix(suffix string) {
	if suffix == "" || slices.Contains(l.suffixes, suffix) {
		return
	}
	l.suffixes = append(l.suffixes, suffix)
}

// Blocked reports whether host (no port) is on the list.
func (l *List) Blocked(host string) bool {
	if l == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := l.exact[host]; exact {
		return true
	}
	for _, suffix := range l.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// BlockedURL reports whether rawURL's host is on the list.
func (l *List) BlockedURL(rawURL string) bool {
	if l == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return l.Blocked(u.Hostname())
}
