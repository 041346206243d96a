package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	n := New(nil)
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"tracker only", "https://a.com/p?utm_source=x", "https://a.com/p", true},
		{"keeps order of retained params", "https://a.com/p?b=2&utm_medium=m&a=1", "https://a.com/p?b=2&a=1", true},
		{"keeps fragment", "https://a.com/p?gclid=1#top", "https://a.com/p#top", true},
		{"untouched without trackers", "HTTPS://A.com/p?z=1&a=%20", "HTTPS://A.com/p?z=1&a=%20", true},
		{"encoded tracker key", "https://a.com/?utm%5Fsource=x&q=go", "https://a.com/?q=go", true},
		{"question mark inside fragment", "https://a.com/p#x?utm_source=1", "https://a.com/p#x?utm_source=1", true},
		{"http allowed", "http://a.com", "http://a.com", true},
		{"ftp rejected", "ftp://a.com/file", "", false},
		{"plain text rejected", "not a url", "", false},
		{"missing host rejected", "https:///path", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := n.Canonicalize(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()

	n := New(nil)
	inputs := []string{
		"https://a.com/p?utm_source=x&id=4&fbclid=abc",
		"https://a.com/p?id=4",
		"https://a.com/?ysclid=1",
		"http://b.org/x?utm_term=&utm_content=c#frag",
	}
	for _, raw := range inputs {
		once, ok := n.Canonicalize(raw)
		require.True(t, ok)
		twice, ok := n.Canonicalize(once)
		require.True(t, ok)
		assert.Equal(t, once, twice, raw)
	}
}

func TestCanonicalizeKeepsSchemeHostPath(t *testing.T) {
	t.Parallel()

	got, ok := New(nil).Canonicalize("https://a.com/p?utm_source=x")
	require.True(t, ok)
	assert.Equal(t, "https://a.com/p", got)
}

func TestNormalizeAssignsIDsAndDeduplicates(t *testing.T) {
	t.Parallel()

	results := New(nil).Normalize([]string{
		"https://example.com/a.html",
		"https://example.com/a.html?utm_source=x",
		"not a url",
		"https://example.com/b.pdf",
	})
	require.Len(t, results, 4)

	for i, res := range results {
		assert.Equal(t, i+1, res.Item.ID)
	}

	assert.True(t, results[0].Accepted())
	assert.Equal(t, "https://example.com/a.html", results[0].Item.CanonicalURL)

	assert.Equal(t, acquisition.ReasonDuplicate, results[1].Reason)
	assert.Contains(t, results[1].Message, "item 1")
	assert.Empty(t, results[1].Item.CanonicalURL)

	assert.Equal(t, acquisition.ReasonNotURL, results[2].Reason)
	assert.True(t, results[3].Accepted())
}

func TestResultEvent(t *testing.T) {
	t.Parallel()

	results := New([]string{"ref"}).Normalize([]string{"https://a.com/?ref=x", "https://a.com/"})
	ok := results[0].Event()
	assert.Equal(t, acquisition.PhaseNormalize, ok.Phase)
	assert.Equal(t, acquisition.OutcomeSuccess, ok.Outcome)
	assert.Equal(t, "https://a.com/", ok.Detail.CanonicalURL)
	assert.Equal(t, 1, ok.ItemID)
	assert.Equal(t, "https://a.com/?ref=x", ok.SubjectURL)

	dup := results[1].Event()
	assert.Equal(t, acquisition.OutcomeFailure, dup.Outcome)
	assert.Equal(t, acquisition.ReasonDuplicate, dup.Detail.Reason)
	assert.Equal(t, "https://a.com/", dup.SubjectURL)
}
