package headless

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectorNeedsRender(t *testing.T) {
	t.Parallel()

	d := NewDetector(1000)
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"empty body", "", true},
		{"whitespace body", "  \n ", true},
		{"next.js root", `<div id="__next"></div>`, true},
		{"react root", `<body><div id="root"></div></body>`, true},
		{"script heavy small page", `<html><script>var a=1;</script><p>t</p></html>`, true},
		{"unclosed script", `<html><p>x</p><script src="a.js">`, true},
		{"plain article", "<html><body><p>" + strings.Repeat("text ", 100) + "</p></body></html>", false},
		{"large script page", "<html><body><script>x()</script><p>" + strings.Repeat("content ", 200) + "</p></body></html>", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, d.NeedsRender([]byte(tt.body)))
		})
	}
}

func TestNewDetectorDefaultThreshold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, defaultBodyThreshold, NewDetector(0).BodyThreshold)
	assert.Equal(t, 10, NewDetector(10).BodyThreshold)
}
