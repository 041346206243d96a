package fetcher

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
)

const maxBaseNameLen = 180

// ArtifactName returns "{id}_{basename}" for the last path segment of rawURL.
// Pages without a name become index.html and gain .html when they lack an
// extension; documents fall back to document.pdf the same way.
func ArtifactName(id int, rawURL string, kind acquisition.Kind) string {
	return strconv.Itoa(id) + "_" + baseName(rawURL, kind)
}

// ObjectPath places an artifact name under its kind directory.
func ObjectPath(kind acquisition.Kind, name string) string {
	return path.Join(kind.Dir(), name)
}

func baseName(rawURL string, kind acquisition.Kind) string {
	var segment string
	if u, err := url.Parse(rawURL); err == nil {
		escaped := u.EscapedPath()
		segment = escaped[strings.LastIndex(escaped, "/")+1:]
		if unescaped, err := url.PathUnescape(segment); err == nil {
			segment = unescaped
		}
	}
	segment = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, strings.TrimSpace(segment))
	if segment == "." || segment == ".." {
		segment = ""
	}
	if len(segment) > maxBaseNameLen {
		ext := path.Ext(segment)
		if len(ext) > 16 {
			ext = ""
		}
		segment = strings.ToValidUTF8(segment[:maxBaseNameLen-len(ext)], "") + ext
	}

	switch kind {
	case acquisition.KindPage:
		if segment == "" {
			return "index.html"
		}
		if path.Ext(segment) == "" {
			return segment + ".html"
		}
	case acquisition.KindDocument:
		if segment == "" {
			return "document.pdf"
		}
		if path.Ext(segment) == "" {
			return segment + ".pdf"
		}
	default:
		if segment == "" {
			return "artifact"
		}
	}
	return segment
}
