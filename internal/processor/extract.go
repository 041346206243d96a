package processor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when an artifact yields no extractable text.
var ErrNoText = errors.New("no extractable text")

var blankRuns = regexp.MustCompile(`[ \t\r\f\v]*\n[ \t\r\n\f\v]*`)

// Text is the result of extracting one artifact.
type Text struct {
	Body      string
	PageCount int
	Language  string
}

// ExtractHTML returns the visible text of an HTML document with script,
// style and noscript content dropped.
func ExtractHTML(r io.Reader) (Text, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Text{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	lang, _ := doc.Find("html").First().Attr("lang")
	if lang == "" {
		doc.Find("meta[http-equiv]").EachWithBreak(func(_ int, meta *goquery.Selection) bool {
			if equiv, _ := meta.Attr("http-equiv"); strings.EqualFold(equiv, "content-language") {
				lang, _ = meta.Attr("content")
				return false
			}
			return true
		})
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	body := tidy(root.Text())
	if body == "" {
		return Text{}, ErrNoText
	}
	return Text{Body: body, Language: normalizeLang(lang)}, nil
}

// ExtractPDF returns the plain text and page count of a PDF held in data.
func ExtractPDF(data []byte) (out Text, err error) {
	// The PDF reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Text{}, fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return Text{}, fmt.Errorf("extract pdf text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return Text{}, fmt.Errorf("read pdf text: %w", err)
	}
	out = Text{
		Body:      tidy(string(raw)),
		PageCount: reader.NumPage(),
		Language:  normalizeLang(reader.Trailer().Key("Root").Key("Lang").Text()),
	}
	if out.Body == "" {
		return Text{}, ErrNoText
	}
	return out, nil
}

func tidy(s string) string {
	return strings.TrimSpace(blankRuns.ReplaceAllString(s, "\n"))
}

func normalizeLang(lang string) string {
	lang = strings.TrimSpace(lang)
	if i := strings.IndexByte(lang, ','); i >= 0 {
		lang = lang[:i]
	}
	return strings.ToLower(strings.TrimSpace(lang))
}
