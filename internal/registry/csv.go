package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/JakeFAU/url-acquirer/internal/acquisition"
)

// Columns is the fixed header of the registry file.
var Columns = []string{
	"id",
	"source_url",
	"canonical_url",
	"state",
	"error_message",
	"content_kind",
	"raw_artifact_path",
	"artifact_size_bytes",
	"content_sha256",
	"mirror_uri",
	"ingested_at",
	"classified_at",
	"fetched_at",
	"processed_file_path",
	"document_page_count",
	"detected_language",
	"processed_at",
}

const timeLayout = time.RFC3339

// Encode renders one row; every empty cell becomes the sentinel. source_url
// is written as read, since input lines are never blank and a line may itself
// be the sentinel.
func Encode(it acquisition.Item) []string {
	size := acquisition.Sentinel
	if it.RawArtifactPath != "" {
		size = strconv.FormatInt(it.ArtifactSize, 10)
	}
	pages := acquisition.Sentinel
	if it.PageCount > 0 {
		pages = strconv.Itoa(it.PageCount)
	}
	return []string{
		strconv.Itoa(it.ID),
		it.SourceURL,
		cell(it.CanonicalURL),
		cell(string(it.State)),
		cell(it.ErrorMessage),
		cell(string(it.Kind)),
		cell(it.RawArtifactPath),
		size,
		cell(it.ContentSHA256),
		cell(it.MirrorURI),
		timeCell(it.IngestedAt),
		timeCell(it.ClassifiedAt),
		timeCell(it.FetchedAt),
		cell(it.ProcessedPath),
		pages,
		cell(it.Language),
		timeCell(it.ProcessedAt),
	}
}

// Decode parses one row produced by Encode.
func Decode(record []string) (acquisition.Item, error) {
	if len(record) != len(Columns) {
		return acquisition.Item{}, fmt.Errorf("expected %d columns, got %d", len(Columns), len(record))
	}
	var (
		it  acquisition.Item
		err error
	)
	if it.ID, err = strconv.Atoi(record[0]); err != nil {
		return acquisition.Item{}, fmt.Errorf("parse id: %w", err)
	}
	it.SourceURL = record[1]
	it.CanonicalURL = value(record[2])
	if it.State, err = acquisition.ParseState(record[3]); err != nil {
		return acquisition.Item{}, err
	}
	it.ErrorMessage = value(record[4])
	if it.Kind, err = acquisition.ParseKind(record[5]); err != nil {
		return acquisition.Item{}, err
	}
	it.RawArtifactPath = value(record[6])
	if v := value(record[7]); v != "" {
		if it.ArtifactSize, err = strconv.ParseInt(v, 10, 64); err != nil {
			return acquisition.Item{}, fmt.Errorf("parse artifact size: %w", err)
		}
	}
	it.ContentSHA256 = value(record[8])
	it.MirrorURI = value(record[9])
	timeFields := []struct {
		raw  string
		dest *time.Time
	}{
		{record[10], &it.IngestedAt},
		{record[11], &it.ClassifiedAt},
		{record[12], &it.FetchedAt},
		{record[16], &it.ProcessedAt},
	}
	for _, tf := range timeFields {
		if *tf.dest, err = parseTime(tf.raw); err != nil {
			return acquisition.Item{}, err
		}
	}
	it.ProcessedPath = value(record[13])
	if v := value(record[14]); v != "" {
		if it.PageCount, err = strconv.Atoi(v); err != nil {
			return acquisition.Item{}, fmt.Errorf("parse page count: %w", err)
		}
	}
	it.Language = value(record[15])
	return it, nil
}

// Write streams a header and rows to w.
func Write(w io.Writer, items []acquisition.Item) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, it := range items {
		if err := cw.Write(Encode(it)); err != nil {
			return fmt.Errorf("write row %d: %w", it.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Read parses a registry stream and returns rows sorted by id.
func Read(r io.Reader) ([]acquisition.Item, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Columns)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, col := range Columns {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected column %q at position %d", header[i], i)
		}
	}
	var items []acquisition.Item
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		it, err := Decode(record)
		if err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		items = append(items, it)
	}
	sortByID(items)
	return items, nil
}

func readFile(path string) ([]acquisition.Item, error) {
	f, err := os.Open(path) // #nosec G304 -- configured registry path.
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle
	items, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return items, nil
}

// writeFile writes rows to a temp file next to path and renames it into place,
// so readers only ever observe a complete registry.
func writeFile(path string, items []acquisition.Item) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	tmpName := tmp.Name()
	if err := Write(tmp, items); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		removeStale(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		removeStale(tmpName)
		return fmt.Errorf("sync temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		removeStale(tmpName)
		return fmt.Errorf("close temp registry: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		removeStale(tmpName)
		return fmt.Errorf("swap registry: %w", err)
	}
	return nil
}

func cell(v string) string {
	if v == "" {
		return acquisition.Sentinel
	}
	return v
}

func value(v string) string {
	if v == acquisition.Sentinel {
		return ""
	}
	return v
}

func timeCell(t time.Time) string {
	if t.IsZero() {
		return acquisition.Sentinel
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	v := value(raw)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}
