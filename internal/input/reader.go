// Package input reads candidate URL lists from plain-text files.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

var (
	// ErrNotFound is returned when the input file does not exist.
	ErrNotFound = errors.New("input file not found")
	// ErrEmptyInput is returned when the file holds no non-blank lines.
	ErrEmptyInput = errors.New("input file is empty")
)

const maxLineBytes = 1 << 20

// ReadFile returns the trimmed, non-blank lines of the file at path.
func ReadFile(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("input path is required")
	}
	f, err := os.Open(path) // #nosec G304 -- operator-supplied input path.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	lines, err := ReadLines(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lines, nil
}

// ReadLines returns the trimmed, non-blank lines of r in order.
func ReadLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan input: %w", err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyInput
	}
	return lines, nil
}
