package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"btcgold-correlation/internal/stageerr"
)

const (
	resultSeparator = " - "
	resultPrefix    = "Correlation: "
)

// ResultsFile is the plain-text results log, one "<ts> - Correlation: <v>" line per entry.
type ResultsFile struct {
	path string
	loc  *time.Location
}

// NewResultsFile returns a results log backed by path. The file is created on first append.
func NewResultsFile(path string, loc *time.Location) *ResultsFile {
	if loc == nil {
		loc = time.UTC
	}
	return &ResultsFile{path: path, loc: loc}
}

// Path returns the backing file path.
func (r *ResultsFile) Path() string { return r.path }

// FormatResultLine renders a result in the log's line format, without the newline.
func FormatResultLine(result CorrelationResult, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("%s%s%s%s",
		result.ComputedAt.In(loc).Format(TimeLayout),
		resultSeparator,
		resultPrefix,
		formatCorrelation(result.Value),
	)
}

// ParseResultLine parses one log line. SampleSize and RunID are not part of the
// line format and come back empty.
func ParseResultLine(line string, loc *time.Location) (CorrelationResult, error) {
	if loc == nil {
		loc = time.UTC
	}

	stamp, rest, ok := strings.Cut(line, resultSeparator)
	if !ok {
		return CorrelationResult{}, fmt.Errorf("missing %q separator", strings.TrimSpace(resultSeparator))
	}

	computedAt, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(stamp), loc)
	if err != nil {
		return CorrelationResult{}, fmt.Errorf("parse timestamp: %w", err)
	}

	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, resultPrefix) {
		return CorrelationResult{}, fmt.Errorf("missing %q prefix", strings.TrimSpace(resultPrefix))
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(rest, resultPrefix)), 64)
	if err != nil {
		return CorrelationResult{}, fmt.Errorf("parse correlation: %w", err)
	}

	return CorrelationResult{ComputedAt: computedAt, Value: value}, nil
}

// AppendResult writes one line and syncs before returning.
func (r *ResultsFile) AppendResult(ctx context.Context, result CorrelationResult) error {
	if err := ctx.Err(); err != nil {
		return stageerr.Store("append result", err)
	}
	if r.path == "" {
		return stageerr.Store("append result", ErrNotConfigured)
	}
	if err := ensureDir(r.path); err != nil {
		return stageerr.Store("append result", err)
	}

	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return stageerr.Store("open results log", err)
	}
	defer file.Close()

	if _, err := file.WriteString(FormatResultLine(result, r.loc) + "\n"); err != nil {
		return stageerr.Store("write result", err)
	}
	if err := file.Sync(); err != nil {
		return stageerr.Store("sync results log", err)
	}
	return nil
}

// ListResults parses every non-blank line in file order. Any malformed line
// fails the whole read. A missing file is an empty log.
func (r *ResultsFile) ListResults(ctx context.Context) ([]CorrelationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, stageerr.Store("read results log", err)
	}

	file, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []CorrelationResult{}, nil
		}
		return nil, stageerr.Store("open results log", err)
	}
	defer file.Close()

	results := make([]CorrelationResult, 0)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		result, err := ParseResultLine(line, r.loc)
		if err != nil {
			return nil, stageerr.Parse(fmt.Sprintf("results log line %d", lineNo), err)
		}
		results = append(results, result)
	}
	if err := scanner.Err(); err != nil {
		return nil, stageerr.Store("scan results log", err)
	}
	return results, nil
}

func formatCorrelation(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var _ ResultLog = (*ResultsFile)(nil)
