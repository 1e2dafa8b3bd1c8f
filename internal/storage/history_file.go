package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"btcgold-correlation/internal/stageerr"
)

// HistoryHeader is the header row of the observation history file.
var HistoryHeader = []string{"Time", "BTC Price", "BTC Market Cap", "Gold Price", "Gold Change"}

// HistoryFile stores observations as rows of a CSV file. Every append opens
// the file in append mode and syncs before returning; existing bytes are never
// rewritten.
type HistoryFile struct {
	path string
	loc  *time.Location
}

// NewHistoryFile returns a history store backed by path. The file is created on first append.
func NewHistoryFile(path string, loc *time.Location) *HistoryFile {
	if loc == nil {
		loc = time.UTC
	}
	return &HistoryFile{path: path, loc: loc}
}

// Path returns the backing file path.
func (h *HistoryFile) Path() string { return h.path }

// AppendObservation writes one row, plus the header when the file is new.
func (h *HistoryFile) AppendObservation(ctx context.Context, obs Observation) error {
	if err := ctx.Err(); err != nil {
		return stageerr.Store("append observation", err)
	}
	if h.path == "" {
		return stageerr.Store("append observation", ErrNotConfigured)
	}
	if err := ensureDir(h.path); err != nil {
		return stageerr.Store("append observation", err)
	}

	file, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return stageerr.Store("open history file", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return stageerr.Store("stat history file", err)
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if info.Size() == 0 {
		if err := writer.Write(HistoryHeader); err != nil {
			return stageerr.Store("encode history header", err)
		}
	}
	record := []string{
		obs.Timestamp.In(h.loc).Format(TimeLayout),
		formatNullDecimal(obs.BTCPrice),
		formatNullDecimal(obs.BTCMarketCap),
		formatNullDecimal(obs.GoldPrice),
		formatNullDecimal(obs.GoldChange),
	}
	if err := writer.Write(record); err != nil {
		return stageerr.Store("encode observation", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return stageerr.Store("encode observation", err)
	}

	// One write call per row keeps a concurrent appender from splitting it.
	if _, err := file.Write(buf.Bytes()); err != nil {
		return stageerr.Store("write observation", err)
	}
	if err := file.Sync(); err != nil {
		return stageerr.Store("sync history file", err)
	}
	return nil
}

// ListObservations reads every row in file order. Numeric cells that are empty
// or unparseable come back as invalid NullDecimals for the caller to filter;
// an unparseable timestamp fails the read. A missing file is an empty history.
func (h *HistoryFile) ListObservations(ctx context.Context) ([]Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, stageerr.Store("read history", err)
	}

	file, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Observation{}, nil
		}
		return nil, stageerr.Store("open history file", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []Observation{}, nil
		}
		return nil, stageerr.Parse("read history header", err)
	}
	if !headerMatches(header) {
		return nil, stageerr.Parse("read history header", fmt.Errorf("unexpected header %q", header))
	}

	observations := make([]Observation, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stageerr.Parse("read history row", err)
		}
		if len(record) > len(HistoryHeader) {
			line, _ := reader.FieldPos(0)
			return nil, stageerr.Parse("read history row", fmt.Errorf("line %d: %d fields, want %d", line, len(record), len(HistoryHeader)))
		}
		obs, err := h.parseRecord(record)
		if err != nil {
			line, _ := reader.FieldPos(0)
			return nil, stageerr.Parse("read history row", fmt.Errorf("line %d: %w", line, err))
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

// parseRecord decodes one row. Short rows are padded with missing cells; the
// timestamp must always parse.
func (h *HistoryFile) parseRecord(record []string) (Observation, error) {
	field := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	ts, err := time.ParseInLocation(TimeLayout, field(0), h.loc)
	if err != nil {
		return Observation{}, fmt.Errorf("parse timestamp %q: %w", field(0), err)
	}
	return Observation{
		Timestamp:    ts,
		BTCPrice:     parseNullDecimal(field(1)),
		BTCMarketCap: parseNullDecimal(field(2)),
		GoldPrice:    parseNullDecimal(field(3)),
		GoldChange:   parseNullDecimal(field(4)),
	}, nil
}

func headerMatches(header []string) bool {
	if len(header) != len(HistoryHeader) {
		return false
	}
	for i, name := range header {
		if !strings.EqualFold(strings.TrimSpace(name), HistoryHeader[i]) {
			return false
		}
	}
	return true
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func parseNullDecimal(raw string) decimal.NullDecimal {
	if raw == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

var _ ObservationStore = (*HistoryFile)(nil)
