package storage

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btcgold-correlation/internal/stageerr"
)

func TestFormatResultLine(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, "2024-05-01 10:00:00 - Correlation: 0.5", FormatResultLine(CorrelationResult{ComputedAt: ts, Value: 0.5}, time.UTC))
	assert.Equal(t, "2024-05-01 10:00:00 - Correlation: -1", FormatResultLine(CorrelationResult{ComputedAt: ts, Value: -1}, nil))
	assert.Equal(t, "2024-05-01 10:00:00 - Correlation: NaN", FormatResultLine(CorrelationResult{ComputedAt: ts, Value: math.NaN()}, time.UTC))
}

func TestParseResultLine(t *testing.T) {
	got, err := ParseResultLine("2024-05-01 10:00:00 - Correlation: 0.8137", time.UTC)
	require.NoError(t, err)
	assert.InDelta(t, 0.8137, got.Value, 1e-12)
	assert.True(t, got.ComputedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))

	got, err = ParseResultLine("2024-05-01 10:00:00 - Correlation: NaN", time.UTC)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.Value))

	bad := []string{
		"",
		"2024-05-01 10:00:00 Correlation: 1",
		"yesterday - Correlation: 1",
		"2024-05-01 10:00:00 - Corr: 1",
		"2024-05-01 10:00:00 - Correlation: high",
	}
	for _, line := range bad {
		_, err := ParseResultLine(line, time.UTC)
		assert.Error(t, err, line)
	}
}

func TestResultsFileAppendAndList(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "results.txt")
	r := NewResultsFile(path, time.UTC)

	first := CorrelationResult{ComputedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), Value: math.NaN()}
	second := CorrelationResult{ComputedAt: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC), Value: 0.25}
	require.NoError(t, r.AppendResult(ctx, first))
	require.NoError(t, r.AppendResult(ctx, second))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"2024-05-01 10:00:00 - Correlation: NaN\n2024-05-02 10:00:00 - Correlation: 0.25\n",
		string(raw))

	got, err := r.ListResults(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.False(t, got[0].Defined())
	assert.True(t, got[1].Defined())
	assert.Equal(t, 0.25, got[1].Value)
}

func TestResultsFileSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n2024-05-01 10:00:00 - Correlation: 1\n\n"), 0o644))

	got, err := NewResultsFile(path, time.UTC).ListResults(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Value)
}

func TestResultsFileMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.txt")
	content := "2024-05-01 10:00:00 - Correlation: 1\ngarbage\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := NewResultsFile(path, time.UTC).ListResults(context.Background())
	require.ErrorIs(t, err, stageerr.ErrParse)
	assert.Contains(t, err.Error(), "line 2")
}

func TestResultsFileMissingIsEmpty(t *testing.T) {
	got, err := NewResultsFile(filepath.Join(t.TempDir(), "none.txt"), time.UTC).ListResults(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
