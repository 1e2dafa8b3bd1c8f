package render

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btcgold-correlation/internal/stageerr"
	"btcgold-correlation/internal/storage"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func day(d int) time.Time {
	return time.Date(2024, 5, d, 10, 0, 0, 0, time.UTC)
}

func TestDedupKeepsFirst(t *testing.T) {
	in := []storage.CorrelationResult{
		{ComputedAt: day(1), Value: 0.1},
		{ComputedAt: day(2), Value: 0.2},
		{ComputedAt: day(1), Value: 0.9},
		{ComputedAt: day(3), Value: math.NaN()},
		{ComputedAt: day(3), Value: 0.3},
	}

	got := Dedup(in)
	require.Len(t, got, 3)
	assert.Equal(t, 0.1, got[0].Value)
	assert.Equal(t, 0.2, got[1].Value)
	assert.True(t, math.IsNaN(got[2].Value))
}

func TestDedupPreservesSourceOrder(t *testing.T) {
	in := []storage.CorrelationResult{
		{ComputedAt: day(5), Value: 0.5},
		{ComputedAt: day(2), Value: 0.2},
	}
	got := Dedup(in)
	require.Len(t, got, 2)
	assert.True(t, got[0].ComputedAt.Equal(day(5)))
}

func TestRenderWritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charts", "trend.png")
	r := New(Options{Path: path, Width: 600, Height: 300}, zerolog.Nop())

	err := r.Render([]storage.CorrelationResult{
		{ComputedAt: day(1), Value: math.NaN()},
		{ComputedAt: day(2), Value: 0.4},
		{ComputedAt: day(3), Value: -0.2},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))
}

func TestRenderSinglePoint(t *testing.T) {
	var buf bytes.Buffer
	r := New(Options{}, zerolog.Nop())
	require.NoError(t, r.RenderTo(&buf, []storage.CorrelationResult{{ComputedAt: day(1), Value: 1}}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestRenderOnlyUndefined(t *testing.T) {
	var buf bytes.Buffer
	r := New(Options{}, zerolog.Nop())
	require.NoError(t, r.RenderTo(&buf, []storage.CorrelationResult{{ComputedAt: day(1), Value: math.NaN()}}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestRenderEmptyKeepsPreviousArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trend.png")
	r := New(Options{Path: path}, zerolog.Nop())
	require.NoError(t, r.Render([]storage.CorrelationResult{{ComputedAt: day(1), Value: 0.5}, {ComputedAt: day(2), Value: 0.6}}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = r.Render(nil)
	require.ErrorIs(t, err, ErrNoResults)
	assert.True(t, stageerr.IsKind(err, stageerr.KindRender))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRenderRequiresPath(t *testing.T) {
	err := New(Options{}, zerolog.Nop()).Render([]storage.CorrelationResult{{ComputedAt: day(1), Value: 0}})
	require.ErrorIs(t, err, stageerr.ErrRender)
}
