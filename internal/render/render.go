package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"btcgold-correlation/internal/stageerr"
	"btcgold-correlation/internal/storage"
)

const (
	chartTitle  = "Correlation Between BTC and Gold Prices Over Time"
	seriesName  = "BTC vs Gold Correlation"
	tickLayout  = "2006-01-02 15:04"
	singlePad   = 24 * time.Hour
	defaultW    = 1200
	defaultH    = 600
	tickDegrees = 45.0
)

// ErrNoResults is returned when the results log holds nothing to plot.
var ErrNoResults = errors.New("results log is empty")

// Options configure the chart artifact.
type Options struct {
	Path     string
	Width    int
	Height   int
	Location *time.Location
}

// Renderer draws the correlation trend with go-chart.
type Renderer struct {
	opts   Options
	logger zerolog.Logger
}

// New builds a renderer.
func New(opts Options, logger zerolog.Logger) *Renderer {
	if opts.Width <= 0 {
		opts.Width = defaultW
	}
	if opts.Height <= 0 {
		opts.Height = defaultH
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Renderer{
		opts:   opts,
		logger: logger.With().Str("component", "renderer").Logger(),
	}
}

// Path returns the artifact path.
func (r *Renderer) Path() string { return r.opts.Path }

// Render regenerates the chart at the configured path. The file is replaced
// atomically, so a failed render leaves the previous artifact in place.
func (r *Renderer) Render(results []storage.CorrelationResult) error {
	if r.opts.Path == "" {
		return stageerr.Render("render chart", errors.New("chart path not configured"))
	}
	return r.RenderFile(r.opts.Path, results)
}

// RenderFile renders to path instead of the configured artifact.
func (r *Renderer) RenderFile(path string, results []storage.CorrelationResult) error {
	var buf bytes.Buffer
	if err := r.RenderTo(&buf, results); err != nil {
		return err
	}
	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return stageerr.Render("write chart", err)
	}
	r.logger.Debug().Str("path", path).Int("bytes", buf.Len()).Msg("chart written")
	return nil
}

// RenderTo writes the PNG to w.
func (r *Renderer) RenderTo(w io.Writer, results []storage.CorrelationResult) error {
	points := Dedup(results)
	if len(points) == 0 {
		return stageerr.Render("render chart", ErrNoResults)
	}

	graph := r.build(points)
	if err := graph.Render(chart.PNG, w); err != nil {
		return stageerr.Render("render chart", err)
	}
	return nil
}

func (r *Renderer) build(points []storage.CorrelationResult) chart.Chart {
	xs := make([]time.Time, 0, len(points))
	ys := make([]float64, 0, len(points))
	minX, maxX := points[0].ComputedAt, points[0].ComputedAt
	for _, p := range points {
		if p.ComputedAt.Before(minX) {
			minX = p.ComputedAt
		}
		if p.ComputedAt.After(maxX) {
			maxX = p.ComputedAt
		}
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		xs = append(xs, p.ComputedAt)
		ys = append(ys, p.Value)
	}
	if !minX.Before(maxX) {
		minX = minX.Add(-singlePad)
		maxX = maxX.Add(singlePad)
	}

	series := chart.TimeSeries{
		Name: seriesName,
		Style: chart.Style{
			StrokeColor: chart.ColorBlue,
			StrokeWidth: 2,
			DotColor:    chart.ColorBlue,
			DotWidth:    4,
		},
		XValues: xs,
		YValues: ys,
	}
	if len(xs) == 0 {
		// Only undefined correlations so far: keep the axes, draw nothing.
		series.XValues = []time.Time{minX, maxX}
		series.YValues = []float64{0, 0}
		series.Style = chart.Style{
			StrokeColor: chart.ColorTransparent,
			StrokeWidth: 1,
		}
	}

	grid := chart.Style{
		StrokeColor: drawing.ColorFromHex("dddddd"),
		StrokeWidth: 1,
	}

	graph := chart.Chart{
		Title:  chartTitle,
		Width:  r.opts.Width,
		Height: r.opts.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:           "Time",
			ValueFormatter: r.timeFormatter(),
			Range:          &chart.ContinuousRange{Min: chart.TimeToFloat64(minX), Max: chart.TimeToFloat64(maxX)},
			TickStyle:      chart.Style{TextRotationDegrees: tickDegrees},
			GridMajorStyle: grid,
		},
		YAxis: chart.YAxis{
			Name:           "Correlation",
			ValueFormatter: func(v interface{}) string { return chart.FloatValueFormatterWithFormat(v, "%.2f") },
			Range:          &chart.ContinuousRange{Min: -1, Max: 1},
			GridMajorStyle: grid,
		},
		Series: []chart.Series{series},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph
}

func (r *Renderer) timeFormatter() chart.ValueFormatter {
	loc := r.opts.Location
	return func(v interface{}) string {
		switch typed := v.(type) {
		case float64:
			return chart.TimeFromFloat64(typed).In(loc).Format(tickLayout)
		case time.Time:
			return typed.In(loc).Format(tickLayout)
		default:
			return fmt.Sprint(v)
		}
	}
}

// Dedup keeps the first result for each distinct ComputedAt, in source order.
func Dedup(results []storage.CorrelationResult) []storage.CorrelationResult {
	seen := make(map[int64]struct{}, len(results))
	out := make([]storage.CorrelationResult, 0, len(results))
	for _, res := range results {
		key := res.ComputedAt.UnixNano()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, res)
	}
	return out
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create chart dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".chart-*.png")
	if err != nil {
		return fmt.Errorf("create temp chart: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp chart: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp chart: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp chart: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp chart: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace chart: %w", err)
	}
	return nil
}
