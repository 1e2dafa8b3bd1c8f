package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"btcgold-correlation/internal/render"
	"btcgold-correlation/internal/storage"
)

// Export writes the deduplicated results log as CSV and/or renders the chart
// to a custom path.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	results, err := backend.Results.ListResults(ctx)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		a.Logger.Info().Msg("results log is empty; nothing to export")
		return nil
	}

	deduped := render.Dedup(results)
	a.Logger.Info().Int("total", len(results)).Int("exported", len(deduped)).Msg("exporting correlation results")

	if opts.CSVPath != "" {
		if err := writeResultsCSV(opts.CSVPath, deduped, a.Config.TimeLocation()); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := a.newRenderer(opts.PNGPath).Render(results); err != nil {
			return err
		}
	}

	return nil
}

func writeResultsCSV(path string, results []storage.CorrelationResult, loc *time.Location) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"computed_at", "correlation", "sample_size", "run_id"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range results {
		record := []string{
			r.ComputedAt.In(loc).Format(storage.TimeLayout),
			strconv.FormatFloat(r.Value, 'g', -1, 64),
			strconv.Itoa(r.SampleSize),
			r.RunID,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Sync()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
