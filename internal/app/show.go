package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"btcgold-correlation/internal/render"
	"btcgold-correlation/internal/storage"
)

// Show prints the most recent observations and correlation results.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	return a.show(ctx, os.Stdout, opts)
}

func (a *App) show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	observations, err := backend.Observations.ListObservations(ctx)
	if err != nil {
		return err
	}
	results, err := backend.Results.ListResults(ctx)
	if err != nil {
		return err
	}
	results = render.Dedup(results)

	loc := a.Config.TimeLocation()
	observations = tail(observations, opts.Limit)
	results = tail(results, opts.Limit)

	if len(observations) == 0 {
		fmt.Fprintln(out, "no observations found")
	} else {
		writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time\tBTC\tMarket Cap\tGold\tGold Chg%\tRun")
		for _, o := range observations {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\n",
				o.Timestamp.In(loc).Format(storage.TimeLayout),
				formatNullDecimal(o.BTCPrice, 2),
				formatNullDecimal(o.BTCMarketCap, 0),
				formatNullDecimal(o.GoldPrice, 2),
				formatNullDecimal(o.GoldChange, 2),
				o.RunID,
			)
		}
		writer.Flush()
	}

	fmt.Fprintln(out)
	if len(results) == 0 {
		fmt.Fprintln(out, "no correlation results found")
		return nil
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Computed\tCorrelation\tSamples\tRun")
	for _, r := range results {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
			r.ComputedAt.In(loc).Format(storage.TimeLayout),
			formatCorrelation(r.Value),
			formatSamples(r.SampleSize),
			r.RunID,
		)
	}
	return writer.Flush()
}

func tail[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[len(items)-limit:]
	}
	return items
}

func formatNullDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(places)
}

func formatCorrelation(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.4f", v)
}

// formatSamples hides the sample size the text log does not record.
func formatSamples(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}
