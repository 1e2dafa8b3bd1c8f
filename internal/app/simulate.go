package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"btcgold-correlation/internal/config"
	"btcgold-correlation/internal/fetcher"
	"btcgold-correlation/internal/pipeline"
)

// Simulation drift per run, so repeated runs produce a defined correlation.
const (
	simBTCDrift  = 0.01
	simGoldDrift = 0.004
)

// SimulateResult reports where a simulation wrote its artifacts.
type SimulateResult struct {
	DataDir string
	Reports []pipeline.RunReport
}

// Simulate runs the full pipeline offline with fixed quotes against csv files
// in a scratch directory, one simulated day per run. The live feeds and the
// configured backend are never touched.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) (SimulateResult, error) {
	if opts.BTCPrice <= 0 || opts.GoldPrice <= 0 {
		return SimulateResult{}, errors.New("--btc and --gold must be greater than zero")
	}
	if opts.Runs <= 0 {
		opts.Runs = 1
	}

	dir := opts.DataDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "btcgold-sim-*")
		if err != nil {
			return SimulateResult{}, fmt.Errorf("create simulation dir: %w", err)
		}
		dir = tmp
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return SimulateResult{}, fmt.Errorf("create simulation dir: %w", err)
	}

	sim := *a
	cfg := *a.Config
	cfg.Storage = config.StorageConfig{
		Driver:      config.DriverCSV,
		HistoryPath: filepath.Join(dir, filepath.Base(a.Config.Storage.HistoryPath)),
		ResultsPath: filepath.Join(dir, filepath.Base(a.Config.Storage.ResultsPath)),
	}
	cfg.Chart.Path = filepath.Join(dir, filepath.Base(a.Config.Chart.Path))
	sim.Config = &cfg

	backend, err := sim.openBackend(ctx)
	if err != nil {
		return SimulateResult{}, err
	}
	defer backend.Close()

	renderer := sim.newRenderer("")
	start := time.Now().In(cfg.TimeLocation()).Truncate(time.Second)
	out := SimulateResult{DataDir: dir}

	for i := 0; i < opts.Runs; i++ {
		at := start.AddDate(0, 0, i)
		crypto, commodity := simulatedQuotes(opts, i, at)
		p, err := sim.pipelineFor(backend, pipeline.Deps{
			Crypto:    crypto,
			Commodity: commodity,
			Renderer:  renderer,
			Clock:     func() time.Time { return at },
		})
		if err != nil {
			return out, err
		}

		report, err := p.Run(ctx)
		out.Reports = append(out.Reports, report)
		if err != nil {
			return out, err
		}
	}

	a.Logger.Info().Str("dir", dir).Int("runs", opts.Runs).Str("chart", renderer.Path()).Msg("simulation finished")
	return out, nil
}

func simulatedQuotes(opts SimulateOptions, run int, at time.Time) (fetcher.Static, fetcher.Static) {
	step := float64(run)
	crypto := fetcher.Static{Quote: fetcher.Quote{
		Source:    "simulated",
		Price:     decimal.NewNullDecimal(decimal.NewFromFloat(opts.BTCPrice * (1 + simBTCDrift*step))),
		Secondary: decimal.NewNullDecimal(decimal.NewFromFloat(opts.BTCMarketCap * (1 + simBTCDrift*step))),
		FetchedAt: at,
	}}
	commodity := fetcher.Static{Quote: fetcher.Quote{
		Source:    "simulated",
		Price:     decimal.NewNullDecimal(decimal.NewFromFloat(opts.GoldPrice * (1 + simGoldDrift*step))),
		Secondary: decimal.NewNullDecimal(decimal.NewFromFloat(opts.GoldChange)),
		FetchedAt: at,
	}}
	return crypto, commodity
}
