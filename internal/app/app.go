package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"btcgold-correlation/internal/alerting"
	"btcgold-correlation/internal/config"
	"btcgold-correlation/internal/fetcher"
	"btcgold-correlation/internal/logging"
	"btcgold-correlation/internal/pipeline"
	"btcgold-correlation/internal/render"
	"btcgold-correlation/internal/scheduler"
	"btcgold-correlation/internal/server"
	"btcgold-correlation/internal/stageerr"
	"btcgold-correlation/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	sinks *logging.Sinks
}

// NewApp constructs a new application handle. sinks may be nil, in which case
// stage logs go to the console only.
func NewApp(cfg *config.Config, logger zerolog.Logger, sinks *logging.Sinks) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		sinks:  sinks,
	}
}

// Close releases the stage log files.
func (a *App) Close() error {
	if a.sinks == nil {
		return nil
	}
	return a.sinks.Close()
}

func (a *App) openBackend(ctx context.Context) (*storage.Backend, error) {
	backend, err := storage.Open(ctx, a.Config.Storage, a.Config.TimeLocation())
	if err != nil {
		return nil, stageerr.Store("open "+a.Config.Storage.Driver+" backend", err)
	}
	a.Logger.Debug().Str("driver", backend.Driver).Msg("storage backend opened")
	return backend, nil
}

func (a *App) newFetchers() (fetcher.CryptoQuoteFetcher, fetcher.CommodityQuoteFetcher, error) {
	if err := a.Config.RequireCryptoKey(); err != nil {
		return nil, nil, stageerr.Config("crypto credentials", err)
	}

	crypto, err := fetcher.NewCoinMarketCap(fetcher.CryptoOptions{
		BaseURL:   a.Config.Crypto.BaseURL,
		APIKey:    a.Config.Crypto.APIKey,
		Symbol:    a.Config.Crypto.Symbol,
		Convert:   a.Config.Crypto.Convert,
		Timeout:   a.Config.Crypto.RequestTimeout,
		UserAgent: a.Config.Crypto.UserAgent,
	}, a.Logger)
	if err != nil {
		return nil, nil, err
	}

	commodity := fetcher.NewGoldPrice(fetcher.CommodityOptions{
		BaseURL:   a.Config.Commodity.BaseURL,
		Currency:  a.Config.Commodity.Currency,
		Timeout:   a.Config.Commodity.RequestTimeout,
		UserAgent: a.Config.Commodity.UserAgent,
	}, a.Logger)

	return crypto, commodity, nil
}

func (a *App) newRenderer(path string) *render.Renderer {
	if path == "" {
		path = a.Config.Chart.Path
	}
	return render.New(render.Options{
		Path:     path,
		Width:    a.Config.Chart.Width,
		Height:   a.Config.Chart.Height,
		Location: a.Config.TimeLocation(),
	}, a.Logger)
}

func (a *App) newNotifier() pipeline.Notifier {
	if !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	return alerting.NewRunNotifier(alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
}

func (a *App) stageLogger() func(string) zerolog.Logger {
	if a.sinks == nil {
		return nil
	}
	return a.sinks.MustStage
}

// pipelineFor completes deps with the backend, notifier and stage logs and
// builds a pipeline. Fetchers may be left nil for runs that never fetch.
func (a *App) pipelineFor(backend *storage.Backend, deps pipeline.Deps) (*pipeline.Pipeline, error) {
	deps.History = backend.Observations
	deps.Results = backend.Results
	deps.Locker = backend.Locker
	if deps.Notifier == nil {
		deps.Notifier = a.newNotifier()
	}
	if deps.StageLogger == nil {
		deps.StageLogger = a.stageLogger()
	}
	return pipeline.New(pipeline.Options{
		Owner:           a.Config.Pipeline.Owner,
		Retries:         a.Config.Pipeline.Retries,
		RetryDelay:      a.Config.Pipeline.RetryDelay,
		LockKey:         a.Config.Storage.AdvisoryLockKey,
		NotifyOnSuccess: a.Config.Alerting.NotifyOnSuccess,
	}, deps, a.Logger)
}

// Run executes the long-running scheduled service, plus the status server when enabled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	crypto, commodity, err := a.newFetchers()
	if err != nil {
		return err
	}
	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	renderer := a.newRenderer("")
	p, err := a.pipelineFor(backend, pipeline.Deps{Crypto: crypto, Commodity: commodity, Renderer: renderer})
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Spec:       a.Config.Scheduler.Cron,
		Location:   a.Config.TimeLocation(),
		RunOnStart: a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return stageerr.Config("scheduler", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx, func(jobCtx context.Context) {
			// Failures are logged and notified by the pipeline; the service keeps going.
			_, _ = p.Run(jobCtx)
		})
	})
	if a.Config.Server.Enabled {
		srv := server.New(server.Options{Addr: a.Config.Server.Addr}, server.Deps{
			Observations: backend.Observations,
			Results:      backend.Results,
			Chart:        renderer,
			Status:       p.Last,
		}, a.Logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	a.Logger.Info().Str("cron", a.Config.Scheduler.Cron).Str("storage", backend.Driver).Msg("starting correlation service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("correlation service stopped")
	return nil
}

// Once triggers a single full run.
func (a *App) Once(ctx context.Context) (pipeline.RunReport, error) {
	crypto, commodity, err := a.newFetchers()
	if err != nil {
		return pipeline.RunReport{}, err
	}
	backend, err := a.openBackend(ctx)
	if err != nil {
		return pipeline.RunReport{}, err
	}
	defer backend.Close()

	p, err := a.pipelineFor(backend, pipeline.Deps{Crypto: crypto, Commodity: commodity, Renderer: a.newRenderer("")})
	if err != nil {
		return pipeline.RunReport{}, err
	}
	return p.Run(ctx)
}

// RunTask executes one task with its retry budget. Only ingest needs the live feeds.
func (a *App) RunTask(ctx context.Context, task pipeline.Task) (pipeline.RunReport, error) {
	var (
		crypto    fetcher.CryptoQuoteFetcher
		commodity fetcher.CommodityQuoteFetcher
	)
	if task == pipeline.TaskIngest {
		var err error
		if crypto, commodity, err = a.newFetchers(); err != nil {
			return pipeline.RunReport{}, err
		}
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		return pipeline.RunReport{}, err
	}
	defer backend.Close()

	p, err := a.pipelineFor(backend, pipeline.Deps{Crypto: crypto, Commodity: commodity, Renderer: a.newRenderer("")})
	if err != nil {
		return pipeline.RunReport{}, err
	}
	return p.RunTask(ctx, task)
}

// ExportOptions hold parameters for exporting the results log.
type ExportOptions struct {
	CSVPath string
	PNGPath string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure an offline run with fixed quotes.
type SimulateOptions struct {
	BTCPrice     float64
	BTCMarketCap float64
	GoldPrice    float64
	GoldChange   float64
	// DataDir, when set, redirects the file backends and the chart there.
	DataDir string
	Runs    int
}
