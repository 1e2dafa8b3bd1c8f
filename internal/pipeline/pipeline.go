package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"btcgold-correlation/internal/fetcher"
	"btcgold-correlation/internal/runid"
	"btcgold-correlation/internal/stageerr"
	"btcgold-correlation/internal/storage"
)

// ErrRunInProgress is returned when a run is requested while another is active in this process.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// ChartRenderer turns the results log into the chart artifact.
type ChartRenderer interface {
	Render(results []storage.CorrelationResult) error
}

// Notifier receives finished run reports.
type Notifier interface {
	NotifyRun(ctx context.Context, report RunReport) error
}

// Options carry the static run metadata.
type Options struct {
	Owner           string
	Retries         int
	RetryDelay      time.Duration
	LockKey         int64
	NotifyOnSuccess bool
}

// Deps are the collaborators of a pipeline. Locker, Notifier, Clock, IDs and
// StageLogger are optional.
type Deps struct {
	Crypto      fetcher.CryptoQuoteFetcher
	Commodity   fetcher.CommodityQuoteFetcher
	History     storage.ObservationStore
	Results     storage.ResultLog
	Renderer    ChartRenderer
	Locker      storage.AdvisoryLocker
	Notifier    Notifier
	Clock       func() time.Time
	IDs         *runid.Generator
	StageLogger func(stage string) zerolog.Logger
}

// Pipeline runs fetch, normalize, store, aggregate and render in order with a
// per-task retry budget.
type Pipeline struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger

	running sync.Mutex

	mu    sync.RWMutex
	state State
	last  *RunReport
}

// New validates deps and builds a pipeline in the IDLE state.
func New(opts Options, deps Deps, logger zerolog.Logger) (*Pipeline, error) {
	if deps.History == nil || deps.Results == nil {
		return nil, fmt.Errorf("history store and results log are required")
	}
	if opts.Retries < 0 {
		return nil, fmt.Errorf("retries cannot be negative")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.IDs == nil {
		deps.IDs = runid.NewGenerator()
	}
	base := logger.With().Str("component", "pipeline").Logger()
	if deps.StageLogger == nil {
		deps.StageLogger = func(stage string) zerolog.Logger {
			return base.With().Str("stage", stage).Logger()
		}
	}

	return &Pipeline{
		opts:   opts,
		deps:   deps,
		logger: base,
		state:  StateIdle,
	}, nil
}

// State returns the state of the current or most recent run.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Last returns a copy of the most recent run report.
func (p *Pipeline) Last() (RunReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return RunReport{}, false
	}
	return *p.last, true
}

// Trigger starts one full run with a background context. Errors are logged.
func (p *Pipeline) Trigger() {
	_, _ = p.Run(context.Background())
}

// Run executes every task in order. It returns the report and, on failure, the
// cause annotated with its stage.
func (p *Pipeline) Run(ctx context.Context) (RunReport, error) {
	return p.run(ctx, Tasks)
}

// RunTask executes a single task with its retry budget.
func (p *Pipeline) RunTask(ctx context.Context, task Task) (RunReport, error) {
	if _, ok := ParseTask(string(task)); !ok {
		return RunReport{}, fmt.Errorf("unknown task %q", task)
	}
	return p.run(ctx, []Task{task})
}

func (p *Pipeline) run(ctx context.Context, tasks []Task) (RunReport, error) {
	if !p.running.TryLock() {
		p.logger.Warn().Msg("run requested while another run is active; skipping")
		return RunReport{Skipped: true, State: p.State()}, ErrRunInProgress
	}
	defer p.running.Unlock()

	started := p.deps.Clock()
	report := RunReport{
		RunID:    p.deps.IDs.New(started),
		Owner:    p.opts.Owner,
		State:    StateIdle,
		Stage:    StateIdle,
		Attempts: make(map[Task]int, len(tasks)),
		Started:  started,
	}
	p.setState(StateIdle)
	logger := p.logger.With().Str("run_id", report.RunID).Logger()

	unlock, proceed, err := p.acquireLock(ctx)
	if err != nil {
		return p.fail(ctx, logger, &report, StateIdle, stageerr.Store("advisory lock", err))
	}
	if !proceed {
		logger.Warn().Int64("lock_key", p.opts.LockKey).Msg("another process holds the run lock; skipping run")
		report.Skipped = true
		report.Finished = p.deps.Clock()
		p.finish(report)
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	logger.Info().Str("owner", p.opts.Owner).Interface("tasks", tasks).Msg("run started")

	for _, task := range tasks {
		if err := p.runTask(ctx, logger, &report, task); err != nil {
			return p.fail(ctx, logger, &report, p.State(), err)
		}
	}

	p.setState(StateDone)
	report.State = StateDone
	report.Finished = p.deps.Clock()
	p.finish(report)

	event := logger.Info().Dur("took", report.Duration())
	if report.Result != nil {
		event = event.Float64("correlation", report.Result.Value).Int("samples", report.Result.SampleSize)
	}
	event.Msg("run finished")

	if p.opts.NotifyOnSuccess {
		p.notify(ctx, logger, report)
	}
	return report, nil
}

func (p *Pipeline) runTask(ctx context.Context, logger zerolog.Logger, report *RunReport, task Task) error {
	attempts := p.opts.Retries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		report.Attempts[task] = attempt
		err = p.execute(ctx, report, task)
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		logger.Warn().Err(err).
			Str("task", string(task)).
			Int("attempt", attempt).
			Dur("retry_in", p.opts.RetryDelay).
			Msg("task failed; retrying")

		if waitErr := sleep(ctx, p.opts.RetryDelay); waitErr != nil {
			return errors.Join(err, fmt.Errorf("wait to retry %s: %w", task, waitErr))
		}
	}
	return err
}

func (p *Pipeline) execute(ctx context.Context, report *RunReport, task Task) error {
	switch task {
	case TaskIngest:
		return p.ingest(ctx, report)
	case TaskAggregate:
		return p.aggregate(ctx, report)
	case TaskRender:
		return p.render(ctx, report)
	default:
		return fmt.Errorf("unknown task %q", task)
	}
}

func (p *Pipeline) ingest(ctx context.Context, report *RunReport) error {
	var crypto, commodity fetcher.Quote
	err := p.stage(report.RunID, StateFetching, func(logger zerolog.Logger) error {
		if p.deps.Crypto == nil || p.deps.Commodity == nil {
			return stageerr.Config("fetch", errors.New("quote fetchers not configured"))
		}
		var err error
		if crypto, err = p.deps.Crypto.FetchCrypto(ctx); err != nil {
			return err
		}
		if commodity, err = p.deps.Commodity.FetchCommodity(ctx); err != nil {
			return err
		}
		logger.Info().
			Str("btc_price", crypto.Price.Decimal.String()).
			Str("gold_price", commodity.Price.Decimal.String()).
			Msg("quotes fetched")
		return nil
	})
	if err != nil {
		return err
	}

	var obs storage.Observation
	_ = p.stage(report.RunID, StateNormalizing, func(logger zerolog.Logger) error {
		obs = Normalize(crypto, commodity, p.deps.Clock())
		obs.RunID = report.RunID
		logger.Debug().Time("timestamp", obs.Timestamp).Msg("observation built")
		return nil
	})

	return p.stage(report.RunID, StateStoring, func(logger zerolog.Logger) error {
		if err := p.deps.History.AppendObservation(ctx, obs); err != nil {
			return err
		}
		report.Observation = &obs
		logger.Info().Time("timestamp", obs.Timestamp).Msg("observation appended")
		return nil
	})
}

func (p *Pipeline) aggregate(ctx context.Context, report *RunReport) error {
	return p.stage(report.RunID, StateAggregating, func(logger zerolog.Logger) error {
		history, err := p.deps.History.ListObservations(ctx)
		if err != nil {
			return err
		}
		result := Aggregate(history, p.deps.Clock())
		result.RunID = report.RunID
		if err := p.deps.Results.AppendResult(ctx, result); err != nil {
			return err
		}
		report.Result = &result
		logger.Info().
			Int("history_rows", len(history)).
			Int("samples", result.SampleSize).
			Float64("correlation", result.Value).
			Msg("correlation appended")
		return nil
	})
}

func (p *Pipeline) render(ctx context.Context, report *RunReport) error {
	return p.stage(report.RunID, StateRendering, func(logger zerolog.Logger) error {
		if p.deps.Renderer == nil {
			return stageerr.Config("render", errors.New("chart renderer not configured"))
		}
		results, err := p.deps.Results.ListResults(ctx)
		if err != nil {
			return err
		}
		if err := p.deps.Renderer.Render(results); err != nil {
			return err
		}
		logger.Info().Int("results", len(results)).Msg("chart rendered")
		return nil
	})
}

// stage moves the machine into state and runs fn with that stage's logger,
// tagged with the run id, logging entry, success and failure.
func (p *Pipeline) stage(runID string, state State, fn func(logger zerolog.Logger) error) error {
	p.setState(state)
	logger := p.deps.StageLogger(state.logName()).With().Str("run_id", runID).Logger()
	logger.Info().Str("state", string(state)).Msg("stage started")

	began := p.deps.Clock()
	if err := fn(logger); err != nil {
		logger.Error().Err(err).Str("state", string(state)).Str("kind", string(stageerr.KindOf(err))).Msg("stage failed")
		return err
	}
	logger.Info().Str("state", string(state)).Dur("took", p.deps.Clock().Sub(began)).Msg("stage succeeded")
	return nil
}

func (p *Pipeline) fail(ctx context.Context, logger zerolog.Logger, report *RunReport, at State, err error) (RunReport, error) {
	p.setState(StateFailed)
	report.State = StateFailed
	report.Stage = at
	report.Err = fmt.Errorf("%s: %w", at, err)
	report.Finished = p.deps.Clock()
	p.finish(*report)

	logger.Error().Err(err).
		Str("stage", string(at)).
		Interface("attempts", report.Attempts).
		Msg("run failed")

	p.notify(ctx, logger, *report)
	return *report, report.Err
}

func (p *Pipeline) notify(ctx context.Context, logger zerolog.Logger, report RunReport) {
	if p.deps.Notifier == nil {
		return
	}
	// The run context may already be cancelled; notifications still go out.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := p.deps.Notifier.NotifyRun(notifyCtx, report); err != nil {
		logger.Error().Err(err).Msg("failed to dispatch run notification")
	}
}

func (p *Pipeline) acquireLock(ctx context.Context) (func(), bool, error) {
	if p.opts.LockKey == 0 || p.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := p.deps.Locker.TryAdvisoryLock(ctx, p.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pipeline) finish(report RunReport) {
	p.mu.Lock()
	p.last = &report
	p.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
