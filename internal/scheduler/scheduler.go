package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobFunc is invoked on every cron activation with the scheduler's context.
type JobFunc func(ctx context.Context)

// Options tune scheduler behaviour.
type Options struct {
	Spec       string
	Location   *time.Location
	RunOnStart bool
}

// Scheduler drives the pipeline on a cron cadence. Activations that arrive
// while the previous one is still running are skipped.
type Scheduler struct {
	opts     Options
	logger   zerolog.Logger
	schedule cron.Schedule
	cron     *cron.Cron
	entry    cron.EntryID
	inflight sync.WaitGroup
}

// New validates the cron spec and builds a scheduler.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	schedule, err := cron.ParseStandard(opts.Spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", opts.Spec, err)
	}

	l := logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger: l}
	return &Scheduler{
		opts:     opts,
		logger:   l,
		schedule: schedule,
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}, nil
}

// Next reports the first activation strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.opts.Location))
}

// Run registers job, starts the cron loop and blocks until ctx is cancelled.
// In-flight jobs are awaited before returning.
func (s *Scheduler) Run(ctx context.Context, job JobFunc) error {
	if err := s.register(ctx, job); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().Str("spec", s.opts.Spec).Time("next_run", s.Next(time.Now())).Msg("scheduler started")

	if s.opts.RunOnStart {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.RunNow()
		}()
	}

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.inflight.Wait()
	s.logger.Info().Msg("scheduler stopped")
	return ctx.Err()
}

// RunNow executes the registered job through the same skip-if-running chain as
// scheduled activations. It blocks while the job runs.
func (s *Scheduler) RunNow() {
	entry := s.cron.Entry(s.entry)
	if !entry.Valid() {
		s.logger.Warn().Msg("no job registered")
		return
	}
	entry.WrappedJob.Run()
}

func (s *Scheduler) register(ctx context.Context, job JobFunc) error {
	if s.entry != 0 {
		return fmt.Errorf("job already registered")
	}
	id := s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		started := time.Now()
		s.logger.Info().Msg("executing scheduled run")
		job(ctx)
		s.logger.Info().Dur("took", time.Since(started)).Time("next_run", s.Next(time.Now())).Msg("scheduled run finished")
	}))
	s.entry = id
	return nil
}

// cronLogger routes cron's internal logging through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		c.logger.Warn().Msg("previous run still in progress; activation skipped")
		return
	}
	c.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

var _ cron.Logger = cronLogger{}
