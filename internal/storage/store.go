package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"btcgold-correlation/internal/config"
)

var (
	// ErrNotConfigured indicates the backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// ObservationStore is the append-only history of observations.
type ObservationStore interface {
	AppendObservation(ctx context.Context, obs Observation) error
	ListObservations(ctx context.Context) ([]Observation, error)
}

// ResultLog is the append-only log of correlation results.
type ResultLog interface {
	AppendResult(ctx context.Context, result CorrelationResult) error
	ListResults(ctx context.Context) ([]CorrelationResult, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend bundles the two logs of one storage driver.
type Backend struct {
	Driver       string
	Observations ObservationStore
	Results      ResultLog
	Locker       AdvisoryLocker
	closer       func() error
}

// Close releases backend resources.
func (b *Backend) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	return b.closer()
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, loc *time.Location) (*Backend, error) {
	switch cfg.Driver {
	case config.DriverCSV, "":
		return &Backend{
			Driver:       config.DriverCSV,
			Observations: NewHistoryFile(cfg.HistoryPath, loc),
			Results:      NewResultsFile(cfg.ResultsPath, loc),
		}, nil
	case config.DriverSQLite:
		db, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Driver:       config.DriverSQLite,
			Observations: db,
			Results:      db,
			closer:       db.Close,
		}, nil
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := NewPostgres(pool)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return &Backend{
			Driver:       config.DriverPostgres,
			Observations: store,
			Results:      store,
			Locker:       store,
			closer: func() error {
				store.Close()
				return nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
