package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"btcgold-correlation/internal/stageerr"
)

const (
	postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS observations (
    id             BIGSERIAL PRIMARY KEY,
    observed_at    TIMESTAMPTZ NOT NULL,
    btc_price      NUMERIC,
    btc_market_cap NUMERIC,
    gold_price     NUMERIC,
    gold_change    NUMERIC,
    run_id         TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_observations_observed_at ON observations (observed_at);

CREATE TABLE IF NOT EXISTS correlations (
    id          BIGSERIAL PRIMARY KEY,
    computed_at TIMESTAMPTZ NOT NULL,
    value       DOUBLE PRECISION,
    sample_size INTEGER NOT NULL DEFAULT 0,
    run_id      TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_correlations_computed_at ON correlations (computed_at);`

	insertObservationSQL = `INSERT INTO observations (
        observed_at,
        btc_price,
        btc_market_cap,
        gold_price,
        gold_change,
        run_id
    ) VALUES (
        $1,$2::numeric,$3::numeric,$4::numeric,$5::numeric,$6
    );`

	listObservationsSQL = `SELECT
        observed_at,
        btc_price::text,
        btc_market_cap::text,
        gold_price::text,
        gold_change::text,
        run_id
    FROM observations
    ORDER BY id;`

	insertCorrelationSQL = `INSERT INTO correlations (
        computed_at,
        value,
        sample_size,
        run_id
    ) VALUES (
        $1,$2,$3,$4
    );`

	listCorrelationsSQL = `SELECT
        computed_at,
        value,
        sample_size,
        run_id
    FROM correlations
    ORDER BY id;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Postgres stores both logs in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate creates the tables when missing.
func (s *Postgres) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return stageerr.Store("migrate", err)
	}
	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return stageerr.Store("migrate", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Session locks are also dropped when the connection closes, so a failed
		// unlock only delays the next run until the pool recycles the connection.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// AppendObservation inserts one observation row.
func (s *Postgres) AppendObservation(ctx context.Context, obs Observation) error {
	pool, err := s.getPool()
	if err != nil {
		return stageerr.Store("insert observation", err)
	}

	_, execErr := pool.Exec(ctx, insertObservationSQL,
		obs.Timestamp,
		nullDecimalArg(obs.BTCPrice),
		nullDecimalArg(obs.BTCMarketCap),
		nullDecimalArg(obs.GoldPrice),
		nullDecimalArg(obs.GoldChange),
		obs.RunID,
	)
	if execErr != nil {
		return stageerr.Store("insert observation", execErr)
	}
	return nil
}

// ListObservations lists every observation in insertion order.
func (s *Postgres) ListObservations(ctx context.Context) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, stageerr.Store("list observations", err)
	}

	rows, queryErr := pool.Query(ctx, listObservationsSQL)
	if queryErr != nil {
		return nil, stageerr.Store("list observations", queryErr)
	}
	defer rows.Close()

	observations := make([]Observation, 0)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, stageerr.Parse("scan observation", scanErr)
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, stageerr.Store("list observations", rows.Err())
	}
	return observations, nil
}

// AppendResult inserts one correlation row; NaN is stored as NULL.
func (s *Postgres) AppendResult(ctx context.Context, result CorrelationResult) error {
	pool, err := s.getPool()
	if err != nil {
		return stageerr.Store("insert correlation", err)
	}

	_, execErr := pool.Exec(ctx, insertCorrelationSQL,
		result.ComputedAt,
		correlationArg(result.Value),
		result.SampleSize,
		result.RunID,
	)
	if execErr != nil {
		return stageerr.Store("insert correlation", execErr)
	}
	return nil
}

// ListResults lists every correlation in insertion order.
func (s *Postgres) ListResults(ctx context.Context) ([]CorrelationResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, stageerr.Store("list correlations", err)
	}

	rows, queryErr := pool.Query(ctx, listCorrelationsSQL)
	if queryErr != nil {
		return nil, stageerr.Store("list correlations", queryErr)
	}
	defer rows.Close()

	results := make([]CorrelationResult, 0)
	for rows.Next() {
		var (
			result CorrelationResult
			value  sql.NullFloat64
		)
		if err := rows.Scan(&result.ComputedAt, &value, &result.SampleSize, &result.RunID); err != nil {
			return nil, stageerr.Parse("scan correlation", err)
		}
		result.Value = math.NaN()
		if value.Valid {
			result.Value = value.Float64
		}
		results = append(results, result)
	}
	if rows.Err() != nil {
		return nil, stageerr.Store("list correlations", rows.Err())
	}
	return results, nil
}

func scanObservation(rows pgx.Rows) (Observation, error) {
	var (
		observedAt time.Time
		btcPrice   sql.NullString
		btcCap     sql.NullString
		goldPrice  sql.NullString
		goldChange sql.NullString
		runID      string
	)

	if err := rows.Scan(
		&observedAt,
		&btcPrice,
		&btcCap,
		&goldPrice,
		&goldChange,
		&runID,
	); err != nil {
		return Observation{}, err
	}

	return Observation{
		Timestamp:    observedAt,
		BTCPrice:     parseNullString(btcPrice),
		BTCMarketCap: parseNullString(btcCap),
		GoldPrice:    parseNullString(goldPrice),
		GoldChange:   parseNullString(goldChange),
		RunID:        runID,
	}, nil
}

var (
	_ ObservationStore = (*Postgres)(nil)
	_ ResultLog        = (*Postgres)(nil)
	_ AdvisoryLocker   = (*Postgres)(nil)
)
