package storage

import (
	"context"
	"database/sql"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"btcgold-correlation/internal/stageerr"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS observations (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	observed_at    INTEGER NOT NULL,
	btc_price      TEXT,
	btc_market_cap TEXT,
	gold_price     TEXT,
	gold_change    TEXT,
	run_id         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_observations_ts ON observations(observed_at);

CREATE TABLE IF NOT EXISTS correlations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	computed_at INTEGER NOT NULL,
	value       REAL,
	sample_size INTEGER NOT NULL DEFAULT 0,
	run_id      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_correlations_ts ON correlations(computed_at);
`

// SQLite keeps both logs in one SQLite database. Rows are only ever inserted.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the database and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, stageerr.Store("open sqlite", ErrNotConfigured)
	}
	if path != ":memory:" {
		if err := ensureDir(path); err != nil {
			return nil, stageerr.Store("open sqlite", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, stageerr.Store("open sqlite", err)
	}
	// A single connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, stageerr.Store("set WAL mode", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, stageerr.Store("set synchronous", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, stageerr.Store("migrate sqlite", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// AppendObservation inserts one observation row.
func (s *SQLite) AppendObservation(ctx context.Context, obs Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO observations
		(observed_at, btc_price, btc_market_cap, gold_price, gold_change, run_id)
		VALUES (?,?,?,?,?,?)`,
		obs.Timestamp.Unix(),
		nullDecimalArg(obs.BTCPrice),
		nullDecimalArg(obs.BTCMarketCap),
		nullDecimalArg(obs.GoldPrice),
		nullDecimalArg(obs.GoldChange),
		obs.RunID,
	)
	if err != nil {
		return stageerr.Store("insert observation", err)
	}
	return nil
}

// ListObservations returns every observation in insertion order.
func (s *SQLite) ListObservations(ctx context.Context) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT observed_at, btc_price, btc_market_cap, gold_price, gold_change, run_id
		FROM observations ORDER BY id`)
	if err != nil {
		return nil, stageerr.Store("list observations", err)
	}
	defer rows.Close()

	observations := make([]Observation, 0)
	for rows.Next() {
		var (
			observedAt                  int64
			btcPrice, btcCap, gold, chg sql.NullString
			runID                       string
		)
		if err := rows.Scan(&observedAt, &btcPrice, &btcCap, &gold, &chg, &runID); err != nil {
			return nil, stageerr.Parse("scan observation", err)
		}
		observations = append(observations, Observation{
			Timestamp:    time.Unix(observedAt, 0).UTC(),
			BTCPrice:     parseNullString(btcPrice),
			BTCMarketCap: parseNullString(btcCap),
			GoldPrice:    parseNullString(gold),
			GoldChange:   parseNullString(chg),
			RunID:        runID,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, stageerr.Store("list observations", err)
	}
	return observations, nil
}

// AppendResult inserts one correlation row; NaN is stored as NULL.
func (s *SQLite) AppendResult(ctx context.Context, result CorrelationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO correlations
		(computed_at, value, sample_size, run_id)
		VALUES (?,?,?,?)`,
		result.ComputedAt.Unix(),
		correlationArg(result.Value),
		result.SampleSize,
		result.RunID,
	)
	if err != nil {
		return stageerr.Store("insert correlation", err)
	}
	return nil
}

// ListResults returns every correlation row in insertion order.
func (s *SQLite) ListResults(ctx context.Context) ([]CorrelationResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT computed_at, value, sample_size, run_id
		FROM correlations ORDER BY id`)
	if err != nil {
		return nil, stageerr.Store("list correlations", err)
	}
	defer rows.Close()

	results := make([]CorrelationResult, 0)
	for rows.Next() {
		var (
			computedAt int64
			value      sql.NullFloat64
			result     CorrelationResult
		)
		if err := rows.Scan(&computedAt, &value, &result.SampleSize, &result.RunID); err != nil {
			return nil, stageerr.Parse("scan correlation", err)
		}
		result.ComputedAt = time.Unix(computedAt, 0).UTC()
		result.Value = math.NaN()
		if value.Valid {
			result.Value = value.Float64
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, stageerr.Store("list correlations", err)
	}
	return results, nil
}

func parseNullString(s sql.NullString) decimal.NullDecimal {
	if !s.Valid {
		return decimal.NullDecimal{}
	}
	return parseNullDecimal(s.String)
}

func correlationArg(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

var (
	_ ObservationStore = (*SQLite)(nil)
	_ ResultLog        = (*SQLite)(nil)
)
