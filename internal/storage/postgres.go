package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS market_data (
        "timestamp"  BIGINT PRIMARY KEY,
        price        DOUBLE PRECISION NOT NULL,
        volume_24h   DOUBLE PRECISION NOT NULL DEFAULT 0,
        change_24h   DOUBLE PRECISION,
        bid_depth    DOUBLE PRECISION NOT NULL,
        ask_depth    DOUBLE PRECISION NOT NULL,
        total_depth  DOUBLE PRECISION NOT NULL,
        spread_bps   DOUBLE PRECISION NOT NULL,
        source       TEXT NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS idx_market_timestamp ON market_data ("timestamp" DESC);`,
	`CREATE TABLE IF NOT EXISTS alerts (
        id           BIGSERIAL PRIMARY KEY,
        "timestamp"  BIGINT NOT NULL,
        alert_type   TEXT NOT NULL,
        message      TEXT NOT NULL,
        value        DOUBLE PRECISION NOT NULL,
        threshold    DOUBLE PRECISION NOT NULL,
        dispatched   BOOLEAN NOT NULL DEFAULT FALSE
    );`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts ("timestamp" DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_type_dispatched ON alerts (alert_type, "timestamp" DESC) WHERE dispatched;`,
}

const (
	sampleColumns = `"timestamp", price, volume_24h, change_24h, bid_depth, ask_depth, total_depth, spread_bps, source`

	upsertSampleSQL = `INSERT INTO market_data (` + sampleColumns + `)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    ON CONFLICT ("timestamp") DO UPDATE
    SET
        price       = EXCLUDED.price,
        volume_24h  = EXCLUDED.volume_24h,
        change_24h  = EXCLUDED.change_24h,
        bid_depth   = EXCLUDED.bid_depth,
        ask_depth   = EXCLUDED.ask_depth,
        total_depth = EXCLUDED.total_depth,
        spread_bps  = EXCLUDED.spread_bps,
        source      = EXCLUDED.source;`

	rollingWindowSQL = `SELECT %[1]s FROM market_data
    WHERE "timestamp" > $1
      AND %[1]s IS NOT NULL
    ORDER BY "timestamp";`

	listSamplesBetweenSQL = `SELECT ` + sampleColumns + `
    FROM market_data
    WHERE "timestamp" >= $1
      AND "timestamp" < $2
    ORDER BY "timestamp";`

	listRecentSamplesSQL = `SELECT ` + sampleColumns + `
    FROM market_data
    ORDER BY "timestamp" DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM market_data;`

	insertAlertSQL = `INSERT INTO alerts ("timestamp", alert_type, message, value, threshold, dispatched)
    VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id;`

	lastDispatchedSQL = `SELECT MAX("timestamp") FROM alerts
    WHERE alert_type = $1 AND dispatched;`

	markDispatchedSQL = `UPDATE alerts SET dispatched = TRUE
    WHERE id = $1 AND NOT dispatched;`

	listRecentAlertsSQL = `SELECT id, "timestamp", alert_type, message, value, threshold, dispatched
    FROM alerts
    ORDER BY "timestamp" DESC, id DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PostgresStore persists samples and alerts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// EnsureSchema creates tables and indexes when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
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
		// the lock dies with the session if this fails, so the connection is dropped instead of reused
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			conn.Hijack().Close(ctxUnlock)
			return
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSample persists or overwrites a market sample.
func (s *PostgresStore) UpsertSample(ctx context.Context, sample MarketSample) error {
	if err := sample.Validate(); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSampleSQL,
		sample.Timestamp,
		sample.Price,
		sample.Volume24h,
		sample.Change24h,
		sample.BidDepth,
		sample.AskDepth,
		sample.TotalDepth,
		sample.SpreadBps,
		sample.Source,
	)
	if execErr != nil {
		return fmt.Errorf("upsert market sample: %w", execErr)
	}
	return nil
}

// RollingWindow lists field values newer than since in timestamp order.
func (s *PostgresStore) RollingWindow(ctx context.Context, field Field, since int64) ([]float64, error) {
	column, err := field.Column()
	if err != nil {
		return nil, err
	}
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, fmt.Sprintf(rollingWindowSQL, column), since)
	if queryErr != nil {
		return nil, fmt.Errorf("rolling window %s: %w", column, queryErr)
	}
	values, collectErr := pgx.CollectRows(rows, pgx.RowTo[float64])
	if collectErr != nil {
		return nil, fmt.Errorf("rolling window %s: %w", column, collectErr)
	}
	return values, nil
}

// ListSamplesBetween lists samples with from <= timestamp < to.
func (s *PostgresStore) ListSamplesBetween(ctx context.Context, from, to int64) ([]MarketSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]MarketSample, 0)
	for rows.Next() {
		sample, scanErr := scanMarketSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples, newest first.
func (s *PostgresStore) ListRecentSamples(ctx context.Context, limit int) ([]MarketSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]MarketSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanMarketSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts stored samples.
func (s *PostgresStore) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists a fired alert and returns its id.
func (s *PostgresStore) InsertAlert(ctx context.Context, alert AlertRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	if scanErr := pool.QueryRow(ctx, insertAlertSQL,
		alert.Timestamp,
		string(alert.AlertType),
		alert.Message,
		alert.Value,
		alert.Threshold,
		alert.Dispatched,
	).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert alert: %w", scanErr)
	}
	return id, nil
}

// LastDispatchedTimestamp returns the newest dispatched alert timestamp of a type.
func (s *PostgresStore) LastDispatchedTimestamp(ctx context.Context, alertType AlertType) (int64, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, false, err
	}

	var ts sql.NullInt64
	if scanErr := pool.QueryRow(ctx, lastDispatchedSQL, string(alertType)).Scan(&ts); scanErr != nil {
		return 0, false, fmt.Errorf("last dispatched %s: %w", alertType, scanErr)
	}
	return ts.Int64, ts.Valid, nil
}

// MarkDispatched flips an alert to dispatched exactly once.
func (s *PostgresStore) MarkDispatched(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markDispatchedSQL, id)
	if execErr != nil {
		return fmt.Errorf("mark alert dispatched: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("alert %d: %w", id, ErrAlertNotPending)
	}
	return nil
}

// ListRecentAlerts lists most recent alerts.
func (s *PostgresStore) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var alertType string
		if err := rows.Scan(
			&rec.ID,
			&rec.Timestamp,
			&alertType,
			&rec.Message,
			&rec.Value,
			&rec.Threshold,
			&rec.Dispatched,
		); err != nil {
			return nil, err
		}
		rec.AlertType = AlertType(alertType)
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanMarketSample(rows pgx.Rows) (MarketSample, error) {
	var (
		sample MarketSample
		change sql.NullFloat64
	)
	if err := rows.Scan(
		&sample.Timestamp,
		&sample.Price,
		&sample.Volume24h,
		&change,
		&sample.BidDepth,
		&sample.AskDepth,
		&sample.TotalDepth,
		&sample.SpreadBps,
		&sample.Source,
	); err != nil {
		return MarketSample{}, err
	}
	if change.Valid {
		value := change.Float64
		sample.Change24h = &value
	}
	return sample, nil
}

var (
	_ Store          = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
