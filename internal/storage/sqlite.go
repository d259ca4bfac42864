package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const defaultBusyTimeout = 5 * time.Second

type marketDataRow struct {
	Timestamp  int64    `gorm:"column:timestamp;primaryKey;autoIncrement:false;index:idx_market_timestamp,sort:desc"`
	Price      float64  `gorm:"column:price;not null"`
	Volume24h  float64  `gorm:"column:volume_24h;not null"`
	Change24h  *float64 `gorm:"column:change_24h"`
	BidDepth   float64  `gorm:"column:bid_depth;not null"`
	AskDepth   float64  `gorm:"column:ask_depth;not null"`
	TotalDepth float64  `gorm:"column:total_depth;not null"`
	SpreadBps  float64  `gorm:"column:spread_bps;not null"`
	Source     string   `gorm:"column:source;not null"`
}

func (marketDataRow) TableName() string { return "market_data" }

type alertRow struct {
	ID         int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Timestamp  int64   `gorm:"column:timestamp;not null;index:idx_alerts_timestamp,sort:desc"`
	AlertType  string  `gorm:"column:alert_type;not null;index:idx_alerts_type"`
	Message    string  `gorm:"column:message;not null"`
	Value      float64 `gorm:"column:value;not null"`
	Threshold  float64 `gorm:"column:threshold;not null"`
	Dispatched bool    `gorm:"column:dispatched;not null"`
}

func (alertRow) TableName() string { return "alerts" }

// SQLiteOptions configures the embedded store.
type SQLiteOptions struct {
	Path        string
	BusyTimeout time.Duration
}

// SQLiteStore persists samples and alerts in a local SQLite file through gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating when missing) the database file and migrates the schema.
func OpenSQLite(opts SQLiteOptions) (*SQLiteStore, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("storage.sqlite.path is required")
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}
	if dir := filepath.Dir(opts.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		opts.Path, opts.BusyTimeout.Milliseconds())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// one writer keeps sqlite free of SQLITE_BUSY inside the process
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&marketDataRow{}, &alertRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) conn(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db.WithContext(ctx), nil
}

// UpsertSample persists or overwrites a market sample.
func (s *SQLiteStore) UpsertSample(ctx context.Context, sample MarketSample) error {
	if err := sample.Validate(); err != nil {
		return err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	row := toMarketDataRow(sample)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "timestamp"}},
		UpdateAll: true,
	}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("upsert market sample: %w", res.Error)
	}
	return nil
}

// RollingWindow lists field values newer than since in timestamp order.
func (s *SQLiteStore) RollingWindow(ctx context.Context, field Field, since int64) ([]float64, error) {
	column, err := field.Column()
	if err != nil {
		return nil, err
	}
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	values := make([]float64, 0)
	res := db.Model(&marketDataRow{}).
		Where("timestamp > ?", since).
		Where(column + " IS NOT NULL").
		Order("timestamp ASC").
		Pluck(column, &values)
	if res.Error != nil {
		return nil, fmt.Errorf("rolling window %s: %w", column, res.Error)
	}
	return values, nil
}

// ListSamplesBetween lists samples with from <= timestamp < to.
func (s *SQLiteStore) ListSamplesBetween(ctx context.Context, from, to int64) ([]MarketSample, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []marketDataRow
	res := db.Where("timestamp >= ? AND timestamp < ?", from, to).
		Order("timestamp ASC").
		Find(&rows)
	if res.Error != nil {
		return nil, fmt.Errorf("list samples between: %w", res.Error)
	}
	return fromMarketDataRows(rows), nil
}

// ListRecentSamples lists the most recent samples, newest first.
func (s *SQLiteStore) ListRecentSamples(ctx context.Context, limit int) ([]MarketSample, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []marketDataRow
	if res := db.Order("timestamp DESC").Limit(limit).Find(&rows); res.Error != nil {
		return nil, fmt.Errorf("list recent samples: %w", res.Error)
	}
	return fromMarketDataRows(rows), nil
}

// CountSamples counts stored samples.
func (s *SQLiteStore) CountSamples(ctx context.Context) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var count int64
	if res := db.Model(&marketDataRow{}).Count(&count); res.Error != nil {
		return 0, fmt.Errorf("count samples: %w", res.Error)
	}
	return count, nil
}

// InsertAlert persists a fired alert and returns its id.
func (s *SQLiteStore) InsertAlert(ctx context.Context, alert AlertRecord) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	row := alertRow{
		Timestamp:  alert.Timestamp,
		AlertType:  string(alert.AlertType),
		Message:    alert.Message,
		Value:      alert.Value,
		Threshold:  alert.Threshold,
		Dispatched: alert.Dispatched,
	}
	if res := db.Create(&row); res.Error != nil {
		return 0, fmt.Errorf("insert alert: %w", res.Error)
	}
	return row.ID, nil
}

// LastDispatchedTimestamp returns the newest dispatched alert timestamp of a type.
func (s *SQLiteStore) LastDispatchedTimestamp(ctx context.Context, alertType AlertType) (int64, bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, false, err
	}

	var ts sql.NullInt64
	row := db.Model(&alertRow{}).
		Select("MAX(timestamp)").
		Where("alert_type = ? AND dispatched = ?", string(alertType), true).
		Row()
	if err := row.Scan(&ts); err != nil {
		return 0, false, fmt.Errorf("last dispatched %s: %w", alertType, err)
	}
	return ts.Int64, ts.Valid, nil
}

// MarkDispatched flips an alert to dispatched exactly once.
func (s *SQLiteStore) MarkDispatched(ctx context.Context, id int64) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	res := db.Model(&alertRow{}).
		Where("id = ? AND dispatched = ?", id, false).
		Update("dispatched", true)
	if res.Error != nil {
		return fmt.Errorf("mark alert dispatched: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("alert %d: %w", id, ErrAlertNotPending)
	}
	return nil
}

// ListRecentAlerts lists most recent alerts.
func (s *SQLiteStore) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []alertRow
	if res := db.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&rows); res.Error != nil {
		return nil, fmt.Errorf("list recent alerts: %w", res.Error)
	}
	alerts := make([]AlertRecord, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, AlertRecord{
			ID:         r.ID,
			Timestamp:  r.Timestamp,
			AlertType:  AlertType(r.AlertType),
			Message:    r.Message,
			Value:      r.Value,
			Threshold:  r.Threshold,
			Dispatched: r.Dispatched,
		})
	}
	return alerts, nil
}

func toMarketDataRow(s MarketSample) marketDataRow {
	return marketDataRow{
		Timestamp:  s.Timestamp,
		Price:      s.Price,
		Volume24h:  s.Volume24h,
		Change24h:  s.Change24h,
		BidDepth:   s.BidDepth,
		AskDepth:   s.AskDepth,
		TotalDepth: s.TotalDepth,
		SpreadBps:  s.SpreadBps,
		Source:     s.Source,
	}
}

func fromMarketDataRows(rows []marketDataRow) []MarketSample {
	samples := make([]MarketSample, 0, len(rows))
	for _, r := range rows {
		samples = append(samples, MarketSample{
			Timestamp:  r.Timestamp,
			Price:      r.Price,
			Volume24h:  r.Volume24h,
			Change24h:  r.Change24h,
			BidDepth:   r.BidDepth,
			AskDepth:   r.AskDepth,
			TotalDepth: r.TotalDepth,
			SpreadBps:  r.SpreadBps,
			Source:     r.Source,
		})
	}
	return samples
}

var _ Store = (*SQLiteStore)(nil)
