package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrAlertNotPending indicates MarkDispatched found no undispatched alert with that id.
	ErrAlertNotPending = errors.New("storage: alert missing or already dispatched")
)

// SampleStore defines operations for market sample persistence.
type SampleStore interface {
	// UpsertSample inserts or overwrites the sample keyed by its timestamp.
	UpsertSample(ctx context.Context, sample MarketSample) error
	// RollingWindow returns non-null values of field with timestamp > since, oldest first.
	RollingWindow(ctx context.Context, field Field, since int64) ([]float64, error)
	ListRecentSamples(ctx context.Context, limit int) ([]MarketSample, error)
	ListSamplesBetween(ctx context.Context, from, to int64) ([]MarketSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing and dispatch bookkeeping.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (int64, error)
	// LastDispatchedTimestamp reports the newest dispatched alert of the type, if any.
	LastDispatchedTimestamp(ctx context.Context, alertType AlertType) (int64, bool, error)
	MarkDispatched(ctx context.Context, id int64) error
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates sample and alert persistence.
type Store interface {
	SampleStore
	AlertStore
	Close() error
}
