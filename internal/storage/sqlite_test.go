package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(SQLiteOptions{Path: filepath.Join(t.TempDir(), "data", "risk.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleAt(ts int64, depth float64) MarketSample {
	return MarketSample{
		Timestamp:  ts,
		Price:      150,
		Volume24h:  1_000_000,
		BidDepth:   depth / 2,
		AskDepth:   depth / 2,
		TotalDepth: depth,
		SpreadBps:  3.2,
		Source:     "KuCoin",
	}
}

func TestSQLiteUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	require.NoError(t, store.UpsertSample(ctx, sampleAt(1_700_000_000, 1000)))
	updated := sampleAt(1_700_000_000, 4000)
	updated.Source = "MEXC"
	require.NoError(t, store.UpsertSample(ctx, updated))

	count, err := store.CountSamples(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	recent, err := store.ListRecentSamples(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 4000.0, recent[0].TotalDepth)
	assert.Equal(t, "MEXC", recent[0].Source)
}

func TestSQLiteUpsertRejectsInvalidSample(t *testing.T) {
	store := newTestSQLite(t)
	bad := sampleAt(1_700_000_000, 1000)
	bad.Source = ""
	assert.Error(t, store.UpsertSample(context.Background(), bad))
}

func TestSQLiteRollingWindowOrderAndBounds(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	// 乱序写入，读取时必须按时间升序
	for _, ts := range []int64{400, 100, 300, 200} {
		require.NoError(t, store.UpsertSample(ctx, sampleAt(ts, float64(ts))))
	}

	values, err := store.RollingWindow(ctx, FieldTotalDepth, 100)
	require.NoError(t, err)
	assert.Equal(t, []float64{200, 300, 400}, values)

	empty, err := store.RollingWindow(ctx, FieldTotalDepth, 400)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = store.RollingWindow(ctx, Field("price; DROP TABLE market_data"), 0)
	assert.Error(t, err)
}

func TestSQLiteRollingWindowSkipsNulls(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	change := 4.5
	withChange := sampleAt(100, 10)
	withChange.Change24h = &change
	require.NoError(t, store.UpsertSample(ctx, withChange))
	require.NoError(t, store.UpsertSample(ctx, sampleAt(200, 10)))

	values, err := store.RollingWindow(ctx, FieldChange24h, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{4.5}, values)

	recent, err := store.ListRecentSamples(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Nil(t, recent[0].Change24h)
	require.NotNil(t, recent[1].Change24h)
	assert.Equal(t, 4.5, *recent[1].Change24h)
}

func TestSQLiteListSamplesBetween(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)
	for _, ts := range []int64{100, 200, 300} {
		require.NoError(t, store.UpsertSample(ctx, sampleAt(ts, 1)))
	}

	samples, err := store.ListSamplesBetween(ctx, 100, 300)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, int64(100), samples[0].Timestamp)
	assert.Equal(t, int64(200), samples[1].Timestamp)
}

func TestSQLiteAlertLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	_, ok, err := store.LastDispatchedTimestamp(ctx, AlertDepthDecline)
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := store.InsertAlert(ctx, AlertRecord{
		Timestamp: 1_000,
		AlertType: AlertDepthDecline,
		Message:   "Market depth $100.00 below threshold $200.00",
		Value:     100,
		Threshold: 200,
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	// 未投递的告警不参与冷却计算
	_, ok, err = store.LastDispatchedTimestamp(ctx, AlertDepthDecline)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.MarkDispatched(ctx, id))
	err = store.MarkDispatched(ctx, id)
	assert.True(t, errors.Is(err, ErrAlertNotPending), "second mark should fail, got %v", err)
	assert.ErrorIs(t, store.MarkDispatched(ctx, id+100), ErrAlertNotPending)

	ts, ok, err := store.LastDispatchedTimestamp(ctx, AlertDepthDecline)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1_000), ts)

	_, ok, err = store.LastDispatchedTimestamp(ctx, AlertWideSpread)
	require.NoError(t, err)
	assert.False(t, ok)

	second, err := store.InsertAlert(ctx, AlertRecord{Timestamp: 2_000, AlertType: AlertWideSpread, Message: "spread"})
	require.NoError(t, err)
	assert.Greater(t, second, id)

	alerts, err := store.ListRecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertWideSpread, alerts[0].AlertType)
	assert.False(t, alerts[0].Dispatched)
	assert.True(t, alerts[1].Dispatched)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	store, err := OpenSQLite(SQLiteOptions{})
	assert.Error(t, err)
	assert.Nil(t, store)

	var nilStore *SQLiteStore
	_, err = nilStore.CountSamples(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
