package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"riskmonitor/internal/alerting"
	"riskmonitor/internal/depth"
	"riskmonitor/internal/fetcher"
	"riskmonitor/internal/storage"
)

// Cycle stages, used in CycleError and metrics labels.
const (
	StageLock    = "lock"
	StageFetch   = "fetch"
	StageAnalyze = "analyze"
	StagePersist = "persist"
	StageAlert   = "alert"
)

// CycleError reports the stage at which a cycle stopped.
type CycleError struct {
	Stage string
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle %s: %v", e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// Evaluator runs alert rules for a persisted sample.
type Evaluator interface {
	Evaluate(ctx context.Context, sample storage.MarketSample) ([]alerting.Outcome, error)
}

// Recorder receives cycle metrics.
type Recorder interface {
	RecordCycle(stage string, elapsed time.Duration)
	RecordSample(ts int64, price, bidDepth, askDepth, spreadBps float64)
}

// Deps wires the monitor's collaborators. Ticker, Evaluator, Recorder and Locker are optional.
type Deps struct {
	Books     fetcher.OrderBookFetcher
	Ticker    fetcher.TickerFetcher
	Analyzer  *depth.Analyzer
	Store     storage.SampleStore
	Evaluator Evaluator
	Recorder  Recorder
	Locker    storage.AdvisoryLocker
	LockKey   int64
}

// CycleResult summarises one cycle.
type CycleResult struct {
	CycleID  string
	Skipped  bool
	Sample   storage.MarketSample
	Metrics  depth.Metrics
	Outcomes []alerting.Outcome
}

// Monitor executes fetch → analyze → persist → alert cycles.
type Monitor struct {
	deps   Deps
	logger zerolog.Logger
}

// New constructs the monitoring service.
func New(deps Deps, logger zerolog.Logger) *Monitor {
	if deps.Analyzer == nil {
		deps.Analyzer = depth.NewAnalyzer(0.01, 50)
	}
	return &Monitor{deps: deps, logger: logger.With().Str("component", "monitor").Logger()}
}

// Tick adapts RunCycle to the scheduler.
func (m *Monitor) Tick(ctx context.Context, bucket time.Time) error {
	_, err := m.RunCycle(ctx, bucket)
	return err
}

// RunCycle 执行单个时间桶的采样与告警逻辑。
func (m *Monitor) RunCycle(ctx context.Context, bucket time.Time) (CycleResult, error) {
	started := time.Now()
	result := CycleResult{CycleID: uuid.NewString()}
	log := m.logger.With().Str("cycle_id", result.CycleID).Time("bucket", bucket).Logger()

	stage, err := m.runCycle(ctx, bucket, &result, log)
	if m.deps.Recorder != nil && !result.Skipped {
		m.deps.Recorder.RecordCycle(stage, time.Since(started))
	}
	if err != nil {
		cycleErr := &CycleError{Stage: stage, Err: err}
		log.Error().Err(err).Str("stage", stage).Dur("elapsed", time.Since(started)).Msg("cycle aborted")
		return result, cycleErr
	}
	return result, nil
}

func (m *Monitor) runCycle(ctx context.Context, bucket time.Time, result *CycleResult, log zerolog.Logger) (string, error) {
	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		return StageLock, err
	}
	if !proceed {
		log.Debug().Msg("skip bucket because advisory lock held elsewhere")
		result.Skipped = true
		return "", nil
	}
	if unlock != nil {
		defer unlock()
	}

	book, source, err := m.deps.Books.FetchOrderBook(ctx)
	if err != nil {
		return StageFetch, err
	}

	metrics, err := m.deps.Analyzer.Analyze(book)
	if err != nil {
		return StageAnalyze, fmt.Errorf("%s book: %w", source, err)
	}
	result.Metrics = metrics

	sample := storage.MarketSample{
		Timestamp:  bucket.Unix(),
		Price:      metrics.Mid,
		BidDepth:   metrics.BidDepth,
		AskDepth:   metrics.AskDepth,
		TotalDepth: metrics.TotalDepth,
		SpreadBps:  metrics.SpreadBps,
		Source:     source,
	}
	m.enrich(ctx, &sample, log)
	result.Sample = sample

	if m.deps.Store == nil {
		return StagePersist, storage.ErrNotConfigured
	}
	if err := m.deps.Store.UpsertSample(ctx, sample); err != nil {
		// alerts are only evaluated against stored history
		return StagePersist, err
	}
	if m.deps.Recorder != nil {
		m.deps.Recorder.RecordSample(sample.Timestamp, sample.Price, sample.BidDepth, sample.AskDepth, sample.SpreadBps)
	}

	log.Info().Str("source", source).
		Float64("price", sample.Price).
		Float64("total_depth", sample.TotalDepth).
		Float64("spread_bps", sample.SpreadBps).
		Msg("sample recorded")

	if m.deps.Evaluator == nil {
		return "", nil
	}
	outcomes, err := m.deps.Evaluator.Evaluate(ctx, sample)
	result.Outcomes = outcomes
	if err != nil {
		return StageAlert, err
	}
	return "", nil
}

// enrich fills 24h volume and change; a ticker failure leaves them unset.
func (m *Monitor) enrich(ctx context.Context, sample *storage.MarketSample, log zerolog.Logger) {
	if m.deps.Ticker == nil {
		return
	}
	ticker, err := m.deps.Ticker.FetchTicker(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("ticker unavailable, storing sample without 24h stats")
		return
	}
	sample.Volume24h = ticker.Volume24h
	sample.Change24h = ticker.Change24h
}

func (m *Monitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.deps.LockKey == 0 || m.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.deps.Locker.TryAdvisoryLock(ctx, m.deps.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
