package alerting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"riskmonitor/internal/storage"
)

// Dispatch outcomes reported per fired alert.
const (
	OutcomeDispatched   = "dispatched"
	OutcomeSuppressed   = "suppressed"
	OutcomeFailed       = "failed"
	OutcomeRecordFailed = "record_failed"
	OutcomeRecorded     = "recorded" // stored, no channel configured
)

const secondsPerYear = 365 * 24 * 3600

// Store is the persistence surface the engine needs.
type Store interface {
	RollingWindow(ctx context.Context, field storage.Field, since int64) ([]float64, error)
	InsertAlert(ctx context.Context, alert storage.AlertRecord) (int64, error)
	LastDispatchedTimestamp(ctx context.Context, alertType storage.AlertType) (int64, bool, error)
	MarkDispatched(ctx context.Context, id int64) error
}

// Observer receives alert outcomes, typically the metrics recorder.
type Observer interface {
	ObserveAlert(alertType, outcome string)
}

// Options configures rule thresholds.
type Options struct {
	K               float64
	MaxSpreadBps    float64
	VRPMin          float64
	Cooldown        time.Duration
	Window          time.Duration
	MinDepthSamples int
	MinPricePoints  int
	// Interval is the sampling cadence used to annualise realised volatility.
	Interval time.Duration
	Symbol   string
}

// Firing is a rule breach about to go through the firing protocol.
type Firing struct {
	AlertType storage.AlertType
	Message   string
	Value     float64
	Threshold float64
}

// Outcome reports what happened to one firing.
type Outcome struct {
	Firing
	ID        int64
	Timestamp int64
	Status    string
}

// Engine evaluates alert rules and throttles dispatch per alert type.
type Engine struct {
	store    Store
	notifier Notifier
	opts     Options
	observer Observer
	now      func() time.Time
	logger   zerolog.Logger
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithClock overrides the wall clock used for alert timestamps and cooldowns.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithObserver attaches an outcome observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		e.observer = o
	}
}

// NewEngine builds an engine. A nil notifier records alerts without dispatching them.
func NewEngine(store Store, notifier Notifier, opts Options, logger zerolog.Logger, options ...EngineOption) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Window <= 0 {
		opts.Window = 30 * 24 * time.Hour
	}
	if opts.MinDepthSamples < 2 {
		opts.MinDepthSamples = 10
	}
	if opts.MinPricePoints < 3 {
		opts.MinPricePoints = 3
	}
	e := &Engine{
		store:    store,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
		logger:   logger.With().Str("component", "alert_engine").Logger(),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Evaluate runs every rule against the persisted sample. A failing rule does not stop the others;
// their errors are joined.
func (e *Engine) Evaluate(ctx context.Context, sample storage.MarketSample) ([]Outcome, error) {
	since := sample.Timestamp - int64(e.opts.Window/time.Second)

	var (
		outcomes []Outcome
		errs     []error
	)
	rules := []struct {
		name string
		eval func(context.Context, storage.MarketSample, int64) (*Firing, error)
	}{
		{name: "depth", eval: e.depthRule},
		{name: "spread", eval: e.spreadRule},
		{name: "vrp", eval: e.vrpRule},
	}
	for _, rule := range rules {
		firing, err := rule.eval(ctx, sample, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s rule: %w", rule.name, err))
			continue
		}
		if firing == nil {
			continue
		}
		outcome, err := e.Fire(ctx, *firing)
		outcomes = append(outcomes, outcome)
		if errors.Is(err, ErrNoChannels) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s rule: %w", rule.name, err))
		}
	}
	return outcomes, errors.Join(errs...)
}

func (e *Engine) depthRule(ctx context.Context, sample storage.MarketSample, since int64) (*Firing, error) {
	depths, err := e.store.RollingWindow(ctx, storage.FieldTotalDepth, since)
	if err != nil {
		return nil, err
	}
	if len(depths) < e.opts.MinDepthSamples {
		e.logger.Info().Int("samples", len(depths)).Int("required", e.opts.MinDepthSamples).
			Msg("not enough depth history, skipping depth rule")
		return nil, nil
	}

	m := mean(depths)
	s := sampleStd(depths)
	threshold := m - e.opts.K*s
	current := sample.TotalDepth
	e.logger.Info().Float64("current", current).Float64("mean", m).Float64("std", s).
		Float64("threshold", threshold).Msg("depth statistics")

	if current >= threshold {
		return nil, nil
	}
	return &Firing{
		AlertType: storage.AlertDepthDecline,
		Message:   fmt.Sprintf("Market depth $%s below threshold $%s", formatNumber(current, 0), formatNumber(threshold, 0)),
		Value:     current,
		Threshold: threshold,
	}, nil
}

func (e *Engine) spreadRule(_ context.Context, sample storage.MarketSample, _ int64) (*Firing, error) {
	if sample.SpreadBps <= e.opts.MaxSpreadBps {
		return nil, nil
	}
	return &Firing{
		AlertType: storage.AlertWideSpread,
		Message:   fmt.Sprintf("Spread %.2f bps exceeds %s bps", sample.SpreadBps, trimFloat(e.opts.MaxSpreadBps)),
		Value:     sample.SpreadBps,
		Threshold: e.opts.MaxSpreadBps,
	}, nil
}

func (e *Engine) vrpRule(ctx context.Context, sample storage.MarketSample, since int64) (*Firing, error) {
	if sample.Change24h == nil {
		e.logger.Info().Msg("no 24h change on sample, skipping vrp rule")
		return nil, nil
	}
	prices, err := e.store.RollingWindow(ctx, storage.FieldPrice, since)
	if err != nil {
		return nil, err
	}
	if len(prices) < e.opts.MinPricePoints {
		e.logger.Info().Int("prices", len(prices)).Int("required", e.opts.MinPricePoints).
			Msg("not enough price history, skipping vrp rule")
		return nil, nil
	}
	returns, err := logReturns(prices)
	if err != nil {
		e.logger.Warn().Err(err).Msg("skipping vrp rule")
		return nil, nil
	}

	periodsPerYear := float64(secondsPerYear) / e.opts.Interval.Seconds()
	realized := populationStd(returns) * math.Sqrt(periodsPerYear)
	implied := math.Abs(*sample.Change24h) / 100 * math.Sqrt(365)
	vrp := implied - realized
	if math.IsNaN(vrp) || math.IsInf(vrp, 0) {
		e.logger.Warn().Float64("implied_vol", implied).Float64("realized_vol", realized).Msg("vrp is not finite, skipping")
		return nil, nil
	}
	e.logger.Info().Float64("implied_vol", implied).Float64("realized_vol", realized).
		Float64("vrp", vrp).Msg("vrp statistics")

	if vrp >= e.opts.VRPMin {
		return nil, nil
	}
	return &Firing{
		AlertType: storage.AlertLowVRP,
		Message:   fmt.Sprintf("VRP %.2f%% below %s%% threshold", vrp*100, trimFloat(e.opts.VRPMin*100)),
		Value:     vrp,
		Threshold: e.opts.VRPMin,
	}, nil
}

// Fire records the alert, then dispatches it unless the type is cooling down.
func (e *Engine) Fire(ctx context.Context, f Firing) (Outcome, error) {
	now := e.now().Unix()
	out := Outcome{Firing: f, Timestamp: now}
	log := e.logger.With().Str("alert_type", string(f.AlertType)).Logger()

	id, err := e.store.InsertAlert(ctx, storage.AlertRecord{
		Timestamp: now,
		AlertType: f.AlertType,
		Message:   f.Message,
		Value:     f.Value,
		Threshold: f.Threshold,
	})
	if err != nil {
		out.Status = OutcomeRecordFailed
		e.observe(out)
		return out, fmt.Errorf("record %s alert: %w", f.AlertType, err)
	}
	out.ID = id
	log.Warn().Int64("alert_id", id).Float64("value", f.Value).Float64("threshold", f.Threshold).
		Msg(f.Message)

	last, ok, err := e.store.LastDispatchedTimestamp(ctx, f.AlertType)
	if err != nil {
		out.Status = OutcomeFailed
		e.observe(out)
		return out, fmt.Errorf("cooldown lookup %s: %w", f.AlertType, err)
	}
	if ok && now-last < int64(e.opts.Cooldown/time.Second) {
		log.Info().Int64("last_dispatched", last).Dur("cooldown", e.opts.Cooldown).Msg("alert in cooldown period")
		out.Status = OutcomeSuppressed
		e.observe(out)
		return out, nil
	}

	if e.notifier == nil {
		log.Warn().Int64("alert_id", id).Msg("no alert channel configured, alert recorded only")
		out.Status = OutcomeRecorded
		e.observe(out)
		return out, ErrNoChannels
	}
	if err := e.notifier.Notify(ctx, Notification{
		AlertType: f.AlertType,
		Message:   f.Message,
		Value:     f.Value,
		Threshold: f.Threshold,
		Timestamp: time.Unix(now, 0).UTC(),
		Symbol:    e.opts.Symbol,
	}); err != nil {
		log.Error().Err(err).Int64("alert_id", id).Msg("alert dispatch failed")
		out.Status = OutcomeFailed
		e.observe(out)
		return out, fmt.Errorf("dispatch %s alert: %w", f.AlertType, err)
	}

	if err := e.store.MarkDispatched(ctx, id); err != nil {
		out.Status = OutcomeFailed
		e.observe(out)
		return out, fmt.Errorf("mark %s alert dispatched: %w", f.AlertType, err)
	}
	out.Status = OutcomeDispatched
	e.observe(out)
	log.Info().Int64("alert_id", id).Msg("alert dispatched")
	return out, nil
}

func (e *Engine) observe(out Outcome) {
	if e.observer != nil {
		e.observer.ObserveAlert(string(out.AlertType), out.Status)
	}
}

func trimFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}
