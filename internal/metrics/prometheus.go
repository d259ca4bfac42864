package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Recorder exposes monitor metrics on its own registry. A nil *Recorder is a no-op.
type Recorder struct {
	registry         *prometheus.Registry
	cycles           *prometheus.CounterVec
	stageFailures    *prometheus.CounterVec
	providerAttempts *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	lastPrice        prometheus.Gauge
	lastDepth        *prometheus.GaugeVec
	lastSpread       prometheus.Gauge
	lastSample       prometheus.Gauge
}

// New creates a recorder with process and Go runtime collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskmonitor_cycles_total",
				Help: "Monitoring cycles by result",
			},
			[]string{"result"},
		),
		stageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskmonitor_stage_failures_total",
				Help: "Cycle aborts by failing stage",
			},
			[]string{"stage"},
		),
		providerAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskmonitor_provider_attempts_total",
				Help: "Order book requests by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		alerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskmonitor_alerts_total",
				Help: "Fired alerts by type and dispatch outcome",
			},
			[]string{"alert_type", "outcome"},
		),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskmonitor_cycle_duration_seconds",
			Help:    "Duration of monitoring cycles in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		lastPrice: factory.NewGauge(prometheus.GaugeOpts{
			Name: "riskmonitor_last_price",
			Help: "Mid price of the last persisted sample",
		}),
		lastDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskmonitor_last_depth_usd",
				Help: "Banded notional depth of the last persisted sample",
			},
			[]string{"side"},
		),
		lastSpread: factory.NewGauge(prometheus.GaugeOpts{
			Name: "riskmonitor_last_spread_bps",
			Help: "Spread in basis points of the last persisted sample",
		}),
		lastSample: factory.NewGauge(prometheus.GaugeOpts{
			Name: "riskmonitor_last_sample_timestamp_seconds",
			Help: "Unix timestamp of the last persisted sample",
		}),
	}
}

// ObserveProviderAttempt counts one provider request outcome.
func (r *Recorder) ObserveProviderAttempt(provider, outcome string) {
	if r == nil {
		return
	}
	r.providerAttempts.WithLabelValues(provider, outcome).Inc()
}

// ObserveAlert counts one fired alert outcome.
func (r *Recorder) ObserveAlert(alertType, outcome string) {
	if r == nil {
		return
	}
	r.alerts.WithLabelValues(alertType, outcome).Inc()
}

// RecordCycle records a finished cycle. stage is empty on success.
func (r *Recorder) RecordCycle(stage string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.cycleDuration.Observe(elapsed.Seconds())
	if stage == "" {
		r.cycles.WithLabelValues("success").Inc()
		return
	}
	r.cycles.WithLabelValues("failure").Inc()
	r.stageFailures.WithLabelValues(stage).Inc()
}

// RecordSample updates the last-sample gauges.
func (r *Recorder) RecordSample(ts int64, price, bidDepth, askDepth, spreadBps float64) {
	if r == nil {
		return
	}
	r.lastSample.Set(float64(ts))
	r.lastPrice.Set(price)
	r.lastDepth.WithLabelValues("bid").Set(bidDepth)
	r.lastDepth.WithLabelValues("ask").Set(askDepth)
	r.lastDepth.WithLabelValues("total").Set(bidDepth + askDepth)
	r.lastSpread.Set(spreadBps)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes the handler on listen/path until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, listen, path string, logger zerolog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, r.Handler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen", listen).Str("path", path).Msg("metrics endpoint started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
