package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"riskmonitor/internal/alerting"
	"riskmonitor/internal/config"
	"riskmonitor/internal/depth"
	"riskmonitor/internal/fetcher"
	"riskmonitor/internal/metrics"
	"riskmonitor/internal/scheduler"
	"riskmonitor/internal/service"
	"riskmonitor/internal/storage"
	"riskmonitor/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newBookFetcher(observer fetcher.AttemptObserver) (*fetcher.Aggregator, error) {
	src := a.Config.Sources
	pair := fetcher.Pair{Base: a.Config.Market.Base, Quote: a.Config.Market.Quote}
	baseURLs := map[string]string{
		fetcher.VenueKuCoin: src.KuCoin.BaseURL,
		fetcher.VenueGateIO: src.GateIO.BaseURL,
		fetcher.VenueMEXC:   src.MEXC.BaseURL,
	}

	providers := make([]fetcher.Provider, 0, len(src.Order))
	for _, name := range src.Order {
		provider, err := fetcher.NewProvider(name, fetcher.VenueOptions{
			BaseURL: baseURLs[name],
			Pair:    pair,
			Limit:   src.DepthLimit,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}

	return fetcher.NewAggregator(providers, fetcher.AggregatorOptions{
		Timeout:     src.RequestTimeout,
		MaxAttempts: src.MaxAttempts,
		BackoffStep: src.BackoffStep,
		UserAgent:   src.UserAgent,
		Observer:    observer,
	}, a.Logger), nil
}

func (a *App) newTicker() fetcher.TickerFetcher {
	if !a.Config.Sources.Ticker.Enabled {
		return nil
	}
	return fetcher.NewCoinGecko(fetcher.TickerOptions{
		BaseURL:   a.Config.Sources.Ticker.BaseURL,
		CoinID:    a.Config.Market.CoinGeckoID,
		Timeout:   a.Config.Sources.RequestTimeout,
		UserAgent: a.Config.Sources.UserAgent,
	}, a.Logger)
}

// newNotifier returns nil when no channel is enabled.
func (a *App) newNotifier() alerting.Notifier {
	var channels []alerting.Notifier
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		channels = append(channels, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if a.Config.Alerting.Email.Enabled {
		cfg := a.Config.Alerting.Email
		channels = append(channels, alerting.NewEmailNotifier(alerting.EmailConfig{
			SMTPHost:   cfg.SMTPHost,
			SMTPPort:   cfg.SMTPPort,
			Username:   cfg.Username,
			Password:   cfg.Password,
			From:       cfg.From,
			Recipients: cfg.Recipients,
		}, a.Logger))
	}

	switch len(channels) {
	case 0:
		return nil
	case 1:
		return channels[0]
	default:
		multi := alerting.NewMultiNotifier(a.Logger, channels...)
		a.Logger.Info().Int("channels", multi.Len()).Msg("alert fan-out configured")
		return multi
	}
}

func (a *App) newEngine(store alerting.Store, recorder *metrics.Recorder) *alerting.Engine {
	cfg := a.Config.Alerting
	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("no alert channel enabled; alerts will be recorded but not dispatched")
	}
	return alerting.NewEngine(store, notifier, alerting.Options{
		K:               cfg.DepthStdThreshold,
		MaxSpreadBps:    cfg.MaxSpreadBps,
		VRPMin:          cfg.VRPMinThreshold,
		Cooldown:        cfg.Cooldown,
		Window:          cfg.Window(),
		MinDepthSamples: cfg.MinDepthSamples,
		MinPricePoints:  cfg.MinPricePoints,
		Interval:        a.Config.Scheduler.Interval,
		Symbol:          a.Config.Market.Symbol(),
	}, a.Logger, alerting.WithObserver(recorder))
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	store, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.Config.Storage.Driver, err)
	}
	return store, nil
}

func (a *App) newMonitor(store storage.Store, recorder *metrics.Recorder) (*service.Monitor, error) {
	books, err := a.newBookFetcher(recorder)
	if err != nil {
		return nil, err
	}

	deps := service.Deps{
		Books:    books,
		Ticker:   a.newTicker(),
		Analyzer: depth.NewAnalyzer(a.Config.Analysis.BandPct, a.Config.Analysis.MaxLevels),
		Store:    store,
		Recorder: recorder,
		LockKey:  a.Config.Scheduler.AdvisoryLockKey,
	}
	if a.Config.Alerting.Enabled {
		deps.Evaluator = a.newEngine(store, recorder)
	} else {
		a.Logger.Warn().Msg("alerting disabled; samples are recorded without rule evaluation")
	}
	if locker, ok := store.(storage.AdvisoryLocker); ok {
		deps.Locker = locker
	}
	return service.New(deps, a.Logger), nil
}

func (a *App) newRecorder() *metrics.Recorder {
	if !a.Config.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	recorder := a.newRecorder()
	if recorder != nil {
		go func() {
			if err := recorder.Serve(ctx, a.Config.Metrics.Listen, a.Config.Metrics.Path, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	monitor, err := a.newMonitor(store, recorder)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: a.Config.Scheduler.RunImmediately,
		CycleTimeout:   a.Config.Scheduler.CycleTimeout,
	}, a.Logger)

	a.Logger.Info().
		Str("symbol", a.Config.Market.Symbol()).
		Strs("sources", a.Config.Sources.Order).
		Dur("interval", a.Config.Scheduler.Interval).
		Str("storage", a.Config.Storage.Driver).
		Str("version", version.Get().Version).
		Msg("starting monitoring service")
	if err := sched.Start(ctx, monitor.Tick); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-sched.Done():
	}
	sched.Stop()

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show and alerts commands.
type ShowOptions struct {
	Limit int
}

// SimulateOptions describe a synthetic alert.
type SimulateOptions struct {
	AlertType storage.AlertType
	Value     float64
	Threshold float64
	Message   string
}
