package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// maxBodyBytes caps a single provider response.
const maxBodyBytes = 4 << 20

// AttemptObserver is notified of every provider request outcome.
type AttemptObserver interface {
	ObserveProviderAttempt(provider, outcome string)
}

// AggregatorOptions parameterise the failover fetcher.
type AggregatorOptions struct {
	Timeout     time.Duration
	MaxAttempts int
	BackoffStep time.Duration
	UserAgent   string
	Observer    AttemptObserver
}

// Aggregator walks an ordered provider list until one returns a valid book.
type Aggregator struct {
	providers []Provider
	opts      AggregatorOptions
	client    *http.Client
	logger    zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewAggregator constructs a failover fetcher over providers in priority order.
func NewAggregator(providers []Provider, opts AggregatorOptions, logger zerolog.Logger) *Aggregator {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffStep < 0 {
		opts.BackoffStep = 0
	}

	return &Aggregator{
		providers: providers,
		opts:      opts,
		client:    &http.Client{Timeout: opts.Timeout},
		logger:    logger.With().Str("component", "source_aggregator").Logger(),
		sleep:     sleepContext,
	}
}

// FetchOrderBook returns the first valid book and the serving provider's name.
// Each call starts again from the first provider.
func (a *Aggregator) FetchOrderBook(ctx context.Context) (Book, string, error) {
	if len(a.providers) == 0 {
		return Book{}, "", fmt.Errorf("%w: no providers configured", ErrNoSourceAvailable)
	}

	failures := make([]error, 0, len(a.providers))
	for _, provider := range a.providers {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}

		a.logger.Debug().Str("provider", provider.Name()).Msg("requesting order book")
		book, err := a.fetchFrom(ctx, provider)
		if err != nil {
			a.logger.Warn().Err(err).Str("provider", provider.Name()).Msg("provider failed, trying next")
			failures = append(failures, err)
			continue
		}

		a.logger.Info().Str("provider", provider.Name()).
			Int("bids", len(book.Bids)).
			Int("asks", len(book.Asks)).
			Msg("order book fetched")
		return book, provider.Name(), nil
	}

	return Book{}, "", fmt.Errorf("%w: %w", ErrNoSourceAvailable, errors.Join(failures...))
}

func (a *Aggregator) fetchFrom(ctx context.Context, provider Provider) (Book, error) {
	var lastErr error
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		raw, err := a.request(ctx, provider)
		if err == nil {
			book, normErr := provider.Normalize(raw)
			if normErr != nil {
				a.observe(provider.Name(), "schema_error")
				return Book{}, &ProviderError{Provider: provider.Name(), Attempts: attempt, Kind: ErrSchema, Err: normErr}
			}
			a.observe(provider.Name(), "success")
			return book, nil
		}

		a.observe(provider.Name(), "transient_error")
		lastErr = err
		if attempt == a.opts.MaxAttempts {
			break
		}

		delay := a.opts.BackoffStep * time.Duration(attempt)
		a.logger.Debug().Err(err).
			Str("provider", provider.Name()).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("retrying provider")
		if sleepErr := a.sleep(ctx, delay); sleepErr != nil {
			return Book{}, &ProviderError{Provider: provider.Name(), Attempts: attempt, Kind: ErrTransient, Err: sleepErr}
		}
	}

	return Book{}, &ProviderError{Provider: provider.Name(), Attempts: a.opts.MaxAttempts, Kind: ErrTransient, Err: lastErr}
}

func (a *Aggregator) request(ctx context.Context, provider Provider) ([]byte, error) {
	endpoint := provider.Endpoint()
	if params := provider.Params(); len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "riskmonitor/1.0")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s returned status %d: %s", provider.Name(), resp.StatusCode, truncate(strings.TrimSpace(string(body)), 200))
	}
	return body, nil
}

func (a *Aggregator) observe(provider, outcome string) {
	if a.opts.Observer != nil {
		a.opts.Observer.ObserveProviderAttempt(provider, outcome)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ OrderBookFetcher = (*Aggregator)(nil)
