package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoSourceAvailable indicates every provider failed for this call.
	ErrNoSourceAvailable = errors.New("no order book source available")
	// ErrSchema indicates a provider answered with a payload that cannot be normalized.
	ErrSchema = errors.New("provider schema error")
	// ErrTransient indicates a timeout, transport failure or non-success status.
	ErrTransient = errors.New("provider transient error")
)

// Level is one resting price level.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Book is a venue order book normalized to best-first levels.
type Book struct {
	Bids []Level
	Asks []Level
}

// Provider describes one order book venue.
type Provider interface {
	Name() string
	Endpoint() string
	Params() url.Values
	Normalize(raw []byte) (Book, error)
}

// OrderBookFetcher returns a normalized book and the name of the provider that served it.
type OrderBookFetcher interface {
	FetchOrderBook(ctx context.Context) (Book, string, error)
}

// Ticker carries the 24h statistics of the monitored asset.
type Ticker struct {
	Price     float64
	Volume24h float64
	// Change24h is nil when the payload carries no 24h change.
	Change24h *float64
}

// TickerFetcher retrieves 24h statistics.
type TickerFetcher interface {
	FetchTicker(ctx context.Context) (Ticker, error)
}

// ProviderError records why a single provider was abandoned.
type ProviderError struct {
	Provider string
	Attempts int
	Kind     error
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v after %d attempt(s): %v", e.Provider, e.Kind, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func schemaErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchema, fmt.Sprintf(format, args...))
}
