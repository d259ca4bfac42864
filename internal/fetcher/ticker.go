package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	coingeckoPricePath = "/simple/price"
	tickerVsCurrency   = "usd"
)

// TickerOptions parameterise the CoinGecko fetcher.
type TickerOptions struct {
	BaseURL   string
	CoinID    string
	Timeout   time.Duration
	UserAgent string
}

// CoinGecko fetches 24h price statistics from the simple/price endpoint.
type CoinGecko struct {
	opts    TickerOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinGecko constructs a ticker fetcher.
func NewCoinGecko(opts TickerOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "ticker_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchTicker retrieves price, 24h volume and 24h change percent.
func (c *CoinGecko) FetchTicker(ctx context.Context) (Ticker, error) {
	if c.opts.CoinID == "" {
		return Ticker{}, errors.New("coingecko coin id not configured")
	}

	query := url.Values{
		"ids":                 {c.opts.CoinID},
		"vs_currencies":       {tickerVsCurrency},
		"include_24hr_vol":    {"true"},
		"include_24hr_change": {"true"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+coingeckoPricePath+"?"+query.Encode(), nil)
	if err != nil {
		return Ticker{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "riskmonitor/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Ticker{}, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Ticker{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Ticker{}, parseHTTPError(resp.StatusCode, payloadBytes)
	}

	var payload map[string]map[string]*float64
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return Ticker{}, fmt.Errorf("decode coingecko payload: %w", err)
	}

	coin, ok := payload[c.opts.CoinID]
	if !ok {
		return Ticker{}, fmt.Errorf("coingecko payload missing %q", c.opts.CoinID)
	}
	price := coin[tickerVsCurrency]
	if price == nil {
		return Ticker{}, fmt.Errorf("coingecko payload missing %s price", tickerVsCurrency)
	}

	ticker := Ticker{Price: *price}
	if vol := coin[tickerVsCurrency+"_24h_vol"]; vol != nil {
		ticker.Volume24h = *vol
	}
	ticker.Change24h = coin[tickerVsCurrency+"_24h_change"]

	c.logger.Debug().Float64("price", ticker.Price).Bool("has_change_24h", ticker.Change24h != nil).Msg("ticker fetched")
	return ticker, nil
}

type errorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("coingecko api error (%d): %s", status, truncate(strings.TrimSpace(string(payload)), 200))
	}
	return fmt.Errorf("coingecko api error (%d)", status)
}

var _ TickerFetcher = (*CoinGecko)(nil)
