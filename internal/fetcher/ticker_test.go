package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCoinGeckoMissingCoinID(t *testing.T) {
	c := NewCoinGecko(TickerOptions{}, noopLogger())
	if _, err := c.FetchTicker(context.Background()); err == nil {
		t.Fatal("缺少 coin id 时应返回错误")
	}
}

func TestCoinGeckoHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]string{"error_message": "rate limited"}})
	}))
	defer srv.Close()

	c := NewCoinGecko(TickerOptions{BaseURL: srv.URL, CoinID: "solana", Timeout: time.Second}, noopLogger())
	if _, err := c.FetchTicker(context.Background()); err == nil {
		t.Fatal("HTTP 429 应返回错误")
	}
}

func TestCoinGeckoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "solana" {
			t.Errorf("ids 参数错误: %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"solana": map[string]float64{
				"usd":            142.5,
				"usd_24h_vol":    2.5e9,
				"usd_24h_change": -3.25,
			},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(TickerOptions{BaseURL: srv.URL, CoinID: "solana", Timeout: time.Second, UserAgent: "test"}, noopLogger())

	ticker, err := c.FetchTicker(context.Background())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if ticker.Price != 142.5 || ticker.Volume24h != 2.5e9 || ticker.Change24h == nil || *ticker.Change24h != -3.25 {
		t.Fatalf("ticker 解析错误: %+v", ticker)
	}
}

func TestCoinGeckoMissingChangeStaysNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"solana":{"usd":150.1,"usd_24h_vol":1000000}}`))
	}))
	defer srv.Close()

	c := NewCoinGecko(TickerOptions{BaseURL: srv.URL, CoinID: "solana", Timeout: time.Second}, noopLogger())
	ticker, err := c.FetchTicker(context.Background())
	if err != nil {
		t.Fatalf("缺少 24h 涨跌幅不应报错: %v", err)
	}
	if ticker.Change24h != nil {
		t.Fatalf("缺少 usd_24h_change 时 Change24h 应为 nil, 实际 %v", *ticker.Change24h)
	}
	if ticker.Volume24h != 1_000_000 {
		t.Fatalf("成交量解析错误: %+v", ticker)
	}
}

func TestCoinGeckoMissingCoin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewCoinGecko(TickerOptions{BaseURL: srv.URL, CoinID: "solana", Timeout: time.Second}, noopLogger())
	if _, err := c.FetchTicker(context.Background()); err == nil {
		t.Fatal("响应缺少币种时应报错")
	}
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}
