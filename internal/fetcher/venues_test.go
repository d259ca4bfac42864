package fetcher

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var solUSDT = Pair{Base: "sol", Quote: "usdt"}

func TestVenueRequestParameters(t *testing.T) {
	kucoin := NewKuCoin(VenueOptions{Pair: solUSDT})
	assert.Equal(t, "https://api.kucoin.com/api/v1/market/orderbook/level2_100", kucoin.Endpoint())
	assert.Equal(t, "SOL-USDT", kucoin.Params().Get("symbol"))

	gate := NewGateIO(VenueOptions{Pair: solUSDT, Limit: 50})
	assert.Equal(t, "SOL_USDT", gate.Params().Get("currency_pair"))
	assert.Equal(t, "50", gate.Params().Get("limit"))

	mexc := NewMEXC(VenueOptions{Pair: solUSDT, BaseURL: "http://localhost:1/"})
	assert.Equal(t, "http://localhost:1/api/v3/depth", mexc.Endpoint())
	assert.Equal(t, "SOLUSDT", mexc.Params().Get("symbol"))
	assert.Equal(t, "100", mexc.Params().Get("limit"))
}

func TestKuCoinNormalize(t *testing.T) {
	raw := []byte(`{"code":"200000","data":{"time":1,"sequence":"2","bids":[["142.1","10.5"]],"asks":[["142.2","3"]]}}`)

	book, err := NewKuCoin(VenueOptions{}).Normalize(raw)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Price.Equal(decimal.RequireFromString("142.1")))
	assert.True(t, book.Asks[0].Size.Equal(decimal.NewFromInt(3)))
}

func TestKuCoinNormalizeRejectsErrorCode(t *testing.T) {
	_, err := NewKuCoin(VenueOptions{}).Normalize([]byte(`{"code":"429000","msg":"too many requests"}`))
	assert.True(t, errors.Is(err, ErrSchema))
}

func TestNormalizeAcceptsNumericLevels(t *testing.T) {
	book, err := NewMEXC(VenueOptions{}).Normalize([]byte(`{"bids":[[99.5, 1.25]],"asks":[[100.5, 2]]}`))
	require.NoError(t, err)
	assert.True(t, book.Bids[0].Size.Equal(decimal.RequireFromString("1.25")))
}

func TestNormalizeSchemaErrors(t *testing.T) {
	cases := map[string]string{
		"missing asks":   `{"bids":[["1","1"]]}`,
		"short level":    `{"bids":[["1"]],"asks":[["2","1"]]}`,
		"not json":       `<html>maintenance</html>`,
		"non numeric":    `{"bids":[["x","1"]],"asks":[["2","1"]]}`,
		"gate error obj": `{"label":"INVALID_CURRENCY_PAIR","message":"bad pair"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewGateIO(VenueOptions{}).Normalize([]byte(raw))
			assert.True(t, errors.Is(err, ErrSchema), "got %v", err)
		})
	}
}

func TestNormalizeKeepsEmptySides(t *testing.T) {
	book, err := NewGateIO(VenueOptions{}).Normalize([]byte(`{"bids":[],"asks":[["2","1"]]}`))
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
}

func TestNewProviderUnknownVenue(t *testing.T) {
	_, err := NewProvider("binance", VenueOptions{})
	assert.Error(t, err)

	p, err := NewProvider("GATEIO", VenueOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Gate.io", p.Name())
}
