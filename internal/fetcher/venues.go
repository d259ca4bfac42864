package fetcher

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Venue identifiers accepted by sources.order.
const (
	VenueKuCoin = "kucoin"
	VenueGateIO = "gateio"
	VenueMEXC   = "mexc"
)

const kucoinSuccessCode = "200000"

// Pair names the monitored market.
type Pair struct {
	Base  string
	Quote string
}

// VenueOptions parameterise a venue adapter.
type VenueOptions struct {
	BaseURL string
	Pair    Pair
	Limit   int
}

// NewProvider builds the adapter for a named venue.
func NewProvider(name string, opts VenueOptions) (Provider, error) {
	switch strings.ToLower(name) {
	case VenueKuCoin:
		return NewKuCoin(opts), nil
	case VenueGateIO:
		return NewGateIO(opts), nil
	case VenueMEXC:
		return NewMEXC(opts), nil
	default:
		return nil, fmt.Errorf("unknown order book venue %q", name)
	}
}

// KuCoin serves the level2_100 snapshot.
type KuCoin struct {
	opts VenueOptions
}

// NewKuCoin constructs the KuCoin adapter.
func NewKuCoin(opts VenueOptions) *KuCoin {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.kucoin.com"
	}
	return &KuCoin{opts: opts}
}

func (k *KuCoin) Name() string { return "KuCoin" }

func (k *KuCoin) Endpoint() string {
	return strings.TrimRight(k.opts.BaseURL, "/") + "/api/v1/market/orderbook/level2_100"
}

func (k *KuCoin) Params() url.Values {
	return url.Values{"symbol": {pairSymbol(k.opts.Pair, "-")}}
}

// Normalize unwraps the {code, data} envelope.
func (k *KuCoin) Normalize(raw []byte) (Book, error) {
	var envelope struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Book{}, schemaErrorf("decode kucoin payload: %v", err)
	}
	if envelope.Code != kucoinSuccessCode {
		return Book{}, schemaErrorf("kucoin code %q: %s", envelope.Code, envelope.Msg)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return Book{}, schemaErrorf("kucoin payload missing data")
	}
	return decodeLevels(envelope.Data)
}

// GateIO serves the spot order_book endpoint.
type GateIO struct {
	opts VenueOptions
}

// NewGateIO constructs the Gate.io adapter.
func NewGateIO(opts VenueOptions) *GateIO {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.gateio.ws"
	}
	return &GateIO{opts: opts}
}

func (g *GateIO) Name() string { return "Gate.io" }

func (g *GateIO) Endpoint() string {
	return strings.TrimRight(g.opts.BaseURL, "/") + "/api/v4/spot/order_book"
}

func (g *GateIO) Params() url.Values {
	return url.Values{
		"currency_pair": {pairSymbol(g.opts.Pair, "_")},
		"limit":         {strconv.Itoa(limitOrDefault(g.opts.Limit))},
	}
}

func (g *GateIO) Normalize(raw []byte) (Book, error) {
	return decodeLevels(raw)
}

// MEXC serves the v3 depth endpoint.
type MEXC struct {
	opts VenueOptions
}

// NewMEXC constructs the MEXC adapter.
func NewMEXC(opts VenueOptions) *MEXC {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.mexc.com"
	}
	return &MEXC{opts: opts}
}

func (m *MEXC) Name() string { return "MEXC" }

func (m *MEXC) Endpoint() string {
	return strings.TrimRight(m.opts.BaseURL, "/") + "/api/v3/depth"
}

func (m *MEXC) Params() url.Values {
	return url.Values{
		"symbol": {pairSymbol(m.opts.Pair, "")},
		"limit":  {strconv.Itoa(limitOrDefault(m.opts.Limit))},
	}
}

func (m *MEXC) Normalize(raw []byte) (Book, error) {
	return decodeLevels(raw)
}

// decodeLevels reads {"bids": [[price, size], ...], "asks": [...]} where
// price and size may be JSON strings or numbers.
func decodeLevels(raw []byte) (Book, error) {
	var payload struct {
		Bids *[][]decimal.Decimal `json:"bids"`
		Asks *[][]decimal.Decimal `json:"asks"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Book{}, schemaErrorf("decode order book: %v", err)
	}
	if payload.Bids == nil || payload.Asks == nil {
		return Book{}, schemaErrorf("order book missing bids or asks")
	}

	bids, err := toLevels(*payload.Bids, "bids")
	if err != nil {
		return Book{}, err
	}
	asks, err := toLevels(*payload.Asks, "asks")
	if err != nil {
		return Book{}, err
	}
	return Book{Bids: bids, Asks: asks}, nil
}

func toLevels(rows [][]decimal.Decimal, side string) ([]Level, error) {
	levels := make([]Level, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, schemaErrorf("%s[%d] has %d fields, want price and size", side, i, len(row))
		}
		levels = append(levels, Level{Price: row[0], Size: row[1]})
	}
	return levels, nil
}

func pairSymbol(p Pair, sep string) string {
	return strings.ToUpper(p.Base) + sep + strings.ToUpper(p.Quote)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

var (
	_ Provider = (*KuCoin)(nil)
	_ Provider = (*GateIO)(nil)
	_ Provider = (*MEXC)(nil)
)
