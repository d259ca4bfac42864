package depth

import (
	"errors"

	"github.com/shopspring/decimal"

	"riskmonitor/internal/fetcher"
)

// ErrInsufficientBook is returned when either side of the book is empty.
var ErrInsufficientBook = errors.New("order book has an empty side")

var (
	two      = decimal.NewFromInt(2)
	bpsScale = decimal.NewFromInt(10_000)
)

// Metrics summarise one order book snapshot.
type Metrics struct {
	BestBid    float64
	BestAsk    float64
	Mid        float64
	BidDepth   float64
	AskDepth   float64
	TotalDepth float64
	SpreadBps  float64
}

// Analyzer measures notional depth inside a band around mid.
type Analyzer struct {
	band      decimal.Decimal
	maxLevels int
}

// NewAnalyzer builds an analyzer. bandPct is a fraction (0.01 = 1%); maxLevels
// caps how many levels per side are considered.
func NewAnalyzer(bandPct float64, maxLevels int) *Analyzer {
	if bandPct <= 0 {
		bandPct = 0.01
	}
	if maxLevels <= 0 {
		maxLevels = 50
	}
	return &Analyzer{band: decimal.NewFromFloat(bandPct), maxLevels: maxLevels}
}

// Analyze computes best bid/ask, mid, banded depth and spread. Levels are
// expected best-first, as the venues publish them.
func (a *Analyzer) Analyze(book fetcher.Book) (Metrics, error) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return Metrics{}, ErrInsufficientBook
	}

	bids := topLevels(book.Bids, a.maxLevels)
	asks := topLevels(book.Asks, a.maxLevels)

	bestBid := bids[0].Price
	bestAsk := asks[0].Price
	mid := bestBid.Add(bestAsk).Div(two)
	if !mid.IsPositive() {
		return Metrics{}, ErrInsufficientBook
	}

	bidFloor := mid.Mul(decimal.NewFromInt(1).Sub(a.band))
	askCeil := mid.Mul(decimal.NewFromInt(1).Add(a.band))

	bidDepth := decimal.Zero
	for _, lvl := range bids {
		if lvl.Price.GreaterThanOrEqual(bidFloor) {
			bidDepth = bidDepth.Add(notional(lvl))
		}
	}
	askDepth := decimal.Zero
	for _, lvl := range asks {
		if lvl.Price.LessThanOrEqual(askCeil) {
			askDepth = askDepth.Add(notional(lvl))
		}
	}

	spread := bestAsk.Sub(bestBid).Div(mid).Mul(bpsScale)
	// crossed books happen on stale snapshots; spread is reported as zero
	if spread.IsNegative() {
		spread = decimal.Zero
	}

	bidF := bidDepth.InexactFloat64()
	askF := askDepth.InexactFloat64()
	return Metrics{
		BestBid:    bestBid.InexactFloat64(),
		BestAsk:    bestAsk.InexactFloat64(),
		Mid:        mid.InexactFloat64(),
		BidDepth:   bidF,
		AskDepth:   askF,
		TotalDepth: bidF + askF,
		SpreadBps:  spread.InexactFloat64(),
	}, nil
}

func topLevels(levels []fetcher.Level, n int) []fetcher.Level {
	if len(levels) > n {
		return levels[:n]
	}
	return levels
}

// notional ignores negative sizes so depth never goes below zero.
func notional(lvl fetcher.Level) decimal.Decimal {
	if lvl.Size.IsNegative() || lvl.Price.IsNegative() {
		return decimal.Zero
	}
	return lvl.Price.Mul(lvl.Size)
}
