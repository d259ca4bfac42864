package depth

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"riskmonitor/internal/fetcher"
)

func lvl(price, size float64) fetcher.Level {
	return fetcher.Level{Price: decimal.NewFromFloat(price), Size: decimal.NewFromFloat(size)}
}

func TestSpreadFromBestLevels(t *testing.T) {
	a := NewAnalyzer(0.01, 50)
	m, err := a.Analyze(fetcher.Book{
		Bids: []fetcher.Level{lvl(99, 1)},
		Asks: []fetcher.Level{lvl(101, 1)},
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if m.Mid != 100 {
		t.Fatalf("mid got %v want 100", m.Mid)
	}
	if m.SpreadBps != 200 {
		t.Fatalf("spread got %v want 200", m.SpreadBps)
	}
}

func TestDepthRestrictedToBand(t *testing.T) {
	a := NewAnalyzer(0.01, 50)
	m, err := a.Analyze(fetcher.Book{
		// mid = 100, band [99, 101]
		Bids: []fetcher.Level{lvl(99.9, 10), lvl(99, 5), lvl(98.9, 1000)},
		Asks: []fetcher.Level{lvl(100.1, 10), lvl(101, 2), lvl(101.5, 1000)},
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	wantBid := 99.9*10 + 99*5
	wantAsk := 100.1*10 + 101*2
	if diff := m.BidDepth - wantBid; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("bid depth got %v want %v", m.BidDepth, wantBid)
	}
	if diff := m.AskDepth - wantAsk; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("ask depth got %v want %v", m.AskDepth, wantAsk)
	}
	if m.TotalDepth != m.BidDepth+m.AskDepth {
		t.Fatalf("total depth %v != bid %v + ask %v", m.TotalDepth, m.BidDepth, m.AskDepth)
	}
}

func TestDepthLevelCap(t *testing.T) {
	a := NewAnalyzer(0.01, 2)
	m, err := a.Analyze(fetcher.Book{
		Bids: []fetcher.Level{lvl(100, 1), lvl(100, 1), lvl(100, 1)},
		Asks: []fetcher.Level{lvl(100, 1), lvl(100, 1), lvl(100, 1)},
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if m.BidDepth != 200 || m.AskDepth != 200 {
		t.Fatalf("only the top 2 levels count: bid %v ask %v", m.BidDepth, m.AskDepth)
	}
}

func TestEmptySideIsInsufficient(t *testing.T) {
	a := NewAnalyzer(0.01, 50)
	books := []fetcher.Book{
		{Asks: []fetcher.Level{lvl(1, 1)}},
		{Bids: []fetcher.Level{lvl(1, 1)}},
		{},
	}
	for i, book := range books {
		if _, err := a.Analyze(book); !errors.Is(err, ErrInsufficientBook) {
			t.Fatalf("case %d: want ErrInsufficientBook, got %v", i, err)
		}
	}
}

func TestRandomBooksKeepInvariants(t *testing.T) {
	a := NewAnalyzer(0.01, 50)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		mid := 10 + rng.Float64()*200
		book := fetcher.Book{}
		for j := 0; j < 1+rng.Intn(80); j++ {
			book.Bids = append(book.Bids, lvl(mid-rng.Float64()*mid*0.03, rng.Float64()*50))
		}
		for j := 0; j < 1+rng.Intn(80); j++ {
			book.Asks = append(book.Asks, lvl(mid+rng.Float64()*mid*0.03, rng.Float64()*50))
		}

		m, err := a.Analyze(book)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if m.SpreadBps < 0 {
			t.Fatalf("iteration %d: negative spread %v", i, m.SpreadBps)
		}
		if m.TotalDepth != m.BidDepth+m.AskDepth || m.TotalDepth < 0 {
			t.Fatalf("iteration %d: depth invariant broken %+v", i, m)
		}
	}
}

func TestCrossedBookClampsSpread(t *testing.T) {
	a := NewAnalyzer(0.01, 50)
	m, err := a.Analyze(fetcher.Book{
		Bids: []fetcher.Level{lvl(101, 1)},
		Asks: []fetcher.Level{lvl(99, 1)},
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if m.SpreadBps != 0 {
		t.Fatalf("crossed book spread got %v want 0", m.SpreadBps)
	}
}
