package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gateBook = `{"bids":[["99","2"],["98.5","1"]],"asks":[["101","3"],["101.5","1"]]}`

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) ObserveProviderAttempt(provider, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, provider+":"+outcome)
}

func newTestAggregator(providers []Provider, attempts int, observer AttemptObserver) *Aggregator {
	agg := NewAggregator(providers, AggregatorOptions{
		Timeout:     200 * time.Millisecond,
		MaxAttempts: attempts,
		BackoffStep: time.Millisecond,
		UserAgent:   "test",
		Observer:    observer,
	}, noopLogger())
	agg.sleep = func(context.Context, time.Duration) error { return nil }
	return agg
}

func TestAggregatorFailsOverFromTimingOutProvider(t *testing.T) {
	var slowHits atomic.Int32
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slowHits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(gateBook))
	}))
	defer fast.Close()

	a := &namedProvider{Provider: NewGateIO(VenueOptions{BaseURL: slow.URL}), name: "A"}
	b := &namedProvider{Provider: NewGateIO(VenueOptions{BaseURL: fast.URL}), name: "B"}

	observer := &recordingObserver{}
	agg := newTestAggregator([]Provider{a, b}, 2, observer)

	book, source, err := agg.FetchOrderBook(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B", source)
	assert.Len(t, book.Bids, 2)
	assert.Equal(t, int32(2), slowHits.Load(), "A must be retried up to the attempt limit")
	assert.Equal(t, []string{"A:transient_error", "A:transient_error", "B:success"}, observer.outcomes)
}

func TestAggregatorSchemaErrorSkipsRetry(t *testing.T) {
	var hits atomic.Int32
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"code":"400100","msg":"bad symbol"}`))
	}))
	defer broken.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(gateBook))
	}))
	defer good.Close()

	agg := newTestAggregator([]Provider{
		NewKuCoin(VenueOptions{BaseURL: broken.URL}),
		NewMEXC(VenueOptions{BaseURL: good.URL}),
	}, 3, nil)

	_, source, err := agg.FetchOrderBook(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "MEXC", source)
	assert.Equal(t, int32(1), hits.Load(), "normalization failures are not retried")
}

func TestAggregatorRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(gateBook))
	}))
	defer flaky.Close()

	agg := newTestAggregator([]Provider{NewGateIO(VenueOptions{BaseURL: flaky.URL})}, 3, nil)

	_, source, err := agg.FetchOrderBook(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Gate.io", source)
	assert.Equal(t, int32(3), hits.Load())
}

func TestAggregatorAllProvidersFail(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	agg := newTestAggregator([]Provider{
		NewKuCoin(VenueOptions{BaseURL: down.URL}),
		NewGateIO(VenueOptions{BaseURL: down.URL}),
		NewMEXC(VenueOptions{BaseURL: down.URL}),
	}, 2, nil)

	_, _, err := agg.FetchOrderBook(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSourceAvailable))
	assert.True(t, errors.Is(err, ErrTransient))

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "KuCoin", perr.Provider)
	assert.Equal(t, 2, perr.Attempts)
}

func TestAggregatorDoesNotPinLastSuccess(t *testing.T) {
	var firstHits atomic.Int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		firstHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer first.Close()

	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(gateBook))
	}))
	defer second.Close()

	agg := newTestAggregator([]Provider{
		NewGateIO(VenueOptions{BaseURL: first.URL}),
		NewMEXC(VenueOptions{BaseURL: second.URL}),
	}, 1, nil)

	for i := 0; i < 2; i++ {
		_, source, err := agg.FetchOrderBook(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "MEXC", source)
	}
	assert.Equal(t, int32(2), firstHits.Load(), "every call restarts from the head of the list")
}

func TestAggregatorWithoutProviders(t *testing.T) {
	agg := newTestAggregator(nil, 1, nil)
	_, _, err := agg.FetchOrderBook(context.Background())
	assert.ErrorIs(t, err, ErrNoSourceAvailable)
}

type namedProvider struct {
	Provider
	name string
}

func (n *namedProvider) Name() string { return n.name }
