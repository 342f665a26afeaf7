package price

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticker-alarm-bot/internal/types"
)

const chartOK = `{"chart":{"result":[{"meta":{"symbol":"ABC","longName":"ABC Corp","exchangeTimezoneName":"America/New_York","regularMarketPrice":101.5,"regularMarketTime":1700000000,"previousClose":100}}],"error":null}}`

func newYahooServer(t *testing.T, status int, body string) (*YahooSource, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v8/finance/chart/ABC", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("range"))
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return NewYahooSource(srv.Client(), srv.URL), &hits
}

func TestYahooFetch(t *testing.T) {
	source, _ := newYahooServer(t, http.StatusOK, chartOK)

	snapshot, err := source.Fetch(context.Background(), "ABC")
	require.NoError(t, err)
	require.Equal(t, "ABC", snapshot.Ticker)
	require.Equal(t, "ABC Corp", snapshot.Name)
	require.InDelta(t, 101.5, snapshot.Price, 1e-9)
	require.InDelta(t, 100, snapshot.PreviousClose, 1e-9)
	require.InDelta(t, 1.5, snapshot.Change, 1e-9)
	require.NotNil(t, snapshot.ChangePercent)
	require.InDelta(t, 1.5, *snapshot.ChangePercent, 1e-9)
	require.Equal(t, int64(1700000000), snapshot.AsOf.Unix())
}

func TestYahooFetchZeroPreviousClose(t *testing.T) {
	source, _ := newYahooServer(t, http.StatusOK,
		`{"chart":{"result":[{"meta":{"regularMarketPrice":5,"previousClose":0}}],"error":null}}`)

	snapshot, err := source.Fetch(context.Background(), "ABC")
	require.NoError(t, err)
	require.Nil(t, snapshot.ChangePercent)
}

func TestYahooFetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not found", http.StatusNotFound, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`},
		{"server error", http.StatusInternalServerError, `oops`},
		{"malformed", http.StatusOK, `{"chart":`},
		{"empty result", http.StatusOK, `{"chart":{"result":[],"error":null}}`},
		{"no price", http.StatusOK, `{"chart":{"result":[{"meta":{"previousClose":1}}],"error":null}}`},
		{"no previous close", http.StatusOK, `{"chart":{"result":[{"meta":{"regularMarketPrice":1}}],"error":null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source, _ := newYahooServer(t, tt.status, tt.body)

			_, err := source.Fetch(context.Background(), "ABC")
			require.Error(t, err)

			var fetchErr *types.FetchError
			require.True(t, errors.As(err, &fetchErr))
			require.Equal(t, "ABC", fetchErr.Ticker)
		})
	}
}

func TestYahooFetchChartPreviousCloseFallback(t *testing.T) {
	source, _ := newYahooServer(t, http.StatusOK,
		`{"chart":{"result":[{"meta":{"regularMarketPrice":110,"chartPreviousClose":100}}],"error":null}}`)

	snapshot, err := source.Fetch(context.Background(), "ABC")
	require.NoError(t, err)
	require.InDelta(t, 10, *snapshot.ChangePercent, 1e-9)
}

func TestSnapshotFromQuote(t *testing.T) {
	price := 110.0
	pct := 10.0
	now := time.Now()

	snapshot, err := snapshotFromQuote("BTC", "Bitcoin", &price, &pct, now)
	require.NoError(t, err)
	require.Equal(t, "Bitcoin", snapshot.Name)
	require.InDelta(t, 100, snapshot.PreviousClose, 1e-9)
	require.InDelta(t, 10, *snapshot.ChangePercent, 1e-9)

	wipedOut := -100.0
	snapshot, err = snapshotFromQuote("BTC", "Bitcoin", &price, &wipedOut, now)
	require.NoError(t, err)
	require.Nil(t, snapshot.ChangePercent)

	snapshot, err = snapshotFromQuote("BTC", "Bitcoin", &price, nil, now)
	require.NoError(t, err)
	require.Nil(t, snapshot.ChangePercent)

	_, err = snapshotFromQuote("BTC", "Bitcoin", nil, &pct, now)
	var fetchErr *types.FetchError
	require.True(t, errors.As(err, &fetchErr))
}

type countingSource struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
	delay time.Duration
}

func (c *countingSource) Fetch(ctx context.Context, ticker string) (types.PriceSnapshot, error) {
	c.mu.Lock()
	c.calls[ticker]++
	c.mu.Unlock()
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, c.err)
	}
	return types.NewPriceSnapshot(ticker, 10, 8, time.Now()), nil
}

func (c *countingSource) count(ticker string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[ticker]
}

func TestCacheServesFromLRU(t *testing.T) {
	source := &countingSource{calls: map[string]int{}}
	cache := NewCache(source, 10, time.Minute)

	for i := 0; i < 3; i++ {
		snapshot, err := cache.Fetch(context.Background(), "ABC")
		require.NoError(t, err)
		require.InDelta(t, 10, snapshot.Price, 1e-9)
	}
	require.Equal(t, 1, source.count("ABC"))
}

func TestCacheExpires(t *testing.T) {
	source := &countingSource{calls: map[string]int{}}
	cache := NewCache(source, 10, 20*time.Millisecond)

	_, err := cache.Fetch(context.Background(), "ABC")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := cache.Fetch(context.Background(), "ABC")
		return err == nil && source.count("ABC") == 2
	}, time.Second, 10*time.Millisecond)
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	source := &countingSource{calls: map[string]int{}, err: errors.New("down")}
	cache := NewCache(source, 10, time.Minute)

	_, err := cache.Fetch(context.Background(), "ABC")
	require.Error(t, err)
	_, err = cache.Fetch(context.Background(), "ABC")
	require.Error(t, err)
	require.Equal(t, 2, source.count("ABC"))
}

func TestCacheCollapsesConcurrentLookups(t *testing.T) {
	source := &countingSource{calls: map[string]int{}, delay: 50 * time.Millisecond}
	cache := NewCache(source, 10, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Fetch(context.Background(), "ABC")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, source.count("ABC"))
}

// gatedSource blocks every lookup until release is closed, failing early only
// if its own context ends first.
type gatedSource struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *gatedSource) Fetch(ctx context.Context, ticker string) (types.PriceSnapshot, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-ctx.Done():
		return types.PriceSnapshot{}, types.NewFetchError(ticker, ctx.Err())
	case <-g.release:
		return types.NewPriceSnapshot(ticker, 10, 8, time.Now()), nil
	}
}

func TestCacheCancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	source := &gatedSource{started: make(chan struct{}), release: make(chan struct{})}
	cache := NewCache(source, 10, time.Minute)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Fetch(firstCtx, "ABC")
		firstErr <- err
	}()
	<-source.started

	type result struct {
		snapshot types.PriceSnapshot
		err      error
	}
	second := make(chan result, 1)
	go func() {
		snapshot, err := cache.Fetch(context.Background(), "ABC")
		second <- result{snapshot, err}
	}()
	// let the second caller join the in-flight lookup
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller still waiting")
	}

	close(source.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		require.InDelta(t, 10, res.snapshot.Price, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("second caller never got the shared result")
	}
	require.Equal(t, int32(1), source.calls.Load())
}

func TestNew(t *testing.T) {
	source, err := New(Config{Name: "yahoo", Timeout: time.Second})
	require.NoError(t, err)
	require.IsType(t, &YahooSource{}, source)

	source, err = New(Config{Name: "Coinpaprika", Timeout: time.Second, CacheTTL: time.Second})
	require.NoError(t, err)
	require.IsType(t, &Cache{}, source)

	_, err = New(Config{Name: "bloomberg"})
	require.Error(t, err)
}
