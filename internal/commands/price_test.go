package commands

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"ticker-alarm-bot/internal/types"
)

type stubSource struct {
	prices   map[string]float64
	previous map[string]float64
	delay    time.Duration

	inflight atomic.Int32
	peak     atomic.Int32
}

func (s *stubSource) Fetch(_ context.Context, ticker string) (types.PriceSnapshot, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		seen := s.peak.Load()
		if n <= seen || s.peak.CompareAndSwap(seen, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	price, ok := s.prices[ticker]
	if !ok {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, errors.New("no data"))
	}
	snapshot := types.NewPriceSnapshot(ticker, price, s.previous[ticker], time.Now())
	if ticker == "ABC" {
		snapshot.Name = "ABC Corp."
	}
	return snapshot, nil
}

type recordedQuery struct {
	ownerID int64
	ticker  string
	found   bool
}

type memoryQueryLog struct {
	mu      sync.Mutex
	queries []recordedQuery
}

func (l *memoryQueryLog) InsertTickerQuery(_ context.Context, ownerID int64, ticker string, found bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, recordedQuery{ownerID, ticker, found})
	return nil
}

func newStubSource() *stubSource {
	return &stubSource{
		prices:   map[string]float64{"ABC": 101.5, "XYZ": 2000, "ZERO": 5},
		previous: map[string]float64{"ABC": 100, "XYZ": 2100, "ZERO": 0},
	}
}

func TestCommandPrice(t *testing.T) {
	t.Parallel()
	queries := &memoryQueryLog{}
	c := NewPriceCommands(newStubSource(), queries, 2, time.Second)

	text, err := c.CommandPrice(context.Background(), 42, "abc")
	require.NoError(t, err)
	require.Equal(t, "*ABC Corp\\.*\nabc 101\\.50 \\(\\+1\\.500 \\+1\\.50%\\)", text)

	text, err = c.CommandPrice(context.Background(), 42, "zero")
	require.NoError(t, err)
	require.Equal(t, "zero 5\\.00 \\(\\+5\\.000 n/a\\)", text)

	_, err = c.CommandPrice(context.Background(), 42, "nope")
	require.Error(t, err)

	require.Equal(t, []recordedQuery{
		{42, "ABC", true},
		{42, "ZERO", true},
		{42, "NOPE", false},
	}, queries.queries)
}

func TestCommandPricesTable(t *testing.T) {
	t.Parallel()
	c := NewPriceCommands(newStubSource(), nil, 2, time.Second)

	text, err := c.CommandPrices(context.Background(), 1, []string{"abc", "nope,xyz", "ABC"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(text, "```\n"))
	require.True(t, strings.HasSuffix(text, "```"))

	lines := strings.Split(strings.TrimSuffix(strings.TrimPrefix(text, "```\n"), "\n```"), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, []string{"Ticker", "Price", "Change", "%", "Change"}, strings.Fields(lines[0]))
	require.Equal(t, []string{"ABC", "101.50", "+1.500", "+1.50%"}, strings.Fields(lines[1]))
	require.Equal(t, []string{"NOPE", "-", "-", "-"}, strings.Fields(lines[2]))
	require.Equal(t, []string{"XYZ", "2,000", "-100.000", "-4.76%"}, strings.Fields(lines[3]))

	// right aligned columns end at the same offset
	require.Equal(t, len(lines[0]), len(lines[1]))
	require.Equal(t, len(lines[1]), len(lines[3]))
}

func TestCommandPricesLimits(t *testing.T) {
	t.Parallel()
	c := NewPriceCommands(newStubSource(), nil, 2, time.Second)

	_, err := c.CommandPrices(context.Background(), 1, nil)
	require.Error(t, err)

	tooMany := make([]string, MaxTickers+1)
	for i := range tooMany {
		tooMany[i] = strings.Repeat("A", i+1)
	}
	_, err = c.CommandPrices(context.Background(), 1, tooMany)
	require.Error(t, err)
}

func TestCommandPricesBoundsConcurrency(t *testing.T) {
	t.Parallel()
	source := newStubSource()
	source.delay = 20 * time.Millisecond
	c := NewPriceCommands(source, nil, 2, time.Second)

	_, err := c.CommandPrices(context.Background(), 1, []string{"A", "B", "C", "D", "E", "F"})
	require.NoError(t, err)
	require.LessOrEqual(t, source.peak.Load(), int32(2))
}
