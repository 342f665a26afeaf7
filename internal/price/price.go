package price

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"ticker-alarm-bot/internal/types"
)

// Source looks up the latest price of a ticker.
type Source interface {
	Fetch(ctx context.Context, ticker string) (types.PriceSnapshot, error)
}

// Config selects and tunes a Source.
type Config struct {
	// Name is "yahoo" or "coinpaprika".
	Name      string
	APIKey    string
	Timeout   time.Duration
	CacheSize int
	// CacheTTL of zero disables caching.
	CacheTTL time.Duration
}

// New builds the configured Source, wrapped in a cache when CacheTTL > 0.
func New(c Config) (Source, error) {
	httpClient := &http.Client{Timeout: c.Timeout}

	var source Source
	switch strings.ToLower(c.Name) {
	case "", "yahoo":
		source = NewYahooSource(httpClient, "")
	case "coinpaprika":
		source = NewCoinpaprikaSource(httpClient, c.APIKey)
	default:
		return nil, errors.Errorf("unknown price source %q, expected 'yahoo' or 'coinpaprika'", c.Name)
	}

	if c.CacheTTL > 0 {
		return NewCache(source, c.CacheSize, c.CacheTTL), nil
	}
	return source, nil
}
