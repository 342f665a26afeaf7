package price

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ticker-alarm-bot/internal/types"
)

// CoinpaprikaSource resolves tickers such as "BTC" or "btc-bitcoin" to
// coinpaprika coins and reads their USD quote.
type CoinpaprikaSource struct {
	client *coinpaprika.Client

	idMutex   sync.RWMutex
	idMapping map[string]string
}

func NewCoinpaprikaSource(httpClient *http.Client, apiProKey string) *CoinpaprikaSource {
	var client *coinpaprika.Client
	if apiProKey != "" {
		client = coinpaprika.NewClient(httpClient, coinpaprika.WithAPIKey(apiProKey))
	} else {
		client = coinpaprika.NewClient(httpClient)
	}

	return &CoinpaprikaSource{
		client:    client,
		idMapping: make(map[string]string),
	}
}

type fetchResult struct {
	snapshot types.PriceSnapshot
	err      error
}

// Fetch runs the blocking API calls in a goroutine so ctx bounds the wait.
func (c *CoinpaprikaSource) Fetch(ctx context.Context, ticker string) (types.PriceSnapshot, error) {
	done := make(chan fetchResult, 1)
	go func() {
		snapshot, err := c.fetch(ticker)
		done <- fetchResult{snapshot: snapshot, err: err}
	}()

	select {
	case <-ctx.Done():
		return types.PriceSnapshot{}, types.NewFetchError(ticker, ctx.Err())
	case res := <-done:
		return res.snapshot, res.err
	}
}

func (c *CoinpaprikaSource) fetch(ticker string) (types.PriceSnapshot, error) {
	id, err := c.resolveID(ticker)
	if err != nil {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, err)
	}

	details, err := c.client.Tickers.GetByID(id, &coinpaprika.TickersOptions{Quotes: "USD"})
	if err != nil {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, errors.Wrapf(err, "could not get ticker %s", id))
	}

	usdQuote, ok := details.Quotes["USD"]
	if !ok {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, errors.New("incomplete data: no USD quote"))
	}

	var name string
	if details.Name != nil {
		name = *details.Name
	}
	return snapshotFromQuote(ticker, name, usdQuote.Price, usdQuote.PercentChange24h, time.Now())
}

// resolveID maps a symbol to a coinpaprika id via symbol search; ids pass through.
func (c *CoinpaprikaSource) resolveID(ticker string) (string, error) {
	query := strings.ToLower(strings.TrimSpace(ticker))
	if strings.Contains(query, "-") {
		return query, nil
	}

	c.idMutex.RLock()
	id, exists := c.idMapping[query]
	c.idMutex.RUnlock()
	if exists {
		return id, nil
	}

	result, err := c.client.Search.Search(&coinpaprika.SearchOptions{
		Query:      query,
		Categories: "currencies",
		Modifier:   "symbol_search",
	})
	if err != nil || len(result.Currencies) == 0 {
		log.Debugf("No results for symbol search, trying name search for '%s'", query)
		result, err = c.client.Search.Search(&coinpaprika.SearchOptions{Query: query, Categories: "currencies"})
		if err != nil {
			return "", errors.Wrapf(err, "could not search coin %s", query)
		}
	}
	if len(result.Currencies) == 0 || result.Currencies[0].ID == nil {
		return "", errors.Errorf("invalid coin name, ticker, or symbol: %s", ticker)
	}

	id = *result.Currencies[0].ID
	log.Debugf("Best match for query '%s' is: %s", query, id)

	c.idMutex.Lock()
	c.idMapping[query] = id
	c.idMutex.Unlock()

	return id, nil
}

// snapshotFromQuote derives the previous close from the 24h percent change.
// A change of -100% leaves no previous close, so the percentage stays undefined.
func snapshotFromQuote(ticker, name string, price, percentChange24h *float64, asOf time.Time) (types.PriceSnapshot, error) {
	if price == nil {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, errors.New("incomplete data: no price"))
	}

	var previousClose float64
	if percentChange24h != nil && *percentChange24h != -100 {
		previousClose = *price / (1 + *percentChange24h/100)
	}

	snapshot := types.NewPriceSnapshot(ticker, *price, previousClose, asOf)
	snapshot.Name = name
	if percentChange24h == nil || previousClose == 0 {
		snapshot.Change = 0
		snapshot.ChangePercent = nil
	}
	return snapshot, nil
}
