package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ticker-alarm-bot/internal/types"
	"ticker-alarm-bot/lib/helpers"
)

// MaxTickers caps how many tickers one /prices command may ask for.
const MaxTickers = 20

// PriceSource looks up the latest price of a ticker.
type PriceSource interface {
	Fetch(ctx context.Context, ticker string) (types.PriceSnapshot, error)
}

// QueryLog records ticker lookups.
type QueryLog interface {
	InsertTickerQuery(ctx context.Context, ownerID int64, ticker string, found bool) error
}

// PriceCommands answers /price and /prices. Replies are MarkdownV2.
type PriceCommands struct {
	source  PriceSource
	queries QueryLog
	workers int
	timeout time.Duration
}

func NewPriceCommands(source PriceSource, queries QueryLog, workers int, timeout time.Duration) *PriceCommands {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PriceCommands{source: source, queries: queries, workers: workers, timeout: timeout}
}

// CommandPrice renders "ticker price (change percent)" for one ticker.
func (c *PriceCommands) CommandPrice(ctx context.Context, ownerID int64, argument string) (string, error) {
	log.Debugf("processing command /price with argument :%s", argument)

	ticker := strings.ToUpper(strings.TrimSpace(argument))
	if ticker == "" {
		return "", errors.New("command /price: missing ticker")
	}

	results := c.fetchAll(ctx, ownerID, []string{ticker})
	if results[0].err != nil {
		return "", errors.Wrap(results[0].err, "command /price")
	}

	snapshot := results[0].snapshot
	text := fmt.Sprintf("%s %s (%s %s)",
		strings.ToLower(snapshot.Ticker),
		helpers.FormatPriceUS(snapshot.Price, false),
		helpers.FormatChange(snapshot.Change),
		helpers.FormatPercentage(snapshot.ChangePercent))
	if snapshot.Name != "" {
		text = fmt.Sprintf("*%s*\n%s", helpers.EscapeMarkdownV2(snapshot.Name), helpers.EscapeMarkdownV2(text))
	} else {
		text = helpers.EscapeMarkdownV2(text)
	}
	return text, nil
}

// CommandPrices renders a table of all requested tickers. Failed lookups show "-".
func (c *PriceCommands) CommandPrices(ctx context.Context, ownerID int64, arguments []string) (string, error) {
	log.Debugf("processing command /prices with arguments :%v", arguments)

	tickers := uniqueTickers(arguments)
	if len(tickers) == 0 {
		return "", errors.New("command /prices: missing tickers")
	}
	if len(tickers) > MaxTickers {
		return "", errors.Errorf("command /prices: at most %d tickers per request", MaxTickers)
	}

	rows := c.fetchAll(ctx, ownerID, tickers)
	return "```\n" + helpers.EscapeMarkdownV2Code(renderTable(rows)) + "```", nil
}

type priceRow struct {
	ticker   string
	snapshot types.PriceSnapshot
	err      error
}

// fetchAll looks tickers up with at most c.workers in flight and keeps argument order.
func (c *PriceCommands) fetchAll(ctx context.Context, ownerID int64, tickers []string) []priceRow {
	rows := make([]priceRow, len(tickers))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, ticker := range tickers {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			snapshot, err := c.source.Fetch(fetchCtx, ticker)
			rows[i] = priceRow{ticker: ticker, snapshot: snapshot, err: err}
			if err != nil {
				log.Warnf("price lookup for %s failed: %v", ticker, err)
			}

			if c.queries != nil {
				if err := c.queries.InsertTickerQuery(ctx, ownerID, ticker, err == nil); err != nil {
					log.Errorf("Failed to log ticker query: %v", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return rows
}

func uniqueTickers(arguments []string) []string {
	seen := make(map[string]bool, len(arguments))
	var tickers []string
	for _, arg := range arguments {
		for _, t := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			t = strings.ToUpper(t)
			if !seen[t] {
				seen[t] = true
				tickers = append(tickers, t)
			}
		}
	}
	return tickers
}
