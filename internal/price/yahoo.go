package price

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ticker-alarm-bot/internal/types"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooSource reads the regular market price from the Yahoo Finance chart API.
type YahooSource struct {
	client  *http.Client
	baseURL string
}

func NewYahooSource(client *http.Client, baseURL string) *YahooSource {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = yahooBaseURL
	}
	return &YahooSource{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta yahooMeta `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type yahooMeta struct {
	Symbol               string   `json:"symbol"`
	LongName             string   `json:"longName"`
	ExchangeTimezoneName string   `json:"exchangeTimezoneName"`
	RegularMarketPrice   *float64 `json:"regularMarketPrice"`
	RegularMarketTime    *int64   `json:"regularMarketTime"`
	PreviousClose        *float64 `json:"previousClose"`
	ChartPreviousClose   *float64 `json:"chartPreviousClose"`
}

func (y *YahooSource) Fetch(ctx context.Context, ticker string) (types.PriceSnapshot, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?region=US&lang=en-US&includePrePost=false&interval=2m&useYfid=true&range=1d",
		y.baseURL, url.PathEscape(ticker))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ticker-alarm-bot)")

	resp, err := y.client.Do(req)
	if err != nil {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, errors.Wrap(err, "request failed"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, errors.Wrap(err, "could not read response"))
	}

	var chart yahooChartResponse
	if err := sonic.Unmarshal(body, &chart); err != nil {
		if resp.StatusCode != http.StatusOK {
			return types.PriceSnapshot{}, types.NewFetchError(ticker, errors.Errorf("unexpected status %d", resp.StatusCode))
		}
		return types.PriceSnapshot{}, types.NewFetchError(ticker, errors.Wrap(err, "could not parse response"))
	}

	if chart.Chart.Error != nil {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, errors.Errorf("%s: %s", chart.Chart.Error.Code, chart.Chart.Error.Description))
	}
	if resp.StatusCode != http.StatusOK {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, errors.Errorf("unexpected status %d", resp.StatusCode))
	}
	if len(chart.Chart.Result) == 0 {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, errors.New("empty chart result"))
	}

	return snapshotFromYahooMeta(ticker, chart.Chart.Result[0].Meta)
}

func snapshotFromYahooMeta(ticker string, meta yahooMeta) (types.PriceSnapshot, error) {
	if meta.RegularMarketPrice == nil {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, errors.New("incomplete data: no market price"))
	}

	previousClose := meta.PreviousClose
	if previousClose == nil {
		previousClose = meta.ChartPreviousClose
	}
	if previousClose == nil {
		return types.PriceSnapshot{}, types.NewFetchError(ticker, errors.New("incomplete data: no previous close"))
	}

	asOf := time.Now()
	if meta.RegularMarketTime != nil {
		asOf = time.Unix(*meta.RegularMarketTime, 0)
	}
	if meta.ExchangeTimezoneName != "" {
		if loc, err := time.LoadLocation(meta.ExchangeTimezoneName); err == nil {
			asOf = asOf.In(loc)
		} else {
			log.Debugf("unknown exchange timezone %s: %v", meta.ExchangeTimezoneName, err)
		}
	}

	snapshot := types.NewPriceSnapshot(ticker, *meta.RegularMarketPrice, *previousClose, asOf)
	snapshot.Name = meta.LongName
	return snapshot, nil
}
