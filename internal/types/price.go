package types

import "time"

// PriceSnapshot is the latest known price of a ticker.
type PriceSnapshot struct {
	Ticker        string
	Name          string
	Price         float64
	PreviousClose float64
	Change        float64
	// ChangePercent is nil when the previous close is zero.
	ChangePercent *float64
	AsOf          time.Time
}

// NewPriceSnapshot fills the change fields from price and previousClose.
func NewPriceSnapshot(ticker string, price, previousClose float64, asOf time.Time) PriceSnapshot {
	snapshot := PriceSnapshot{
		Ticker:        ticker,
		Price:         price,
		PreviousClose: previousClose,
		Change:        price - previousClose,
		AsOf:          asOf,
	}

	if previousClose != 0 {
		pct := 100 * snapshot.Change / previousClose
		snapshot.ChangePercent = &pct
	}

	return snapshot
}
