package commands

import (
	"strings"
	"text/tabwriter"

	"ticker-alarm-bot/lib/helpers"
)

const noValue = "-"

func renderTable(rows []priceRow) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 1, ' ', tabwriter.AlignRight)

	w.Write([]byte("Ticker\tPrice\tChange\t% Change\t\n"))
	for _, row := range rows {
		if row.err != nil {
			w.Write([]byte(row.ticker + "\t" + noValue + "\t" + noValue + "\t" + noValue + "\t\n"))
			continue
		}
		w.Write([]byte(strings.Join([]string{
			row.ticker,
			helpers.FormatPriceUS(row.snapshot.Price, false),
			helpers.FormatChange(row.snapshot.Change),
			helpers.FormatPercentage(row.snapshot.ChangePercent),
		}, "\t") + "\t\n"))
	}
	w.Flush()

	return b.String()
}
