package helpers

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// NotAvailable is printed in place of values that cannot be computed.
const NotAvailable = "n/a"

var markdownV2Replacer = func() *strings.Replacer {
	charactersToEscape := []string{"\\", ".", "-", "_", "*", "[", "]", "(", ")", "~", "`", ">", "<", "#", "+", "=", "|", "{", "}", "!"}

	pairs := make([]string, 0, len(charactersToEscape)*2)
	for _, char := range charactersToEscape {
		pairs = append(pairs, char, "\\"+char)
	}
	return strings.NewReplacer(pairs...)
}()

func EscapeMarkdownV2(text string) string {
	return markdownV2Replacer.Replace(text)
}

// EscapeMarkdownV2Code escapes text placed inside a ``` block.
func EscapeMarkdownV2Code(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}

func FormatPriceUS(price float64, escapeMarkdown bool) string {
	decimals := 6

	if math.Abs(price) >= 1000 {
		decimals = 0
	} else if math.Abs(price) > 1.2 {
		decimals = 2
	} else if price != 0 && math.Abs(price) < 0.00001 {
		decimals = 8
	}

	p := message.NewPrinter(language.English)
	formatted := p.Sprintf("%.*f", decimals, price)

	if escapeMarkdown {
		return EscapeMarkdownV2(formatted)
	}
	return formatted
}

// FormatChange renders a signed absolute change with three decimals.
func FormatChange(change float64) string {
	return fmt.Sprintf("%+.3f", change)
}

// FormatPercentage renders a signed percentage, or NotAvailable for nil.
func FormatPercentage(percent *float64) string {
	if percent == nil || math.IsNaN(*percent) || math.IsInf(*percent, 0) {
		return NotAvailable
	}
	return fmt.Sprintf("%+.2f%%", *percent)
}

// FormatDate renders t relative to now, e.g. "3 minutes ago".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return NotAvailable
	}
	return humanize.Time(t)
}
