package alarm

import (
	"strings"

	"ticker-alarm-bot/internal/types"
	"ticker-alarm-bot/lib/helpers"
	"ticker-alarm-bot/lib/translation"
)

// Messages are plain text; the transport decides how to format them.

func SetText(a types.Alarm) string {
	return translation.Translate("alarm set") + "\n" + a.String()
}

func UnsetText(a types.Alarm) string {
	return translation.Translate("alarm unset") + "\n" + a.String()
}

func TriggeredText(a types.Alarm, snapshot types.PriceSnapshot) string {
	return translation.Translate("alarm triggered") + "\n" + a.String() + "\n" +
		translation.Translate("current price = %s (%s, %s)",
			helpers.FormatPriceUS(snapshot.Price, false),
			helpers.FormatChange(snapshot.Change),
			helpers.FormatPercentage(snapshot.ChangePercent),
		)
}

func PriceErrorText(a types.Alarm) string {
	return translation.Translate("price cannot be retrieved for ticker %s, unsetting alarm", a.Ticker)
}

func UnsetAllText(n int) string {
	return translation.Translate("all alarms unset (%d)", n)
}

func NotFoundText(id string) string {
	return translation.Translate("no alarm with alarm_id %s", id)
}

func NothingToUnsetText() string {
	return translation.Translate("no alarm to unset")
}

// ListText renders alarms for /list, or "no alarm" when there are none.
func ListText(alarms []types.Alarm) string {
	if len(alarms) == 0 {
		return translation.Translate("no alarm")
	}

	texts := make([]string, 0, len(alarms))
	for _, a := range alarms {
		texts = append(texts, a.String()+"\n"+translation.Translate("set %s", helpers.FormatDate(a.CreatedAt)))
	}
	return strings.Join(texts, "\n\n")
}
