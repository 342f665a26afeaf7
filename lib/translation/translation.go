package translation

import (
	"strings"

	"github.com/leonelquinteros/gotext"
)

// Configure loads the locale catalogue for lang from dir and returns the
// language now in use. Message ids are English text, so a missing catalogue
// falls back to English.
func Configure(dir, lang string) string {
	gotext.Configure(dir, strings.ToLower(lang), "default")

	active := gotext.GetLanguage()
	if active == "" || active == "und" {
		return "en"
	}
	return active
}

func Translate(msgID string, vars ...interface{}) string {
	return gotext.Get(msgID, vars...)
}
