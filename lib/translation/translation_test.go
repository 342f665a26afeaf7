package translation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureReportsActiveLanguage(t *testing.T) {
	dir := t.TempDir()

	require.Equal(t, "en", Configure(dir, ""))
	require.Equal(t, "de", Configure(dir, "DE"))
	require.Equal(t, "pt_br", Configure(dir, "pt_BR.UTF-8"))
}

func TestTranslateFallsBackToMessageID(t *testing.T) {
	Configure(t.TempDir(), "de")

	require.Equal(t, "Alarm 42-7 unset", Translate("Alarm %s unset", "42-7"))
}
