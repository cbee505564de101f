package telegram

import (
	"strings"

	"mangadex-notifier/pkg/tracker"
)

// renderRelease formats one chapter announcement. The alert tag, when
// configured, leads the message so interested members get mentioned.
func renderRelease(series tracker.Series, ch tracker.Chapter) string {
	var b strings.Builder
	if series.AlertTag != "" {
		b.WriteString(series.AlertTag)
		b.WriteString(" ")
	}
	b.WriteString("New chapter released!\n")
	b.WriteString(series.Name)
	b.WriteString(" - Chapter ")
	b.WriteString(ch.Number)
	b.WriteString("\nLink: ")
	b.WriteString(ch.URL)
	return b.String()
}
