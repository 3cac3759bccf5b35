package gateway

import (
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/field-capture/internal/core/domain"
)

const maxLabelRunes = 80

func buildLabelContext(req domain.LabelRequest) string {
	var b strings.Builder
	switch req.Kind {
	case domain.KindVideo:
		b.WriteString("Short caption for a field video clip.")
	default:
		b.WriteString("Short caption for a field photo.")
	}
	b.WriteString(" One line, no trailing punctuation, at most 8 words.")
	if note := strings.TrimSpace(req.VoiceNote); note != "" {
		b.WriteString("\nThe technician said: ")
		b.WriteString(note)
	}
	return b.String()
}

// normalizeLabel keeps the first line of a model answer and trims quotes.
func normalizeLabel(raw string) string {
	label := strings.TrimSpace(raw)
	if idx := strings.IndexByte(label, '\n'); idx >= 0 {
		label = label[:idx]
	}
	label = strings.Trim(label, "\"'` ")
	label = strings.TrimRight(label, ".")
	if utf8.RuneCountInString(label) > maxLabelRunes {
		label = string([]rune(label)[:maxLabelRunes])
	}
	return strings.TrimSpace(label)
}
