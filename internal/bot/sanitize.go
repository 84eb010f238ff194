package bot

import (
	"regexp"
	"strings"

	"github.com/vkarpenko/salesbot/pkg/models"
)

const assistantMarker = "<|im_start|>assistant"

var (
	roleTagRe    = regexp.MustCompile(`<\|im_start\|>\s*(?:system|user|assistant)?|<\|im_end\|>`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)
)

// sanitize turns raw model output into a user-deliverable answer:
// everything up to the last assistant marker is dropped (models running
// with full-text echo return the whole prompt), remaining role tags and
// any echoed persona text are stripped, whitespace runs are collapsed,
// and the result is capped at maxRunes.
func sanitize(raw, persona string, maxRunes int) models.Answer {
	text := raw
	if i := strings.LastIndex(text, assistantMarker); i >= 0 {
		text = text[i+len(assistantMarker):]
	}
	text = roleTagRe.ReplaceAllString(text, "")
	if persona != "" {
		text = strings.ReplaceAll(text, persona, "")
	}
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = newlineRunRe.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	runes := []rune(text)
	if maxRunes > 0 && len(runes) > maxRunes {
		return models.Answer{Text: strings.TrimSpace(string(runes[:maxRunes])), Truncated: true}
	}
	return models.Answer{Text: text}
}
