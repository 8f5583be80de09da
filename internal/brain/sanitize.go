package brain

import (
	"regexp"
	"strings"

	"github.com/CTAG07/nonsense/pkg/markov"
)

const zeroWidthSpace = "\u200b"

// mentionRegex matches user (<@123>, <@!123>) and role (<@&123>) mentions.
var mentionRegex = regexp.MustCompile(`<@([!&]?\d+)>`)

var specialMentions = []string{"@everyone", "@here", "@someone"}

// IsConversation reports whether a message should be learned. Empty messages
// and bot commands (starting with '/', '!' or '?') are skipped.
func IsConversation(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	switch trimmed[0] {
	case '/', '!', '?':
		return false
	}
	return true
}

// Sanitize defuses mentions in generated text so that posting it pings
// nobody. A zero-width space is inserted after the '@'.
func Sanitize(text string) string {
	text = mentionRegex.ReplaceAllString(text, "<@"+zeroWidthSpace+"$1>")
	for _, mention := range specialMentions {
		text = strings.ReplaceAll(text, mention, "@"+zeroWidthSpace+mention[1:])
	}
	return text
}

// SanitizingRenderer wraps r so that every rendered sentence goes through
// Sanitize. Length limits then apply to the defused text.
func SanitizingRenderer(r markov.Renderer) markov.Renderer {
	return sanitizingRenderer{r}
}

type sanitizingRenderer struct {
	markov.Renderer
}

func (r sanitizingRenderer) Render(tokens []string) string {
	return Sanitize(r.Renderer.Render(tokens))
}
