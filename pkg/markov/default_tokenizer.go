package markov

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultTokenizer is the default implementation of the Tokenizer interface.
// Words are maximal runs of characters that are neither whitespace nor
// control characters, so punctuation stays attached to the word it follows
// ("Hello," and "bot." are single tokens). A word matching the sentence end
// regex closes the current sentence. Reserved marker literals found in the
// input are dropped.
//
// Render joins words with the separator, so for text made of words separated
// by single spaces, Render(Tokenize(text)) == text.
type DefaultTokenizer struct {
	separator string
	eosRegex  *regexp.Regexp
}

// Option Is a function that configures a DefaultTokenizer.
type Option func(*DefaultTokenizer)

// WithSeparator Sets the string used for joining tokens when rendering.
// Default: " "
func WithSeparator(sep string) Option {
	return func(t *DefaultTokenizer) {
		t.separator = sep
	}
}

// WithSentenceEndRegex sets the regex deciding whether a word ends a sentence.
// Default: `[.!?]["')\]]*$`
func WithSentenceEndRegex(expr string) Option {
	return func(t *DefaultTokenizer) {
		t.eosRegex = regexp.MustCompile(expr)
	}
}

// NewDefaultTokenizer creates a new tokenizer with default settings, which can be
// overridden by providing one or more Option functions.
func NewDefaultTokenizer(opts ...Option) *DefaultTokenizer {
	t := &DefaultTokenizer{
		separator: " ",
		// Terminal punctuation, optionally followed by closing quotes or brackets.
		eosRegex: regexp.MustCompile(`[.!?]["')\]]*$`),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Tokenize splits text into sentences of words, each bounded by SOCToken and
// EOCToken. Empty input yields no tokens.
func (t *DefaultTokenizer) Tokenize(text string) []string {
	words := strings.FieldsFunc(text, isWordBreak)
	if len(words) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(words)+2)
	open := false
	for _, word := range words {
		if IsReserved(word) {
			continue
		}
		if !open {
			tokens = append(tokens, SOCToken)
			open = true
		}
		tokens = append(tokens, word)
		if t.eosRegex.MatchString(word) {
			tokens = append(tokens, EOCToken)
			open = false
		}
	}
	if open {
		tokens = append(tokens, EOCToken)
	}
	return tokens
}

// Render joins the non-reserved tokens with the configured separator.
func (t *DefaultTokenizer) Render(tokens []string) string {
	var builder strings.Builder
	first := true
	for _, tok := range tokens {
		if IsReserved(tok) {
			continue
		}
		if !first {
			builder.WriteString(t.separator)
		}
		builder.WriteString(tok)
		first = false
	}
	return builder.String()
}

func isWordBreak(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r)
}
