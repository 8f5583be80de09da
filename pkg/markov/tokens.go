package markov

import (
	"strings"
)

const (
	// SOCToken is the reserved Start-Of-Chain marker. A state made only of
	// SOC markers is where every walk begins.
	SOCToken = "<SOC>"
	// EOCToken is the reserved End-Of-Chain marker. Choosing it ends a walk.
	EOCToken = "<EOC>"

	// stateSeparator joins the tokens of a State. Tokenizers must never
	// produce tokens containing it.
	stateSeparator = "\x1f"
)

// IsReserved reports whether tok is one of the SOC/EOC markers.
func IsReserved(tok string) bool {
	return tok == SOCToken || tok == EOCToken
}

// Tokenizer splits raw text into tokens and renders token sequences back into
// text. Tokenize must bound every sentence with SOCToken and EOCToken, and
// Render must be the inverse of its spacing rules.
type Tokenizer interface {
	Tokenize(text string) []string
	Renderer
}

// Renderer turns a token sequence back into text. Reserved markers are dropped.
type Renderer interface {
	Render(tokens []string) string
}

// State is the window of the last k tokens that a chain uses as its memory.
// States are comparable and can be used as map keys. The zero State has no
// tokens.
type State struct {
	key string
	n   int
}

// NewState builds a State from the given tokens, oldest first.
func NewState(tokens ...string) State {
	return State{key: strings.Join(tokens, stateSeparator), n: len(tokens)}
}

// BeginState returns the state made of order SOC markers.
func BeginState(order int) State {
	if order < 1 {
		return State{}
	}
	tokens := make([]string, order)
	for i := range tokens {
		tokens[i] = SOCToken
	}
	return NewState(tokens...)
}

// Tokens returns a copy of the tokens in the state, oldest first.
func (s State) Tokens() []string {
	if s.n == 0 {
		return nil
	}
	return strings.Split(s.key, stateSeparator)
}

// Len returns the number of tokens in the state.
func (s State) Len() int {
	return s.n
}

// Next returns the state reached by appending tok and dropping the oldest token.
func (s State) Next(tok string) State {
	tokens := s.Tokens()
	if len(tokens) == 0 {
		return NewState(tok)
	}
	return NewState(append(tokens[1:], tok)...)
}

// String renders the state for logs and error messages.
func (s State) String() string {
	return "[" + strings.ReplaceAll(s.key, stateSeparator, " ") + "]"
}

// validToken reports whether tok can be stored in a chain.
func validToken(tok string) bool {
	return tok != "" && !strings.Contains(tok, stateSeparator)
}
