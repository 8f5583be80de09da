package markov

import (
	"fmt"
	"unicode/utf8"
)

// Limits bounds constrained generation. A rendered sentence is accepted when
// its length in runes lies within [MinLength, MaxLength]. MaxAttempts is the
// number of walks tried before giving up with ErrUnsatisfiable.
type Limits struct {
	MinLength   int `json:"min_length" yaml:"min_length"`
	MaxLength   int `json:"max_length" yaml:"max_length"`
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// DefaultLimits returns the limits of a chat bot reply: sentences of
// 1 to 140 characters, 10 attempts.
func DefaultLimits() Limits {
	return Limits{MinLength: 1, MaxLength: 140, MaxAttempts: 10}
}

// Validate returns ErrInvalidRange for negative bounds, MinLength > MaxLength,
// or MaxAttempts < 1. MaxLength 0 is legal: only an empty sentence fits.
func (l Limits) Validate() error {
	switch {
	case l.MinLength < 0 || l.MaxLength < 0:
		return fmt.Errorf("%w: negative bound (min %d, max %d)", ErrInvalidRange, l.MinLength, l.MaxLength)
	case l.MinLength > l.MaxLength:
		return fmt.Errorf("%w: min %d > max %d", ErrInvalidRange, l.MinLength, l.MaxLength)
	case l.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts %d", ErrInvalidRange, l.MaxAttempts)
	}
	return nil
}

// Accepts reports whether text fits in the length window.
func (l Limits) Accepts(text string) bool {
	n := utf8.RuneCountInString(text)
	return n >= l.MinLength && n <= l.MaxLength
}

// Generate samples c until a rendered sentence fits in limits, trying at most
// limits.MaxAttempts walks. A walk that fails (for example with ErrNoPath)
// counts as a missed attempt. When every attempt misses, it returns
// ErrUnsatisfiable, which callers should treat as "no output this round".
// Invalid limits fail with ErrInvalidRange before any walk.
func Generate(c *Chain, r Renderer, rng Rand, limits Limits, opts ...SampleOption) (string, error) {
	options := newSampleOptions(opts)
	text, _, err := generate(limits, func() (string, error) {
		tokens, err := sample(c, rng, options)
		if err != nil {
			return "", err
		}
		return r.Render(tokens), nil
	})
	return text, err
}

// generate runs the bounded retry loop over attempt and returns the accepted
// text along with the number of attempts made.
func generate(limits Limits, attempt func() (string, error)) (string, int, error) {
	if err := limits.Validate(); err != nil {
		return "", 0, err
	}
	var lastErr error
	for i := 1; i <= limits.MaxAttempts; i++ {
		text, err := attempt()
		if err != nil {
			lastErr = err
			continue
		}
		if limits.Accepts(text) {
			return text, i, nil
		}
	}
	if lastErr != nil {
		return "", limits.MaxAttempts, fmt.Errorf("%w after %d attempts (last error: %v)", ErrUnsatisfiable, limits.MaxAttempts, lastErr)
	}
	return "", limits.MaxAttempts, fmt.Errorf("%w after %d attempts", ErrUnsatisfiable, limits.MaxAttempts)
}
