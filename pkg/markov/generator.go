package markov

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"
)

// Generator is the main entry point for learning and generating text with a
// fixed tokenizer and order. It holds no model itself: every method takes the
// chain to work on and returns a new one, so a Generator can be shared by any
// number of goroutines.
type Generator struct {
	tokenizer Tokenizer
	order     int
	logger    *slog.Logger
}

// NewGenerator creates and returns a new Generator for chains of the given
// order. A nil tokenizer selects NewDefaultTokenizer().
func NewGenerator(tokenizer Tokenizer, order int) (*Generator, error) {
	if order < 1 {
		return nil, ErrInvalidOrder
	}
	if tokenizer == nil {
		tokenizer = NewDefaultTokenizer()
	}
	return &Generator{
		tokenizer: tokenizer,
		order:     order,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// SetLogger sets the logger for the Generator. By default, all logs are discarded.
// Providing a `log/slog.Logger` will enable logging for training and generation.
func (g *Generator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// Order returns the order of the chains the Generator builds.
func (g *Generator) Order() int {
	return g.order
}

// Tokenizer returns the tokenizer used for training and rendering.
func (g *Generator) Tokenizer() Tokenizer {
	return g.tokenizer
}

// Train tokenizes one text sample and builds a chain from it. Training on a
// single placeholder sentence is the way to seed a fresh model.
func (g *Generator) Train(text string) (*Chain, error) {
	return Build(g.tokenizer.Tokenize(text), g.order)
}

// TrainReader builds one chain from every line of r. It is the bulk form of
// Train, used for backfilling a model from message history.
func (g *Generator) TrainReader(r io.Reader) (*Chain, error) {
	// maxLineLength prevents massive lines from taking up a large amount of memory
	const maxLineLength = 1 << 20

	b := newBuilder(g.order)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	var lines int64
	for scanner.Scan() {
		if err := b.addTokens(g.tokenizer.Tokenize(scanner.Text())); err != nil {
			return nil, fmt.Errorf("line %d: %w", lines+1, err)
		}
		lines++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read training data: %w", err)
	}

	chain := b.chain()
	g.logger.Info("Training completed",
		slog.Int("order", g.order),
		slog.Int64("lines_processed", lines),
		slog.Int("states", chain.Len()),
	)
	return chain, nil
}

// Extend trains on text and combines the result with model, returning the new
// model. model is left untouched. A nil model is treated as empty.
func (g *Generator) Extend(model *Chain, text string) (*Chain, error) {
	sample, err := g.Train(text)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return sample, nil
	}
	return Combine(model, sample)
}

// Generate renders a sentence from c within limits, using the Generator's
// tokenizer for rendering. See the package-level Generate for the contract.
func (g *Generator) Generate(c *Chain, rng Rand, limits Limits, opts ...SampleOption) (string, error) {
	return g.GenerateWith(c, g.tokenizer, rng, limits, opts...)
}

// GenerateWith is Generate with a custom renderer. The length window is
// checked against the output of r.
func (g *Generator) GenerateWith(c *Chain, r Renderer, rng Rand, limits Limits, opts ...SampleOption) (string, error) {
	options := newSampleOptions(opts)
	text, attempts, err := generate(limits, func() (string, error) {
		tokens, err := sample(c, rng, options)
		if err != nil {
			return "", err
		}
		return r.Render(tokens), nil
	})

	switch {
	case err == nil:
		g.logger.Debug("Sentence generated",
			slog.Int("order", c.Order()),
			slog.Int("attempts", attempts),
			slog.Int("length", utf8.RuneCountInString(text)),
		)
	case errors.Is(err, ErrUnsatisfiable):
		g.logger.Debug("Generation gave up",
			slog.Int("order", c.Order()),
			slog.Int("attempts", attempts),
			slog.Int("min_length", limits.MinLength),
			slog.Int("max_length", limits.MaxLength),
		)
	}
	return text, err
}
