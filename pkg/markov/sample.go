package markov

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// Rand is the source of randomness used for sampling. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

// NewRand returns a deterministic source seeded with seed. It is not safe for
// concurrent use; give each goroutine its own.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// sharedRand draws from the math/rand/v2 top-level functions, which are safe
// for concurrent use.
type sharedRand struct{}

func (sharedRand) IntN(n int) int   { return rand.IntN(n) }
func (sharedRand) Float64() float64 { return rand.Float64() }

// SharedRand returns a non-deterministic Rand that is safe for concurrent use.
func SharedRand() Rand {
	return sharedRand{}
}

// sampleOptions Is used by the sampling functions to configure default options.
type sampleOptions struct {
	maxTokens   int
	temperature float64
	topK        int
	start       []string
}

// SampleOption is a function that configures sampling parameters. It's used
// as a variadic argument in Sample, Generate and Generator.Generate.
type SampleOption func(*sampleOptions)

// WithMaxTokens sets the maximum number of tokens a single walk may produce
// before it is abandoned with ErrWalkTooLong. Default: 1000.
func WithMaxTokens(n int) SampleOption {
	return func(o *sampleOptions) { o.maxTokens = n }
}

// WithTemperature adjusts the randomness of the token selection.
// A value of 1.0 is standard weighted random selection.
// Values > 1.0 increase randomness (making less frequent tokens more likely).
// Values < 1.0 decrease randomness (making more frequent tokens even more likely).
// A value of 0 or less results in deterministic selection (always choosing the most frequent token).
func WithTemperature(t float64) SampleOption {
	return func(o *sampleOptions) { o.temperature = t }
}

// WithTopK restricts the token selection pool to the top `k` most frequent tokens
// at each step. A value of 0 disables Top-K sampling.
func WithTopK(k int) SampleOption {
	return func(o *sampleOptions) { o.topK = k }
}

// WithStart makes every walk begin with the given words, continuing from the
// state they lead to. The words are part of the returned sequence.
func WithStart(words ...string) SampleOption {
	return func(o *sampleOptions) { o.start = words }
}

func newSampleOptions(opts []SampleOption) *sampleOptions {
	options := &sampleOptions{
		maxTokens:   1000,
		temperature: 1.0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Sample performs one weighted random walk over c from the begin state until
// EOCToken is chosen, and returns the tokens in between. The probability of
// each next token is its weight divided by the total weight of the current
// state. It fails with ErrNoPath if a state has no outgoing transitions.
// Sample never modifies c and may be called concurrently on the same chain
// as long as every goroutine uses its own Rand (or SharedRand).
func Sample(c *Chain, rng Rand, opts ...SampleOption) ([]string, error) {
	return sample(c, rng, newSampleOptions(opts))
}

func sample(c *Chain, rng Rand, options *sampleOptions) ([]string, error) {
	if c.Empty() {
		return nil, ErrNoPath
	}

	state := BeginState(c.order)
	var out []string
	if len(options.start) > 0 {
		for _, word := range options.start {
			state = state.Next(word)
		}
		if _, ok := c.states[state]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStart, state)
		}
		out = append(out, options.start...)
	}

	for {
		ch, ok := c.states[state]
		if !ok {
			return nil, fmt.Errorf("%w: dead end at %s", ErrNoPath, state)
		}
		next := chooseNextToken(ch, rng, options)
		if next == EOCToken {
			return out, nil
		}
		if options.maxTokens > 0 && len(out) >= options.maxTokens {
			return nil, ErrWalkTooLong
		}
		out = append(out, next)
		state = state.Next(next)
	}
}

// chooseNextToken abstracts the token selection logic from the walk loop.
func chooseNextToken(ch *choices, rng Rand, options *sampleOptions) string {
	// Standard weighted random on the precomputed cumulative weights.
	if options.temperature == 1.0 && (options.topK <= 0 || options.topK >= len(ch.tokens)) {
		randChoice := rng.IntN(ch.total())
		i := sort.Search(len(ch.cum), func(i int) bool { return ch.cum[i] > randChoice })
		return ch.tokens[i]
	}

	candidates := make([]Transition, len(ch.tokens))
	for i, tok := range ch.tokens {
		candidates[i] = Transition{Token: tok, Weight: ch.weight(i)}
	}

	// topK filtering
	if options.topK > 0 && options.topK < len(candidates) {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Weight > candidates[j].Weight
		})
		candidates = candidates[:options.topK]
	}

	// temperature selection
	if options.temperature <= 0 { // Deterministic
		best := candidates[0]
		for _, cand := range candidates[1:] {
			if cand.Weight > best.Weight {
				best = cand
			}
		}
		return best.Token
	}
	if options.temperature == 1.0 {
		totalWeight := 0
		for _, cand := range candidates {
			totalWeight += cand.Weight
		}
		randChoice := rng.IntN(totalWeight)
		for _, cand := range candidates {
			randChoice -= cand.Weight
			if randChoice < 0 {
				return cand.Token
			}
		}
	}

	logProbabilities := make([]float64, len(candidates))
	maxLog := math.Inf(-1)
	for i, cand := range candidates {
		lp := math.Log(float64(cand.Weight)) / options.temperature
		logProbabilities[i] = lp
		if lp > maxLog {
			maxLog = lp
		}
	}
	var totalWeight float64
	weights := make([]float64, len(candidates))
	for i, lp := range logProbabilities {
		w := math.Exp(lp - maxLog)
		weights[i] = w
		totalWeight += w
	}
	randChoice := rng.Float64() * totalWeight
	for i, cand := range candidates {
		randChoice -= weights[i]
		if randChoice < 0 {
			return cand.Token
		}
	}
	return candidates[len(candidates)-1].Token
}
