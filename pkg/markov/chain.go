package markov

import (
	"fmt"
	"math"
	"sort"
)

// Transition is one possible next token after a state, with the number of
// times it was observed.
type Transition struct {
	Token  string
	Weight int
}

// choices holds the outgoing transitions of one state, sorted by token.
// cum[i] is the sum of the weights of tokens[0..i], so the total weight of
// the state is cum[len(cum)-1].
type choices struct {
	tokens []string
	cum    []int
}

func (c *choices) total() int {
	return c.cum[len(c.cum)-1]
}

func (c *choices) weight(i int) int {
	if i == 0 {
		return c.cum[0]
	}
	return c.cum[i] - c.cum[i-1]
}

// Chain is an immutable weighted transition table from State to next token.
// Every stored weight is at least 1 and the order never changes. All methods
// are safe for concurrent use. A nil *Chain behaves as an empty chain of
// order 0 for the read-only accessors.
type Chain struct {
	order  int
	states map[State]*choices
}

// NewChain returns an empty chain of the given order.
func NewChain(order int) (*Chain, error) {
	if order < 1 {
		return nil, ErrInvalidOrder
	}
	return &Chain{order: order, states: map[State]*choices{}}, nil
}

// Order returns the number of tokens in each state of the chain.
func (c *Chain) Order() int {
	if c == nil {
		return 0
	}
	return c.order
}

// Len returns the number of states with outgoing transitions.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.states)
}

// Empty reports whether the chain holds no transitions.
func (c *Chain) Empty() bool {
	return c.Len() == 0
}

// States returns every state of the chain, sorted by their tokens.
func (c *Chain) States() []State {
	if c == nil {
		return nil
	}
	states := make([]State, 0, len(c.states))
	for s := range c.states {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].key < states[j].key
	})
	return states
}

// Transitions returns a copy of the outgoing transitions of s, sorted by token.
// It returns nil if the state is unknown.
func (c *Chain) Transitions(s State) []Transition {
	if c == nil {
		return nil
	}
	ch, ok := c.states[s]
	if !ok {
		return nil
	}
	out := make([]Transition, len(ch.tokens))
	for i, tok := range ch.tokens {
		out[i] = Transition{Token: tok, Weight: ch.weight(i)}
	}
	return out
}

// Weight returns how often tok followed s, or 0 if it never did.
func (c *Chain) Weight(s State, tok string) int {
	if c == nil {
		return 0
	}
	ch, ok := c.states[s]
	if !ok {
		return 0
	}
	i := sort.SearchStrings(ch.tokens, tok)
	if i < len(ch.tokens) && ch.tokens[i] == tok {
		return ch.weight(i)
	}
	return 0
}

// TotalWeight returns the sum of the outgoing weights of s.
func (c *Chain) TotalWeight(s State) int {
	if c == nil {
		return 0
	}
	ch, ok := c.states[s]
	if !ok {
		return 0
	}
	return ch.total()
}

// Equal reports whether both chains have the same order, states and weights.
func (c *Chain) Equal(other *Chain) bool {
	if c.Order() != other.Order() || c.Len() != other.Len() {
		return false
	}
	if c.Len() == 0 {
		return true
	}
	for s, ch := range c.states {
		och, ok := other.states[s]
		if !ok || len(och.tokens) != len(ch.tokens) {
			return false
		}
		for i := range ch.tokens {
			if ch.tokens[i] != och.tokens[i] || ch.cum[i] != och.cum[i] {
				return false
			}
		}
	}
	return true
}

// builder accumulates transition counts before they are frozen into a Chain.
// totals tracks the outgoing weight of each state so that no state can grow
// past math.MaxInt.
type builder struct {
	order  int
	counts map[State]map[string]int
	totals map[State]int
}

func newBuilder(order int) *builder {
	return &builder{
		order:  order,
		counts: make(map[State]map[string]int),
		totals: make(map[State]int),
	}
}

// add records weight more observations of tok after s. weight must be
// positive. It fails with ErrWeightOverflow, leaving the builder unchanged,
// when the total weight of s would exceed math.MaxInt.
func (b *builder) add(s State, tok string, weight int) error {
	if weight > math.MaxInt-b.totals[s] {
		return fmt.Errorf("%w: state %s", ErrWeightOverflow, s)
	}
	next, ok := b.counts[s]
	if !ok {
		next = make(map[string]int)
		b.counts[s] = next
	}
	next[tok] += weight
	b.totals[s] += weight
	return nil
}

// addChain adds every transition of c to the builder.
func (b *builder) addChain(c *Chain) error {
	for s, ch := range c.states {
		for i, tok := range ch.tokens {
			if err := b.add(s, tok, ch.weight(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// chain freezes the counts into an immutable Chain. The builder must not be
// used afterwards.
func (b *builder) chain() *Chain {
	states := make(map[State]*choices, len(b.counts))
	for s, next := range b.counts {
		tokens := make([]string, 0, len(next))
		for tok, w := range next {
			if w > 0 {
				tokens = append(tokens, tok)
			}
		}
		if len(tokens) == 0 {
			continue
		}
		sort.Strings(tokens)
		cum := make([]int, len(tokens))
		total := 0
		for i, tok := range tokens {
			total += next[tok]
			cum[i] = total
		}
		states[s] = &choices{tokens: tokens, cum: cum}
	}
	b.counts, b.totals = nil, nil
	return &Chain{order: b.order, states: states}
}
