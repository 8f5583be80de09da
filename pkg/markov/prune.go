package markov

// Prune returns a new chain without the transitions whose weight is less than
// or equal to minWeight. States left without transitions are dropped. This is
// useful for reducing the size of a model by removing rare, and often noisy,
// transitions. Pruning can cut every path to the end of the chain, in which
// case sampling fails with ErrNoPath or ErrWalkTooLong.
func (c *Chain) Prune(minWeight int) *Chain {
	b := newBuilder(c.Order())
	if c == nil {
		return b.chain()
	}
	for s, ch := range c.states {
		for i, tok := range ch.tokens {
			// A subset of a valid state cannot overflow.
			if w := ch.weight(i); w > minWeight {
				_ = b.add(s, tok, w)
			}
		}
	}
	return b.chain()
}
