package markov

// Combine merges chains into a new chain whose states are the union of the
// input states and whose weights are the sums of the input weights. The
// result does not depend on the order or grouping of the inputs. All chains
// must share one order; otherwise an *OrderMismatchError is returned.
// Combining a single chain returns an equal copy, and empty chains of the
// same order are the identity. A state whose summed weight would exceed
// math.MaxInt fails with ErrWeightOverflow.
func Combine(chains ...*Chain) (*Chain, error) {
	if len(chains) == 0 {
		return nil, ErrNoChains
	}
	order := chains[0].Order()
	for _, c := range chains {
		if c == nil {
			return nil, ErrNoChains
		}
		if c.order != order {
			return nil, &OrderMismatchError{Want: order, Got: c.order}
		}
	}
	if order < 1 {
		return nil, ErrInvalidOrder
	}

	b := newBuilder(order)
	for _, c := range chains {
		if err := b.addChain(c); err != nil {
			return nil, err
		}
	}
	return b.chain(), nil
}
