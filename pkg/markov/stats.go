package markov

import "math"

// Stats holds aggregated statistics for a single chain.
type Stats struct {
	Order          int `json:"order"`           // The number of tokens in each state.
	States         int `json:"states"`          // The number of states with outgoing transitions.
	Transitions    int `json:"transitions"`     // The number of unique state->next_token links.
	TotalWeight    int `json:"total_weight"`    // The sum of all weights, capped at math.MaxInt.
	StartingTokens int `json:"starting_tokens"` // The number of unique tokens that can start a sentence.
	Vocabulary     int `json:"vocabulary"`      // The number of unique non-reserved next tokens.
}

// Stats returns a snapshot of statistics for the chain.
func (c *Chain) Stats() Stats {
	stats := Stats{Order: c.Order(), States: c.Len()}
	if c == nil {
		return stats
	}
	vocab := make(map[string]struct{})
	for _, ch := range c.states {
		stats.Transitions += len(ch.tokens)
		// Each state is bounded by math.MaxInt, the sum of them is not.
		if ch.total() > math.MaxInt-stats.TotalWeight {
			stats.TotalWeight = math.MaxInt
		} else {
			stats.TotalWeight += ch.total()
		}
		for _, tok := range ch.tokens {
			if !IsReserved(tok) {
				vocab[tok] = struct{}{}
			}
		}
	}
	if begin, ok := c.states[BeginState(c.order)]; ok {
		stats.StartingTokens = len(begin.tokens)
	}
	stats.Vocabulary = len(vocab)
	return stats
}
