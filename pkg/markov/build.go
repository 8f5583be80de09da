package markov

// Build creates a chain of the given order from a token sequence produced by
// a Tokenizer. Each sentence starts from the state of order SOC markers; every
// token, including the closing EOCToken, is recorded as a transition from the
// window of the order tokens before it. Tokens outside a SOC/EOC pair start a
// new sentence, and a sentence still open at the end of the input is closed
// with EOCToken. An empty sequence yields an empty chain.
func Build(tokens []string, order int) (*Chain, error) {
	if order < 1 {
		return nil, ErrInvalidOrder
	}
	b := newBuilder(order)
	if err := b.addTokens(tokens); err != nil {
		return nil, err
	}
	return b.chain(), nil
}

// addTokens records every sentence found in tokens.
func (b *builder) addTokens(tokens []string) error {
	var sentence []string
	open := false
	for _, tok := range tokens {
		switch tok {
		case SOCToken:
			if open {
				if err := b.addSentence(sentence); err != nil {
					return err
				}
			}
			sentence = sentence[:0]
			open = true
		case EOCToken:
			if open {
				if err := b.addSentence(sentence); err != nil {
					return err
				}
			}
			sentence = sentence[:0]
			open = false
		default:
			if !validToken(tok) {
				return ErrInvalidToken
			}
			sentence = append(sentence, tok)
			open = true
		}
	}
	if open {
		return b.addSentence(sentence)
	}
	return nil
}

// addSentence records the transitions of one sentence, SOC padding and the
// final EOC included. An empty sentence records nothing.
func (b *builder) addSentence(sentence []string) error {
	if len(sentence) == 0 {
		return nil
	}

	fullSlice := make([]string, len(sentence)+b.order+1)
	for i := 0; i < b.order; i++ {
		fullSlice[i] = SOCToken
	}
	copy(fullSlice[b.order:len(fullSlice)-1], sentence)
	fullSlice[len(fullSlice)-1] = EOCToken

	for i := 0; i < len(sentence)+1; i++ { // Iterate len+1 to include the final EOC token.
		prefix := NewState(fullSlice[i : i+b.order]...)
		if err := b.add(prefix, fullSlice[i+b.order], 1); err != nil {
			return err
		}
	}
	return nil
}
