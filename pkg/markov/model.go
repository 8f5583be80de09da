package markov

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ExportedModel is the serializable representation of a chain, used for
// JSON and YAML import and export.
type ExportedModel struct {
	Order int             `json:"order" yaml:"order"`
	Chain []ExportedState `json:"chain" yaml:"chain"`
}

// ExportedState is the serializable representation of the outgoing
// transitions of one state, used within an ExportedModel.
type ExportedState struct {
	State []string       `json:"state" yaml:"state"`
	Next  map[string]int `json:"next" yaml:"next"`
}

// Export returns the serializable form of the chain, with states sorted.
func (c *Chain) Export() ExportedModel {
	exported := ExportedModel{Order: c.Order(), Chain: []ExportedState{}}
	for _, s := range c.States() {
		ch := c.states[s]
		next := make(map[string]int, len(ch.tokens))
		for i, tok := range ch.tokens {
			next[tok] = ch.weight(i)
		}
		exported.Chain = append(exported.Chain, ExportedState{State: s.Tokens(), Next: next})
	}
	return exported
}

// FromExported validates an ExportedModel and builds the chain it describes.
// Every validation failure wraps ErrCorruptModel.
func FromExported(m ExportedModel) (*Chain, error) {
	if m.Order < 1 {
		return nil, fmt.Errorf("%w: order %d", ErrCorruptModel, m.Order)
	}
	b := newBuilder(m.Order)
	for i, entry := range m.Chain {
		if err := validateState(entry.State, m.Order); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrCorruptModel, i, err)
		}
		state := NewState(entry.State...)
		if _, dup := b.counts[state]; dup {
			return nil, fmt.Errorf("%w: entry %d: duplicate state %s", ErrCorruptModel, i, state)
		}
		if len(entry.Next) == 0 {
			return nil, fmt.Errorf("%w: entry %d: state %s has no transitions", ErrCorruptModel, i, state)
		}
		for tok, weight := range entry.Next {
			if !validToken(tok) || tok == SOCToken {
				return nil, fmt.Errorf("%w: entry %d: invalid next token %q", ErrCorruptModel, i, tok)
			}
			if weight < 1 {
				return nil, fmt.Errorf("%w: entry %d: non-positive weight %d for %q", ErrCorruptModel, i, weight, tok)
			}
			if err := b.add(state, tok, weight); err != nil {
				return nil, fmt.Errorf("%w: entry %d: %w", ErrCorruptModel, i, err)
			}
		}
	}
	return b.chain(), nil
}

// validateState checks the width of a state and the placement of the
// reserved markers: SOC only as leading padding, EOC never.
func validateState(tokens []string, order int) error {
	if len(tokens) != order {
		return fmt.Errorf("state has %d tokens, want %d", len(tokens), order)
	}
	seenWord := false
	for _, tok := range tokens {
		switch {
		case !validToken(tok):
			return fmt.Errorf("invalid state token %q", tok)
		case tok == EOCToken:
			return errors.New("state continues past the end marker")
		case tok == SOCToken && seenWord:
			return errors.New("start marker after a word")
		case tok != SOCToken:
			seenWord = true
		}
	}
	return nil
}

// ExportJSON serializes the chain as indented JSON to w.
func ExportJSON(c *Chain, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(c.Export())
}

// ImportJSON reads a chain written by ExportJSON. Unknown fields, a bad shape
// or invalid content fail with ErrCorruptModel.
func ImportJSON(r io.Reader) (*Chain, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	var imported ExportedModel
	if err := decoder.Decode(&imported); err != nil {
		return nil, fmt.Errorf("%w: failed to decode json model: %v", ErrCorruptModel, err)
	}
	return FromExported(imported)
}

// ExportYAML serializes the chain as YAML to w.
func ExportYAML(c *Chain, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(c.Export()); err != nil {
		return err
	}
	return encoder.Close()
}

// ImportYAML reads a chain written by ExportYAML.
func ImportYAML(r io.Reader) (*Chain, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	var imported ExportedModel
	if err := decoder.Decode(&imported); err != nil {
		return nil, fmt.Errorf("%w: failed to decode yaml model: %v", ErrCorruptModel, err)
	}
	return FromExported(imported)
}

const (
	markovifyBegin = "___BEGIN__"
	markovifyEnd   = "___END__"
)

// markovifyModel is the document written by markovify's Text.to_json. The
// chain itself is a JSON string holding [[state, {token: weight}], ...].
type markovifyModel struct {
	StateSize *int   `json:"state_size"`
	Chain     string `json:"chain"`
}

// ImportMarkovify reads a model written by the markovify Python library and
// converts its markers to SOC/EOC.
func ImportMarkovify(r io.Reader) (*Chain, error) {
	var doc markovifyModel
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: failed to decode markovify model: %v", ErrCorruptModel, err)
	}
	if doc.StateSize == nil {
		return nil, fmt.Errorf("%w: missing state_size", ErrCorruptModel)
	}

	var entries [][2]json.RawMessage
	if err := json.Unmarshal([]byte(doc.Chain), &entries); err != nil {
		return nil, fmt.Errorf("%w: failed to decode markovify chain: %v", ErrCorruptModel, err)
	}

	exported := ExportedModel{Order: *doc.StateSize, Chain: make([]ExportedState, 0, len(entries))}
	for i, entry := range entries {
		var state []string
		var next map[string]int
		if err := strictUnmarshal(entry[0], &state); err != nil {
			return nil, fmt.Errorf("%w: markovify entry %d state: %v", ErrCorruptModel, i, err)
		}
		if err := strictUnmarshal(entry[1], &next); err != nil {
			return nil, fmt.Errorf("%w: markovify entry %d transitions: %v", ErrCorruptModel, i, err)
		}
		for j, tok := range state {
			state[j] = fromMarkovifyMarker(tok)
		}
		converted := make(map[string]int, len(next))
		for tok, weight := range next {
			converted[fromMarkovifyMarker(tok)] = weight
		}
		exported.Chain = append(exported.Chain, ExportedState{State: state, Next: converted})
	}
	return FromExported(exported)
}

func strictUnmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing value")
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func fromMarkovifyMarker(tok string) string {
	switch tok {
	case markovifyBegin:
		return SOCToken
	case markovifyEnd:
		return EOCToken
	}
	return tok
}
