package markov

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderMismatch is matched by OrderMismatchError via errors.Is.
	ErrOrderMismatch = errors.New("markov: chain order mismatch")
	// ErrNoPath is returned when a walk reaches a state with no outgoing transitions.
	ErrNoPath = errors.New("markov: no path to end of chain")
	// ErrUnsatisfiable is returned by Generate when every attempt missed the length window.
	// It is an expected outcome and means "no output this round".
	ErrUnsatisfiable = errors.New("markov: no sentence satisfied the constraints")
	// ErrInvalidRange is returned for negative bounds, min > max, or a non-positive attempt budget.
	ErrInvalidRange = errors.New("markov: invalid length range")
	// ErrCorruptModel wraps every failure to decode a persisted model.
	ErrCorruptModel = errors.New("markov: corrupt model")
	// ErrInvalidOrder is returned when a chain is requested with an order below 1.
	ErrInvalidOrder = errors.New("markov: order must be at least 1")
	// ErrInvalidToken is returned by Build for empty tokens or tokens containing the state separator.
	ErrInvalidToken = errors.New("markov: invalid token")
	// ErrNoChains is returned by Combine when called without chains or with a nil chain.
	ErrNoChains = errors.New("markov: nothing to combine")
	// ErrUnknownStart is returned when a seeded walk starts from a state the chain never saw.
	ErrUnknownStart = errors.New("markov: start state not found in chain")
	// ErrWalkTooLong is returned when a walk exceeds its token budget without reaching the end.
	ErrWalkTooLong = errors.New("markov: walk exceeded max tokens")
	// ErrWeightOverflow is returned when the total weight of a state would exceed math.MaxInt.
	ErrWeightOverflow = errors.New("markov: state weight overflow")
)

// OrderMismatchError reports an attempt to combine chains of different orders.
type OrderMismatchError struct {
	Want int
	Got  int
}

func (e *OrderMismatchError) Error() string {
	return fmt.Sprintf("markov: cannot combine chain of order %d with chain of order %d", e.Got, e.Want)
}

// Is makes errors.Is(err, ErrOrderMismatch) true.
func (e *OrderMismatchError) Is(target error) bool {
	return target == ErrOrderMismatch
}
