package markov

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCombine(t *testing.T) {
	first := mustBuild(t, "a b c", 1)
	second := mustBuild(t, "a b d", 1)

	combined := mustCombine(t, first, second)

	expectations := []struct {
		state  State
		token  string
		weight int
	}{
		{NewState(SOCToken), "a", 2},
		{NewState("a"), "b", 2},
		{NewState("b"), "c", 1},
		{NewState("b"), "d", 1},
		{NewState("c"), EOCToken, 1},
		{NewState("d"), EOCToken, 1},
	}
	for _, e := range expectations {
		if got := combined.Weight(e.state, e.token); got != e.weight {
			t.Errorf("Weight(%s, %q) = %d, want %d", e.state, e.token, got, e.weight)
		}
	}

	// Inputs are left untouched.
	if first.Weight(NewState("a"), "b") != 1 {
		t.Error("Combine modified its input")
	}
}

func TestCombineMatchesBuildOfConcatenation(t *testing.T) {
	combined := mustCombine(t,
		mustBuild(t, "one fish two fish.", 2),
		mustBuild(t, "red fish blue fish.", 2),
	)
	whole := mustBuild(t, "one fish two fish. red fish blue fish.", 2)
	if diff := cmp.Diff(whole.Export(), combined.Export()); diff != "" {
		t.Errorf("Combine() mismatch (-want +got):\n%s", diff)
	}
}

func TestCombineLaws(t *testing.T) {
	a := mustBuild(t, "the cat sat. the dog ran.", 2)
	b := mustBuild(t, "the cat ran. a dog sat.", 2)
	c := mustBuild(t, "the bird flew away.", 2)
	empty, _ := NewChain(2)

	t.Run("Identity", func(t *testing.T) {
		if diff := cmp.Diff(a.Export(), mustCombine(t, a, empty).Export()); diff != "" {
			t.Errorf("combining with empty changed the chain (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(a.Export(), mustCombine(t, a).Export()); diff != "" {
			t.Errorf("single chain combine changed the chain (-want +got):\n%s", diff)
		}
	})

	t.Run("Commutative", func(t *testing.T) {
		if !mustCombine(t, a, b).Equal(mustCombine(t, b, a)) {
			t.Error("Combine(a, b) != Combine(b, a)")
		}
	})

	t.Run("Associative", func(t *testing.T) {
		left := mustCombine(t, mustCombine(t, a, b), c)
		right := mustCombine(t, a, mustCombine(t, b, c))
		flat := mustCombine(t, a, b, c)
		if !left.Equal(right) || !left.Equal(flat) {
			t.Error("Combine is not associative")
		}
	})

	t.Run("Weight conservation", func(t *testing.T) {
		combined := mustCombine(t, a, b, c)
		if got, want := combined.Stats().TotalWeight, a.Stats().TotalWeight+b.Stats().TotalWeight+c.Stats().TotalWeight; got != want {
			t.Errorf("total weight = %d, want %d", got, want)
		}
	})
}

func TestCombineErrors(t *testing.T) {
	one := mustBuild(t, "a b c", 1)
	two := mustBuild(t, "a b c", 2)

	_, err := Combine(one, two)
	var mismatch *OrderMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *OrderMismatchError, got %v", err)
	}
	if mismatch.Want != 1 || mismatch.Got != 2 {
		t.Errorf("mismatch = %+v, want {Want:1 Got:2}", mismatch)
	}
	if !errors.Is(err, ErrOrderMismatch) {
		t.Error("errors.Is(err, ErrOrderMismatch) = false")
	}

	if _, err := Combine(); !errors.Is(err, ErrNoChains) {
		t.Errorf("no chains: expected ErrNoChains, got %v", err)
	}
	if _, err := Combine(one, nil); !errors.Is(err, ErrNoChains) {
		t.Errorf("nil chain: expected ErrNoChains, got %v", err)
	}
}

func TestCombineWeightOverflow(t *testing.T) {
	heavy := mustImport(t, ExportedModel{Order: 1, Chain: []ExportedState{
		{State: []string{SOCToken}, Next: map[string]int{"a": math.MaxInt}},
		{State: []string{"a"}, Next: map[string]int{EOCToken: 1}},
	}})

	if _, err := Combine(heavy, heavy); !errors.Is(err, ErrWeightOverflow) {
		t.Fatalf("expected ErrWeightOverflow, got %v", err)
	}

	// Other states may still grow.
	light := mustImport(t, ExportedModel{Order: 1, Chain: []ExportedState{
		{State: []string{"a"}, Next: map[string]int{EOCToken: 1}},
	}})
	combined := mustCombine(t, heavy, light)
	if got := combined.Weight(NewState(SOCToken), "a"); got != math.MaxInt {
		t.Errorf("Weight(<SOC>, a) = %d, want %d", got, math.MaxInt)
	}
	if got := combined.Weight(NewState("a"), EOCToken); got != 2 {
		t.Errorf("Weight(a, <EOC>) = %d, want 2", got)
	}
}
