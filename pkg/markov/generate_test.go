package markov

import (
	"errors"
	"testing"
	"unicode/utf8"
)

func TestGenerate(t *testing.T) {
	chain := mustBuild(t, "hi. this is a considerably longer sentence that will never fit the window.", 1)
	tok := NewDefaultTokenizer()
	rng := NewRand(5)

	limits := Limits{MinLength: 1, MaxLength: 10, MaxAttempts: 50}
	for i := 0; i < 10; i++ {
		text, err := Generate(chain, tok, rng, limits)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if text != "hi." {
			t.Errorf("Generate() = %q, want %q", text, "hi.")
		}
	}
}

func TestGenerateRespectsWindow(t *testing.T) {
	chain := mustBuild(t, "the cat sat. the dog ran. the cat ran. a dog sat. the bird flew far away.", 1)
	tok := NewDefaultTokenizer()
	rng := NewRand(17)

	testCases := []Limits{
		{MinLength: 1, MaxLength: 140, MaxAttempts: 10},
		{MinLength: 11, MaxLength: 11, MaxAttempts: 200},
		{MinLength: 0, MaxLength: 12, MaxAttempts: 100},
	}
	for _, limits := range testCases {
		text, err := Generate(chain, tok, rng, limits)
		if err != nil {
			if errors.Is(err, ErrUnsatisfiable) {
				continue
			}
			t.Fatalf("Generate(%+v) error = %v", limits, err)
		}
		if n := utf8.RuneCountInString(text); n < limits.MinLength || n > limits.MaxLength {
			t.Errorf("Generate(%+v) = %q with %d runes", limits, text, n)
		}
	}
}

func TestGenerateInvalidRange(t *testing.T) {
	testCases := []struct {
		name   string
		limits Limits
	}{
		{"Min above max", Limits{MinLength: 5, MaxLength: 2, MaxAttempts: 3}},
		{"Negative min", Limits{MinLength: -1, MaxLength: 2, MaxAttempts: 3}},
		{"Negative max", Limits{MinLength: 0, MaxLength: -2, MaxAttempts: 3}},
		{"No attempts", Limits{MinLength: 0, MaxLength: 2, MaxAttempts: 0}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			_, attempts, err := generate(tc.limits, func() (string, error) {
				calls++
				return "x", nil
			})
			if !errors.Is(err, ErrInvalidRange) {
				t.Errorf("expected ErrInvalidRange, got %v", err)
			}
			if calls != 0 || attempts != 0 {
				t.Errorf("invalid limits made %d attempts", calls)
			}
		})
	}
}

func TestGenerateGivesUp(t *testing.T) {
	calls := 0
	_, attempts, err := generate(Limits{MinLength: 0, MaxLength: 3, MaxAttempts: 4}, func() (string, error) {
		calls++
		return "too long", nil
	})
	if !errors.Is(err, ErrUnsatisfiable) {
		t.Fatalf("expected ErrUnsatisfiable, got %v", err)
	}
	if calls != 4 || attempts != 4 {
		t.Errorf("made %d attempts (reported %d), want 4", calls, attempts)
	}

	// Failed walks count as attempts too.
	calls = 0
	_, _, err = generate(Limits{MinLength: 0, MaxLength: 3, MaxAttempts: 2}, func() (string, error) {
		calls++
		return "", ErrNoPath
	})
	if !errors.Is(err, ErrUnsatisfiable) || calls != 2 {
		t.Errorf("got %v after %d attempts", err, calls)
	}
}

func TestGenerateStopsOnFirstMatch(t *testing.T) {
	calls := 0
	outputs := []string{"far too long", "ok", "also ok"}
	text, attempts, err := generate(Limits{MinLength: 1, MaxLength: 5, MaxAttempts: 3}, func() (string, error) {
		out := outputs[calls]
		calls++
		return out, nil
	})
	if err != nil {
		t.Fatalf("generate() error = %v", err)
	}
	if text != "ok" || attempts != 2 {
		t.Errorf("generate() = %q after %d attempts, want %q after 2", text, attempts, "ok")
	}
}

func TestGenerateEmptySentence(t *testing.T) {
	// The begin state leads straight to the end marker.
	chain := mustImport(t, ExportedModel{Order: 1, Chain: []ExportedState{
		{State: []string{SOCToken}, Next: map[string]int{EOCToken: 1}},
	}})
	tok := NewDefaultTokenizer()

	text, err := Generate(chain, tok, NewRand(1), Limits{MinLength: 0, MaxLength: 0, MaxAttempts: 1})
	if err != nil || text != "" {
		t.Errorf("Generate() = %q, %v; want empty sentence", text, err)
	}

	if _, err := Generate(chain, tok, NewRand(1), DefaultLimits()); !errors.Is(err, ErrUnsatisfiable) {
		t.Errorf("expected ErrUnsatisfiable with min length 1, got %v", err)
	}
}

func TestGenerateEmptyChain(t *testing.T) {
	empty, _ := NewChain(2)
	_, err := Generate(empty, NewDefaultTokenizer(), NewRand(1), DefaultLimits())
	if !errors.Is(err, ErrUnsatisfiable) {
		t.Errorf("expected ErrUnsatisfiable, got %v", err)
	}
}

func TestLimitsAcceptsRunes(t *testing.T) {
	limits := Limits{MinLength: 3, MaxLength: 3, MaxAttempts: 1}
	if !limits.Accepts("héé") {
		t.Error("length should be counted in runes")
	}
	if limits.Accepts("ab") || limits.Accepts("abcd") {
		t.Error("window bounds should be inclusive and exact")
	}
	if err := DefaultLimits().Validate(); err != nil {
		t.Errorf("DefaultLimits().Validate() = %v", err)
	}
}
