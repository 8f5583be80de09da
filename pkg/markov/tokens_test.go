package markov

import (
	"reflect"
	"strings"
	"testing"
)

func TestTokenize(t *testing.T) {
	tok := NewDefaultTokenizer()

	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Empty input",
			input:    "",
			expected: nil,
		},
		{
			name:     "Whitespace only",
			input:    " \t\n ",
			expected: nil,
		},
		{
			name:     "Single sentence keeps punctuation attached",
			input:    "Hello, I am a bot.",
			expected: []string{SOCToken, "Hello,", "I", "am", "a", "bot.", EOCToken},
		},
		{
			name:     "Two sentences",
			input:    "one fish two fish. red fish!",
			expected: []string{SOCToken, "one", "fish", "two", "fish.", EOCToken, SOCToken, "red", "fish!", EOCToken},
		},
		{
			name:     "No boundary is one sentence",
			input:    "a b c",
			expected: []string{SOCToken, "a", "b", "c", EOCToken},
		},
		{
			name:     "Closing quote after terminal punctuation",
			input:    `he said "stop." then left`,
			expected: []string{SOCToken, "he", "said", `"stop."`, EOCToken, SOCToken, "then", "left", EOCToken},
		},
		{
			name:     "Malformed punctuation",
			input:    "?!? ... ,,",
			expected: []string{SOCToken, "?!?", EOCToken, SOCToken, "...", EOCToken, SOCToken, ",,", EOCToken},
		},
		{
			name:     "Reserved markers are dropped",
			input:    "a <SOC> b <EOC> c",
			expected: []string{SOCToken, "a", "b", "c", EOCToken},
		},
		{
			name:     "Control characters split words",
			input:    "a\x1fb\x00c",
			expected: []string{SOCToken, "a", "b", "c", EOCToken},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tok.Tokenize(tc.input)
			if !reflect.DeepEqual(got, tc.expected) {
				t.Errorf("Tokenize(%q) = %q, want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestRenderRoundTrip(t *testing.T) {
	tok := NewDefaultTokenizer()
	inputs := []string{
		"Hello, I am a bot.",
		"one fish two fish. red fish blue fish.",
		"no boundary here",
		"what? really! yes.",
		"",
	}
	for _, input := range inputs {
		if got := tok.Render(tok.Tokenize(input)); got != input {
			t.Errorf("Render(Tokenize(%q)) = %q", input, got)
		}
	}

	// Runs of whitespace collapse to the separator.
	messy := "  lots   of\tspace.\n"
	if got, want := tok.Render(tok.Tokenize(messy)), strings.Join(strings.Fields(messy), " "); got != want {
		t.Errorf("Render(Tokenize(%q)) = %q, want %q", messy, got, want)
	}
}

func TestTokenizerOptions(t *testing.T) {
	tok := NewDefaultTokenizer(WithSeparator("_"), WithSentenceEndRegex(`;$`))

	got := tok.Tokenize("a b; c. d")
	expected := []string{SOCToken, "a", "b;", EOCToken, SOCToken, "c.", "d", EOCToken}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Tokenize() = %q, want %q", got, expected)
	}
	if rendered := tok.Render(got); rendered != "a_b;_c._d" {
		t.Errorf("Render() = %q, want %q", rendered, "a_b;_c._d")
	}
}

func TestState(t *testing.T) {
	s := NewState("a", "b")
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if got := s.Tokens(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Tokens() = %q", got)
	}
	if next := s.Next("c"); next != NewState("b", "c") {
		t.Errorf("Next(c) = %s, want [b c]", next)
	}
	if s != NewState("a", "b") {
		t.Error("equal token tuples must be equal states")
	}
	if NewState("a b") == NewState("a", "b") {
		t.Error("states with different tokens must differ")
	}
	if BeginState(3) != NewState(SOCToken, SOCToken, SOCToken) {
		t.Errorf("BeginState(3) = %s", BeginState(3))
	}
	if BeginState(0).Len() != 0 {
		t.Error("BeginState(0) should be empty")
	}

	// Tokens returns a copy.
	tokens := s.Tokens()
	tokens[0] = "changed"
	if s.Tokens()[0] != "a" {
		t.Error("State.Tokens() must not expose internal storage")
	}
}
