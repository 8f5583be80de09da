package markov

import (
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// mustBuild tokenizes text with the default tokenizer and builds a chain of
// the given order, failing the test on error.
func mustBuild(t testing.TB, text string, order int) *Chain {
	t.Helper()
	chain, err := Build(NewDefaultTokenizer().Tokenize(text), order)
	if err != nil {
		t.Fatalf("Build(%q, %d) error = %v", text, order, err)
	}
	return chain
}

// mustCombine combines chains, failing the test on error.
func mustCombine(t testing.TB, chains ...*Chain) *Chain {
	t.Helper()
	combined, err := Combine(chains...)
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	return combined
}

// setupTestGenerator is a convenience helper that trains a default model.
func setupTestGenerator(t *testing.T) (*Generator, *Chain) {
	t.Helper()
	g, err := NewGenerator(NewDefaultTokenizer(), 2)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	chain, err := g.Train("one fish two fish. red fish blue fish.")
	if err != nil {
		t.Fatalf("setup: Train() failed: %v", err)
	}
	return g, chain
}

var (
	benchmarkCorpus string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for benchmarking.
func createBenchmarkCorpus() string {
	corpusOnce.Do(func() {
		var sb strings.Builder
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = "this is a fallback corpus for benchmarking. it is not very long but will prevent a crash. "
				return
			}
			sb.Write(content)
			sb.WriteString("\n")
		}
		benchmarkCorpus = sb.String()
	})
	return benchmarkCorpus
}
