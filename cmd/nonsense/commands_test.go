package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CTAG07/nonsense/internal/config"
	"github.com/CTAG07/nonsense/pkg/markov"
)

// runCLI executes the root command and returns what it printed to stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Backend = backend
	cfg.Storage.DatabasePath = filepath.Join(dir, "data", "nonsense.db")
	cfg.Storage.CheckpointDir = filepath.Join(dir, "data", "models")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path
}

func TestCommands(t *testing.T) {
	for _, backend := range []string{config.BackendSQLite, config.BackendFiles} {
		t.Run(backend, func(t *testing.T) {
			configPath := writeTestConfig(t, backend)
			dir := filepath.Dir(configPath)

			corpus := filepath.Join(dir, "corpus.txt")
			require.NoError(t, os.WriteFile(corpus, []byte("one fish two fish.\n/skip me\n\n"), 0o644))

			out, err := runCLI(t, "", "train", "--config", configPath, "general", corpus)
			require.NoError(t, err)
			var trained markov.Stats
			require.NoError(t, json.Unmarshal([]byte(out), &trained))
			assert.Equal(t, 2, trained.StartingTokens, "seed sentence plus the corpus")

			out, err = runCLI(t, "red fish blue fish.\n", "train", "-c", configPath, "general")
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal([]byte(out), &trained))
			assert.Equal(t, 3, trained.StartingTokens)

			out, err = runCLI(t, "", "generate", "-c", configPath, "--start", "one", "--seed", "7", "general")
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(out, "one fish "), out)

			out, err = runCLI(t, "", "generate", "-c", configPath, "-n", "3", "--temperature", "0", "--start", "red", "general")
			require.NoError(t, err)
			assert.Equal(t, 3, strings.Count(out, "\n"))

			// Nothing fits, so nothing is printed.
			out, err = runCLI(t, "", "generate", "-c", configPath, "--min", "500", "--max", "600", "general")
			require.NoError(t, err)
			assert.Empty(t, out)

			_, err = runCLI(t, "", "generate", "-c", configPath, "missing")
			assert.Error(t, err)

			out, err = runCLI(t, "", "stats", "-c", configPath)
			require.NoError(t, err)
			var all map[string]markov.Stats
			require.NoError(t, json.Unmarshal([]byte(out), &all))
			require.Contains(t, all, "general")
			assert.Equal(t, trained, all["general"])

			exported := filepath.Join(dir, "general.yaml")
			_, err = runCLI(t, "", "export", "-c", configPath, "-o", exported, "general")
			require.NoError(t, err)
			assert.FileExists(t, exported)

			out, err = runCLI(t, "", "export", "-c", configPath, "general")
			require.NoError(t, err)
			fromStdout, err := markov.ImportJSON(strings.NewReader(out))
			require.NoError(t, err)
			assert.Equal(t, trained, fromStdout.Stats())

			out, err = runCLI(t, "", "import", "-c", configPath, "copy", exported)
			require.NoError(t, err)
			var imported markov.Stats
			require.NoError(t, json.Unmarshal([]byte(out), &imported))
			assert.Equal(t, trained, imported)

			out, err = runCLI(t, "", "import", "-c", configPath, "copy", exported)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal([]byte(out), &imported))
			assert.Equal(t, 2*trained.TotalWeight, imported.TotalWeight, "import merges by default")
			assert.Equal(t, trained.Transitions, imported.Transitions)

			out, err = runCLI(t, "", "import", "-c", configPath, "--replace", "copy", exported)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal([]byte(out), &imported))
			assert.Equal(t, trained, imported)

			// Only "fish." -> END was learned twice.
			out, err = runCLI(t, "", "prune", "-c", configPath, "--min-weight", "1", "general")
			require.NoError(t, err)
			var pruned markov.Stats
			require.NoError(t, json.Unmarshal([]byte(out), &pruned))
			assert.Equal(t, 1, pruned.Transitions)
			assert.Equal(t, 2, pruned.TotalWeight)

			_, err = runCLI(t, "", "prune", "-c", configPath, "--min-weight", "0", "general")
			assert.Error(t, err)
		})
	}
}
