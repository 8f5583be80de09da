// Package checkpoint writes chains to files and reads them back.
//
// Files are replaced atomically, so a crash during a save leaves the previous
// checkpoint intact. The format follows the file extension: .yaml and .yml
// are YAML, anything else is JSON. JSON files written by markovify (the
// format of the legacy bot's model.json) are recognized on load.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/CTAG07/nonsense/pkg/markov"
)

// ErrNotFound is returned when a checkpoint file does not exist.
var ErrNotFound = errors.New("checkpoint: not found")

// Format is a checkpoint encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Encode writes chain in the given format.
func Encode(chain *markov.Chain, format Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatYAML:
		err = markov.ExportYAML(chain, &buf)
	default:
		err = markov.ExportJSON(chain, &buf)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a chain in the given format. JSON documents carrying a
// state_size field are decoded as markovify models.
func Decode(data []byte, format Format) (*markov.Chain, error) {
	if format == FormatYAML {
		return markov.ImportYAML(bytes.NewReader(data))
	}
	if isMarkovify(data) {
		return markov.ImportMarkovify(bytes.NewReader(data))
	}
	return markov.ImportJSON(bytes.NewReader(data))
}

func isMarkovify(data []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	_, ok := probe["state_size"]
	return ok
}

// Save atomically replaces the file at path with chain.
func Save(path string, chain *markov.Chain) error {
	data, err := Encode(chain, FormatOf(path))
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint dir: %w", err)
		}
	}
	if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// Load reads the chain stored at path. A missing file fails with
// ErrNotFound, an unreadable one with markov.ErrCorruptModel.
func Load(path string) (*markov.Chain, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return Decode(data, FormatOf(path))
}

// Dir is a model repository keeping one checkpoint file per model in a
// directory, named <model>.<format>.
type Dir struct {
	Path   string
	Format Format
}

// NewDir returns a Dir repository rooted at path.
func NewDir(path string, format Format) *Dir {
	if format == "" {
		format = FormatJSON
	}
	return &Dir{Path: path, Format: format}
}

func (d *Dir) file(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("checkpoint: invalid model name %q", name)
	}
	return filepath.Join(d.Path, name+"."+string(d.Format)), nil
}

// LoadModel reads the checkpoint of the named model.
func (d *Dir) LoadModel(_ context.Context, name string) (*markov.Chain, error) {
	path, err := d.file(name)
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// SaveModel writes the checkpoint of the named model.
func (d *Dir) SaveModel(_ context.Context, name string, chain *markov.Chain) error {
	path, err := d.file(name)
	if err != nil {
		return err
	}
	return Save(path, chain)
}

// RemoveModel deletes the checkpoint of the named model, if any.
func (d *Dir) RemoveModel(_ context.Context, name string) error {
	path, err := d.file(name)
	if err != nil {
		return err
	}
	if err = os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ListModels returns the names of the checkpoints in the directory, sorted.
func (d *Dir) ListModels(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	suffix := "." + string(d.Format)
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), suffix))
	}
	sort.Strings(names)
	return names, nil
}
