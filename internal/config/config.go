// Package config loads, validates, persists and watches the nonsense
// configuration file. JSON and YAML are both accepted; the format follows
// the file extension.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/CTAG07/nonsense/pkg/markov"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendFiles  = "files"
)

// Upper bounds of the generation limits, for the configuration and for
// limits sent with API requests.
const (
	MaxReplyLength = 2000
	MaxAttempts    = 1000
)

// ValidateLimits checks l like markov.Limits.Validate and also against
// MaxReplyLength and MaxAttempts. Failures wrap markov.ErrInvalidRange.
func ValidateLimits(l markov.Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if l.MaxLength > MaxReplyLength {
		return fmt.Errorf("%w: max length %d exceeds %d", markov.ErrInvalidRange, l.MaxLength, MaxReplyLength)
	}
	if l.MaxAttempts > MaxAttempts {
		return fmt.Errorf("%w: max attempts %d exceeds %d", markov.ErrInvalidRange, l.MaxAttempts, MaxAttempts)
	}
	return nil
}

// ServerConfig holds the configuration for the HTTP API.
type ServerConfig struct {
	ApiAddr            string `json:"api_addr" yaml:"api_addr"`
	ShutdownTimeoutSec int    `json:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
}

// ModelConfig holds the settings of the live models.
type ModelConfig struct {
	// Names of the models served by `serve`. Each gets its own brain.
	Names []string `json:"names" yaml:"names"`
	// Order used for fresh models. Stored models keep their own order.
	Order       int           `json:"order" yaml:"order"`
	Limits      markov.Limits `json:"limits" yaml:"limits"`
	Temperature float64       `json:"temperature" yaml:"temperature"`
	TopK        int           `json:"top_k" yaml:"top_k"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens"`
	// AutoPost makes the brain reply after every Freq learned messages.
	AutoPost       bool   `json:"auto_post" yaml:"auto_post"`
	Freq           int    `json:"freq" yaml:"freq"`
	PingingEnabled bool   `json:"pinging_enabled" yaml:"pinging_enabled"`
	SaveEvery      int    `json:"save_every" yaml:"save_every"`
	SeedText       string `json:"seed_text" yaml:"seed_text"`
}

// StorageConfig selects where models are persisted.
type StorageConfig struct {
	Backend          string `json:"backend" yaml:"backend"`
	DatabasePath     string `json:"database_path" yaml:"database_path"`
	CheckpointDir    string `json:"checkpoint_dir" yaml:"checkpoint_dir"`
	CheckpointFormat string `json:"checkpoint_format" yaml:"checkpoint_format"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Model   ModelConfig   `json:"model" yaml:"model"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// Default creates a configuration with default values.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ApiAddr:            ":7280",
			ShutdownTimeoutSec: 10,
		},
		Model: ModelConfig{
			Names:          []string{"general"},
			Order:          1,
			Limits:         markov.DefaultLimits(),
			Temperature:    1.0,
			TopK:           0,
			MaxTokens:      1000,
			AutoPost:       true,
			Freq:           100,
			PingingEnabled: true,
			SaveEvery:      50,
			SeedText:       "Hello, I am a bot.",
		},
		Storage: StorageConfig{
			Backend:          BackendSQLite,
			DatabasePath:     "./data/nonsense.db",
			CheckpointDir:    "./data/models",
			CheckpointFormat: "json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.ApiAddr == "" {
		errs = append(errs, errors.New("server.api_addr is required"))
	}
	if c.Server.ShutdownTimeoutSec < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout_sec must not be negative"))
	}
	if len(c.Model.Names) == 0 {
		errs = append(errs, errors.New("model.names must list at least one model"))
	}
	seen := make(map[string]struct{}, len(c.Model.Names))
	for _, name := range c.Model.Names {
		if !ValidModelName(name) {
			errs = append(errs, fmt.Errorf("model name %q is invalid", name))
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("model name %q is listed twice", name))
		}
		seen[name] = struct{}{}
	}
	if c.Model.Order < 1 {
		errs = append(errs, errors.New("model.order must be at least 1"))
	}
	if err := ValidateLimits(c.Model.Limits); err != nil {
		errs = append(errs, fmt.Errorf("model.limits: %w", err))
	}
	if c.Model.TopK < 0 || c.Model.MaxTokens < 0 || c.Model.SaveEvery < 0 {
		errs = append(errs, errors.New("model.top_k, model.max_tokens and model.save_every must not be negative"))
	}
	if c.Model.Freq < 1 {
		errs = append(errs, errors.New("model.freq must be at least 1"))
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.DatabasePath == "" {
			errs = append(errs, errors.New("storage.database_path is required for the sqlite backend"))
		}
	case BackendFiles:
		if c.Storage.CheckpointDir == "" {
			errs = append(errs, errors.New("storage.checkpoint_dir is required for the files backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	switch strings.ToLower(c.Storage.CheckpointFormat) {
	case "", "json", "yaml":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.checkpoint_format %q", c.Storage.CheckpointFormat))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown logging.format %q", c.Logging.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// ValidModelName reports whether name can be used as a model name. Names
// double as file names for the files backend and as URL path segments.
func ValidModelName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Marshal encodes cfg in the format matching path.
func Marshal(path string, cfg Config) ([]byte, error) {
	if isYAML(path) {
		var buf bytes.Buffer
		encoder := yaml.NewEncoder(&buf)
		encoder.SetIndent(2)
		if err := encoder.Encode(cfg); err != nil {
			return nil, err
		}
		if err := encoder.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return json.MarshalIndent(cfg, "", "  ")
}

// Unmarshal decodes data in the format matching path on top of the
// defaults, so missing fields keep their default values.
func Unmarshal(path string, data []byte) (Config, error) {
	cfg := Default()
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Load reads the configuration at path. If the file doesn't exist, it is
// created with default values and the defaults are returned.
func Load(path string) (Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := Default()
			if err = Save(path, cfg); err != nil {
				return Config{}, fmt.Errorf("failed to write default config file: %w", err)
			}
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Unmarshal(path, file)
	if err != nil {
		return Config{}, err
	}
	if err = cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save atomically writes cfg to path.
func Save(path string, cfg Config) error {
	data, err := Marshal(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}
