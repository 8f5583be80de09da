package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager handles thread-safe access to the configuration, persists updates
// and reloads the file when it changes on disk.
type Manager struct {
	mu        sync.RWMutex
	config    Config
	path      string
	logger    *slog.Logger
	listeners []func(Config)
	debounce  time.Duration
}

// NewManager loads the config at path and initializes the manager.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{
		config:   cfg,
		path:     path,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		debounce: 250 * time.Millisecond,
	}, nil
}

// SetLogger sets the logger used to report reloads.
func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.mu.Lock()
		m.logger = logger
		m.mu.Unlock()
	}
}

// Path returns the path of the config file.
func (m *Manager) Path() string {
	return m.path
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := m.config
	cfg.Model.Names = slices.Clone(m.config.Model.Names)
	return cfg
}

// OnChange registers fn to be called with the new configuration after every
// accepted change, whether it came from Update or from the file.
func (m *Manager) OnChange(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Update validates newConfig, saves it to disk and applies it.
func (m *Manager) Update(newConfig Config) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}
	if err := Save(m.path, newConfig); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	m.apply(newConfig)
	return nil
}

// Reload reads the file again and applies it if it is valid. An invalid
// file leaves the current configuration in place.
func (m *Manager) Reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Unmarshal(m.path, data)
	if err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return err
	}
	m.apply(cfg)
	return nil
}

func (m *Manager) apply(cfg Config) {
	m.mu.Lock()
	if reflect.DeepEqual(m.config, cfg) {
		m.mu.Unlock()
		return
	}
	m.config = cfg
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(m.Get())
	}
}

// Watch reloads the configuration whenever the file changes, until ctx is
// cancelled. Bursts of events are debounced. The parent directory is watched
// rather than the file, since atomic writes replace the file.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func(watcher *fsnotify.Watcher) {
		_ = watcher.Close()
	}(watcher)

	dir := filepath.Dir(m.path)
	if err = watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(m.path)

	m.mu.RLock()
	logger := m.logger
	m.mu.RUnlock()
	logger.Debug("Watching config file", slog.String("path", m.path))

	timer := time.NewTimer(m.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(m.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", slog.Any("error", err))

		case <-timer.C:
			if err := m.Reload(); err != nil {
				logger.Warn("Config reload rejected, keeping current configuration", slog.Any("error", err))
				continue
			}
			logger.Info("Config reloaded", slog.String("path", m.path))
		}
	}
}
