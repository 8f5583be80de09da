package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/CTAG07/nonsense/internal/brain"
	"github.com/CTAG07/nonsense/internal/checkpoint"
	"github.com/CTAG07/nonsense/internal/config"
	"github.com/CTAG07/nonsense/internal/store"
)

// modelRepository is where models live between runs.
type modelRepository interface {
	brain.Repository
	RemoveModel(ctx context.Context, name string) error
	ListModels(ctx context.Context) ([]string, error)
}

// sqliteModels lists models by name on top of the SQLite store.
type sqliteModels struct {
	*store.Store
}

func (s sqliteModels) ListModels(ctx context.Context) ([]string, error) {
	infos, err := s.Store.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names, nil
}

// Storage bundles the database (always used for API keys) and the model
// repository selected by the configuration.
type Storage struct {
	db     *sql.DB
	store  *store.Store
	models modelRepository
}

func openStorage(cfg config.StorageConfig, logger *slog.Logger) (*Storage, error) {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := initDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = store.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}
	st, err := store.New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	st.SetLogger(logger)

	s := &Storage{db: db, store: st}
	switch cfg.Backend {
	case config.BackendFiles:
		s.models = checkpoint.NewDir(cfg.CheckpointDir, checkpoint.Format(cfg.CheckpointFormat))
	default:
		s.models = sqliteModels{st}
	}
	logger.Debug("Storage opened", "backend", cfg.Backend, "database_path", cfg.DatabasePath)
	return s, nil
}

// Close releases the store and closes the database.
func (s *Storage) Close() error {
	return errors.Join(s.store.Close(), s.db.Close())
}
