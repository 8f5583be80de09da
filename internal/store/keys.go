package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// MasterScope grants every permission.
const MasterScope = "*"

var (
	// ErrKeyNotFound is returned when no API key matches.
	ErrKeyNotFound = errors.New("store: api key not found")
	// ErrPrimaryKey is returned when deleting the first master key.
	ErrPrimaryKey = errors.New("store: cannot delete the primary master key")
)

// APIKey is the public view of a stored key. The raw key is never stored.
type APIKey struct {
	ID          int      `json:"id"`
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CountKeys returns the number of stored API keys.
func (s *Store) CountKeys(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_keys").Scan(&count)
	return count, err
}

// CreateKey generates and stores a new key, returning the raw key once.
// The first key created is always given the master scope, no matter what,
// so the API cannot be locked out of its own permissions.
func (s *Store) CreateKey(ctx context.Context, scopes []string, description string) (string, APIKey, error) {
	rawKey, err := generateAPIKey()
	if err != nil {
		return "", APIKey{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", APIKey{}, err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var keyCount int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_keys").Scan(&keyCount); err != nil {
		return "", APIKey{}, err
	}
	scopesStr := strings.Join(scopes, " ")
	if keyCount == 0 {
		scopesStr = MasterScope
	}

	key := APIKey{Description: description, Scopes: strings.Fields(scopesStr)}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO api_keys (key_hash, description, scopes) VALUES (?, ?, ?) RETURNING id`,
		hashAPIKey(rawKey), description, scopesStr).Scan(&key.ID)
	if err != nil {
		return "", APIKey{}, fmt.Errorf("failed to save new key: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return "", APIKey{}, err
	}

	s.logger.InfoContext(ctx, "API key created", slog.Int("key_id", key.ID), slog.String("scopes", scopesStr))
	return rawKey, key, nil
}

// LookupScopes returns the scopes of the key matching rawKey.
func (s *Store) LookupScopes(ctx context.Context, rawKey string) ([]string, error) {
	var scopesStr string
	err := s.db.QueryRowContext(ctx, "SELECT scopes FROM api_keys WHERE key_hash = ?", hashAPIKey(rawKey)).Scan(&scopesStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return strings.Fields(scopesStr), nil
}

// ListKeys returns every stored key, ordered by ID.
func (s *Store) ListKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, description, scopes FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	keys := []APIKey{}
	for rows.Next() {
		var key APIKey
		var scopesStr string
		if err = rows.Scan(&key.ID, &key.Description, &scopesStr); err != nil {
			return nil, err
		}
		key.Scopes = strings.Fields(scopesStr)
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteKey removes a key by ID. The primary master key (ID 1) cannot be
// deleted.
func (s *Store) DeleteKey(ctx context.Context, id int) error {
	if id == 1 {
		return ErrPrimaryKey
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		return err
	}
	if rowsAffected, _ := res.RowsAffected(); rowsAffected == 0 {
		return ErrKeyNotFound
	}
	s.logger.InfoContext(ctx, "API key deleted", slog.Int("key_id", id))
	return nil
}

func generateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return "nons_" + hex.EncodeToString(bytes), nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
