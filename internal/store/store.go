// Package store persists markov chains and API keys in a SQLite database.
//
// The store is driver agnostic: callers open the *sql.DB with whichever
// SQLite driver they registered (modernc.org/sqlite or mattn/go-sqlite3) and
// hand it to New after SetupSchema.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/CTAG07/nonsense/pkg/markov"
)

// ErrNotFound is returned when a named model does not exist.
var ErrNotFound = errors.New("store: model not found")

// SetupSchema initializes the necessary tables in the provided database.
// It is idempotent and safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {
	const (
		schemaModels = `
CREATE TABLE IF NOT EXISTS nonsense_models (
    model_id    INTEGER PRIMARY KEY,
    model_name  TEXT    NOT NULL UNIQUE,
    model_order INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL DEFAULT 0
);
`
		schemaLinks = `
CREATE TABLE IF NOT EXISTS nonsense_links (
    model_id   INTEGER NOT NULL,
    state_text TEXT    NOT NULL,
    next_token TEXT    NOT NULL,
    weight     INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (model_id, state_text, next_token)
);
`
		schemaKeys = `
CREATE TABLE IF NOT EXISTS api_keys (
    id            INTEGER   PRIMARY KEY,
    key_hash      TEXT      NOT NULL UNIQUE,
    scopes        TEXT      NOT NULL,
    description   TEXT      NOT NULL
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, schema := range []string{schemaModels, schemaLinks, schemaKeys} {
		if _, err = tx.Exec(schema); err != nil {
			return fmt.Errorf("could not create schema: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// ModelInfo holds the metadata of a stored model.
type ModelInfo struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Order     int       `json:"order"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is a model repository backed by SQL. It holds prepared statements
// for the hot paths and is safe for concurrent use.
type Store struct {
	db               *sql.DB
	stmtGetModelInfo *sql.Stmt
	stmtGetModels    *sql.Stmt
	stmtGetLinks     *sql.Stmt
	stmtUpsertModel  *sql.Stmt
	stmtInsertLink   *sql.Stmt
	stmtMergeLink    *sql.Stmt
	stmtPruneModel   *sql.Stmt
	logger           *slog.Logger
}

// New prepares every statement the store needs. SetupSchema must have been
// called on db first.
func New(db *sql.DB) (*Store, error) {
	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	statements := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.stmtGetModelInfo, `SELECT model_id, model_order, updated_at FROM nonsense_models WHERE model_name = ?;`},
		{&s.stmtGetModels, `SELECT model_id, model_name, model_order, updated_at FROM nonsense_models ORDER BY model_name;`},
		{&s.stmtGetLinks, `SELECT state_text, next_token, weight FROM nonsense_links WHERE model_id = ? ORDER BY state_text, next_token;`},
		{&s.stmtUpsertModel, `INSERT INTO nonsense_models (model_name, model_order, updated_at) VALUES (?, ?, ?)
ON CONFLICT(model_name) DO UPDATE SET model_order = excluded.model_order, updated_at = excluded.updated_at
RETURNING model_id;`},
		{&s.stmtInsertLink, `INSERT INTO nonsense_links (model_id, state_text, next_token, weight) VALUES (?, ?, ?, ?);`},
		{&s.stmtMergeLink, `INSERT INTO nonsense_links (model_id, state_text, next_token, weight) VALUES (?, ?, ?, ?)
ON CONFLICT DO UPDATE SET weight = weight + excluded.weight
WHERE weight <= 9223372036854775807 - excluded.weight;`},
		{&s.stmtPruneModel, `DELETE FROM nonsense_links WHERE model_id = ? AND weight <= ?;`},
	}
	for _, st := range statements {
		stmt, err := db.Prepare(st.query)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("could not prepare statement: %w", err)
		}
		*st.dst = stmt
	}
	return s, nil
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Close releases the prepared statements. It does not close the database.
func (s *Store) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		s.stmtGetModelInfo, s.stmtGetModels, s.stmtGetLinks, s.stmtUpsertModel,
		s.stmtInsertLink, s.stmtMergeLink, s.stmtPruneModel,
	} {
		if stmt != nil {
			errs = append(errs, stmt.Close())
		}
	}
	return errors.Join(errs...)
}

// GetModelInfo retrieves the metadata for a single model specified by name.
func (s *Store) GetModelInfo(ctx context.Context, name string) (ModelInfo, error) {
	info := ModelInfo{Name: name}
	var updated int64
	err := s.stmtGetModelInfo.QueryRowContext(ctx, name).Scan(&info.ID, &info.Order, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelInfo{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return ModelInfo{}, err
	}
	info.UpdatedAt = time.Unix(updated, 0).UTC()
	return info, nil
}

// ListModels returns the metadata of every stored model, sorted by name.
func (s *Store) ListModels(ctx context.Context) ([]ModelInfo, error) {
	rows, err := s.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := []ModelInfo{}
	for rows.Next() {
		var info ModelInfo
		var updated int64
		if err = rows.Scan(&info.ID, &info.Name, &info.Order, &updated); err != nil {
			return nil, err
		}
		info.UpdatedAt = time.Unix(updated, 0).UTC()
		models = append(models, info)
	}
	return models, rows.Err()
}

// LoadModel reads a model back into a chain. A missing model fails with
// ErrNotFound; rows that do not form a valid chain fail with
// markov.ErrCorruptModel.
func (s *Store) LoadModel(ctx context.Context, name string) (*markov.Chain, error) {
	info, err := s.GetModelInfo(ctx, name)
	if err != nil {
		return nil, err
	}

	rows, err := s.stmtGetLinks.QueryContext(ctx, info.ID)
	if err != nil {
		return nil, fmt.Errorf("could not query links for %q: %w", name, err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	exported := markov.ExportedModel{Order: info.Order, Chain: []markov.ExportedState{}}
	var current string
	for rows.Next() {
		var stateText, next string
		var weight int
		if err = rows.Scan(&stateText, &next, &weight); err != nil {
			return nil, err
		}
		if len(exported.Chain) == 0 || stateText != current {
			var tokens []string
			if err = json.Unmarshal([]byte(stateText), &tokens); err != nil {
				return nil, fmt.Errorf("%w: state %q: %v", markov.ErrCorruptModel, stateText, err)
			}
			exported.Chain = append(exported.Chain, markov.ExportedState{State: tokens, Next: map[string]int{}})
			current = stateText
		}
		exported.Chain[len(exported.Chain)-1].Next[next] = weight
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return markov.FromExported(exported)
}

// SaveModel replaces the stored model called name with chain.
func (s *Store) SaveModel(ctx context.Context, name string, chain *markov.Chain) error {
	return s.write(ctx, name, chain, false)
}

// MergeModel adds the weights of chain to the stored model called name,
// creating it if needed. Merging a chain of a different order fails with a
// *markov.OrderMismatchError, and a merge that would push the total weight of
// a state past math.MaxInt fails with markov.ErrWeightOverflow. A failed
// merge leaves the stored model untouched.
func (s *Store) MergeModel(ctx context.Context, name string, chain *markov.Chain) error {
	return s.write(ctx, name, chain, true)
}

func (s *Store) write(ctx context.Context, name string, chain *markov.Chain, merge bool) error {
	if chain == nil || chain.Order() < 1 {
		return markov.ErrInvalidOrder
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if merge {
		var existing int
		err = tx.QueryRowContext(ctx, `SELECT model_order FROM nonsense_models WHERE model_name = ?`, name).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		case existing != chain.Order():
			return &markov.OrderMismatchError{Want: existing, Got: chain.Order()}
		}
	}

	var modelID int
	if err = tx.StmtContext(ctx, s.stmtUpsertModel).QueryRowContext(ctx, name, chain.Order(), time.Now().Unix()).Scan(&modelID); err != nil {
		return fmt.Errorf("could not upsert model %q: %w", name, err)
	}

	linkStmt := tx.StmtContext(ctx, s.stmtMergeLink)
	if !merge {
		if _, err = tx.ExecContext(ctx, `DELETE FROM nonsense_links WHERE model_id = ?`, modelID); err != nil {
			return fmt.Errorf("could not clear links of %q: %w", name, err)
		}
		linkStmt = tx.StmtContext(ctx, s.stmtInsertLink)
	}

	links := 0
	for _, state := range chain.States() {
		stateText, err := json.Marshal(state.Tokens())
		if err != nil {
			return err
		}
		for _, t := range chain.Transitions(state) {
			res, err := linkStmt.ExecContext(ctx, modelID, string(stateText), t.Token, t.Weight)
			if err != nil {
				return fmt.Errorf("could not write link: %w", err)
			}
			// The guarded upsert skips the row instead of overflowing.
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("%w: state %s of %q", markov.ErrWeightOverflow, state, name)
			}
			links++
		}
	}

	if merge {
		if err = checkStateTotals(ctx, tx, modelID); err != nil {
			return fmt.Errorf("%w of %q", err, name)
		}
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "Model written",
		slog.String("model_name", name),
		slog.Int("model_id", modelID),
		slog.Int("links", links),
		slog.Bool("merge", merge),
	)
	return nil
}

// checkStateTotals fails with markov.ErrWeightOverflow when the outgoing
// weights of a stored state no longer fit in an int.
func checkStateTotals(ctx context.Context, tx *sql.Tx, modelID int) error {
	rows, err := tx.QueryContext(ctx, `SELECT state_text, weight FROM nonsense_links WHERE model_id = ? ORDER BY state_text;`, modelID)
	if err != nil {
		return err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var current string
	total := 0
	for rows.Next() {
		var stateText string
		var weight int
		if err = rows.Scan(&stateText, &weight); err != nil {
			return err
		}
		if stateText != current {
			current, total = stateText, 0
		}
		if weight > math.MaxInt-total {
			return fmt.Errorf("%w: state %s", markov.ErrWeightOverflow, stateText)
		}
		total += weight
	}
	return rows.Err()
}

// RemoveModel deletes a model and all of its links. Removing a model that
// does not exist is not an error.
func (s *Store) RemoveModel(ctx context.Context, name string) error {
	info, err := s.GetModelInfo(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM nonsense_links WHERE model_id = ?", info.ID); err != nil {
		return fmt.Errorf("failed to remove links for model %d: %w", info.ID, err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM nonsense_models WHERE model_id = ?", info.ID); err != nil {
		return fmt.Errorf("failed to remove model %d: %w", info.ID, err)
	}

	s.logger.InfoContext(ctx, "Model removed successfully",
		slog.String("model_name", name),
		slog.Int("model_id", info.ID),
	)
	return tx.Commit()
}

// PruneModel deletes the stored links of a model whose weight is less than
// or equal to minWeight and returns how many were removed.
func (s *Store) PruneModel(ctx context.Context, name string, minWeight int) (int64, error) {
	info, err := s.GetModelInfo(ctx, name)
	if err != nil {
		return 0, err
	}
	res, err := s.stmtPruneModel.ExecContext(ctx, info.ID, minWeight)
	if err != nil {
		return 0, err
	}
	removed, _ := res.RowsAffected()
	s.logger.InfoContext(ctx, "Model pruned",
		slog.String("model_name", name),
		slog.Int("min_weight", minWeight),
		slog.Int64("links_removed", removed),
	)
	return removed, nil
}

// GetStats computes the statistics of a stored model in SQL, without
// loading it.
func (s *Store) GetStats(ctx context.Context, name string) (markov.Stats, error) {
	info, err := s.GetModelInfo(ctx, name)
	if err != nil {
		return markov.Stats{}, err
	}

	stats := markov.Stats{Order: info.Order}
	err = s.db.QueryRowContext(ctx, `
SELECT COUNT(DISTINCT state_text), COUNT(*), coalesce(SUM(weight), 0)
FROM nonsense_links WHERE model_id = ?`, info.ID).Scan(&stats.States, &stats.Transitions, &stats.TotalWeight)
	if err != nil {
		return markov.Stats{}, err
	}

	begin, err := json.Marshal(markov.BeginState(info.Order).Tokens())
	if err != nil {
		return markov.Stats{}, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nonsense_links WHERE model_id = ? AND state_text = ?`,
		info.ID, string(begin)).Scan(&stats.StartingTokens)
	if err != nil {
		return markov.Stats{}, err
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT next_token) FROM nonsense_links WHERE model_id = ? AND next_token NOT IN (?, ?)`,
		info.ID, markov.SOCToken, markov.EOCToken).Scan(&stats.Vocabulary)
	if err != nil {
		return markov.Stats{}, err
	}
	return stats, nil
}
