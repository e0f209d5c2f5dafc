package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/bankfeed/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
)

// Store is a unified SQLite-based storage that provides access to
// all metadata store interfaces through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.bankfeed/data/bankfeed.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".bankfeed", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "bankfeed.db")

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ConnectorStore returns a ConnectorStore interface backed by this store.
func (s *Store) ConnectorStore() driven.ConnectorStore {
	return &connectorStore{store: s}
}

// SyncStateStore returns a SyncStateStore interface backed by this store.
func (s *Store) SyncStateStore() driven.SyncStateStore {
	return &syncStateStore{store: s}
}

// ImportLogStore returns an ImportLogStore interface backed by this store.
func (s *Store) ImportLogStore() driven.ImportLogStore {
	return &importLogStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	// Find all up migrations
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort and run migrations
	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		if version <= currentVersion {
			continue // Already applied
		}

		// Read and execute migration
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Connector Store ====================

// connectorStore implements driven.ConnectorStore.
type connectorStore struct {
	store *Store
}

var _ driven.ConnectorStore = (*connectorStore)(nil)

// Save stores or updates a connector.
func (s *connectorStore) Save(ctx context.Context, c domain.Connector) error {
	configJSON, err := json.Marshal(c.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO connectors (id, type, name, config, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			config = excluded.config,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, c.ID, c.Type, c.Name, string(configJSON), c.LastError, c.CreatedAt, c.UpdatedAt)

	if err != nil {
		return fmt.Errorf("saving connector: %w", err)
	}
	return nil
}

// Get retrieves a connector by ID.
func (s *connectorStore) Get(ctx context.Context, id string) (*domain.Connector, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, type, name, config, last_error, created_at, updated_at
		FROM connectors WHERE id = ?
	`, id)

	c, err := scanConnector(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning connector: %w", err)
	}
	return c, nil
}

// Delete removes a connector.
func (s *connectorStore) Delete(ctx context.Context, id string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM connectors WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting connector: %w", err)
	}
	return nil
}

// List returns all configured connectors ordered by creation time.
func (s *connectorStore) List(ctx context.Context) ([]domain.Connector, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, type, name, config, last_error, created_at, updated_at
		FROM connectors ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("querying connectors: %w", err)
	}
	defer rows.Close()

	var connectors []domain.Connector //nolint:prealloc // size unknown from query
	for rows.Next() {
		c, err := scanConnector(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning connector: %w", err)
		}
		connectors = append(connectors, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connectors: %w", err)
	}

	return connectors, nil
}

// scanConnector reads one connector row via the given Scan function.
func scanConnector(scan func(dest ...any) error) (*domain.Connector, error) {
	var c domain.Connector
	var configJSON string
	var createdAt, updatedAt sql.NullTime
	if err := scan(&c.ID, &c.Type, &c.Name, &configJSON, &c.LastError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(configJSON), &c.Config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if createdAt.Valid {
		c.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		c.UpdatedAt = updatedAt.Time
	}
	return &c, nil
}

// ==================== Sync State Store ====================

// syncStateStore implements driven.SyncStateStore.
type syncStateStore struct {
	store *Store
}

var _ driven.SyncStateStore = (*syncStateStore)(nil)

// Save stores or updates sync state.
func (s *syncStateStore) Save(ctx context.Context, state domain.SyncState) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO sync_states (connector_id, last_start, last_end, last_fetch)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(connector_id) DO UPDATE SET
			last_start = excluded.last_start,
			last_end = excluded.last_end,
			last_fetch = excluded.last_fetch
	`, state.ConnectorID, state.LastStart, state.LastEnd, state.LastFetch)

	if err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}
	return nil
}

// Get retrieves sync state for a connector.
func (s *syncStateStore) Get(ctx context.Context, connectorID string) (*domain.SyncState, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT connector_id, last_start, last_end, last_fetch
		FROM sync_states WHERE connector_id = ?
	`, connectorID)

	var state domain.SyncState
	var lastStart, lastEnd, lastFetch sql.NullTime
	if err := row.Scan(&state.ConnectorID, &lastStart, &lastEnd, &lastFetch); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning sync state: %w", err)
	}

	if lastStart.Valid {
		state.LastStart = lastStart.Time
	}
	if lastEnd.Valid {
		state.LastEnd = lastEnd.Time
	}
	if lastFetch.Valid {
		state.LastFetch = lastFetch.Time
	}
	return &state, nil
}

// Delete removes sync state for a connector.
func (s *syncStateStore) Delete(ctx context.Context, connectorID string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM sync_states WHERE connector_id = ?", connectorID)
	if err != nil {
		return fmt.Errorf("deleting sync state: %w", err)
	}
	return nil
}

// ==================== Import Log Store ====================

// importLogStore implements driven.ImportLogStore.
type importLogStore struct {
	store *Store
}

var _ driven.ImportLogStore = (*importLogStore)(nil)

// Record stores one completed import batch.
func (s *importLogStore) Record(ctx context.Context, rec domain.ImportRecord) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO import_batches (id, path, total_rows, imported, skipped, errors, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Path, rec.Stats.TotalRows, rec.Stats.Imported, rec.Stats.Skipped,
		rec.Stats.Errors, rec.ImportedAt)

	if err != nil {
		return fmt.Errorf("recording import batch: %w", err)
	}
	return nil
}

// List returns the most recent batches, newest first.
func (s *importLogStore) List(ctx context.Context, limit int) ([]domain.ImportRecord, error) {
	query := `
		SELECT id, path, total_rows, imported, skipped, errors, imported_at
		FROM import_batches ORDER BY imported_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying import batches: %w", err)
	}
	defer rows.Close()

	var records []domain.ImportRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		var rec domain.ImportRecord
		var importedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Path, &rec.Stats.TotalRows, &rec.Stats.Imported,
			&rec.Stats.Skipped, &rec.Stats.Errors, &importedAt); err != nil {
			return nil, fmt.Errorf("scanning import batch: %w", err)
		}
		if importedAt.Valid {
			rec.ImportedAt = importedAt.Time
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating import batches: %w", err)
	}

	return records, nil
}
