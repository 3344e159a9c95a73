// Package sqlite provides the durable ingestion checkpoint store.
// One row per source; SQLite's transactional writes give the atomic
// replace-on-save the resume logic depends on.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/testseek/internal/adapters/driven/checkpoint/sqlite/migrations"
	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driven"
)

// Ensure Store implements the interface.
var _ driven.CheckpointStore = (*Store)(nil)

// Store is a SQLite-backed checkpoint store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the checkpoint database.
// If path is empty, defaults to ~/.testseek/data/checkpoints.db.
func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, ".testseek", "data", "checkpoints.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// WAL mode for concurrent checkpoint reads during ingestion.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	entries, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(entries)
	for _, name := range entries {
		script, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(script)); err != nil {
			return fmt.Errorf("applying migration %s: %w", name, err)
		}
	}
	return nil
}

// Get returns the checkpoint for a source.
func (s *Store) Get(ctx context.Context, sourceID string) (*domain.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_id, last_chunk_completed, deferred_chunks,
		       docs_written, steps_written, started_at, updated_at
		FROM checkpoints WHERE source_id = ?
	`, sourceID)

	var cp domain.Checkpoint
	var deferred, startedAt, updatedAt string
	err := row.Scan(&cp.SourceID, &cp.LastChunkCompleted, &deferred,
		&cp.DocsWritten, &cp.StepsWritten, &startedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint for %q: %w", sourceID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(deferred), &cp.DeferredChunks); err != nil {
		return nil, fmt.Errorf("decoding deferred chunks: %w", err)
	}
	if cp.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if cp.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &cp, nil
}

// Save creates or replaces the checkpoint for its source.
func (s *Store) Save(ctx context.Context, cp *domain.Checkpoint) error {
	if cp == nil || cp.SourceID == "" {
		return fmt.Errorf("%w: checkpoint needs a source id", domain.ErrInvalidInput)
	}

	deferred, err := json.Marshal(cp.DeferredChunks)
	if err != nil {
		return fmt.Errorf("encoding deferred chunks: %w", err)
	}
	if cp.DeferredChunks == nil {
		deferred = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (source_id, last_chunk_completed, deferred_chunks,
		                         docs_written, steps_written, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			last_chunk_completed = excluded.last_chunk_completed,
			deferred_chunks = excluded.deferred_chunks,
			docs_written = excluded.docs_written,
			steps_written = excluded.steps_written,
			started_at = excluded.started_at,
			updated_at = excluded.updated_at
	`, cp.SourceID, cp.LastChunkCompleted, string(deferred),
		cp.DocsWritten, cp.StepsWritten,
		cp.StartedAt.UTC().Format(time.RFC3339Nano),
		cp.UpdatedAt.UTC().Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint for a source.
func (s *Store) Delete(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE source_id = ?", sourceID)
	if err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
