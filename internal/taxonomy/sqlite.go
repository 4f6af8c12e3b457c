// Package taxonomy provides a read-only ICD-10 hierarchy oracle backed by a
// local SQLite snapshot: parent, ancestor, child and sibling queries on a
// code.
package taxonomy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
)

// Entry kinds in the snapshot. Chapters and ranges are grouping nodes; a
// shared parent of that kind does not make two codes clinical siblings.
const (
	KindChapter     = "chapter"
	KindRange       = "range"
	KindCategory    = "category"
	KindSubcategory = "subcategory"
)

// Entry is one node of the ICD-10 hierarchy.
type Entry struct {
	Code   string
	Parent string
	Kind   string
	Title  string
}

// Store is a SQLite-backed ICD-10 taxonomy oracle.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if needed) the taxonomy database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent readers during the worker-pool phase.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// NewStoreWithDB wraps an existing database handle; used by tests.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// createSchema creates the taxonomy table and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS icd10_codes (
		code TEXT PRIMARY KEY,
		parent_code TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'category',
		title TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_icd10_parent ON icd10_codes(parent_code);
	`
	_, err := db.Exec(schema)
	return err
}

// Upsert inserts or replaces one taxonomy entry; used when seeding the
// snapshot from a published ICD-10 release.
func (s *Store) Upsert(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO icd10_codes (code, parent_code, kind, title)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			parent_code = excluded.parent_code,
			kind = excluded.kind,
			title = excluded.title`,
		e.Code, e.Parent, e.Kind, e.Title)
	if err != nil {
		return fmt.Errorf("upserting code %s: %w", e.Code, err)
	}
	return nil
}

// Get returns the entry for a code, or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, code string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT code, parent_code, kind, title FROM icd10_codes WHERE code = ?`, code)

	var e Entry
	if err := row.Scan(&e.Code, &e.Parent, &e.Kind, &e.Title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("code %s: %w", code, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("querying code %s: %w", code, err)
	}
	return &e, nil
}

// Parent returns the immediate parent code, or "" when the code is a root
// chapter.
func (s *Store) Parent(ctx context.Context, code string) (string, error) {
	e, err := s.Get(ctx, code)
	if err != nil {
		return "", err
	}
	return e.Parent, nil
}

// Parents returns the ancestor chain in immediate-to-root order: the first
// element is the direct parent, the last is the chapter.
func (s *Store) Parents(ctx context.Context, code string) ([]string, error) {
	var chain []string
	current := code
	// Bounded walk; the ICD-10 hierarchy is at most a handful of levels
	// deep, the limit only guards against a corrupted snapshot cycle.
	for depth := 0; depth < 16; depth++ {
		parent, err := s.Parent(ctx, current)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) && len(chain) > 0 {
				// Parent missing from the snapshot; stop the walk.
				return chain, nil
			}
			return nil, err
		}
		if parent == "" {
			return chain, nil
		}
		chain = append(chain, parent)
		current = parent
	}
	return nil, fmt.Errorf("parent chain for %s exceeds depth limit", code)
}

// Children returns the direct children of a code.
func (s *Store) Children(ctx context.Context, code string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code FROM icd10_codes WHERE parent_code = ? ORDER BY code`, code)
	if err != nil {
		return nil, fmt.Errorf("querying children of %s: %w", code, err)
	}
	defer rows.Close()

	var children []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scanning child of %s: %w", code, err)
		}
		children = append(children, c)
	}
	return children, rows.Err()
}

// Siblings returns the codes sharing the immediate parent, excluding the
// code itself. Codes whose shared parent is a chapter or range grouping are
// not reported as siblings.
func (s *Store) Siblings(ctx context.Context, code string) ([]string, error) {
	e, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if e.Parent == "" {
		return nil, nil
	}

	parent, err := s.Get(ctx, e.Parent)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if parent.Kind == KindChapter || parent.Kind == KindRange {
		return nil, nil
	}

	children, err := s.Children(ctx, e.Parent)
	if err != nil {
		return nil, err
	}

	siblings := make([]string, 0, len(children))
	for _, c := range children {
		if c != code {
			siblings = append(siblings, c)
		}
	}
	return siblings, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
