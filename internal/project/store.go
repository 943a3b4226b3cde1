// Package project is the story-writing domain layer: a SQLite store for
// projects, factions, characters, traits, relationships, acts, scenes and
// dialogue lines. Every mutation bumps the project revision, which the
// suggestion engine uses to detect stale offers.
package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is swapped by tests that assert on timestamps.
var timeNow = time.Now

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	ErrInvalid   = errors.New("invalid input")
)

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds project store configuration.
type Config struct {
	DataDir string
	// InMemory keeps the database in memory; DataDir is ignored.
	InMemory bool
}

// DefaultConfig stores the database under ~/.plotline.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{DataDir: filepath.Join(home, ".plotline")}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the project database.
type Store struct {
	db  *sql.DB
	cfg Config

	mu    sync.RWMutex
	hooks []func(projectID string)
}

// New opens (creating if needed) the database and applies migrations.
func New(cfg Config) (*Store, error) {
	dsn := ":memory:"
	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("project: create data dir: %w", err)
		}
		dsn = filepath.Join(cfg.DataDir, "plotline.db")
	}

	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("project: open database: %w", err)
	}
	if cfg.InMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	if !cfg.InMemory {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("project: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("project: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnChange registers fn to run after every committed mutation.
func (s *Store) OnChange(fn func(projectID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Store) changed(projectID string) {
	s.mu.RLock()
	hooks := append([]func(string){}, s.hooks...)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(projectID)
	}
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			genre      TEXT NOT NULL DEFAULT '',
			theme      TEXT NOT NULL DEFAULT '',
			concept    TEXT NOT NULL DEFAULT '',
			overview   TEXT NOT NULL DEFAULT '',
			revision   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS factions (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name        TEXT NOT NULL COLLATE NOCASE,
			description TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			UNIQUE (project_id, name)
		);

		CREATE TABLE IF NOT EXISTS characters (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name       TEXT NOT NULL COLLATE NOCASE,
			type       TEXT NOT NULL DEFAULT 'major',
			faction_id TEXT REFERENCES factions(id) ON DELETE SET NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (project_id, name)
		);

		CREATE TABLE IF NOT EXISTS traits (
			id           TEXT PRIMARY KEY,
			character_id TEXT NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
			type         TEXT NOT NULL COLLATE NOCASE,
			label        TEXT NOT NULL DEFAULT '',
			description  TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,
			UNIQUE (character_id, type)
		);

		CREATE TABLE IF NOT EXISTS relationships (
			id           TEXT PRIMARY KEY,
			character_id TEXT NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
			other_id     TEXT NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
			type         TEXT NOT NULL DEFAULT 'friend',
			description  TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS acts (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			position    INTEGER NOT NULL,
			created_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS scenes (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			act_id      TEXT NOT NULL REFERENCES acts(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			position    INTEGER NOT NULL,
			created_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS lines (
			id           TEXT PRIMARY KEY,
			scene_id     TEXT NOT NULL REFERENCES scenes(id) ON DELETE CASCADE,
			character_id TEXT REFERENCES characters(id) ON DELETE SET NULL,
			text         TEXT NOT NULL,
			tone         TEXT NOT NULL DEFAULT '',
			position     INTEGER NOT NULL,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_characters_project ON characters(project_id);
		CREATE INDEX IF NOT EXISTS idx_traits_character  ON traits(character_id);
		CREATE INDEX IF NOT EXISTS idx_rel_character     ON relationships(character_id);
		CREATE INDEX IF NOT EXISTS idx_scenes_project    ON scenes(project_id);
		CREATE INDEX IF NOT EXISTS idx_lines_scene       ON lines(scene_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Mutation helpers ────────────────────────────────────────────────────────

// mutate runs fn inside a transaction after bumping the project revision,
// then fires the change hooks once the transaction commits.
func (s *Store) mutate(ctx context.Context, projectID string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET revision = revision + 1, updated_at = ? WHERE id = ?`,
		now(), projectID)
	if err != nil {
		return fmt.Errorf("bumping revision: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.changed(projectID)
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func now() string {
	return timeNow().UTC().Format(time.RFC3339Nano)
}

func newID() string {
	return uuid.NewString()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func clean(s string) string {
	return strings.TrimSpace(s)
}
