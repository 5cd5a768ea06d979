package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists poll cursors in a local SQLite database, one row per source.
type Store struct {
	db *sql.DB
}

// Open creates the database file and its directory when missing and applies the schema.
// A leading "~/" is expanded to the user's home directory.
func Open(path string) (*Store, error) {
	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func resolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path is required")
	}

	if path == "~" || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}

	return filepath.Clean(path), nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the stored cursor for source. ok is false when nothing was saved yet.
func (s *Store) Load(ctx context.Context, source string) (cursor int, ok bool, err error) {
	if s == nil || s.db == nil {
		return 0, false, errors.New("store is not initialized")
	}

	err = s.db.QueryRowContext(ctx, "SELECT cursor FROM poll_cursors WHERE source = ?", source).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load cursor: %w", err)
	}

	return cursor, true, nil
}

// Save records cursor for source. A smaller value than the stored one is ignored, so the
// persisted cursor never moves backwards.
func (s *Store) Save(ctx context.Context, source string, cursor int) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if cursor < 0 {
		return fmt.Errorf("cursor must be non-negative, got %d", cursor)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO poll_cursors(source, cursor, updated_at) VALUES(?, ?, ?)
ON CONFLICT(source) DO UPDATE SET
    cursor = MAX(poll_cursors.cursor, excluded.cursor),
    updated_at = excluded.updated_at`,
		source, cursor, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}

	return nil
}

// Reset forgets the cursor for source so the next run starts from zero.
func (s *Store) Reset(ctx context.Context, source string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM poll_cursors WHERE source = ?", source); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}

	return nil
}

// For binds the store to one source for use by the poller.
func (s *Store) For(source string) *Bound {
	return &Bound{store: s, source: source}
}

// Bound is a Store scoped to a single source.
type Bound struct {
	store  *Store
	source string
}

func (b *Bound) Load(ctx context.Context) (int, bool, error) {
	return b.store.Load(ctx, b.source)
}

func (b *Bound) Save(ctx context.Context, cursor int) error {
	return b.store.Save(ctx, b.source, cursor)
}
