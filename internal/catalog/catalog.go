// Package catalog indexes persisted episode archives in a SQLite database so
// sessions can be listed without walking the data directory.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// FileName is the catalog database file inside the data root.
const FileName = "catalog.db"

// ErrDuplicate is returned when an archive is recorded twice.
var ErrDuplicate = errors.New("catalog entry already exists")

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	session    TEXT    NOT NULL,
	counter    INTEGER NOT NULL,
	episode_id INTEGER NOT NULL,
	split      TEXT    NOT NULL,
	path       TEXT    NOT NULL,
	samples    INTEGER NOT NULL,
	saved_at   INTEGER NOT NULL,
	PRIMARY KEY (session, counter)
);
CREATE INDEX IF NOT EXISTS episodes_split ON episodes (split);
`

// Entry is one persisted archive.
type Entry struct {
	Session   string    `json:"session"`
	Counter   int       `json:"counter"`
	EpisodeID int       `json:"episode_id"`
	Split     string    `json:"split"`
	Path      string    `json:"path"`
	Samples   int       `json:"samples"`
	SavedAt   time.Time `json:"saved_at"`
}

// Store is a SQLite-backed catalog.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (creating if needed) the catalog at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Saves complete on many goroutines; a single connection serializes them.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record inserts one entry. Recording the same (session, counter) twice
// returns ErrDuplicate.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("catalog is not configured")
	}
	if strings.TrimSpace(e.Session) == "" {
		return fmt.Errorf("session is required")
	}
	if e.Counter <= 0 {
		return fmt.Errorf("counter must be greater than zero")
	}
	if e.SavedAt.IsZero() {
		e.SavedAt = time.Now()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO episodes (session, counter, episode_id, split, path, samples, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Session, e.Counter, e.EpisodeID, e.Split, e.Path, e.Samples, toMillis(e.SavedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

// List returns entries ordered by save time. An empty session lists every
// session; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, session string, limit int) ([]Entry, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("catalog is not configured")
	}
	q := `SELECT session, counter, episode_id, split, path, samples, saved_at FROM episodes`
	var args []any
	if session != "" {
		q += ` WHERE session = ?`
		args = append(args, session)
	}
	q += ` ORDER BY saved_at, session, counter`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.sqlDB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var savedAt int64
		if err := rows.Scan(&e.Session, &e.Counter, &e.EpisodeID, &e.Split, &e.Path, &e.Samples, &savedAt); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		e.SavedAt = fromMillis(savedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return out, nil
}

// Counts returns the number of archives per split.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("catalog is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT split, COUNT(*) FROM episodes GROUP BY split`)
	if err != nil {
		return nil, fmt.Errorf("count episodes: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var split string
		var n int
		if err := rows.Scan(&split, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[split] = n
	}
	return out, rows.Err()
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
