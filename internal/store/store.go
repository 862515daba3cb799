// Package store persists finished analyses in SQLite, keyed by a
// deterministic content digest of the raw contract text. The same text
// always maps to the same key, so the store doubles as an idempotency
// cache: re-analyzing an unchanged contract is a lookup, not a pipeline
// run.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/logging"
	"github.com/bagautdinov-rustam-law/smart-contract-analyzer/internal/types"
)

// ErrNotFound means no analysis is stored under the given hash.
var ErrNotFound = errors.New("store: analysis not found")

// Store is the sqlite-backed analysis store.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	content_hash TEXT NOT NULL UNIQUE,
	report       TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_analyses_hash ON analyses(content_hash);
`

// Open initializes the database at path, creating directories and the
// schema as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Get(logging.CategoryStore).Debugw("set busy_timeout failed", "error", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Get(logging.CategoryStore).Debugw("set journal_mode failed", "error", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Hash returns the content digest used as the storage key.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Save upserts the report under the content hash and returns the row id.
func (s *Store) Save(hash string, report *types.AnalysisReport) (int64, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("store: marshal report: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO analyses (content_hash, report, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(content_hash)
		DO UPDATE SET report = excluded.report, updated_at = excluded.updated_at`,
		hash, string(data), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("store: save analysis: %w", err)
	}

	var id int64
	if err := s.db.QueryRow(`SELECT id FROM analyses WHERE content_hash = ?`, hash).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: read saved id: %w", err)
	}

	logging.Get(logging.CategoryStore).Infow("analysis saved", "id", id, "hash", hash[:12])
	return id, nil
}

// LoadByHash returns the stored report for a content hash, or
// ErrNotFound.
func (s *Store) LoadByHash(hash string) (*types.AnalysisReport, error) {
	var data string
	err := s.db.QueryRow(`SELECT report FROM analyses WHERE content_hash = ?`, hash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load analysis: %w", err)
	}

	var report types.AnalysisReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("store: unmarshal report: %w", err)
	}
	return &report, nil
}
