package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const defaultMemoryDatabase = ".relaybot/memory.db"

// SQLiteBackend keeps the document in a single-row table.
type SQLiteBackend struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool
}

// NewSQLiteBackend opens (and creates) the database at path. ":memory:" is
// accepted for tests.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	dsn := path
	if path != ":memory:" {
		resolved, err := ResolvePath(path, defaultMemoryDatabase)
		if err != nil {
			return nil, err
		}
		dsn = resolved
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive between calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memory (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			document TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context) (map[string]any, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var raw string
	err := b.db.QueryRowContext(ctx, `SELECT document FROM memory WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}

	var document map[string]any
	if err := json.Unmarshal([]byte(raw), &document); err != nil {
		return nil, fmt.Errorf("parse memory document: %w", err)
	}

	return document, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, document map[string]any) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	content, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO memory (id, document, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at
	`, string(content), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store memory: %w", err)
	}

	return nil
}

func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func (b *SQLiteBackend) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("memory database is closed")
	}
	return nil
}
