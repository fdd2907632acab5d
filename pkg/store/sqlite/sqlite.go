// Package sqlite provides the SQLite implementation of store.Store.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gsambyal/h2inspect/pkg/model"
	"github.com/gsambyal/h2inspect/pkg/store"
)

// Config holds configuration for the SQLite store.
type Config struct {
	// Path to the SQLite database file.
	DBPath string

	// WAL enables WAL mode for better concurrency.
	WAL bool
}

// SQLiteStore is the SQLite implementation of store.Store.
type SQLiteStore struct {
	db   *sql.DB
	path string

	// Write transaction state
	mu    sync.Mutex
	tx    *sql.Tx
	stmts map[string]*sql.Stmt // Prepared statements within tx
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store.
func New(cfg Config) (*SQLiteStore, error) {
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := cfg.DBPath + "?_foreign_keys=on"
	if cfg.WAL {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer is best for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{
		db:    db,
		path:  cfg.DBPath,
		stmts: make(map[string]*sql.Stmt),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) initSchema() error {
	schema := `
-- Transactions table (request/response pairs, HTTP/1-shaped)
CREATE TABLE IF NOT EXISTS transactions (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	flow_key            TEXT NOT NULL,
	request_line        TEXT NOT NULL,
	response_line       TEXT,
	method              TEXT,
	authority           TEXT,
	path                TEXT,
	status              INTEGER,
	request_body_bytes  INTEGER NOT NULL DEFAULT 0,
	response_body_bytes INTEGER NOT NULL DEFAULT 0,
	pushed              INTEGER NOT NULL DEFAULT 0,
	timestamp_ns        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_flow ON transactions(flow_key);

-- Events table (protocol findings)
CREATE TABLE IF NOT EXISTS events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	flow_key     TEXT NOT NULL,
	side         TEXT NOT NULL,
	code         TEXT NOT NULL,
	severity     TEXT NOT NULL,
	timestamp_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_flow ON events(flow_key);
CREATE INDEX IF NOT EXISTS idx_events_code ON events(code);
`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	if _, err := s.db.Exec("CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT)"); err != nil {
		return err
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)",
		fmt.Sprint(store.SchemaVersion))
	return err
}

// BeginBatch starts a batch write transaction.
func (s *SQLiteStore) BeginBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return fmt.Errorf("batch already in progress")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	s.tx = tx
	return nil
}

// CommitBatch commits the current batch.
func (s *SQLiteStore) CommitBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}
	for key, stmt := range s.stmts {
		stmt.Close()
		delete(s.stmts, key)
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// prepare caches a prepared statement within the current batch.
func (s *SQLiteStore) prepare(key, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmts[key]; ok {
		return stmt, nil
	}
	stmt, err := s.tx.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.stmts[key] = stmt
	return stmt, nil
}

// InsertTransaction inserts a transaction record.
func (s *SQLiteStore) InsertTransaction(t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}
	stmt, err := s.prepare("insert_transaction", `
		INSERT INTO transactions
		(flow_key, request_line, response_line, method, authority, path, status,
		 request_body_bytes, response_body_bytes, pushed, timestamp_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare transaction insert: %w", err)
	}
	_, err = stmt.Exec(t.FlowKey, t.RequestLine, t.ResponseLine, t.Method,
		t.Authority, t.Path, t.Status, t.RequestBodyBytes, t.ResponseBodyBytes,
		boolToInt(t.Pushed), t.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// InsertEvent inserts a finding record.
func (s *SQLiteStore) InsertEvent(e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}
	stmt, err := s.prepare("insert_event", `
		INSERT INTO events (flow_key, side, code, severity, timestamp_ns)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	if _, err := stmt.Exec(e.FlowKey, e.Side, e.Code, e.Severity, e.Timestamp.UnixNano()); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
