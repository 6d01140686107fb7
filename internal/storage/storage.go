// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Common errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// DBFileName is the database file inside the data directory.
const DBFileName = "klingsign.db"

// Storage provides persistent storage for the signing daemon.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Settings/config table
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- Keyring accounts. Root accounts carry their encrypted mnemonic;
	-- derived accounts point at their parent.
	CREATE TABLE IF NOT EXISTS accounts (
		address TEXT PRIMARY KEY,
		name TEXT,
		kind TEXT NOT NULL,                 -- local, qr, hardware, watch
		chain_type TEXT NOT NULL,           -- evm, substrate
		parent_address TEXT,
		derivation_path TEXT,
		derivation_index INTEGER DEFAULT 0,
		keystore TEXT,                      -- encrypted seed JSON (root accounts only)
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_parent ON accounts(parent_address);

	-- Pending request journal. Every state transition is written here so
	-- the UI can show history and a restart can expire stale entries.
	CREATE TABLE IF NOT EXISTS pending_requests (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payload TEXT,                       -- original request JSON
		result TEXT,                        -- resolution JSON
		reason TEXT,                        -- cancelled, rejected, failed, expired
		error_message TEXT,
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_status ON pending_requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_kind ON pending_requests(kind, status);

	-- Submitted transaction history
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		chain TEXT NOT NULL,
		address TEXT NOT NULL,
		extrinsic_type TEXT NOT NULL,
		chain_type TEXT NOT NULL DEFAULT '',
		hash TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		amount TEXT,
		fee TEXT,
		start_height INTEGER DEFAULT 0,
		block_number INTEGER DEFAULT 0,
		finalized INTEGER DEFAULT 0,
		error_message TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_address ON transactions(address);
	CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
	CREATE INDEX IF NOT EXISTS idx_transactions_hash ON transactions(hash);

	-- WalletConnect sessions approved by the user
	CREATE TABLE IF NOT EXISTS wc_sessions (
		topic TEXT PRIMARY KEY,
		proposal_id TEXT NOT NULL,
		peer_name TEXT,
		peer_url TEXT,
		namespaces TEXT NOT NULL,           -- approved namespaces JSON
		created_at INTEGER NOT NULL,
		expires_at INTEGER
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations runs schema migrations for existing databases.
// Errors are ignored since columns may already exist.
func (s *Storage) runMigrations() error {
	migrations := []string{
		"ALTER TABLE transactions ADD COLUMN finalized INTEGER DEFAULT 0",
		"ALTER TABLE transactions ADD COLUMN chain_type TEXT NOT NULL DEFAULT ''",
	}

	for _, migration := range migrations {
		_, _ = s.db.Exec(migration)
	}

	return nil
}

// =============================================================================
// Settings
// =============================================================================

// SetSetting stores a key/value setting.
func (s *Storage) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save setting: %w", err)
	}
	return nil
}

// GetSetting returns a setting, or ErrNotFound.
func (s *Storage) GetSetting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value sql.NullString
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value.String, nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func unixOrNil(t *time.Time) *int64 {
	if t == nil || t.IsZero() {
		return nil
	}
	ts := t.Unix()
	return &ts
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid || v.Int64 == 0 {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
