package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AccountRecord is a keyring account.
type AccountRecord struct {
	Address         string
	Name            string
	Kind            string
	ChainType       string
	ParentAddress   string
	DerivationPath  string
	DerivationIndex uint32
	Keystore        []byte // encrypted seed JSON, root accounts only
	CreatedAt       time.Time
}

const accountColumns = `address, name, kind, chain_type, parent_address, derivation_path,
	derivation_index, keystore, created_at`

// SaveAccount inserts an account. Addresses are unique.
func (s *Storage) SaveAccount(a *AccountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		normalizeAddress(a.Address), nullString(a.Name), a.Kind, a.ChainType,
		nullString(normalizeAddress(a.ParentAddress)), nullString(a.DerivationPath),
		a.DerivationIndex, nullString(string(a.Keystore)), a.CreatedAt.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: account %s", ErrAlreadyExists, a.Address)
		}
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by address.
func (s *Storage) GetAccount(address string) (*AccountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+accountColumns+" FROM accounts WHERE address = ?", normalizeAddress(address))
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns all accounts in creation order.
func (s *Storage) ListAccounts() ([]*AccountRecord, error) {
	return s.queryAccounts("SELECT " + accountColumns + " FROM accounts ORDER BY created_at, address")
}

// ListChildAccounts returns accounts derived from parent.
func (s *Storage) ListChildAccounts(parent string) ([]*AccountRecord, error) {
	return s.queryAccounts(
		"SELECT "+accountColumns+" FROM accounts WHERE parent_address = ? ORDER BY derivation_index",
		normalizeAddress(parent),
	)
}

// NextDerivationIndex returns one past the highest index derived from parent.
func (s *Storage) NextDerivationIndex(parent string) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max sql.NullInt64
	err := s.db.QueryRow(
		"SELECT MAX(derivation_index) FROM accounts WHERE parent_address = ?", normalizeAddress(parent),
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to query derivation index: %w", err)
	}
	if !max.Valid {
		return 1, nil // index 0 is the parent itself
	}
	return uint32(max.Int64) + 1, nil
}

// DeleteAccount removes an account.
func (s *Storage) DeleteAccount(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM accounts WHERE address = ?", normalizeAddress(address)); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

func (s *Storage) queryAccounts(query string, args ...interface{}) ([]*AccountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []*AccountRecord
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccount(row rowScanner) (*AccountRecord, error) {
	var a AccountRecord
	var name, parent, path, keystore sql.NullString
	var createdAt int64

	err := row.Scan(&a.Address, &name, &a.Kind, &a.ChainType, &parent, &path,
		&a.DerivationIndex, &keystore, &createdAt)
	if err != nil {
		return nil, err
	}
	a.Name = name.String
	a.ParentAddress = parent.String
	a.DerivationPath = path.String
	if keystore.Valid {
		a.Keystore = []byte(keystore.String)
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

// normalizeAddress lowercases EVM addresses. SS58 is case sensitive.
func normalizeAddress(addr string) string {
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		return strings.ToLower(addr)
	}
	return addr
}
