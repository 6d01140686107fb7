package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Transaction statuses as stored.
const (
	TxStatusQueued    = "queued"
	TxStatusSubmitted = "submitted"
	TxStatusSuccess   = "success"
	TxStatusFailed    = "failed"
)

// TxRecord is a submitted transaction in history.
type TxRecord struct {
	ID            string
	Chain         string
	Address       string
	ExtrinsicType string
	ChainType     string // "evm" or "substrate", picks the backend on hybrid chains
	Hash          string
	Status        string
	Amount        string
	Fee           string
	StartHeight   int64 // chain height at broadcast, bounds receipt scans
	BlockNumber   int64
	Finalized     bool
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const txColumns = `id, chain, address, extrinsic_type, chain_type, hash, status, amount, fee,
	start_height, block_number, finalized, error_message, created_at, updated_at`

// SaveTransaction inserts a transaction record.
func (s *Storage) SaveTransaction(tx *TxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.Chain, tx.Address, tx.ExtrinsicType, tx.ChainType, nullString(tx.Hash), tx.Status,
		nullString(tx.Amount), nullString(tx.Fee), tx.StartHeight, tx.BlockNumber,
		boolToInt(tx.Finalized), nullString(tx.ErrorMessage), tx.CreatedAt.Unix(), now.Unix(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: transaction %s", ErrAlreadyExists, tx.ID)
		}
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// UpdateTransaction writes the mutable fields of tx.
func (s *Storage) UpdateTransaction(tx *TxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx.UpdatedAt = time.Now()
	res, err := s.db.Exec(`
		UPDATE transactions
		SET hash = ?, status = ?, fee = ?, start_height = ?, block_number = ?,
		    finalized = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`,
		nullString(tx.Hash), tx.Status, nullString(tx.Fee), tx.StartHeight, tx.BlockNumber,
		boolToInt(tx.Finalized), nullString(tx.ErrorMessage), tx.UpdatedAt.Unix(), tx.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: transaction %s", ErrNotFound, tx.ID)
	}
	return nil
}

// GetTransaction retrieves a transaction by ID.
func (s *Storage) GetTransaction(id string) (*TxRecord, error) {
	return s.getTransaction("id", id)
}

// GetTransactionByHash retrieves a transaction by its chain hash.
func (s *Storage) GetTransactionByHash(hash string) (*TxRecord, error) {
	return s.getTransaction("hash", hash)
}

func (s *Storage) getTransaction(column, value string) (*TxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+txColumns+" FROM transactions WHERE "+column+" = ?", value)
	tx, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ListTransactions returns an address's history, newest first.
func (s *Storage) ListTransactions(address string, limit int) ([]*TxRecord, error) {
	query := "SELECT " + txColumns + " FROM transactions WHERE address = ? ORDER BY created_at DESC, id"
	args := []interface{}{address}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryTransactions(query, args...)
}

// ListTrackedTransactions returns transactions still awaiting inclusion or
// finality.
func (s *Storage) ListTrackedTransactions() ([]*TxRecord, error) {
	return s.queryTransactions(
		"SELECT "+txColumns+" FROM transactions WHERE status = ? OR (status = ? AND finalized = 0) ORDER BY created_at",
		TxStatusSubmitted, TxStatusSuccess,
	)
}

func (s *Storage) queryTransactions(query string, args ...interface{}) ([]*TxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*TxRecord
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (*TxRecord, error) {
	var tx TxRecord
	var chainType, hash, amount, fee, errMsg sql.NullString
	var finalized int
	var createdAt, updatedAt int64

	err := row.Scan(
		&tx.ID, &tx.Chain, &tx.Address, &tx.ExtrinsicType, &chainType, &hash, &tx.Status, &amount, &fee,
		&tx.StartHeight, &tx.BlockNumber, &finalized, &errMsg, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.ChainType = chainType.String
	tx.Hash = hash.String
	tx.Amount = amount.String
	tx.Fee = fee.String
	tx.ErrorMessage = errMsg.String
	tx.Finalized = finalized == 1
	tx.CreatedAt = time.Unix(createdAt, 0)
	tx.UpdatedAt = time.Unix(updatedAt, 0)
	return &tx, nil
}
