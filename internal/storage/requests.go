package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RequestRecord is a journaled pending request.
type RequestRecord struct {
	ID           string
	Kind         string
	Status       string
	Payload      []byte // JSON
	Result       []byte // JSON, set on resolve
	Reason       string
	ErrorMessage string
	CreatedAt    time.Time
	ExpiresAt    *time.Time
	UpdatedAt    time.Time
}

// SaveRequest journals a new request.
func (s *Storage) SaveRequest(r *RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO pending_requests (
			id, kind, status, payload, created_at, expires_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Kind, r.Status, string(r.Payload),
		r.CreatedAt.Unix(), unixOrNil(r.ExpiresAt), now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: request %s", ErrAlreadyExists, r.ID)
		}
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

// UpdateRequestStatus records a terminal transition.
func (s *Storage) UpdateRequestStatus(id, status, reason, errMsg string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE pending_requests
		SET status = ?, reason = ?, error_message = ?, result = ?, updated_at = ?
		WHERE id = ?
	`, status, nullString(reason), nullString(errMsg), nullString(string(result)), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	return nil
}

// GetRequest retrieves a request by ID.
func (s *Storage) GetRequest(id string) (*RequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, kind, status, payload, result, reason, error_message,
		       created_at, expires_at, updated_at
		FROM pending_requests WHERE id = ?
	`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return r, nil
}

// ListRequests returns requests newest first. Empty kind or status match all.
func (s *Storage) ListRequests(kind, status string, limit int) ([]*RequestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []interface{}
	if kind != "" {
		where = append(where, "kind = ?")
		args = append(args, kind)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}

	query := `
		SELECT id, kind, status, payload, result, reason, error_message,
		       created_at, expires_at, updated_at
		FROM pending_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []*RequestRecord
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExpirePendingRequests marks every pending row expired. Called at startup:
// continuations do not survive a restart.
func (s *Storage) ExpirePendingRequests() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE pending_requests
		SET status = 'expired', reason = 'expired', updated_at = ?
		WHERE status = 'pending'
	`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to expire requests: %w", err)
	}
	return res.RowsAffected()
}

// DeleteRequest removes a request from the journal.
func (s *Storage) DeleteRequest(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM pending_requests WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*RequestRecord, error) {
	var r RequestRecord
	var payload, result, reason, errMsg sql.NullString
	var createdAt, updatedAt int64
	var expiresAt sql.NullInt64

	err := row.Scan(
		&r.ID, &r.Kind, &r.Status, &payload, &result, &reason, &errMsg,
		&createdAt, &expiresAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		r.Payload = []byte(payload.String)
	}
	if result.Valid {
		r.Result = []byte(result.String)
	}
	r.Reason = reason.String
	r.ErrorMessage = errMsg.String
	r.CreatedAt = time.Unix(createdAt, 0)
	r.ExpiresAt = timeFromNull(expiresAt)
	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}
