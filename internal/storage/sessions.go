package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionRecord is an approved WalletConnect session.
type SessionRecord struct {
	Topic      string
	ProposalID string
	PeerName   string
	PeerURL    string
	Namespaces []byte // JSON
	CreatedAt  time.Time
	ExpiresAt  *time.Time
}

// SaveSession inserts or replaces a session.
func (s *Storage) SaveSession(r *SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO wc_sessions (
			topic, proposal_id, peer_name, peer_url, namespaces, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		r.Topic, r.ProposalID, nullString(r.PeerName), nullString(r.PeerURL),
		string(r.Namespaces), r.CreatedAt.Unix(), unixOrNil(r.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by topic.
func (s *Storage) GetSession(topic string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT topic, proposal_id, peer_name, peer_url, namespaces, created_at, expires_at
		FROM wc_sessions WHERE topic = ?
	`, topic)
	r, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, topic)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return r, nil
}

// ListSessions returns sessions that have not expired at now.
func (s *Storage) ListSessions(now time.Time) ([]*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT topic, proposal_id, peer_name, peer_url, namespaces, created_at, expires_at
		FROM wc_sessions
		WHERE expires_at IS NULL OR expires_at > ?
		ORDER BY created_at
	`, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteSession removes a session.
func (s *Storage) DeleteSession(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM wc_sessions WHERE topic = ?", topic); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var r SessionRecord
	var peerName, peerURL sql.NullString
	var namespaces string
	var createdAt int64
	var expiresAt sql.NullInt64

	if err := row.Scan(&r.Topic, &r.ProposalID, &peerName, &peerURL, &namespaces, &createdAt, &expiresAt); err != nil {
		return nil, err
	}
	r.PeerName = peerName.String
	r.PeerURL = peerURL.String
	r.Namespaces = []byte(namespaces)
	r.CreatedAt = time.Unix(createdAt, 0)
	r.ExpiresAt = timeFromNull(expiresAt)
	return &r, nil
}
