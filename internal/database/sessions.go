package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/finchlabs/portfolio-ledger/internal/models"
)

// StartSession closes every active session for the actor and inserts a new
// active one, as a single transaction. This is what enforces the
// single-active-session invariant under concurrent logins.
func (db *DB) StartSession(s *models.SessionRecord) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE sessions SET active = FALSE, closed_at = $1
		WHERE actor_id = $2 AND active = TRUE
	`, now, s.ActorID)
	if err != nil {
		return fmt.Errorf("failed to close previous sessions: %w", err)
	}

	err = tx.QueryRow(`
		INSERT INTO sessions (actor_id, session_token, created_at, active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id
	`, s.ActorID, s.SessionToken, now).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.CreatedAt = now
	s.Active = true
	s.ClosedAt = nil
	return nil
}

// EndSession closes the matching active session. Returns false when no such
// session exists; that case is not an error, logout must never fail.
func (db *DB) EndSession(actorID int64, sessionToken string) (bool, error) {
	result, err := db.conn.Exec(`
		UPDATE sessions SET active = FALSE, closed_at = $1
		WHERE actor_id = $2 AND session_token = $3 AND active = TRUE
	`, time.Now(), actorID, sessionToken)
	if err != nil {
		return false, fmt.Errorf("failed to end session: %w", err)
	}

	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// GetActiveSession returns the actor's active session, if any
func (db *DB) GetActiveSession(actorID int64) (*models.SessionRecord, error) {
	query := `
		SELECT id, actor_id, session_token, created_at, closed_at, active
		FROM sessions
		WHERE actor_id = $1 AND active = TRUE
	`
	return scanSession(db.conn.QueryRow(query, actorID))
}

// GetSessionByToken looks up a session by its opaque token
func (db *DB) GetSessionByToken(token string) (*models.SessionRecord, error) {
	query := `
		SELECT id, actor_id, session_token, created_at, closed_at, active
		FROM sessions
		WHERE session_token = $1
	`
	return scanSession(db.conn.QueryRow(query, token))
}

func scanSession(row rowScanner) (*models.SessionRecord, error) {
	var s models.SessionRecord
	var closedAt sql.NullTime

	err := row.Scan(&s.ID, &s.ActorID, &s.SessionToken, &s.CreatedAt, &closedAt, &s.Active)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if closedAt.Valid {
		s.ClosedAt = &closedAt.Time
	}
	return &s, nil
}
