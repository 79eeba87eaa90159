package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/finchlabs/portfolio-ledger/internal/models"
)

// InsertAuditRecord appends one audit record. Records are append-only;
// there is no update or delete path.
func (db *DB) InsertAuditRecord(r *models.AuditRecord) error {
	query := `
		INSERT INTO audit_log (
			actor_id, action, entity_type, entity_id, before_state, after_state,
			client_ip, user_agent, detail, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	if r.OccurredAt.IsZero() {
		r.OccurredAt = time.Now()
	}

	err := db.conn.QueryRow(query,
		r.ActorID, r.Action, r.EntityType, r.EntityID,
		nullString(r.BeforeState), nullString(r.AfterState),
		nullString(r.ClientIP), nullString(r.UserAgent), nullString(r.Detail),
		r.OccurredAt,
	).Scan(&r.ID)

	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// QueryAuditRecords returns one page of an actor's audit history, newest
// first. Ordering is by id descending; ids are monotonic so this matches
// occurred_at order even for same-millisecond writes.
func (db *DB) QueryAuditRecords(actorID int64, filter models.AuditFilter, page, pageSize int) ([]*models.AuditRecord, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 25
	}

	query := `
		SELECT id, actor_id, action, entity_type, entity_id, before_state,
		       after_state, client_ip, user_agent, detail, occurred_at
		FROM audit_log
		WHERE actor_id = $1
	`
	args := []interface{}{actorID}
	query, args = appendAuditFilter(query, args, filter)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		r, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountAuditRecords returns the total number of matching audit records
func (db *DB) CountAuditRecords(actorID int64, filter models.AuditFilter) (int, error) {
	query := `SELECT COUNT(*) FROM audit_log WHERE actor_id = $1`
	args := []interface{}{actorID}
	query, args = appendAuditFilter(query, args, filter)

	var count int
	if err := db.conn.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

// ActivityStats counts audit records per (action, day) within the trailing
// window.
func (db *DB) ActivityStats(actorID int64, windowDays int) ([]*models.ActivityBucket, error) {
	if windowDays < 1 {
		windowDays = 30
	}

	query := `
		SELECT action, DATE_TRUNC('day', occurred_at) AS day, COUNT(*)
		FROM audit_log
		WHERE actor_id = $1 AND occurred_at >= NOW() - ($2 * INTERVAL '1 day')
		GROUP BY action, day
		ORDER BY day DESC, action ASC
	`
	rows, err := db.conn.Query(query, actorID, windowDays)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity stats: %w", err)
	}
	defer rows.Close()

	var buckets []*models.ActivityBucket
	for rows.Next() {
		var b models.ActivityBucket
		if err := rows.Scan(&b.Action, &b.Day, &b.Count); err != nil {
			return nil, fmt.Errorf("failed to scan activity bucket: %w", err)
		}
		buckets = append(buckets, &b)
	}
	return buckets, rows.Err()
}

func appendAuditFilter(query string, args []interface{}, filter models.AuditFilter) (string, []interface{}) {
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		query += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	return query, args
}

func scanAuditRecord(row rowScanner) (*models.AuditRecord, error) {
	var r models.AuditRecord
	var entityID sql.NullInt64
	var beforeState, afterState, clientIP, userAgent, detail sql.NullString

	err := row.Scan(
		&r.ID, &r.ActorID, &r.Action, &r.EntityType, &entityID,
		&beforeState, &afterState, &clientIP, &userAgent, &detail, &r.OccurredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit record: %w", err)
	}

	if entityID.Valid {
		r.EntityID = &entityID.Int64
	}
	if beforeState.Valid {
		r.BeforeState = beforeState.String
	}
	if afterState.Valid {
		r.AfterState = afterState.String
	}
	if clientIP.Valid {
		r.ClientIP = clientIP.String
	}
	if userAgent.Valid {
		r.UserAgent = userAgent.String
	}
	if detail.Valid {
		r.Detail = detail.String
	}
	return &r, nil
}
