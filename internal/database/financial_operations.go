package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finchlabs/portfolio-ledger/internal/models"
)

// InsertFinancialOperation appends one financial operation record
func (db *DB) InsertFinancialOperation(r *models.FinancialOperationRecord) error {
	query := `
		INSERT INTO financial_operations (
			actor_id, op_type, entity_id, value_before, value_after,
			quantity_before, quantity_after, detail, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	if r.OccurredAt.IsZero() {
		r.OccurredAt = time.Now()
	}

	err := db.conn.QueryRow(query,
		r.ActorID, r.OpType, r.EntityID,
		nullDecimal(r.ValueBefore), nullDecimal(r.ValueAfter),
		nullDecimal(r.QuantityBefore), nullDecimal(r.QuantityAfter),
		nullString(r.Detail), r.OccurredAt,
	).Scan(&r.ID)

	if err != nil {
		return fmt.Errorf("failed to insert financial operation: %w", err)
	}
	return nil
}

// GetRecentFinancialOperations returns the most recent financial operations
// for an actor, newest first
func (db *DB) GetRecentFinancialOperations(actorID int64, limit int) ([]*models.FinancialOperationRecord, error) {
	if limit < 1 {
		limit = 20
	}

	query := `
		SELECT id, actor_id, op_type, entity_id, value_before, value_after,
		       quantity_before, quantity_after, detail, occurred_at
		FROM financial_operations
		WHERE actor_id = $1
		ORDER BY id DESC
		LIMIT $2
	`
	rows, err := db.conn.Query(query, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query financial operations: %w", err)
	}
	defer rows.Close()

	var records []*models.FinancialOperationRecord
	for rows.Next() {
		var r models.FinancialOperationRecord
		var valueBefore, valueAfter, qtyBefore, qtyAfter sql.NullString
		var detail sql.NullString

		err := rows.Scan(
			&r.ID, &r.ActorID, &r.OpType, &r.EntityID,
			&valueBefore, &valueAfter, &qtyBefore, &qtyAfter,
			&detail, &r.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan financial operation: %w", err)
		}

		r.ValueBefore = parseDecimal(valueBefore)
		r.ValueAfter = parseDecimal(valueAfter)
		r.QuantityBefore = parseDecimal(qtyBefore)
		r.QuantityAfter = parseDecimal(qtyAfter)
		if detail.Valid {
			r.Detail = detail.String
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

func nullDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return *d
}

func parseDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}
