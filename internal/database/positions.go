package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finchlabs/portfolio-ledger/internal/models"
)

const positionColumns = `id, owner_id, asset_class, display_name, ticker, quantity, average_cost,
	       book_value, current_value, gain, gain_pct, purchase_date, notes, created_at, updated_at`

// CreatePosition inserts a new position row
func (db *DB) CreatePosition(p *models.Position) error {
	query := `
		INSERT INTO positions (
			owner_id, asset_class, display_name, ticker, quantity, average_cost,
			book_value, current_value, gain, gain_pct, purchase_date, notes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`
	now := time.Now()
	err := db.conn.QueryRow(query,
		p.OwnerID, p.AssetClass, p.DisplayName, nullString(p.Ticker),
		p.Quantity, p.AverageCost, p.BookValue, p.CurrentValue, p.Gain, p.GainPct,
		p.PurchaseDate, nullString(p.Notes), now, now,
	).Scan(&p.ID)

	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// GetPositionByID retrieves one position scoped to its owner
func (db *DB) GetPositionByID(ownerID, id int64) (*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE id = $1 AND owner_id = $2
	`
	return scanPosition(db.conn.QueryRow(query, id, ownerID))
}

// GetAllPositions retrieves every position for an owner, largest holdings first
func (db *DB) GetAllPositions(ownerID int64) ([]*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE owner_id = $1
		ORDER BY current_value DESC, id ASC
	`
	rows, err := db.conn.Query(query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// UpdatePositionTx loads the row under a row lock, applies the mutation and
// persists the result as one transaction. Two racing writers serialize on
// the row lock; an update racing a delete observes the missing row and
// returns ErrNotFound. Returns the before and after snapshots.
func (db *DB) UpdatePositionTx(ownerID, id int64, apply func(*models.Position) error) (*models.Position, *models.Position, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE id = $1 AND owner_id = $2
		FOR UPDATE
	`
	current, err := scanPosition(tx.QueryRow(query, id, ownerID))
	if err != nil {
		return nil, nil, err
	}

	before := *current
	if err := apply(current); err != nil {
		return nil, nil, err
	}
	current.UpdatedAt = time.Now()

	_, err = tx.Exec(`
		UPDATE positions SET
			asset_class = $1, display_name = $2, ticker = $3, quantity = $4,
			average_cost = $5, book_value = $6, current_value = $7, gain = $8,
			gain_pct = $9, purchase_date = $10, notes = $11, updated_at = $12
		WHERE id = $13 AND owner_id = $14
	`,
		current.AssetClass, current.DisplayName, nullString(current.Ticker),
		current.Quantity, current.AverageCost, current.BookValue, current.CurrentValue,
		current.Gain, current.GainPct, current.PurchaseDate, nullString(current.Notes),
		current.UpdatedAt, id, ownerID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &before, current, nil
}

// DeletePosition removes a position and returns its pre-delete snapshot
func (db *DB) DeletePosition(ownerID, id int64) (*models.Position, error) {
	query := `
		DELETE FROM positions
		WHERE id = $1 AND owner_id = $2
		RETURNING ` + positionColumns + `
	`
	return scanPosition(db.conn.QueryRow(query, id, ownerID))
}

// AggregatePositions sums the portfolio for one owner. An empty portfolio
// yields zeros, not an error.
func (db *DB) AggregatePositions(ownerID int64) (*models.PortfolioAggregate, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(book_value), 0),
		       COALESCE(SUM(current_value), 0),
		       COALESCE(SUM(gain), 0)
		FROM positions
		WHERE owner_id = $1
	`
	var agg models.PortfolioAggregate
	err := db.conn.QueryRow(query, ownerID).Scan(
		&agg.PositionCount, &agg.BookValue, &agg.CurrentValue, &agg.Gain,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate positions: %w", err)
	}
	return &agg, nil
}

// AggregatePositionsByClass groups the portfolio sums by asset class and
// computes each class's share of total current value (0 when the total is 0).
func (db *DB) AggregatePositionsByClass(ownerID int64) ([]*models.ClassAggregate, error) {
	query := `
		SELECT asset_class, COUNT(*),
		       COALESCE(SUM(book_value), 0),
		       COALESCE(SUM(current_value), 0),
		       COALESCE(SUM(gain), 0)
		FROM positions
		WHERE owner_id = $1
		GROUP BY asset_class
		ORDER BY SUM(current_value) DESC
	`
	rows, err := db.conn.Query(query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate positions by class: %w", err)
	}
	defer rows.Close()

	var groups []*models.ClassAggregate
	total := decimal.Zero
	for rows.Next() {
		var g models.ClassAggregate
		if err := rows.Scan(&g.AssetClass, &g.PositionCount, &g.BookValue, &g.CurrentValue, &g.Gain); err != nil {
			return nil, fmt.Errorf("failed to scan class aggregate: %w", err)
		}
		total = total.Add(g.CurrentValue)
		groups = append(groups, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, g := range groups {
		if total.IsZero() {
			g.SharePct = decimal.Zero
			continue
		}
		g.SharePct = g.CurrentValue.Div(total).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return groups, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*models.Position, error) {
	p, err := scanPositionRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("position: %w", ErrNotFound)
	}
	return p, err
}

func scanPositionRow(row rowScanner) (*models.Position, error) {
	var p models.Position
	var ticker, notes sql.NullString
	var purchaseDate sql.NullTime

	err := row.Scan(
		&p.ID, &p.OwnerID, &p.AssetClass, &p.DisplayName, &ticker,
		&p.Quantity, &p.AverageCost, &p.BookValue, &p.CurrentValue,
		&p.Gain, &p.GainPct, &purchaseDate, &notes, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan position: %w", err)
	}

	if ticker.Valid {
		p.Ticker = ticker.String
	}
	if notes.Valid {
		p.Notes = notes.String
	}
	if purchaseDate.Valid {
		p.PurchaseDate = &purchaseDate.Time
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
