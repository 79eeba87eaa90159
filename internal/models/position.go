package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass categorizes a holding and determines which external source
// prices it during a sync pass.
type AssetClass string

const (
	AssetClassStock  AssetClass = "stock"
	AssetClassETF    AssetClass = "etf"
	AssetClassFund   AssetClass = "fund"
	AssetClassCrypto AssetClass = "crypto"
	AssetClassCash   AssetClass = "cash"
	AssetClassOther  AssetClass = "other"
)

// Valid reports whether the asset class is one of the known values.
func (c AssetClass) Valid() bool {
	switch c {
	case AssetClassStock, AssetClassETF, AssetClassFund, AssetClassCrypto, AssetClassCash, AssetClassOther:
		return true
	}
	return false
}

// Position represents a single tracked holding
type Position struct {
	ID           int64           `json:"id"`
	OwnerID      int64           `json:"owner_id"`
	AssetClass   AssetClass      `json:"asset_class"`
	DisplayName  string          `json:"display_name"`
	Ticker       string          `json:"ticker,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	BookValue    decimal.Decimal `json:"book_value"`
	CurrentValue decimal.Decimal `json:"current_value"`
	Gain         decimal.Decimal `json:"gain"`
	GainPct      decimal.Decimal `json:"gain_pct"`
	PurchaseDate *time.Time      `json:"purchase_date,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Recompute refreshes the derived metrics from quantity, average cost and
// current value. Derived fields are never written independently of this.
func (p *Position) Recompute() {
	p.BookValue = p.Quantity.Mul(p.AverageCost).Round(2)
	p.Gain = p.CurrentValue.Sub(p.BookValue).Round(2)
	if p.BookValue.IsZero() {
		p.GainPct = decimal.Zero
		return
	}
	p.GainPct = p.Gain.Div(p.BookValue).Mul(decimal.NewFromInt(100)).Round(2)
}

// PortfolioAggregate holds portfolio-wide sums for one owner
type PortfolioAggregate struct {
	PositionCount int             `json:"position_count"`
	BookValue     decimal.Decimal `json:"book_value"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	Gain          decimal.Decimal `json:"gain"`
}

// ClassAggregate holds the per-asset-class breakdown, including each
// class's share of total current value
type ClassAggregate struct {
	AssetClass    AssetClass      `json:"asset_class"`
	PositionCount int             `json:"position_count"`
	BookValue     decimal.Decimal `json:"book_value"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	Gain          decimal.Decimal `json:"gain"`
	SharePct      decimal.Decimal `json:"share_pct"`
}
