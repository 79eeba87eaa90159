package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is one unit price fetched from an external source. Quotes are
// ephemeral; they live only for the duration of a sync pass.
type PriceQuote struct {
	Ticker     string          `json:"ticker"`
	AssetClass AssetClass      `json:"asset_class"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Source     string          `json:"source"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

// SyncResult summarizes one price-reconciliation pass
type SyncResult struct {
	UpdatedCount int      `json:"updated_count"`
	ErrorCount   int      `json:"error_count"`
	Messages     []string `json:"messages"`
}
