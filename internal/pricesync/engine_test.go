package pricesync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchlabs/portfolio-ledger/internal/database"
	"github.com/finchlabs/portfolio-ledger/internal/models"
)

type fakePositionRepo struct {
	positions map[int64]*models.Position
}

func (r *fakePositionRepo) GetAllPositions(ownerID int64) ([]*models.Position, error) {
	var out []*models.Position
	for _, p := range r.positions {
		if p.OwnerID == ownerID {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakePositionRepo) UpdatePositionTx(ownerID, id int64, apply func(*models.Position) error) (*models.Position, *models.Position, error) {
	p, ok := r.positions[id]
	if !ok || p.OwnerID != ownerID {
		return nil, nil, fmt.Errorf("position: %w", database.ErrNotFound)
	}
	before := *p
	current := *p
	if err := apply(&current); err != nil {
		return nil, nil, err
	}
	r.positions[id] = &current
	after := current
	return &before, &after, nil
}

type fakeSource struct {
	name    string
	prices  map[string]decimal.Decimal
	err     error
	mapped  map[string]bool // nil means everything is queryable
	fetches int
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Filter(tickers []string) []string {
	if s.mapped == nil {
		return tickers
	}
	var out []string
	for _, t := range tickers {
		if s.mapped[strings.ToUpper(t)] {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeSource) FetchQuotes(ctx context.Context, tickers []string) ([]models.PriceQuote, error) {
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	var out []models.PriceQuote
	for _, t := range tickers {
		upper := strings.ToUpper(t)
		if price, ok := s.prices[upper]; ok {
			out = append(out, models.PriceQuote{
				Ticker:    upper,
				UnitPrice: price,
				Source:    s.name,
				FetchedAt: time.Now(),
			})
		}
	}
	return out, nil
}

type fakeOpRecorder struct {
	ops []models.FinancialOpType
	err error
}

func (f *fakeOpRecorder) RecordFinancialOperation(actorID int64, opType models.FinancialOpType, entityID int64, valueBefore, valueAfter, qtyBefore, qtyAfter *decimal.Decimal, detail string) error {
	f.ops = append(f.ops, opType)
	return f.err
}

func seedPosition(id int64, class models.AssetClass, ticker string, quantity, avgCost float64) *models.Position {
	p := &models.Position{
		ID:           id,
		OwnerID:      1,
		AssetClass:   class,
		DisplayName:  fmt.Sprintf("Holding %d", id),
		Ticker:       ticker,
		Quantity:     decimal.NewFromFloat(quantity),
		AverageCost:  decimal.NewFromFloat(avgCost),
		CurrentValue: decimal.NewFromFloat(quantity * avgCost),
	}
	p.Recompute()
	return p
}

func newTestEngine(repo *fakePositionRepo, listed, digital QuoteSource, recorder *fakeOpRecorder) *Engine {
	return NewEngine(repo, listed, digital, nil, recorder, time.Second, zerolog.Nop())
}

func TestSyncAll(t *testing.T) {
	ctx := context.Background()

	t.Run("updates listed positions from batch quotes", func(t *testing.T) {
		repo := &fakePositionRepo{positions: map[int64]*models.Position{
			1: seedPosition(1, models.AssetClassStock, "AAPL", 100, 25.50),
		}}
		listed := &fakeSource{name: "listed", prices: map[string]decimal.Decimal{
			"AAPL": decimal.NewFromFloat(30.00),
		}}
		recorder := &fakeOpRecorder{}
		engine := newTestEngine(repo, listed, &fakeSource{name: "digital"}, recorder)

		result := engine.SyncAll(ctx, 1)

		assert.Equal(t, 1, result.UpdatedCount)
		assert.Equal(t, 0, result.ErrorCount)
		assert.Empty(t, result.Messages)

		p := repo.positions[1]
		assert.True(t, decimal.NewFromFloat(3000.00).Equal(p.CurrentValue), "current value: %s", p.CurrentValue)
		assert.True(t, decimal.NewFromFloat(450.00).Equal(p.Gain), "gain: %s", p.Gain)
		require.Len(t, recorder.ops, 1)
		assert.Equal(t, models.OpPriceSync, recorder.ops[0])
	})

	t.Run("source outage is isolated to its group", func(t *testing.T) {
		repo := &fakePositionRepo{positions: map[int64]*models.Position{
			1: seedPosition(1, models.AssetClassStock, "AAPL", 100, 25.50),
			2: seedPosition(2, models.AssetClassCrypto, "BTC", 0.5, 40000),
			3: seedPosition(3, models.AssetClassCrypto, "ETH", 2, 2000),
		}}
		listed := &fakeSource{name: "listed", prices: map[string]decimal.Decimal{
			"AAPL": decimal.NewFromFloat(30.00),
		}}
		digital := &fakeSource{name: "digital", err: errors.New("timeout")}
		engine := newTestEngine(repo, listed, digital, &fakeOpRecorder{})

		result := engine.SyncAll(ctx, 1)

		assert.Equal(t, 1, result.UpdatedCount)
		assert.Equal(t, 2, result.ErrorCount)
		assert.Len(t, result.Messages, 2)
		assert.True(t, decimal.NewFromFloat(3000.00).Equal(repo.positions[1].CurrentValue))
	})

	t.Run("missing quote yields one message per position", func(t *testing.T) {
		repo := &fakePositionRepo{positions: map[int64]*models.Position{
			1: seedPosition(1, models.AssetClassStock, "AAPL", 100, 25.50),
			2: seedPosition(2, models.AssetClassStock, "ZZZZ", 10, 5),
		}}
		listed := &fakeSource{name: "listed", prices: map[string]decimal.Decimal{
			"AAPL": decimal.NewFromFloat(30.00),
		}}
		engine := newTestEngine(repo, listed, &fakeSource{name: "digital"}, &fakeOpRecorder{})

		result := engine.SyncAll(ctx, 1)

		assert.Equal(t, 1, result.UpdatedCount)
		assert.Equal(t, 1, result.ErrorCount)
		require.Len(t, result.Messages, 1)
		assert.Contains(t, result.Messages[0], "ZZZZ")
	})

	t.Run("ticker matching is case-insensitive", func(t *testing.T) {
		repo := &fakePositionRepo{positions: map[int64]*models.Position{
			1: seedPosition(1, models.AssetClassStock, "aapl", 100, 25.50),
		}}
		listed := &fakeSource{name: "listed", prices: map[string]decimal.Decimal{
			"AAPL": decimal.NewFromFloat(30.00),
		}}
		engine := newTestEngine(repo, listed, &fakeSource{name: "digital"}, &fakeOpRecorder{})

		result := engine.SyncAll(ctx, 1)
		assert.Equal(t, 1, result.UpdatedCount)
		assert.Equal(t, 0, result.ErrorCount)
	})

	t.Run("unmapped digital symbols are skipped silently", func(t *testing.T) {
		repo := &fakePositionRepo{positions: map[int64]*models.Position{
			1: seedPosition(1, models.AssetClassCrypto, "BTC", 1, 40000),
			2: seedPosition(2, models.AssetClassCrypto, "OBSCURECOIN", 100, 1),
		}}
		digital := &fakeSource{
			name:   "digital",
			prices: map[string]decimal.Decimal{"BTC": decimal.NewFromFloat(65000)},
			mapped: map[string]bool{"BTC": true},
		}
		engine := newTestEngine(repo, &fakeSource{name: "listed"}, digital, &fakeOpRecorder{})

		result := engine.SyncAll(ctx, 1)

		assert.Equal(t, 1, result.UpdatedCount)
		assert.Equal(t, 0, result.ErrorCount)
		assert.Empty(t, result.Messages)
	})

	t.Run("positions without tickers are ignored", func(t *testing.T) {
		repo := &fakePositionRepo{positions: map[int64]*models.Position{
			1: seedPosition(1, models.AssetClassCash, "", 1000, 1),
			2: seedPosition(2, models.AssetClassStock, "", 10, 5),
		}}
		listed := &fakeSource{name: "listed"}
		engine := newTestEngine(repo, listed, &fakeSource{name: "digital"}, &fakeOpRecorder{})

		result := engine.SyncAll(ctx, 1)

		assert.Equal(t, 0, result.UpdatedCount)
		assert.Equal(t, 0, result.ErrorCount)
		assert.Equal(t, 0, listed.fetches)
	})

	t.Run("rerun with unchanged prices is idempotent", func(t *testing.T) {
		repo := &fakePositionRepo{positions: map[int64]*models.Position{
			1: seedPosition(1, models.AssetClassStock, "AAPL", 100, 25.50),
		}}
		listed := &fakeSource{name: "listed", prices: map[string]decimal.Decimal{
			"AAPL": decimal.NewFromFloat(30.00),
		}}
		engine := newTestEngine(repo, listed, &fakeSource{name: "digital"}, &fakeOpRecorder{})

		engine.SyncAll(ctx, 1)
		first := *repo.positions[1]
		engine.SyncAll(ctx, 1)
		second := *repo.positions[1]

		assert.True(t, first.CurrentValue.Equal(second.CurrentValue))
		assert.True(t, first.Gain.Equal(second.Gain))
		assert.True(t, first.GainPct.Equal(second.GainPct))
	})

	t.Run("audit failure does not fail the sync", func(t *testing.T) {
		repo := &fakePositionRepo{positions: map[int64]*models.Position{
			1: seedPosition(1, models.AssetClassStock, "AAPL", 100, 25.50),
		}}
		listed := &fakeSource{name: "listed", prices: map[string]decimal.Decimal{
			"AAPL": decimal.NewFromFloat(30.00),
		}}
		recorder := &fakeOpRecorder{err: errors.New("audit store down")}
		engine := newTestEngine(repo, listed, &fakeSource{name: "digital"}, recorder)

		result := engine.SyncAll(ctx, 1)
		assert.Equal(t, 1, result.UpdatedCount)
		assert.Equal(t, 0, result.ErrorCount)
	})
}
