package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchlabs/portfolio-ledger/internal/audit"
	"github.com/finchlabs/portfolio-ledger/internal/database"
	"github.com/finchlabs/portfolio-ledger/internal/models"
)

// fakeRepo is an in-memory Repository for unit tests
type fakeRepo struct {
	nextID    int64
	positions map[int64]*models.Position
	createErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{positions: map[int64]*models.Position{}}
}

func (r *fakeRepo) CreatePosition(p *models.Position) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	p.ID = r.nextID
	stored := *p
	r.positions[p.ID] = &stored
	return nil
}

func (r *fakeRepo) GetPositionByID(ownerID, id int64) (*models.Position, error) {
	p, ok := r.positions[id]
	if !ok || p.OwnerID != ownerID {
		return nil, fmt.Errorf("position: %w", database.ErrNotFound)
	}
	copied := *p
	return &copied, nil
}

func (r *fakeRepo) GetAllPositions(ownerID int64) ([]*models.Position, error) {
	var out []*models.Position
	for _, p := range r.positions {
		if p.OwnerID == ownerID {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdatePositionTx(ownerID, id int64, apply func(*models.Position) error) (*models.Position, *models.Position, error) {
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

func (r *fakeRepo) DeletePosition(ownerID, id int64) (*models.Position, error) {
	p, ok := r.positions[id]
	if !ok || p.OwnerID != ownerID {
		return nil, fmt.Errorf("position: %w", database.ErrNotFound)
	}
	delete(r.positions, id)
	return p, nil
}

func (r *fakeRepo) AggregatePositions(ownerID int64) (*models.PortfolioAggregate, error) {
	agg := &models.PortfolioAggregate{}
	for _, p := range r.positions {
		if p.OwnerID != ownerID {
			continue
		}
		agg.PositionCount++
		agg.BookValue = agg.BookValue.Add(p.BookValue)
		agg.CurrentValue = agg.CurrentValue.Add(p.CurrentValue)
		agg.Gain = agg.Gain.Add(p.Gain)
	}
	return agg, nil
}

func (r *fakeRepo) AggregatePositionsByClass(ownerID int64) ([]*models.ClassAggregate, error) {
	return nil, nil
}

// recordedChange captures one audit call
type recordedChange struct {
	action models.AuditAction
	before *models.Position
	after  *models.Position
}

type fakeRecorder struct {
	changes []recordedChange
	err     error
}

func (f *fakeRecorder) RecordPositionChange(actorID int64, action models.AuditAction, positionID int64, before, after *models.Position, meta audit.RequestMeta) error {
	f.changes = append(f.changes, recordedChange{action: action, before: before, after: after})
	return f.err
}

func newTestService(repo *fakeRepo, recorder *fakeRecorder) *Service {
	return NewService(repo, recorder, nil, zerolog.Nop())
}

func validInput() PositionInput {
	return PositionInput{
		AssetClass:  models.AssetClassStock,
		DisplayName: "Apple Inc",
		Ticker:      "AAPL",
		Quantity:    decimal.NewFromInt(100),
		AverageCost: decimal.NewFromFloat(25.50),
	}
}

func TestServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("computes derived metrics and defaults current value", func(t *testing.T) {
		svc := newTestService(newFakeRepo(), &fakeRecorder{})

		p, err := svc.Create(ctx, 1, validInput(), audit.RequestMeta{})
		require.NoError(t, err)

		assert.True(t, decimal.NewFromFloat(2550.00).Equal(p.BookValue), "book value: %s", p.BookValue)
		assert.True(t, decimal.NewFromFloat(2550.00).Equal(p.CurrentValue), "current value: %s", p.CurrentValue)
		assert.True(t, p.Gain.IsZero())
		assert.True(t, p.GainPct.IsZero())
	})

	t.Run("uses provided current value when positive", func(t *testing.T) {
		svc := newTestService(newFakeRepo(), &fakeRecorder{})

		input := validInput()
		input.CurrentValue = decimal.NewFromFloat(3000.00)
		p, err := svc.Create(ctx, 1, input, audit.RequestMeta{})
		require.NoError(t, err)

		assert.True(t, decimal.NewFromFloat(450.00).Equal(p.Gain), "gain: %s", p.Gain)
		assert.True(t, decimal.NewFromFloat(17.65).Equal(p.GainPct), "gain pct: %s", p.GainPct)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		svc := newTestService(newFakeRepo(), &fakeRecorder{})

		input := validInput()
		input.Quantity = decimal.Zero
		_, err := svc.Create(ctx, 1, input, audit.RequestMeta{})

		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "quantity", validationErr.Field)
	})

	t.Run("rejects non-positive average cost", func(t *testing.T) {
		svc := newTestService(newFakeRepo(), &fakeRecorder{})

		input := validInput()
		input.AverageCost = decimal.NewFromInt(-1)
		_, err := svc.Create(ctx, 1, input, audit.RequestMeta{})

		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("rejects missing display name", func(t *testing.T) {
		svc := newTestService(newFakeRepo(), &fakeRecorder{})

		input := validInput()
		input.DisplayName = ""
		_, err := svc.Create(ctx, 1, input, audit.RequestMeta{})

		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("records a create audit entry with after state only", func(t *testing.T) {
		recorder := &fakeRecorder{}
		svc := newTestService(newFakeRepo(), recorder)

		_, err := svc.Create(ctx, 1, validInput(), audit.RequestMeta{})
		require.NoError(t, err)

		require.Len(t, recorder.changes, 1)
		assert.Equal(t, models.ActionCreate, recorder.changes[0].action)
		assert.Nil(t, recorder.changes[0].before)
		assert.NotNil(t, recorder.changes[0].after)
	})

	t.Run("audit failure does not fail the mutation", func(t *testing.T) {
		recorder := &fakeRecorder{err: errors.New("audit store down")}
		svc := newTestService(newFakeRepo(), recorder)

		p, err := svc.Create(ctx, 1, validInput(), audit.RequestMeta{})
		require.NoError(t, err)
		assert.NotZero(t, p.ID)
	})
}

func TestServiceUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("recomputes metrics from new inputs", func(t *testing.T) {
		repo := newFakeRepo()
		recorder := &fakeRecorder{}
		svc := newTestService(repo, recorder)

		created, err := svc.Create(ctx, 1, validInput(), audit.RequestMeta{})
		require.NoError(t, err)

		input := validInput()
		input.CurrentValue = decimal.NewFromFloat(3000.00)
		updated, err := svc.Update(ctx, 1, created.ID, input, audit.RequestMeta{})
		require.NoError(t, err)

		assert.True(t, decimal.NewFromFloat(450.00).Equal(updated.Gain), "gain: %s", updated.Gain)
		assert.True(t, decimal.NewFromFloat(17.65).Equal(updated.GainPct), "gain pct: %s", updated.GainPct)

		require.Len(t, recorder.changes, 2)
		change := recorder.changes[1]
		assert.Equal(t, models.ActionUpdate, change.action)
		require.NotNil(t, change.before)
		require.NotNil(t, change.after)
		assert.True(t, change.before.Gain.IsZero())
	})

	t.Run("unknown id returns not found", func(t *testing.T) {
		svc := newTestService(newFakeRepo(), &fakeRecorder{})

		_, err := svc.Update(ctx, 1, 99, validInput(), audit.RequestMeta{})
		require.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("foreign owner collapses to not found", func(t *testing.T) {
		repo := newFakeRepo()
		svc := newTestService(repo, &fakeRecorder{})

		created, err := svc.Create(ctx, 1, validInput(), audit.RequestMeta{})
		require.NoError(t, err)

		_, err = svc.Update(ctx, 2, created.ID, validInput(), audit.RequestMeta{})
		require.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestServiceDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the position and records before state", func(t *testing.T) {
		repo := newFakeRepo()
		recorder := &fakeRecorder{}
		svc := newTestService(repo, recorder)

		created, err := svc.Create(ctx, 1, validInput(), audit.RequestMeta{})
		require.NoError(t, err)

		require.NoError(t, svc.Delete(ctx, 1, created.ID, audit.RequestMeta{}))

		_, err = svc.GetByID(1, created.ID)
		require.ErrorIs(t, err, database.ErrNotFound)

		change := recorder.changes[len(recorder.changes)-1]
		assert.Equal(t, models.ActionDelete, change.action)
		require.NotNil(t, change.before)
		assert.Nil(t, change.after)
	})

	t.Run("unknown id returns not found", func(t *testing.T) {
		svc := newTestService(newFakeRepo(), &fakeRecorder{})
		err := svc.Delete(ctx, 1, 42, audit.RequestMeta{})
		require.ErrorIs(t, err, database.ErrNotFound)
	})
}

func TestServiceAggregate(t *testing.T) {
	ctx := context.Background()

	t.Run("empty portfolio yields zeros", func(t *testing.T) {
		svc := newTestService(newFakeRepo(), &fakeRecorder{})

		agg, err := svc.Aggregate(9)
		require.NoError(t, err)
		assert.Zero(t, agg.PositionCount)
		assert.True(t, agg.BookValue.IsZero())
	})

	t.Run("sums across positions", func(t *testing.T) {
		svc := newTestService(newFakeRepo(), &fakeRecorder{})

		_, err := svc.Create(ctx, 1, validInput(), audit.RequestMeta{})
		require.NoError(t, err)

		second := validInput()
		second.DisplayName = "Microsoft"
		second.Ticker = "MSFT"
		second.Quantity = decimal.NewFromInt(10)
		second.AverageCost = decimal.NewFromInt(300)
		_, err = svc.Create(ctx, 1, second, audit.RequestMeta{})
		require.NoError(t, err)

		agg, err := svc.Aggregate(1)
		require.NoError(t, err)
		assert.Equal(t, 2, agg.PositionCount)
		assert.True(t, decimal.NewFromFloat(5550.00).Equal(agg.BookValue), "book value: %s", agg.BookValue)
	})
}
