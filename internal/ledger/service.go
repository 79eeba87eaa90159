package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finchlabs/portfolio-ledger/internal/audit"
	"github.com/finchlabs/portfolio-ledger/internal/models"
)

// Repository defines the position persistence operations the service needs.
// It is implemented by database.DB.
type Repository interface {
	CreatePosition(p *models.Position) error
	GetPositionByID(ownerID, id int64) (*models.Position, error)
	GetAllPositions(ownerID int64) ([]*models.Position, error)
	UpdatePositionTx(ownerID, id int64, apply func(*models.Position) error) (*models.Position, *models.Position, error)
	DeletePosition(ownerID, id int64) (*models.Position, error)
	AggregatePositions(ownerID int64) (*models.PortfolioAggregate, error)
	AggregatePositionsByClass(ownerID int64) ([]*models.ClassAggregate, error)
}

// Recorder is the audit hook for position mutations. Implemented by
// audit.Trail.
type Recorder interface {
	RecordPositionChange(actorID int64, action models.AuditAction, positionID int64, before, after *models.Position, meta audit.RequestMeta) error
}

// EventPublisher publishes outbound position events. Implemented by
// kafka.Producer; may be nil when no broker is configured.
type EventPublisher interface {
	PublishPositionCreated(ctx context.Context, p *models.Position) error
	PublishPositionUpdated(ctx context.Context, p *models.Position) error
	PublishPositionDeleted(ctx context.Context, ownerID, positionID int64) error
}

// PositionInput carries the user-editable fields of a position
type PositionInput struct {
	AssetClass   models.AssetClass `json:"asset_class"`
	DisplayName  string            `json:"display_name"`
	Ticker       string            `json:"ticker"`
	Quantity     decimal.Decimal   `json:"quantity"`
	AverageCost  decimal.Decimal   `json:"average_cost"`
	CurrentValue decimal.Decimal   `json:"current_value"`
	PurchaseDate *time.Time        `json:"purchase_date"`
	Notes        string            `json:"notes"`
}

// Service owns position records and keeps their derived metrics consistent
// across every mutation. Audit and event writes are best-effort: a failure
// there is logged and never rolls back the position mutation it describes.
type Service struct {
	repo   Repository
	trail  Recorder
	events EventPublisher
	log    zerolog.Logger
}

// NewService creates the position service. events may be nil.
func NewService(repo Repository, trail Recorder, events EventPublisher, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		trail:  trail,
		events: events,
		log:    log.With().Str("component", "ledger").Logger(),
	}
}

func validateInput(input PositionInput) error {
	if input.DisplayName == "" {
		return &ValidationError{Field: "display_name", Reason: "required"}
	}
	if !input.AssetClass.Valid() {
		return &ValidationError{Field: "asset_class", Reason: "unknown value"}
	}
	if !input.Quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}
	if !input.AverageCost.IsPositive() {
		return &ValidationError{Field: "average_cost", Reason: "must be greater than zero"}
	}
	return nil
}

func applyInput(p *models.Position, input PositionInput) {
	p.AssetClass = input.AssetClass
	p.DisplayName = input.DisplayName
	p.Ticker = input.Ticker
	p.Quantity = input.Quantity
	p.AverageCost = input.AverageCost
	p.PurchaseDate = input.PurchaseDate
	p.Notes = input.Notes

	book := input.Quantity.Mul(input.AverageCost).Round(2)
	if input.CurrentValue.IsPositive() {
		p.CurrentValue = input.CurrentValue
	} else {
		p.CurrentValue = book
	}
	p.Recompute()
}

// Create validates the input, computes the derived metrics and persists a
// new position.
func (s *Service) Create(ctx context.Context, ownerID int64, input PositionInput, meta audit.RequestMeta) (*models.Position, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	p := &models.Position{OwnerID: ownerID}
	applyInput(p, input)

	if err := s.repo.CreatePosition(p); err != nil {
		return nil, err
	}

	if err := s.trail.RecordPositionChange(ownerID, models.ActionCreate, p.ID, nil, p, meta); err != nil {
		s.log.Error().Err(err).Int64("position_id", p.ID).Msg("failed to record position create")
	}
	if s.events != nil {
		if err := s.events.PublishPositionCreated(ctx, p); err != nil {
			s.log.Warn().Err(err).Int64("position_id", p.ID).Msg("failed to publish position created event")
		}
	}
	return p, nil
}

// Update replaces the user-editable fields and recomputes the derived
// metrics, all inside one row-scoped transaction.
func (s *Service) Update(ctx context.Context, ownerID, id int64, input PositionInput, meta audit.RequestMeta) (*models.Position, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	before, after, err := s.repo.UpdatePositionTx(ownerID, id, func(p *models.Position) error {
		applyInput(p, input)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.trail.RecordPositionChange(ownerID, models.ActionUpdate, id, before, after, meta); err != nil {
		s.log.Error().Err(err).Int64("position_id", id).Msg("failed to record position update")
	}
	if s.events != nil {
		if err := s.events.PublishPositionUpdated(ctx, after); err != nil {
			s.log.Warn().Err(err).Int64("position_id", id).Msg("failed to publish position updated event")
		}
	}
	return after, nil
}

// Delete removes a position permanently. Recovery is only possible through
// the audit history, which keeps the pre-delete snapshot.
func (s *Service) Delete(ctx context.Context, ownerID, id int64, meta audit.RequestMeta) error {
	before, err := s.repo.DeletePosition(ownerID, id)
	if err != nil {
		return err
	}

	if err := s.trail.RecordPositionChange(ownerID, models.ActionDelete, id, before, nil, meta); err != nil {
		s.log.Error().Err(err).Int64("position_id", id).Msg("failed to record position delete")
	}
	if s.events != nil {
		if err := s.events.PublishPositionDeleted(ctx, ownerID, id); err != nil {
			s.log.Warn().Err(err).Int64("position_id", id).Msg("failed to publish position deleted event")
		}
	}
	return nil
}

// GetByID returns one position scoped to its owner
func (s *Service) GetByID(ownerID, id int64) (*models.Position, error) {
	return s.repo.GetPositionByID(ownerID, id)
}

// GetAll returns the owner's positions ordered by current value descending
func (s *Service) GetAll(ownerID int64) ([]*models.Position, error) {
	return s.repo.GetAllPositions(ownerID)
}

// Aggregate sums the owner's portfolio
func (s *Service) Aggregate(ownerID int64) (*models.PortfolioAggregate, error) {
	return s.repo.AggregatePositions(ownerID)
}

// AggregateByClass sums the owner's portfolio per asset class
func (s *Service) AggregateByClass(ownerID int64) ([]*models.ClassAggregate, error) {
	return s.repo.AggregatePositionsByClass(ownerID)
}
