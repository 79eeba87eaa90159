package audit

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finchlabs/portfolio-ledger/internal/database"
	"github.com/finchlabs/portfolio-ledger/internal/models"
)

// nameNotAvailable is returned as the display name for entities that no
// longer exist (for example a position deleted after the audit row was
// written).
const nameNotAvailable = "not available"

// Store defines the persistence operations the audit trail needs. It is
// implemented by database.DB.
type Store interface {
	InsertAuditRecord(r *models.AuditRecord) error
	InsertFinancialOperation(r *models.FinancialOperationRecord) error
	QueryAuditRecords(actorID int64, filter models.AuditFilter, page, pageSize int) ([]*models.AuditRecord, error)
	CountAuditRecords(actorID int64, filter models.AuditFilter) (int, error)
	GetRecentFinancialOperations(actorID int64, limit int) ([]*models.FinancialOperationRecord, error)
	ActivityStats(actorID int64, windowDays int) ([]*models.ActivityBucket, error)
	StartSession(s *models.SessionRecord) error
	EndSession(actorID int64, sessionToken string) (bool, error)
	GetPositionByID(ownerID, id int64) (*models.Position, error)
}

// RequestMeta carries the request-scoped context recorded with each entry
type RequestMeta struct {
	ClientIP  string
	UserAgent string
}

// Trail records mutations and manages session lifecycle
type Trail struct {
	store Store
	log   zerolog.Logger
}

// NewTrail creates an audit trail backed by the given store
func NewTrail(store Store, log zerolog.Logger) *Trail {
	return &Trail{
		store: store,
		log:   log.With().Str("component", "audit").Logger(),
	}
}

// RecordAction appends one audit record. Snapshot requirements depend on the
// action: create carries only an after state, delete only a before state,
// update both, and session events neither.
func (t *Trail) RecordAction(actorID int64, action models.AuditAction, entityType string, entityID *int64, before, after, detail string, meta RequestMeta) error {
	if !action.Valid() {
		return fmt.Errorf("unknown audit action: %q", action)
	}
	if err := validateSnapshots(action, before, after); err != nil {
		return err
	}

	record := &models.AuditRecord{
		ActorID:     actorID,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		BeforeState: before,
		AfterState:  after,
		ClientIP:    meta.ClientIP,
		UserAgent:   meta.UserAgent,
		Detail:      detail,
	}
	return t.store.InsertAuditRecord(record)
}

func validateSnapshots(action models.AuditAction, before, after string) error {
	switch action {
	case models.ActionCreate:
		if after == "" || before != "" {
			return errors.New("create action requires an after state only")
		}
	case models.ActionUpdate:
		if before == "" || after == "" {
			return errors.New("update action requires both before and after states")
		}
	case models.ActionDelete:
		if before == "" || after != "" {
			return errors.New("delete action requires a before state only")
		}
	case models.ActionLogin, models.ActionLogout:
		if before != "" || after != "" {
			return errors.New("session actions carry no snapshots")
		}
	}
	return nil
}

// RecordFinancialOperation appends one financial operation record
func (t *Trail) RecordFinancialOperation(actorID int64, opType models.FinancialOpType, entityID int64, valueBefore, valueAfter, qtyBefore, qtyAfter *decimal.Decimal, detail string) error {
	record := &models.FinancialOperationRecord{
		ActorID:        actorID,
		OpType:         opType,
		EntityID:       entityID,
		ValueBefore:    valueBefore,
		ValueAfter:     valueAfter,
		QuantityBefore: qtyBefore,
		QuantityAfter:  qtyAfter,
		Detail:         detail,
	}
	return t.store.InsertFinancialOperation(record)
}

// RecordPositionChange writes the audit record and the financial operation
// record for one position mutation. The detail string is derived from the
// position's display name.
func (t *Trail) RecordPositionChange(actorID int64, action models.AuditAction, positionID int64, before, after *models.Position, meta RequestMeta) error {
	detail := fmt.Sprintf("%s position %q", action.Label(), positionDisplayName(before, after))

	beforeState, afterState, err := encodeSnapshots(action, before, after)
	if err != nil {
		return err
	}

	if err := t.RecordAction(actorID, action, "position", &positionID, beforeState, afterState, detail, meta); err != nil {
		return err
	}

	var valueBefore, valueAfter, qtyBefore, qtyAfter *decimal.Decimal
	if before != nil {
		valueBefore = &before.CurrentValue
		qtyBefore = &before.Quantity
	}
	if after != nil {
		valueAfter = &after.CurrentValue
		qtyAfter = &after.Quantity
	}
	return t.RecordFinancialOperation(actorID, opTypeForAction(action), positionID, valueBefore, valueAfter, qtyBefore, qtyAfter, detail)
}

func positionDisplayName(before, after *models.Position) string {
	if after != nil && after.DisplayName != "" {
		return after.DisplayName
	}
	if before != nil && before.DisplayName != "" {
		return before.DisplayName
	}
	return "unnamed position"
}

func encodeSnapshots(action models.AuditAction, before, after *models.Position) (string, string, error) {
	var beforeState, afterState string
	if before != nil && action != models.ActionCreate {
		encoded, err := models.SnapshotPosition(before).Encode()
		if err != nil {
			return "", "", err
		}
		beforeState = encoded
	}
	if after != nil && action != models.ActionDelete {
		encoded, err := models.SnapshotPosition(after).Encode()
		if err != nil {
			return "", "", err
		}
		afterState = encoded
	}
	return beforeState, afterState, nil
}

func opTypeForAction(action models.AuditAction) models.FinancialOpType {
	switch action {
	case models.ActionCreate:
		return models.OpPositionCreate
	case models.ActionDelete:
		return models.OpPositionDelete
	default:
		return models.OpPositionUpdate
	}
}

// QueryHistory returns one page of audit history, newest first, with a
// best-effort display name resolved per row.
func (t *Trail) QueryHistory(actorID int64, filter models.AuditFilter, page, pageSize int) ([]*models.AuditRecord, error) {
	records, err := t.store.QueryAuditRecords(actorID, filter, page, pageSize)
	if err != nil {
		return nil, err
	}

	names := map[int64]string{}
	for _, r := range records {
		if r.EntityType != "position" || r.EntityID == nil {
			continue
		}
		r.EntityName = t.resolveName(actorID, *r.EntityID, names)
	}
	return records, nil
}

// CountHistory returns the total matching record count, for pagination
func (t *Trail) CountHistory(actorID int64, filter models.AuditFilter) (int, error) {
	return t.store.CountAuditRecords(actorID, filter)
}

// QueryFinancialOperations returns the most recent financial operations,
// newest first, with best-effort name resolution.
func (t *Trail) QueryFinancialOperations(actorID int64, limit int) ([]*models.FinancialOperationRecord, error) {
	records, err := t.store.GetRecentFinancialOperations(actorID, limit)
	if err != nil {
		return nil, err
	}

	names := map[int64]string{}
	for _, r := range records {
		r.EntityName = t.resolveName(actorID, r.EntityID, names)
	}
	return records, nil
}

// resolveName looks up a position's display name, falling back to a sentinel
// when the entity has since been deleted. Lookup failures never fail the
// surrounding query.
func (t *Trail) resolveName(actorID, positionID int64, cache map[int64]string) string {
	if name, ok := cache[positionID]; ok {
		return name
	}

	name := nameNotAvailable
	p, err := t.store.GetPositionByID(actorID, positionID)
	switch {
	case err == nil:
		name = p.DisplayName
	case !errors.Is(err, database.ErrNotFound):
		t.log.Warn().Err(err).Int64("position_id", positionID).Msg("failed to resolve entity name")
	}
	cache[positionID] = name
	return name
}

// QueryActivityStats counts audit records grouped by action and day within
// the trailing window.
func (t *Trail) QueryActivityStats(actorID int64, windowDays int) ([]*models.ActivityBucket, error) {
	return t.store.ActivityStats(actorID, windowDays)
}

// StartSession opens a new active session for the actor, closing any
// previous ones, and appends the login audit record. The close-then-open
// step is a single transaction in the store; the audit append is best-effort
// on top of it.
func (t *Trail) StartSession(actorID int64, sessionToken string, meta RequestMeta) (*models.SessionRecord, error) {
	session := &models.SessionRecord{
		ActorID:      actorID,
		SessionToken: sessionToken,
	}
	if err := t.store.StartSession(session); err != nil {
		return nil, err
	}

	if err := t.RecordAction(actorID, models.ActionLogin, "session", nil, "", "", "User logged in", meta); err != nil {
		t.log.Error().Err(err).Int64("actor_id", actorID).Msg("failed to record login")
	}
	return session, nil
}

// EndSession closes the matching active session and appends the logout
// audit record. Ending an unknown or already-closed session is a no-op;
// logout never fails for that reason.
func (t *Trail) EndSession(actorID int64, sessionToken string, meta RequestMeta) error {
	closed, err := t.store.EndSession(actorID, sessionToken)
	if err != nil {
		return err
	}
	if !closed {
		t.log.Debug().Int64("actor_id", actorID).Msg("logout for inactive session, ignoring")
		return nil
	}

	if err := t.RecordAction(actorID, models.ActionLogout, "session", nil, "", "", "User logged out", meta); err != nil {
		t.log.Error().Err(err).Int64("actor_id", actorID).Msg("failed to record logout")
	}
	return nil
}
