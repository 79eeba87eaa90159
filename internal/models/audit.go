package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AuditAction enumerates the kinds of mutation the audit trail records.
type AuditAction string

const (
	ActionCreate AuditAction = "create"
	ActionUpdate AuditAction = "update"
	ActionDelete AuditAction = "delete"
	ActionLogin  AuditAction = "login"
	ActionLogout AuditAction = "logout"
)

// actionLabels maps every action to its display text
var actionLabels = map[AuditAction]string{
	ActionCreate: "Created",
	ActionUpdate: "Updated",
	ActionDelete: "Deleted",
	ActionLogin:  "Logged in",
	ActionLogout: "Logged out",
}

// Valid reports whether the action is a known value.
func (a AuditAction) Valid() bool {
	_, ok := actionLabels[a]
	return ok
}

// Label returns the human-readable display text for the action.
func (a AuditAction) Label() string {
	if label, ok := actionLabels[a]; ok {
		return label
	}
	return string(a)
}

// FinancialOpType enumerates the monetary operation kinds recorded alongside
// the generic audit trail.
type FinancialOpType string

const (
	OpPositionCreate FinancialOpType = "position_create"
	OpPositionUpdate FinancialOpType = "position_update"
	OpPositionDelete FinancialOpType = "position_delete"
	OpPriceSync      FinancialOpType = "price_sync"
)

// AuditRecord is one immutable, append-only log entry describing a mutation.
// Snapshots are stored as schema-less JSON text so old rows survive the
// entity shape changing between versions.
type AuditRecord struct {
	ID          int64       `json:"id"`
	ActorID     int64       `json:"actor_id"`
	Action      AuditAction `json:"action"`
	EntityType  string      `json:"entity_type"`
	EntityID    *int64      `json:"entity_id,omitempty"`
	BeforeState string      `json:"before_state,omitempty"`
	AfterState  string      `json:"after_state,omitempty"`
	ClientIP    string      `json:"client_ip,omitempty"`
	UserAgent   string      `json:"user_agent,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`

	// EntityName is resolved best-effort at query time, never stored.
	EntityName string `json:"entity_name,omitempty"`
}

// FinancialOperationRecord is a narrow append-only record of one monetary
// mutation, kept separate so dollar-delta queries need no snapshot parsing.
type FinancialOperationRecord struct {
	ID             int64            `json:"id"`
	ActorID        int64            `json:"actor_id"`
	OpType         FinancialOpType  `json:"op_type"`
	EntityID       int64            `json:"entity_id"`
	ValueBefore    *decimal.Decimal `json:"value_before,omitempty"`
	ValueAfter     *decimal.Decimal `json:"value_after,omitempty"`
	QuantityBefore *decimal.Decimal `json:"quantity_before,omitempty"`
	QuantityAfter  *decimal.Decimal `json:"quantity_after,omitempty"`
	Detail         string           `json:"detail,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`

	EntityName string `json:"entity_name,omitempty"`
}

// AuditFilter narrows history queries. Zero values mean "no filter".
type AuditFilter struct {
	Action     AuditAction
	EntityType string
}

// ActivityBucket is one (action, day) count from the activity stats query
type ActivityBucket struct {
	Action AuditAction `json:"action"`
	Day    time.Time   `json:"day"`
	Count  int         `json:"count"`
}

// PositionSnapshot is the encode/decode contract for position before/after
// states stored in audit records.
type PositionSnapshot struct {
	ID           int64           `json:"id"`
	AssetClass   AssetClass      `json:"asset_class"`
	DisplayName  string          `json:"display_name"`
	Ticker       string          `json:"ticker,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	BookValue    decimal.Decimal `json:"book_value"`
	CurrentValue decimal.Decimal `json:"current_value"`
	Gain         decimal.Decimal `json:"gain"`
	GainPct      decimal.Decimal `json:"gain_pct"`
	Notes        string          `json:"notes,omitempty"`
}

// SnapshotPosition captures the audited fields of a position.
func SnapshotPosition(p *Position) PositionSnapshot {
	return PositionSnapshot{
		ID:           p.ID,
		AssetClass:   p.AssetClass,
		DisplayName:  p.DisplayName,
		Ticker:       p.Ticker,
		Quantity:     p.Quantity,
		AverageCost:  p.AverageCost,
		BookValue:    p.BookValue,
		CurrentValue: p.CurrentValue,
		Gain:         p.Gain,
		GainPct:      p.GainPct,
		Notes:        p.Notes,
	}
}

// Encode serializes the snapshot to the stored JSON form.
func (s PositionSnapshot) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return string(data), nil
}

// DecodePositionSnapshot parses a stored snapshot blob.
func DecodePositionSnapshot(raw string) (PositionSnapshot, error) {
	var s PositionSnapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return PositionSnapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return s, nil
}
