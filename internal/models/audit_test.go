package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditActionLabels(t *testing.T) {
	actions := []AuditAction{ActionCreate, ActionUpdate, ActionDelete, ActionLogin, ActionLogout}
	for _, action := range actions {
		assert.True(t, action.Valid(), "action %s", action)
		assert.NotEqual(t, string(action), action.Label(), "action %s has no display label", action)
	}

	assert.False(t, AuditAction("archive").Valid())
	assert.Equal(t, "archive", AuditAction("archive").Label())
}

func TestPositionSnapshotRoundTrip(t *testing.T) {
	p := &Position{
		ID:           7,
		AssetClass:   AssetClassStock,
		DisplayName:  "Apple Inc",
		Ticker:       "AAPL",
		Quantity:     decimal.NewFromInt(100),
		AverageCost:  decimal.NewFromFloat(25.50),
		BookValue:    decimal.NewFromFloat(2550.00),
		CurrentValue: decimal.NewFromFloat(3000.00),
		Gain:         decimal.NewFromFloat(450.00),
		GainPct:      decimal.NewFromFloat(17.65),
		Notes:        "long term",
	}

	encoded, err := SnapshotPosition(p).Encode()
	require.NoError(t, err)

	decoded, err := DecodePositionSnapshot(encoded)
	require.NoError(t, err)

	assert.Equal(t, int64(7), decoded.ID)
	assert.Equal(t, "Apple Inc", decoded.DisplayName)
	assert.Equal(t, "AAPL", decoded.Ticker)
	assert.True(t, p.CurrentValue.Equal(decoded.CurrentValue))
	assert.True(t, p.GainPct.Equal(decoded.GainPct))
}

func TestDecodePositionSnapshotMalformed(t *testing.T) {
	_, err := DecodePositionSnapshot("{not json")
	require.Error(t, err)
}
