package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncboard/internal/room"
)

func TestSaveSettlement_LinksHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.state(t)

	got, err := f.engine.SaveSettlement(ctx, testRoomID, SettlementRequest{
		ID:     "round-1",
		Type:   room.SettlementRoundResult,
		Result: map[string]float64{"alice": 12.5, "bob": -12.5},
	})
	require.NoError(t, err)

	assert.Equal(t, before.Players, got.State.Players, "variables untouched")

	entries := f.history(t)
	require.Len(t, entries, 1)
	assert.Equal(t, room.KindSettlement, entries[0].Kind)
	assert.Equal(t, "[settlement] alice +12.5, bob -12.5", entries[0].Message)

	settlements, err := f.store.ListSettlements(ctx, testRoomID)
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.Equal(t, "round-1", settlements[0].ID)
	assert.Equal(t, entries[0].ID, settlements[0].HistoryID)
	assert.Equal(t, map[string]float64{"alice": 12.5, "bob": -12.5}, settlements[0].Result)
}

func TestSaveSettlement_Adjustment(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SaveSettlement(context.Background(), testRoomID, SettlementRequest{
		Type:   room.SettlementAdjustment,
		Result: map[string]float64{"bob": 3},
	})
	require.NoError(t, err)

	entries := f.history(t)
	require.Len(t, entries, 1)
	assert.Equal(t, room.KindAdjustment, entries[0].Kind)
	assert.Equal(t, "[adjustment] bob +3", entries[0].Message)

	settlements, err := f.store.ListSettlements(context.Background(), testRoomID)
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.NotEmpty(t, settlements[0].ID, "id generated when omitted")
}

func TestSaveSettlement_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  SettlementRequest
		code Code
	}{
		{"unknown type", SettlementRequest{Type: "bonus", Result: map[string]float64{"alice": 1}}, CodeValidation},
		{"empty result", SettlementRequest{Type: room.SettlementRoundResult}, CodeValidation},
		{"pot in result", SettlementRequest{Type: room.SettlementRoundResult, Result: map[string]float64{room.PotID: 1}}, CodeValidation},
		{"unknown participant", SettlementRequest{Type: room.SettlementRoundResult, Result: map[string]float64{"carol": 1}}, CodePlayerNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.engine.SaveSettlement(context.Background(), testRoomID, tt.req)
			assert.True(t, IsCode(err, tt.code), "got %v", err)
			assert.Empty(t, f.history(t))
		})
	}
}
