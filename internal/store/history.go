package store

import (
	"context"
	"fmt"

	"github.com/roach88/syncboard/internal/room"
)

const historyColumns = `id, room_id, seq, created_at, kind, message, snapshot`

const settlementColumns = `s.id, s.room_id, s.history_id, s.created_at, s.type, s.result`

// ListHistory returns the room's history in chronological order.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC.
//
// Returns an empty slice (not nil) if the room has no history.
func (s *Store) ListHistory(ctx context.Context, roomID string) ([]room.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT `+historyColumns+`
		FROM history
		WHERE room_id = ?
		ORDER BY seq ASC, id ASC
	`), roomID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []room.HistoryEntry{}
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// ListSettlements returns the room's settlements in the order of the history
// entries that recorded them.
//
// Returns an empty slice (not nil) if the room has no settlements.
func (s *Store) ListSettlements(ctx context.Context, roomID string) ([]room.Settlement, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT `+settlementColumns+`
		FROM settlements s
		JOIN history h ON h.id = s.history_id
		WHERE s.room_id = ?
		ORDER BY h.seq ASC, s.id ASC
	`), roomID)
	if err != nil {
		return nil, fmt.Errorf("query settlements: %w", err)
	}
	defer rows.Close()

	settlements := []room.Settlement{}
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement: %w", err)
		}
		settlements = append(settlements, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlements: %w", err)
	}
	return settlements, nil
}
