package room

import "time"

// EntryKind tags what produced a history entry.
type EntryKind string

const (
	KindTransfer   EntryKind = "transfer"
	KindForceEdit  EntryKind = "force_edit"
	KindReset      EntryKind = "reset"
	KindSettlement EntryKind = "settlement"
	KindAdjustment EntryKind = "adjustment"
)

// HistoryEntry pairs an operation message with the state before it ran.
// Seq is the per-room logical position and the only ordering key.
type HistoryEntry struct {
	ID        string       `json:"id"`
	RoomID    string       `json:"room_id"`
	Seq       int64        `json:"seq"`
	Timestamp time.Time    `json:"timestamp"`
	Kind      EntryKind    `json:"kind"`
	Message   string       `json:"message"`
	Snapshot  CurrentState `json:"snapshot"`
}

// SettlementType distinguishes round results from manual corrections.
type SettlementType string

const (
	SettlementRoundResult SettlementType = "round_result"
	SettlementAdjustment  SettlementType = "adjustment"
)

// Valid reports whether t is a known settlement type.
func (t SettlementType) Valid() bool {
	return t == SettlementRoundResult || t == SettlementAdjustment
}

// EntryKind returns the history kind recorded for t.
func (t SettlementType) EntryKind() EntryKind {
	if t == SettlementAdjustment {
		return KindAdjustment
	}
	return KindSettlement
}

// Settlement is a per-participant result row. HistoryID always names the
// entry that recorded it.
type Settlement struct {
	ID        string             `json:"id"`
	RoomID    string             `json:"room_id"`
	HistoryID string             `json:"history_id"`
	Timestamp time.Time          `json:"timestamp"`
	Type      SettlementType     `json:"type"`
	Result    map[string]float64 `json:"result"`
}
