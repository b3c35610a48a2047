package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/syncboard/internal/room"
)

// marshalJSON converts a value to JSON TEXT for storage.
func marshalJSON(what string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	return string(data), nil
}

// unmarshalJSON parses JSON TEXT from a column into v.
func unmarshalJSON(what string, data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", what, err)
	}
	return nil
}

func toUnixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// roomColumns lists the rooms table columns in scan order.
const roomColumns = `id, join_code, host_id, status, template, seats, current_state, created_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (room.Room, error) {
	var (
		r                      room.Room
		status                 string
		tmplJSON, seats, state []byte
		createdAt              int64
	)
	if err := row.Scan(&r.ID, &r.JoinCode, &r.HostID, &status, &tmplJSON, &seats, &state, &createdAt, &r.Version); err != nil {
		return room.Room{}, err
	}
	r.Status = room.Status(status)
	r.CreatedAt = fromUnixNano(createdAt)
	if err := unmarshalJSON("template", tmplJSON, &r.Template); err != nil {
		return room.Room{}, err
	}
	if err := unmarshalJSON("seats", seats, &r.Seats); err != nil {
		return room.Room{}, err
	}
	if err := unmarshalJSON("current_state", state, &r.State); err != nil {
		return room.Room{}, err
	}
	if r.State.Players == nil {
		r.State.Players = map[string]room.PlayerState{}
	}
	return r, nil
}

func scanHistory(row rowScanner) (room.HistoryEntry, error) {
	var (
		e         room.HistoryEntry
		kind      string
		snapshot  []byte
		createdAt int64
	)
	if err := row.Scan(&e.ID, &e.RoomID, &e.Seq, &createdAt, &kind, &e.Message, &snapshot); err != nil {
		return room.HistoryEntry{}, err
	}
	e.Kind = room.EntryKind(kind)
	e.Timestamp = fromUnixNano(createdAt)
	if err := unmarshalJSON("snapshot", snapshot, &e.Snapshot); err != nil {
		return room.HistoryEntry{}, err
	}
	if e.Snapshot.Players == nil {
		e.Snapshot.Players = map[string]room.PlayerState{}
	}
	return e, nil
}

func scanSettlement(row rowScanner) (room.Settlement, error) {
	var (
		st        room.Settlement
		kind      string
		result    []byte
		createdAt int64
	)
	if err := row.Scan(&st.ID, &st.RoomID, &st.HistoryID, &createdAt, &kind, &result); err != nil {
		return room.Settlement{}, err
	}
	st.Type = room.SettlementType(kind)
	st.Timestamp = fromUnixNano(createdAt)
	if err := unmarshalJSON("result", result, &st.Result); err != nil {
		return room.Settlement{}, err
	}
	return st, nil
}
