package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/syncboard/internal/room"
)

// Tx is a room-scoped transaction handed to UpdateRoom callbacks.
//
// Room holds the row as loaded under lock; the callback mutates Room.State
// (and optionally Room.Seats or Room.Template) and UpdateRoom writes them
// back on success with the version bumped by one.
// All reads and writes inside the callback must go through Tx.
type Tx struct {
	ctx     context.Context
	tx      *sql.Tx
	dialect dialect

	Room room.Room
}

// UpdateRoom runs fn inside a transaction holding the room row.
// If fn returns an error, nothing is written. Returns the committed room.
func (s *Store) UpdateRoom(ctx context.Context, id string, fn func(tx *Tx) error) (room.Room, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return room.Room{}, fmt.Errorf("update room: begin tx: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	row := sqlTx.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT `+roomColumns+`
		FROM rooms
		WHERE id = ?`+s.dialect.lockSuffix), id)
	r, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return room.Room{}, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return room.Room{}, fmt.Errorf("update room: load: %w", err)
	}

	tx := &Tx{ctx: ctx, tx: sqlTx, dialect: s.dialect, Room: r}
	if err := fn(tx); err != nil {
		return room.Room{}, err
	}

	stateJSON, err := marshalJSON("current_state", tx.Room.State)
	if err != nil {
		return room.Room{}, fmt.Errorf("update room: %w", err)
	}
	seatsJSON, err := marshalJSON("seats", tx.Room.Seats)
	if err != nil {
		return room.Room{}, fmt.Errorf("update room: %w", err)
	}
	tmplJSON, err := marshalJSON("template", tx.Room.Template)
	if err != nil {
		return room.Room{}, fmt.Errorf("update room: %w", err)
	}
	tx.Room.Version = r.Version + 1
	if _, err := sqlTx.ExecContext(ctx, s.dialect.rebind(`
		UPDATE rooms SET current_state = ?, seats = ?, template = ?, version = ? WHERE id = ?
	`), stateJSON, seatsJSON, tmplJSON, tx.Room.Version, id); err != nil {
		return room.Room{}, fmt.Errorf("update room: write: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return room.Room{}, fmt.Errorf("update room: commit: %w", err)
	}
	return tx.Room, nil
}

// NextSeq returns the next history position for the room.
func (t *Tx) NextSeq() (int64, error) {
	var seq sql.NullInt64
	err := t.tx.QueryRowContext(t.ctx, t.dialect.rebind(`
		SELECT MAX(seq) FROM history WHERE room_id = ?
	`), t.Room.ID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return seq.Int64 + 1, nil
}

// LastHistory returns the most recent history entry of the room.
func (t *Tx) LastHistory() (room.HistoryEntry, bool, error) {
	row := t.tx.QueryRowContext(t.ctx, t.dialect.rebind(`
		SELECT `+historyColumns+`
		FROM history
		WHERE room_id = ?
		ORDER BY seq DESC, id DESC
		LIMIT 1
	`), t.Room.ID)
	e, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return room.HistoryEntry{}, false, nil
	}
	if err != nil {
		return room.HistoryEntry{}, false, fmt.Errorf("last history: %w", err)
	}
	return e, true, nil
}

// AppendHistory inserts a history entry for the room.
func (t *Tx) AppendHistory(e room.HistoryEntry) error {
	snapshotJSON, err := marshalJSON("snapshot", e.Snapshot)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	_, err = t.tx.ExecContext(t.ctx, t.dialect.rebind(`
		INSERT INTO history
		(id, room_id, seq, created_at, kind, message, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`),
		e.ID,
		t.Room.ID,
		e.Seq,
		toUnixNano(e.Timestamp),
		string(e.Kind),
		e.Message,
		snapshotJSON,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// DeleteHistory removes one history entry; a linked settlement cascades.
func (t *Tx) DeleteHistory(id string) error {
	res, err := t.tx.ExecContext(t.ctx, t.dialect.rebind(`
		DELETE FROM history WHERE id = ? AND room_id = ?
	`), id, t.Room.ID)
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete history: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("history %s: %w", id, ErrNotFound)
	}
	return nil
}

// InsertSettlement inserts a settlement row. The linked history entry must
// already exist in this transaction.
func (t *Tx) InsertSettlement(st room.Settlement) error {
	resultJSON, err := marshalJSON("result", st.Result)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	_, err = t.tx.ExecContext(t.ctx, t.dialect.rebind(`
		INSERT INTO settlements
		(id, room_id, history_id, created_at, type, result)
		VALUES (?, ?, ?, ?, ?, ?)
	`),
		st.ID,
		t.Room.ID,
		st.HistoryID,
		toUnixNano(st.Timestamp),
		string(st.Type),
		resultJSON,
	)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}
