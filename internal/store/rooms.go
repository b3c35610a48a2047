package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/syncboard/internal/room"
)

// CreateRoom inserts a new room row.
func (s *Store) CreateRoom(ctx context.Context, r room.Room) error {
	tmplJSON, err := marshalJSON("template", r.Template)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	seatsJSON, err := marshalJSON("seats", r.Seats)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	stateJSON, err := marshalJSON("current_state", r.State)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO rooms
		(id, join_code, host_id, status, template, seats, current_state, created_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		r.ID,
		r.JoinCode,
		r.HostID,
		string(r.Status),
		tmplJSON,
		seatsJSON,
		stateJSON,
		toUnixNano(r.CreatedAt),
		r.Version,
	)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// GetRoom returns the full room record. Returns an error wrapping
// ErrNotFound if the room does not exist.
func (s *Store) GetRoom(ctx context.Context, id string) (room.Room, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT `+roomColumns+`
		FROM rooms
		WHERE id = ?
	`), id)

	r, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return room.Room{}, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return room.Room{}, fmt.Errorf("get room: %w", err)
	}
	return r, nil
}

// FindRoomByCode returns the most recently created room that is not finished
// and carries the given join code.
func (s *Store) FindRoomByCode(ctx context.Context, code string) (room.Room, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT `+roomColumns+`
		FROM rooms
		WHERE join_code = ? AND status <> 'finished'
		ORDER BY created_at DESC, id ASC
		LIMIT 1
	`), code)

	r, err := scanRoom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return room.Room{}, fmt.Errorf("join code %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return room.Room{}, fmt.Errorf("find room by code: %w", err)
	}
	return r, nil
}

// DeleteRoom removes a room together with its history and settlements.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM rooms WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete room: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetStatus updates the status column of a room and bumps its version.
func (s *Store) SetStatus(ctx context.Context, id string, status room.Status) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`UPDATE rooms SET status = ?, version = version + 1 WHERE id = ?`), string(status), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set status: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	return nil
}
