package syncclient

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Code categorizes errors surfaced by the client.
type Code string

const (
	// CodeTransientNetwork indicates a fetch timed out or was aborted.
	CodeTransientNetwork Code = "TRANSIENT_NETWORK"

	// CodeChannel indicates the notification channel could not be rebuilt.
	CodeChannel Code = "CHANNEL"

	// CodeRoomRemoved indicates the room was deleted. Terminal.
	CodeRoomRemoved Code = "ROOM_REMOVED"

	// CodeUnresolved indicates no room identity was observed in time. Terminal.
	CodeUnresolved Code = "UNRESOLVED"

	// CodeFetchFailed indicates the server rejected or failed a fetch.
	CodeFetchFailed Code = "FETCH_FAILED"
)

var (
	// ErrClosed is returned by operations on a disposed client.
	ErrClosed = errors.New("syncclient: closed")

	// ErrRoomNotFound is wrapped by Fetcher implementations when the room
	// does not exist.
	ErrRoomNotFound = errors.New("syncclient: room not found")
)

// Error is a typed client error.
type Error struct {
	Code   Code
	RoomID string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (room=%s)", e.Code, e.RoomID)
	}
	return fmt.Sprintf("%s: %v (room=%s)", e.Code, e.Err, e.RoomID)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is a client Error with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// classifyFetch maps a fetch failure to a client error.
func classifyFetch(roomID string, err error) *Error {
	code := CodeFetchFailed
	var ne net.Error
	switch {
	case errors.Is(err, ErrRoomNotFound):
		code = CodeRoomRemoved
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = CodeTransientNetwork
	case errors.As(err, &ne) && ne.Timeout():
		code = CodeTransientNetwork
	}
	return &Error{Code: code, RoomID: roomID, Err: err}
}
