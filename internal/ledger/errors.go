package ledger

import (
	"errors"
	"fmt"
)

// Code categorizes ledger errors.
type Code string

const (
	// CodeRoomNotFound indicates the room id does not resolve.
	CodeRoomNotFound Code = "ROOM_NOT_FOUND"

	// CodePlayerNotFound indicates a named participant is absent from the state.
	CodePlayerNotFound Code = "PLAYER_NOT_FOUND"

	// CodeInsufficientFunds indicates a pot withdrawal would go negative.
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"

	// CodeNoHistory indicates there is nothing to undo.
	CodeNoHistory Code = "NO_HISTORY"

	// CodePermissionDenied indicates the room's template does not grant the
	// operation.
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// CodeValidation indicates malformed arguments.
	CodeValidation Code = "VALIDATION"

	// CodeInternal is reported for storage and other unexpected failures.
	CodeInternal Code = "INTERNAL"
)

// Error is returned by every rejected ledger operation.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description, surfaced verbatim to callers.
	Message string

	// RoomID identifies the affected room.
	RoomID string

	// Details contains additional context.
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.RoomID != "" {
		return fmt.Sprintf("%s: %s (room=%s)", e.Code, e.Message, e.RoomID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is a ledger Error with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code Code) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == code
	}
	return false
}

// CodeOf returns the code of err, CodeInternal for foreign errors and ""
// for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-facing message of err.
func MessageOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Message
	}
	return err.Error()
}

func roomNotFound(roomID string) *Error {
	return &Error{Code: CodeRoomNotFound, Message: "room not found", RoomID: roomID}
}

func playerNotFound(roomID, participantID string) *Error {
	return &Error{
		Code:    CodePlayerNotFound,
		Message: fmt.Sprintf("player %s not found", participantID),
		RoomID:  roomID,
		Details: map[string]string{"participant": participantID},
	}
}

func insufficientPot(roomID, variable string, balance, amount float64) *Error {
	return &Error{
		Code:    CodeInsufficientFunds,
		Message: "insufficient pot",
		RoomID:  roomID,
		Details: map[string]string{
			"variable": variable,
			"balance":  fmt.Sprintf("%g", balance),
			"amount":   fmt.Sprintf("%g", amount),
		},
	}
}

func noHistory(roomID string) *Error {
	return &Error{Code: CodeNoHistory, Message: "no history to undo", RoomID: roomID}
}

func permissionDenied(roomID string, op Operation, perm string) *Error {
	return &Error{
		Code:    CodePermissionDenied,
		Message: fmt.Sprintf("%s is not permitted in this room", op),
		RoomID:  roomID,
		Details: map[string]string{"permission": perm},
	}
}

func invalid(roomID, format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...), RoomID: roomID}
}
