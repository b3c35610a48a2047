package ledger

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/roach88/syncboard/internal/room"
)

// Request invokes a ledger operation by name.
type Request struct {
	RoomID    string          `json:"roomId"`
	Operation Operation       `json:"operationName"`
	Args      json.RawMessage `json:"operationArgs,omitempty"`
}

// Response reports the outcome of Execute. On failure Error carries the
// operation's message verbatim.
type Response struct {
	Success bool   `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    Code   `json:"code,omitempty"`
}

// Execute dispatches req to the named operation. Argument shapes are the
// JSON forms of TransferRequest, ForceEditRequest, ResetRequest and
// SettlementRequest; undoLast takes none.
func (e *Engine) Execute(ctx context.Context, req Request) Response {
	_, err := e.Dispatch(ctx, req)
	return ResponseFor(err)
}

// Dispatch is Execute returning the committed room.
func (e *Engine) Dispatch(ctx context.Context, req Request) (room.Room, error) {
	if req.RoomID == "" {
		return room.Room{}, invalid("", "roomId is required")
	}

	switch req.Operation {
	case OpTransfer:
		var args TransferRequest
		if err := decodeArgs(req, &args); err != nil {
			return room.Room{}, err
		}
		return e.Transfer(ctx, req.RoomID, args)
	case OpForceEdit:
		var args ForceEditRequest
		if err := decodeArgs(req, &args); err != nil {
			return room.Room{}, err
		}
		return e.ForceEdit(ctx, req.RoomID, args)
	case OpReset:
		var args ResetRequest
		if err := decodeArgs(req, &args); err != nil {
			return room.Room{}, err
		}
		return e.Reset(ctx, req.RoomID, args)
	case OpSaveSettlement:
		var args SettlementRequest
		if err := decodeArgs(req, &args); err != nil {
			return room.Room{}, err
		}
		return e.SaveSettlement(ctx, req.RoomID, args)
	case OpUndoLast:
		return e.UndoLast(ctx, req.RoomID)
	default:
		return room.Room{}, invalid(req.RoomID, "unknown operation %q", req.Operation)
	}
}

// ResponseFor converts an operation result into a Response.
func ResponseFor(err error) Response {
	if err == nil {
		return Response{Success: true}
	}
	return Response{Error: MessageOf(err), Code: CodeOf(err)}
}

// Err converts a failed Response back into an *Error.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	return &Error{Code: r.Code, Message: r.Error}
}

func decodeArgs(req Request, v any) error {
	if len(bytes.TrimSpace(req.Args)) == 0 {
		return invalid(req.RoomID, "operationArgs required for %s", req.Operation)
	}
	dec := json.NewDecoder(bytes.NewReader(req.Args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalid(req.RoomID, "invalid operationArgs for %s: %v", req.Operation, err)
	}
	return nil
}
