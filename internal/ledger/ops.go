package ledger

import (
	"context"
	"sort"
	"strings"

	"github.com/roach88/syncboard/internal/room"
	"github.com/roach88/syncboard/internal/store"
)

// Line is one variable moved by a transfer.
type Line struct {
	Variable string  `json:"variable"`
	Amount   float64 `json:"amount"`
}

// TransferRequest moves Lines from one account to another. Either side may
// be room.PotID.
type TransferRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Lines     []Line `json:"lines"`
	FromLabel string `json:"fromLabel,omitempty"`
	ToLabel   string `json:"toLabel,omitempty"`
}

// ForceEditRequest overwrites Values on one account.
type ForceEditRequest struct {
	Participant string             `json:"participantId"`
	Values      map[string]float64 `json:"values"`
	Label       string             `json:"label,omitempty"`
}

// ResetRequest restores Keys to their template initials.
type ResetRequest struct {
	Keys       []string `json:"keys"`
	IncludePot bool     `json:"includePot,omitempty"`
}

// SettlementRequest records one settlement. An empty ID is generated.
type SettlementRequest struct {
	ID     string              `json:"settlementId,omitempty"`
	Type   room.SettlementType `json:"type"`
	Result map[string]float64  `json:"result"`
}

// Transfer decrements every line on From and increments it on To.
//
// A pot withdrawal that would leave any affected pot variable negative fails
// with CodeInsufficientFunds; participants may go negative. A missing pot is
// treated as zero.
func (e *Engine) Transfer(ctx context.Context, roomID string, req TransferRequest) (room.Room, error) {
	return e.run(ctx, OpTransfer, roomID, validateTransfer(roomID, req), func(tx *store.Tx) (*change, error) {
		state := &tx.Room.State
		for _, id := range []string{req.From, req.To} {
			if id != room.PotID && !state.HasParticipant(id) {
				return nil, playerNotFound(roomID, id)
			}
		}

		for _, line := range req.Lines {
			if req.From == room.PotID {
				balance := state.Balance(room.PotID, line.Variable)
				if balance-line.Amount < 0 {
					return nil, insufficientPot(roomID, line.Variable, balance, line.Amount)
				}
			}
			state.Add(req.From, line.Variable, -line.Amount)
			state.Add(req.To, line.Variable, line.Amount)
		}

		from := accountLabel(tx.Room.Template, req.From, req.FromLabel)
		to := accountLabel(tx.Room.Template, req.To, req.ToLabel)
		return &change{kind: room.KindTransfer, message: transferMessage(from, to, req.Lines)}, nil
	})
}

func validateTransfer(roomID string, req TransferRequest) error {
	if req.From == "" || req.To == "" {
		return invalid(roomID, "transfer requires from and to")
	}
	if req.From == req.To {
		return invalid(roomID, "cannot transfer to the same account")
	}
	for _, id := range []string{req.From, req.To} {
		if err := validateAccount(roomID, id); err != nil {
			return err
		}
	}
	if len(req.Lines) == 0 {
		return invalid(roomID, "transfer requires at least one line")
	}
	for _, line := range req.Lines {
		if err := validateVariable(roomID, line.Variable); err != nil {
			return err
		}
		if !room.Finite(line.Amount) || line.Amount <= 0 {
			return invalid(roomID, "amount for %s must be positive", line.Variable)
		}
	}
	return nil
}

// ForceEdit overwrites only the named variables on one account. The pot is
// always editable; a participant must exist.
func (e *Engine) ForceEdit(ctx context.Context, roomID string, req ForceEditRequest) (room.Room, error) {
	return e.run(ctx, OpForceEdit, roomID, validateForceEdit(roomID, req), func(tx *store.Tx) (*change, error) {
		state := &tx.Room.State
		if req.Participant != room.PotID && !state.HasParticipant(req.Participant) {
			return nil, playerNotFound(roomID, req.Participant)
		}

		keys := sortedKeys(req.Values)
		edits := make([]string, 0, len(keys))
		for _, key := range keys {
			old := state.Balance(req.Participant, key)
			state.Set(req.Participant, key, req.Values[key])
			edits = append(edits, key+" "+room.FormatValue(old)+"→"+room.FormatValue(req.Values[key]))
		}

		label := accountLabel(tx.Room.Template, req.Participant, req.Label)
		return &change{
			kind:    room.KindForceEdit,
			message: "[force edit] " + label + ": " + strings.Join(edits, ", "),
		}, nil
	})
}

// Reset restores Keys to their template initials for every participant and,
// when IncludePot is set, to the pot initials. One history entry covers the
// whole batch.
func (e *Engine) Reset(ctx context.Context, roomID string, req ResetRequest) (room.Room, error) {
	var check error
	if len(req.Keys) == 0 {
		check = invalid(roomID, "reset requires at least one key")
	}
	keys := dedupe(req.Keys)

	return e.run(ctx, OpReset, roomID, check, func(tx *store.Tx) (*change, error) {
		tmpl := tx.Room.Template
		state := &tx.Room.State
		for _, key := range keys {
			v, ok := tmpl.Variable(key)
			if !ok {
				return nil, invalid(roomID, "unknown variable %s", key)
			}
			for _, id := range state.Participants() {
				state.Set(id, key, v.Initial)
			}
			if req.IncludePot {
				state.SetPot(key, tmpl.PotInitial(key))
			}
		}

		msg := "[reset] " + strings.Join(keys, ", ")
		if req.IncludePot {
			msg += " (incl. pot)"
		}
		return &change{kind: room.KindReset, message: msg}, nil
	})
}

// SaveSettlement records a settlement and its linked history entry.
// Variables are left untouched.
func (e *Engine) SaveSettlement(ctx context.Context, roomID string, req SettlementRequest) (room.Room, error) {
	id := req.ID
	if id == "" {
		id = e.ids.Generate()
	}

	return e.run(ctx, OpSaveSettlement, roomID, validateSettlement(roomID, req), func(tx *store.Tx) (*change, error) {
		ids := sortedKeys(req.Result)
		parts := make([]string, 0, len(ids))
		for _, pid := range ids {
			if !tx.Room.State.HasParticipant(pid) {
				return nil, playerNotFound(roomID, pid)
			}
			parts = append(parts, pid+" "+signed(req.Result[pid]))
		}

		result := make(map[string]float64, len(req.Result))
		for k, v := range req.Result {
			result[k] = v
		}
		return &change{
			kind:    req.Type.EntryKind(),
			message: "[" + string(req.Type.EntryKind()) + "] " + strings.Join(parts, ", "),
			settlement: &room.Settlement{
				ID:     id,
				Type:   req.Type,
				Result: result,
			},
		}, nil
	})
}

// UndoLast restores the most recent entry's snapshot and deletes the entry
// together with any settlement linked to it. Repeated calls walk back one
// entry at a time. Participants seated after the snapshot was taken keep
// their current entry, since joining is not an undoable operation.
func (e *Engine) UndoLast(ctx context.Context, roomID string) (room.Room, error) {
	return e.run(ctx, OpUndoLast, roomID, nil, func(tx *store.Tx) (*change, error) {
		last, ok, err := tx.LastHistory()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, noHistory(roomID)
		}

		restored := last.Snapshot.Clone()
		if last.Snapshot.RecentLog == nil {
			// Snapshots written without a log keep the current log minus
			// the undone line.
			current := tx.Room.State.Clone()
			current.StripLog(last.Message)
			restored.RecentLog = current.RecentLog
		}
		carrySeated(&restored, tx.Room)
		if err := tx.DeleteHistory(last.ID); err != nil {
			return nil, err
		}
		tx.Room.State = restored
		return nil, nil
	})
}

// carrySeated copies into restored every seated participant it lacks, then
// fills variables the template gained since the snapshot.
func carrySeated(restored *room.CurrentState, r room.Room) {
	for _, id := range r.Seats {
		if id == "" || restored.HasParticipant(id) {
			continue
		}
		if p, ok := r.State.Players[id]; ok {
			restored.Players[id] = p.Clone()
			continue
		}
		restored.Seed(id, r.Template)
	}
	restored.FillVariables(r.Template)
}

func validateForceEdit(roomID string, req ForceEditRequest) error {
	if req.Participant == "" {
		return invalid(roomID, "force edit requires a participant")
	}
	if err := validateAccount(roomID, req.Participant); err != nil {
		return err
	}
	if len(req.Values) == 0 {
		return invalid(roomID, "force edit requires at least one value")
	}
	for key, v := range req.Values {
		if err := validateVariable(roomID, key); err != nil {
			return err
		}
		if !room.Finite(v) {
			return invalid(roomID, "value for %s must be finite", key)
		}
	}
	return nil
}

func validateSettlement(roomID string, req SettlementRequest) error {
	if !req.Type.Valid() {
		return invalid(roomID, "unknown settlement type %q", req.Type)
	}
	if len(req.Result) == 0 {
		return invalid(roomID, "settlement requires a result")
	}
	for id, v := range req.Result {
		if id == "" || room.IsReserved(id) {
			return invalid(roomID, "invalid participant %q", id)
		}
		if !room.Finite(v) {
			return invalid(roomID, "result for %s must be finite", id)
		}
	}
	return nil
}

func validateAccount(roomID, id string) error {
	if id != room.PotID && room.IsReserved(id) {
		return invalid(roomID, "reserved identifier %s", id)
	}
	return nil
}

func validateVariable(roomID, key string) error {
	if key == "" {
		return invalid(roomID, "variable key must not be empty")
	}
	if strings.HasPrefix(key, room.StatusPrefix) {
		return invalid(roomID, "variable key %s is reserved for status flags", key)
	}
	return nil
}

// accountLabel returns the display label of an account.
func accountLabel(t room.Template, id, label string) string {
	if label = room.NormalizeLabel(label); label != "" {
		return label
	}
	if id == room.PotID {
		return t.PotLabel()
	}
	return id
}

func transferMessage(from, to string, lines []Line) string {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		parts = append(parts, line.Variable+" "+room.FormatValue(line.Amount))
	}
	return from + " → " + to + ": " + strings.Join(parts, ", ")
}

func signed(v float64) string {
	if v > 0 {
		return "+" + room.FormatValue(v)
	}
	return room.FormatValue(v)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
