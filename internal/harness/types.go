package harness

import (
	"github.com/roach88/syncboard/internal/ledger"
	"github.com/roach88/syncboard/internal/room"
)

// Step phases recorded in the trace.
const (
	PhaseSetup = "setup"
	PhaseFlow  = "flow"
)

// TraceEvent records the outcome of one executed step.
type TraceEvent struct {
	Seq       int              `json:"seq"`
	Phase     string           `json:"phase"`
	Operation ledger.Operation `json:"operation"`
	Success   bool             `json:"success"`
	Code      ledger.Code      `json:"code,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation, assertion and invariant held.
	Pass bool `json:"pass"`

	// Trace holds one event per setup and flow step, in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains one message per failed check.
	Errors []string `json:"errors,omitempty"`

	// Room is the final state of the scenario's room.
	Room room.Room `json:"room"`

	// History is the room's history in seq order.
	History []room.HistoryEntry `json:"history"`

	// Settlements are the room's stored settlements.
	Settlements []room.Settlement `json:"settlements"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(phase string, op ledger.Operation, err error) TraceEvent {
	ev := TraceEvent{
		Seq:       len(r.Trace) + 1,
		Phase:     phase,
		Operation: op,
		Success:   err == nil,
	}
	if err != nil {
		ev.Code = ledger.CodeOf(err)
		ev.Error = ledger.MessageOf(err)
	}
	r.Trace = append(r.Trace, ev)
	return ev
}
