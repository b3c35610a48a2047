package harness

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/roach88/syncboard/internal/ledger"
	"github.com/roach88/syncboard/internal/room"
)

// invariantChecker follows the room state step by step and reports ledger
// invariants that a committed operation broke.
type invariantChecker struct {
	keys  []string
	state room.CurrentState

	// undo mirrors the history stack: the state before each recorded entry.
	undo []room.CurrentState
}

func newInvariantChecker(t room.Template, initial room.CurrentState) *invariantChecker {
	keys := make([]string, 0, len(t.Variables))
	for _, v := range t.Variables {
		keys = append(keys, v.Key)
	}
	return &invariantChecker{keys: keys, state: initial.Clone()}
}

// observe records the committed state after a successful op and returns
// any violations.
func (c *invariantChecker) observe(op ledger.Operation, after room.CurrentState) []string {
	before := c.state
	c.state = after.Clone()

	var violations []string
	switch op {
	case ledger.OpTransfer:
		for _, key := range c.keys {
			if !closeTo(before.Total(key), after.Total(key)) {
				violations = append(violations, fmt.Sprintf("total %s changed from %s to %s",
					key, room.FormatValue(before.Total(key)), room.FormatValue(after.Total(key))))
			}
			if before.Balance(room.PotID, key) >= 0 && after.Balance(room.PotID, key) < 0 {
				violations = append(violations, fmt.Sprintf("pot %s went negative (%s)",
					key, room.FormatValue(after.Balance(room.PotID, key))))
			}
		}
		c.undo = append(c.undo, before)
	case ledger.OpForceEdit, ledger.OpReset, ledger.OpSaveSettlement:
		c.undo = append(c.undo, before)
	case ledger.OpUndoLast:
		if len(c.undo) == 0 {
			violations = append(violations, "undo succeeded with no recorded entry")
			break
		}
		want := c.undo[len(c.undo)-1]
		c.undo = c.undo[:len(c.undo)-1]
		if !sameState(want, after) {
			violations = append(violations, "undo did not restore the state before the removed entry")
		}
	}
	return violations
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// sameState compares states by their wire form, which is canonical: keys
// are sorted and empty collections are omitted.
func sameState(a, b room.CurrentState) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
