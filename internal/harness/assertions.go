package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/syncboard/internal/room"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		if ev.Success {
			fmt.Fprintf(&buf, "  [%d] %s %s ok\n", ev.Seq, ev.Phase, ev.Operation)
		} else {
			fmt.Fprintf(&buf, "  [%d] %s %s %s: %s\n", ev.Seq, ev.Phase, ev.Operation, ev.Code, ev.Error)
		}
	}

	return buf.String()
}

func evaluateAssertion(a Assertion, res *Result) error {
	switch a.Type {
	case AssertBalance:
		return assertBalance(a, res)
	case AssertTotal:
		return assertTotal(a, res)
	case AssertHistoryCount:
		return assertCount(a, len(res.History), res)
	case AssertSettlementCount:
		return assertCount(a, len(res.Settlements), res)
	case AssertLogContains:
		return assertLogContains(a, res)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertBalance(a Assertion, res *Result) error {
	state := res.Room.State
	if a.Participant != room.PotID && !state.HasParticipant(a.Participant) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s = %s", a.Participant, a.Variable, room.FormatValue(*a.Value)),
			Actual:   fmt.Sprintf("participant %s not in room", a.Participant),
			Trace:    res.Trace,
		}
	}
	got := state.Balance(a.Participant, a.Variable)
	if !closeTo(got, *a.Value) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s = %s", a.Participant, a.Variable, room.FormatValue(*a.Value)),
			Actual:   fmt.Sprintf("%s.%s = %s", a.Participant, a.Variable, room.FormatValue(got)),
			Trace:    res.Trace,
		}
	}
	return nil
}

func assertTotal(a Assertion, res *Result) error {
	got := res.Room.State.Total(a.Variable)
	if !closeTo(got, *a.Value) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("total %s = %s", a.Variable, room.FormatValue(*a.Value)),
			Actual:   fmt.Sprintf("total %s = %s", a.Variable, room.FormatValue(got)),
			Trace:    res.Trace,
		}
	}
	return nil
}

func assertCount(a Assertion, got int, res *Result) error {
	if got != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d", *a.Count),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    res.Trace,
		}
	}
	return nil
}

func assertLogContains(a Assertion, res *Result) error {
	for _, line := range res.Room.State.RecentLog {
		if line == a.Text {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("log line %q", a.Text),
		Actual:   fmt.Sprintf("log %q", res.Room.State.RecentLog),
		Trace:    res.Trace,
	}
}
