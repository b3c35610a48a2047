package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/syncboard/internal/ledger"
	"github.com/roach88/syncboard/internal/lobby"
	"github.com/roach88/syncboard/internal/room"
	"github.com/roach88/syncboard/internal/store"
	"github.com/roach88/syncboard/internal/template"
	"github.com/roach88/syncboard/internal/testutil"
)

// JoinCode is the fixed join code given to every scenario room.
const JoinCode = "000000"

// epoch is the fake clock's start; each step advances it by one second.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Run executes a scenario against a fresh in-memory store.
//
// Setup and environment failures (unknown template, failing setup step)
// are returned as errors. Unmet expectations, assertions and invariant
// violations are collected in Result.Errors with Pass set to false.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	tmpl, err := template.Resolve(scenario.Template)
	if err != nil {
		return nil, fmt.Errorf("resolve template: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewFakeClock(epoch)
	l := lobby.New(st,
		lobby.WithIDGenerator(testutil.NewSequenceGenerator("room")),
		lobby.WithCodeGenerator(func() (string, error) { return JoinCode, nil }),
		lobby.WithNow(clock.Now),
	)
	engine := ledger.New(st,
		ledger.WithIDGenerator(testutil.NewSequenceGenerator("entry")),
		ledger.WithNow(clock.Now),
		ledger.WithLogLimit(scenario.LogLimit),
	)

	r, err := l.Create(ctx, lobby.CreateRequest{
		Template:     tmpl,
		HostID:       scenario.Participants[0],
		Participants: scenario.Participants,
	})
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	if r, err = l.SetStatus(ctx, r.ID, room.StatusPlaying); err != nil {
		return nil, fmt.Errorf("start room: %w", err)
	}

	result := NewResult()
	checker := newInvariantChecker(tmpl, r.State)

	for i, step := range scenario.Setup {
		clock.Advance(time.Second)
		committed, err := execute(ctx, engine, r.ID, step)
		result.addEvent(PhaseSetup, step.Op, err)
		if err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, step.Op, err)
		}
		checker.observe(step.Op, committed.State)
	}

	for i, step := range scenario.Flow {
		clock.Advance(time.Second)
		committed, err := execute(ctx, engine, r.ID, step)
		ev := result.addEvent(PhaseFlow, step.Op, err)
		if msg := checkExpect(step.Expect, ev); msg != "" {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
		}
		if err == nil {
			for _, v := range checker.observe(step.Op, committed.State) {
				result.AddError(fmt.Sprintf("flow[%d] %s: invariant violated: %s", i, step.Op, v))
			}
		}
	}

	if result.Room, err = st.GetRoom(ctx, r.ID); err != nil {
		return nil, fmt.Errorf("load final room: %w", err)
	}
	if result.History, err = st.ListHistory(ctx, r.ID); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if result.Settlements, err = st.ListSettlements(ctx, r.ID); err != nil {
		return nil, fmt.Errorf("load settlements: %w", err)
	}

	for _, a := range scenario.Assertions {
		if err := evaluateAssertion(a, result); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

// execute dispatches one step through the engine's named-operation entry
// point, exactly as a remote caller would.
func execute(ctx context.Context, engine *ledger.Engine, roomID string, step Step) (room.Room, error) {
	req := ledger.Request{RoomID: roomID, Operation: step.Op}
	if len(step.Args) > 0 {
		args, err := json.Marshal(step.Args)
		if err != nil {
			return room.Room{}, fmt.Errorf("encode args: %w", err)
		}
		req.Args = args
	}
	return engine.Dispatch(ctx, req)
}

// checkExpect returns a description of how ev misses expect, or "".
func checkExpect(expect *Expect, ev TraceEvent) string {
	if expect.wantSuccess() {
		if !ev.Success {
			return fmt.Sprintf("expected success, got %s: %s", ev.Code, ev.Error)
		}
		return ""
	}
	if ev.Success {
		if expect.Code != "" {
			return fmt.Sprintf("expected %s, got success", expect.Code)
		}
		return "expected failure, got success"
	}
	if expect.Code != "" && ev.Code != expect.Code {
		return fmt.Sprintf("expected %s, got %s: %s", expect.Code, ev.Code, ev.Error)
	}
	if expect.Error != "" && ev.Error != expect.Error {
		return fmt.Sprintf("expected error %q, got %q", expect.Error, ev.Error)
	}
	return ""
}
