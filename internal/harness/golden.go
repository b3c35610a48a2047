package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/syncboard/internal/room"
)

// TraceSnapshot is the deterministic transcript of a scenario run.
// Ids and timestamps are left out; history order is carried by seq.
type TraceSnapshot struct {
	Scenario    string            `json:"scenario"`
	Trace       []TraceEvent      `json:"trace"`
	History     []HistoryLine     `json:"history"`
	Settlements []SettlementLine  `json:"settlements"`
	State       room.CurrentState `json:"state"`
}

// HistoryLine is one history entry without its snapshot.
type HistoryLine struct {
	Seq     int64          `json:"seq"`
	Kind    room.EntryKind `json:"kind"`
	Message string         `json:"message"`
}

// SettlementLine is one stored settlement.
type SettlementLine struct {
	Type   room.SettlementType `json:"type"`
	Result map[string]float64  `json:"result"`
}

// Snapshot builds the transcript of res.
func Snapshot(name string, res *Result) TraceSnapshot {
	snap := TraceSnapshot{
		Scenario:    name,
		Trace:       res.Trace,
		History:     make([]HistoryLine, 0, len(res.History)),
		Settlements: make([]SettlementLine, 0, len(res.Settlements)),
		State:       res.Room.State,
	}
	for _, e := range res.History {
		snap.History = append(snap.History, HistoryLine{Seq: e.Seq, Kind: e.Kind, Message: e.Message})
	}
	for _, s := range res.Settlements {
		snap.Settlements = append(snap.Settlements, SettlementLine{Type: s.Type, Result: s.Result})
	}
	return snap
}

// Transcript renders the snapshot of res as indented JSON with a trailing
// newline. Map keys are sorted, so equal runs render identically.
func Transcript(name string, res *Result) ([]byte, error) {
	data, err := json.MarshalIndent(Snapshot(name, res), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its transcript against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the transcript doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's transcript against a golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Transcript(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
