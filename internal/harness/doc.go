// Package harness runs scripted ledger scenarios against a throwaway room.
//
// A scenario names a template, the seated participants, a setup prefix and
// a flow of ledger operations with expected outcomes, then asserts on the
// final room. Every run uses an in-memory SQLite store, a fake clock and
// sequential ids, so the transcript of a scenario is byte-identical across
// runs and can be compared against a golden file.
//
// # Scenario Format
//
//	name: riichi_round
//	description: "Two riichi sticks and a ron"
//	template: mahjong            # preset name or template file
//	participants: [alice, bob, carol, dave]
//	setup:
//	  - op: forceEdit
//	    args: { participantId: alice, values: { points: 30000 } }
//	flow:
//	  - op: transfer
//	    args:
//	      from: alice
//	      to: __pot__
//	      lines: [{ variable: points, amount: 1000 }]
//	  - op: transfer
//	    args: { from: __pot__, to: bob, lines: [{ variable: points, amount: 5000 }] }
//	    expect: { code: INSUFFICIENT_FUNDS }
//	assertions:
//	  - type: balance
//	    participant: alice
//	    variable: points
//	    value: 29000
//	  - type: total
//	    variable: points
//	    value: 105000
//
// Operation args use the same JSON shapes accepted by ledger.Execute.
// Setup steps must succeed. A flow step without expect must succeed.
//
// # Assertion Types
//
//   - balance: one account's value of a variable (participant may be __pot__)
//   - total: a variable summed over every participant and the pot
//   - history_count: number of history entries
//   - settlement_count: number of stored settlements
//   - log_contains: a line present in the recent-operations log
//
// # Invariants
//
// Independently of the assertions, every run checks that transfers conserve
// each variable's total, that a transfer never drives the pot negative, and
// that undoLast restores exactly the state before the entry it removes.
package harness
