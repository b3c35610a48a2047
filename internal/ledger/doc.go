// Package ledger implements the atomic operations that mutate a room.
//
// The Engine is the only writer of room state. Every operation runs inside a
// single store transaction: the engine clones the pre-operation state, applies
// the mutation, appends a history entry holding that snapshot, appends the
// entry's message to the recent-operations log, and writes the new state.
// Any failure rolls the whole transaction back, so callers observe either the
// complete operation or nothing.
//
// # Operations
//
//   - Transfer moves amounts between two accounts (participants or the pot).
//   - ForceEdit overwrites named variables on one account.
//   - Reset restores named variables to their template initials.
//   - SaveSettlement records a per-participant result linked to a history entry.
//   - UndoLast restores the most recent snapshot and removes its entry.
//
// Execute dispatches the same operations by name with JSON arguments, which is
// how the HTTP transport invokes them.
//
// # Serialization
//
// Operations on the same room are serialized by the store transaction, never
// by locks held in this package. Operations on different rooms share nothing.
//
// # Notifications
//
// After a successful commit the engine publishes an update event carrying the
// committed room. Failed operations publish nothing.
package ledger
