// Package store provides durable storage for scoreboard rooms.
//
// The store keeps three tables:
//   - rooms: one row per room with its template, seats and current state
//   - history: append-only operation entries, each with a pre-operation snapshot
//   - settlements: result rows, each linked 1:1 to the history entry that recorded it
//
// # Transactions
//
// UpdateRoom is the only way to mutate a room's state. It loads the room row
// inside a database transaction, hands it to the caller and writes it back on
// success. Two UpdateRoom calls on the same room never observe the same
// pre-state:
//   - SQLite: a single writer connection and BEGIN IMMEDIATE transactions
//   - Postgres: SELECT ... FOR UPDATE on the room row
//
// # Ordering
//
// History is ordered by the per-room seq column (a logical clock), never by
// timestamps. All list queries use ORDER BY seq ASC, id ASC.
//
// # Referential integrity
//
// Deleting a room cascades to its history and settlements. A settlement's
// history_id is NOT NULL and UNIQUE and cascades from history, so removing a
// history entry always removes its settlement with it.
package store
