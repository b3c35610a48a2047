// Package room defines the shared data model of a scoreboard room.
//
// A Room owns one CurrentState, an append-only list of HistoryEntry records and
// the Settlement rows linked to some of those entries. History is never embedded
// in the state it snapshots: every HistoryEntry carries the CurrentState as it
// was immediately before the operation that produced it, and the history list
// itself lives beside the room (see internal/store).
//
// # State shape
//
// CurrentState is a discriminated structure:
//
//	Players   participant id -> PlayerState
//	Pot       variable key   -> value   (the shared account)
//	RecentLog bounded list of human-readable operation lines
//
// On the wire it keeps the flat mapping used by earlier clients: participants
// are top-level keys, the pot lives under PotID and the log under LogKey.
// Inside a player object, keys starting with "_" are status flags and every
// other key is a numeric variable.
//
// Identifiers starting with "__" are reserved and can never name a participant.
package room
