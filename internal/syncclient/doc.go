// Package syncclient keeps a local copy of one room converged with the server.
//
// A Client is an explicit state machine:
//
//	Unresolved -> Loading -> Synced <-> Degraded
//	                    \        \         \
//	                     +--------+---------+--> TornDown
//
// Every input is a signal: an observed room identity, a fetch or subscribe
// completion, a channel event or status, a timer firing, a refetch request,
// a foreground resume, or disposal. Signals are applied under one mutex and
// yield side effects (fetch, subscribe, resubscribe, close) that run after
// the mutex is released. Completions re-enter as signals tagged with the
// generation that started them, so work superseded by an identity change,
// a channel rebuild or disposal is ignored.
//
// The cache is only ever replaced, never mutated, and only by reconciliation:
// a complete notification payload, or a fetch result. Transient errors never
// discard a cached room.
package syncclient
