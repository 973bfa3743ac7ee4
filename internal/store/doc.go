// Package store provides the SQLite-backed journal of the allotment engine.
//
// The journal is append-only:
//   - Invocations: requested operations (action, caller, args, time)
//   - Completions: their outcomes (output case, result)
//   - Events: events emitted by each completion, in emission order
//   - Meta: the genesis parameters the journal was created with
//
// # Ordering
//
// Every query orders by seq, the engine's logical clock, never by wall time.
// Identical journals therefore read back identically and replay
// deterministically.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Record ids are computed by internal/ir using RFC 8785 canonical JSON and
// SHA-256 with domain separation; the store persists them as given.
package store
