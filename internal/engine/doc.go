// Package engine turns external requests into journaled operations.
//
// ARCHITECTURE:
//
// Single Writer:
// Every request passes through Execute, which holds one mutex for the whole
// operation. Run offers the same serialization as an event loop over a FIFO
// queue, for callers that prefer to submit and wait.
//
// Request Processing Flow:
//  1. Request validated; seq taken from the logical clock
//  2. Manual clock set to the request's time
//  3. Action dispatched to the role registry, ledger or allotment manager
//  4. Events emitted during the operation drained from the recorder
//  5. Invocation and completion built with content-addressed ids
//  6. Record written to the journal in one transaction
//
// Operation failures (permission denied, too early, ...) are completions with
// the fault code as output case. Go errors from Execute mean infrastructure
// failure; after a journal write fails the engine refuses further requests.
//
// Replay:
// Restore re-executes every journaled invocation in seq order against fresh
// state without writing, and checks that each produces the journaled
// completion id. Time comes from the journal, never from the wall clock, so
// replay is exact.
package engine
