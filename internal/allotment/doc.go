// Package allotment implements the allotment manager: the orchestrator that
// creates vesting schedules, extends them and releases them through an asset
// ledger.
//
// Guarantees, under arbitrary call ordering and concurrent callers:
//   - funds are never released before a schedule's release time
//   - extensions only move a release time later
//   - each schedule is released at most once
//   - locked plus released amounts reconcile with what was funded
//
// All mutations are serialized by one lock held across the ledger call and
// the registry update. Reads share the lock and never observe a half-finished
// operation. Events are delivered to the sink only once a mutation commits.
package allotment
