// Package harness runs allotment scenarios: YAML files that start a fresh
// manager from a genesis, perform operations as named callers at given
// times, and assert on the final state.
//
// # Scenario Format
//
//	name: release_lifecycle
//	description: "An allotment is locked, extended and released once"
//	genesis:
//	  cap: "7777778"
//	steps:
//	  - as: admin
//	    at: 1600000000
//	    do: grantMinterRole
//	    args: { account: allotment-manager }
//	  - as: admin
//	    do: allotTokens
//	    args: { beneficiary: promo, release_time: 1604534400, amount: 777777 }
//	    save: promo
//	  - as: promo
//	    at: 2020-11-04T00:00:00Z
//	    do: release
//	    expect: { case: TOO_EARLY }
//	assertions:
//	  - type: balance
//	    account: $promo
//	    expect: 777777
//
// Amounts are token units and are converted with the genesis decimals.
// "$name" refers to a schedule id saved by an earlier step; as a balance
// account it means the schedule's custody account. A step without expect
// must succeed.
//
// # Assertion Types
//
//   - balance: ledger balance of an account
//   - total_supply: minted supply
//   - allotment_count: schedules of a beneficiary, or of everyone
//   - allotments: a beneficiary's schedules in creation order
//   - released: whether a saved schedule has been paid out
//   - release_time: a saved schedule's current release time
//   - event_count: journaled events of one kind
//
// # Deterministic Traces
//
// Each scenario runs on an in-memory journal with counting request ids, so
// its trace is reproducible. Traces replace schedule ids by their aliases
// and render amounts in token units, and are compared against golden files
// under testdata/golden.
package harness
