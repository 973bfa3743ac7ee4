// Package ir provides the shared primitive types of the allotment system.
//
// This package contains value types only. All other internal packages import
// ir; ir imports nothing internal except fault. This keeps ir the foundational
// layer with no circular dependencies.
//
// Key design constraints:
//   - Amounts are *big.Int base units, never floats
//   - Accounts are NFC-normalized strings
//   - Journal records carry unix-second timestamps and a logical seq
//   - All JSON tags use snake_case
//   - Record ids are content-addressed over canonical JSON (RFC 8785)
package ir
