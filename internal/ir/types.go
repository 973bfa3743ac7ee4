package ir

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/allotment/internal/fault"
)

// Account identifies a ledger account: an admin, an alloter, a beneficiary,
// the manager itself or a schedule's custody address.
type Account string

// ZeroAccount is the source of minted funds in Transfer events.
const ZeroAccount Account = "0x0000000000000000000000000000000000000000"

// ParseAccount trims and NFC-normalizes s. Empty accounts are rejected.
func ParseAccount(s string) (Account, error) {
	normalized := norm.NFC.String(strings.TrimSpace(s))
	if normalized == "" {
		return "", fault.InvalidArgument("account must not be empty")
	}
	return Account(normalized), nil
}

// MustAccount is like ParseAccount but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustAccount(s string) Account {
	a, err := ParseAccount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String implements fmt.Stringer.
func (a Account) String() string {
	return string(a)
}

// ScheduleID identifies a vesting schedule. It is also the custody account
// holding the schedule's locked amount.
type ScheduleID string

// Account returns the custody account of the schedule.
func (id ScheduleID) Account() Account {
	return Account(id)
}

// String implements fmt.Stringer.
func (id ScheduleID) String() string {
	return string(id)
}

// Action names an operation recorded in the journal.
type Action string

// Journaled actions.
const (
	ActionGrantAlloter      Action = "grantAlloter"
	ActionGrantMinterRole   Action = "grantMinterRole"
	ActionMint              Action = "mint"
	ActionAllotTokens       Action = "allotTokens"
	ActionSetNewReleaseTime Action = "setNewReleaseTime"
	ActionRelease           Action = "release"
	ActionReleaseAllotment  Action = "releaseAllotment"
)

// Actions lists every journaled action.
var Actions = []Action{
	ActionGrantAlloter,
	ActionGrantMinterRole,
	ActionMint,
	ActionAllotTokens,
	ActionSetNewReleaseTime,
	ActionRelease,
	ActionReleaseAllotment,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// OutputSuccess is the output case of a completion whose operation succeeded.
// Failed operations use their fault code as the output case.
const OutputSuccess = "Success"

// Object is a JSON object restricted to canonical-JSON-compatible values:
// string, bool, integers, json.Number holding an integer, []any, []string and
// nested map[string]any / Object.
type Object map[string]any

// Invocation is the journal record of a requested operation.
type Invocation struct {
	ID            string  `json:"id"`         // Content-addressed hash
	RequestID     string  `json:"request_id"` // Correlation token (UUIDv7)
	Action        Action  `json:"action"`
	Caller        Account `json:"caller"`
	Args          Object  `json:"args"`
	At            int64   `json:"at"`  // Unix seconds the operation observed as "now"
	Seq           int64   `json:"seq"` // Logical clock
	EngineVersion string  `json:"engine_version"`
}

// Completion is the journal record of an operation's outcome.
type Completion struct {
	ID           string  `json:"id"` // Content-addressed hash
	InvocationID string  `json:"invocation_id"`
	OutputCase   string  `json:"output_case"` // "Success" or a fault code
	Message      string  `json:"message,omitempty"`
	Result       Object  `json:"result"`
	Events       []Event `json:"events"`
	Seq          int64   `json:"seq"`
}

// Succeeded reports whether the completion records a successful operation.
func (c Completion) Succeeded() bool {
	return c.OutputCase == OutputSuccess
}

// Record pairs an invocation with its completion.
type Record struct {
	Invocation Invocation `json:"invocation"`
	Completion Completion `json:"completion"`
}
