package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/allotment/internal/engine"
	"github.com/roach88/allotment/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEntry // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, entry := range e.Trace {
			switch entry.Type {
			case TraceInvocation:
				fmt.Fprintf(&buf, "  [%d] %s %s %v\n", entry.Seq, entry.As, entry.Action, entry.Args)
			case TraceCompletion:
				fmt.Fprintf(&buf, "      -> %s\n", entry.OutputCase)
			}
		}
	}
	return buf.String()
}

// AssertionContext provides the state assertions are evaluated against.
type AssertionContext struct {
	Ctx      context.Context
	Engine   *engine.Engine
	Saved    map[string]ir.ScheduleID
	Decimals int
}

// account resolves "$name" to the custody account of a saved schedule.
func (a *AssertionContext) account(s string) ir.Account {
	if ref, ok := reference(s); ok {
		if id, saved := a.Saved[ref]; saved {
			return id.Account()
		}
	}
	return ir.Account(s)
}

func (a *AssertionContext) schedule(s string) (ir.ScheduleID, error) {
	ref, ok := reference(s)
	if !ok {
		return "", fmt.Errorf("%q is not a $name", s)
	}
	id, saved := a.Saved[ref]
	if !saved {
		return "", fmt.Errorf("$%s was never saved", ref)
	}
	return id, nil
}

// alias maps a schedule id back to its save name for messages.
func (a *AssertionContext) alias(id ir.ScheduleID) string {
	for name, saved := range a.Saved {
		if saved == id {
			return "$" + name
		}
	}
	return string(id)
}

// EvaluateAssertions evaluates all assertions against the final state.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error
		if actx == nil || actx.Engine == nil {
			err = fmt.Errorf("assertion[%d]: %s requires an engine", i, assertion.Type)
		} else {
			switch assertion.Type {
			case AssertBalance:
				err = assertBalance(actx, assertion)
			case AssertTotalSupply:
				err = assertTotalSupply(actx, assertion)
			case AssertAllotmentCount:
				err = assertAllotmentCount(actx, assertion)
			case AssertAllotments:
				err = assertAllotments(actx, assertion)
			case AssertReleased:
				err = assertReleased(actx, assertion)
			case AssertReleaseTime:
				err = assertReleaseTime(actx, assertion)
			case AssertEventCount:
				err = assertEventCount(actx, assertion, result.Trace)
			default:
				err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
			}
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

// assertBalance compares a ledger balance, in token units.
func assertBalance(actx *AssertionContext, a Assertion) error {
	want, err := expectedAmount(a.Expect, actx.Decimals)
	if err != nil {
		return fmt.Errorf("balance %s: %w", a.Account, err)
	}
	bal, err := actx.Engine.Ledger().BalanceOf(actx.Ctx, actx.account(a.Account))
	if err != nil {
		return fmt.Errorf("balance %s: %w", a.Account, err)
	}
	got := ir.FormatAmount(bal, actx.Decimals)
	if got != want {
		return &AssertionError{
			Type:     AssertBalance,
			Expected: fmt.Sprintf("balance of %s = %s", a.Account, want),
			Actual:   got,
		}
	}
	return nil
}

func assertTotalSupply(actx *AssertionContext, a Assertion) error {
	want, err := expectedAmount(a.Expect, actx.Decimals)
	if err != nil {
		return fmt.Errorf("total_supply: %w", err)
	}
	got := ir.FormatAmount(actx.Engine.Ledger().TotalSupply(), actx.Decimals)
	if got != want {
		return &AssertionError{
			Type:     AssertTotalSupply,
			Expected: "total supply = " + want,
			Actual:   got,
		}
	}
	return nil
}

// assertAllotmentCount counts the schedules of one beneficiary, or all
// schedules when no beneficiary is given.
func assertAllotmentCount(actx *AssertionContext, a Assertion) error {
	var ids []ir.ScheduleID
	scope := "all beneficiaries"
	if a.Beneficiary != "" {
		ids = actx.Engine.Manager().GetAllotments(actx.Ctx, ir.Account(a.Beneficiary))
		scope = a.Beneficiary
	} else {
		ids = actx.Engine.Manager().GetAllAllotments(actx.Ctx)
	}
	if len(ids) != a.Count {
		return &AssertionError{
			Type:     AssertAllotmentCount,
			Expected: fmt.Sprintf("%d allotments for %s", a.Count, scope),
			Actual:   fmt.Sprintf("%d allotments", len(ids)),
		}
	}
	return nil
}

// assertAllotments checks a beneficiary's schedules, in creation order.
func assertAllotments(actx *AssertionContext, a Assertion) error {
	list, _ := a.Expect.([]any)
	want := make([]string, len(list))
	for i, v := range list {
		want[i] = fmt.Sprint(v)
	}

	ids := actx.Engine.Manager().GetAllotments(actx.Ctx, ir.Account(a.Beneficiary))
	got := make([]string, len(ids))
	for i, id := range ids {
		got[i] = actx.alias(id)
	}

	if strings.Join(got, ",") != strings.Join(want, ",") {
		return &AssertionError{
			Type:     AssertAllotments,
			Expected: fmt.Sprintf("allotments of %s = %v", a.Beneficiary, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertReleased(actx *AssertionContext, a Assertion) error {
	want, ok := a.Expect.(bool)
	if !ok {
		return fmt.Errorf("released %s: expect must be true or false", a.Allotment)
	}
	id, err := actx.schedule(a.Allotment)
	if err != nil {
		return fmt.Errorf("released: %w", err)
	}
	view, err := actx.Engine.Manager().Schedule(actx.Ctx, id)
	if err != nil {
		return fmt.Errorf("released %s: %w", a.Allotment, err)
	}
	if view.Released != want {
		return &AssertionError{
			Type:     AssertReleased,
			Expected: fmt.Sprintf("%s released = %t", a.Allotment, want),
			Actual:   fmt.Sprintf("released = %t", view.Released),
		}
	}
	return nil
}

func assertReleaseTime(actx *AssertionContext, a Assertion) error {
	s, ok := scalarString(a.Expect)
	if !ok {
		return fmt.Errorf("release_time %s: expect must be a time", a.Allotment)
	}
	want, err := ir.ParseTime(s)
	if err != nil {
		return fmt.Errorf("release_time %s: %w", a.Allotment, err)
	}
	id, err := actx.schedule(a.Allotment)
	if err != nil {
		return fmt.Errorf("release_time: %w", err)
	}
	view, err := actx.Engine.Manager().Schedule(actx.Ctx, id)
	if err != nil {
		return fmt.Errorf("release_time %s: %w", a.Allotment, err)
	}
	if got := view.ReleaseTime.Unix(); got != want {
		return &AssertionError{
			Type:     AssertReleaseTime,
			Expected: fmt.Sprintf("%s release time = %s", a.Allotment, ir.FormatTime(want)),
			Actual:   ir.FormatTime(got),
		}
	}
	return nil
}

// assertEventCount counts journaled events of one kind. Only successful
// completions carry events.
func assertEventCount(actx *AssertionContext, a Assertion, trace []TraceEntry) error {
	events, err := actx.Engine.Store().ReadEvents(actx.Ctx, a.Kind)
	if err != nil {
		return fmt.Errorf("event_count %s: %w", a.Kind, err)
	}
	if len(events) != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s events", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d events", len(events)),
			Trace:    trace,
		}
	}
	return nil
}

// expectedAmount normalizes an expected token amount ("777777", 0.5) so it
// compares equal to FormatAmount output.
func expectedAmount(v any, decimals int) (string, error) {
	s, ok := scalarString(v)
	if !ok {
		return "", fmt.Errorf("expect must be an amount, got %v", v)
	}
	amount, err := ir.ParseAmount(s, decimals)
	if err != nil {
		return "", err
	}
	return ir.FormatAmount(amount, decimals), nil
}
