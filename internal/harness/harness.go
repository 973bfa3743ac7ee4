package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/roach88/allotment/internal/allotment"
	"github.com/roach88/allotment/internal/engine"
	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/store"
)

// Default genesis parameters for scenarios that do not override them.
const (
	DefaultAdmin = "admin"
	DefaultCap   = "7777778"
)

// Harness runs one scenario against a fresh engine.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	decimals int
	saved    map[string]ir.ScheduleID
	aliases  map[string]string
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory journal for isolation. Request
// ids are deterministic so repeated runs produce identical journals.
//
// Execution flow:
// 1. Create a fresh in-memory journal and an engine for the genesis
// 2. Execute steps in order, checking each completion against its expect
// 3. Build the trace from the journal
// 4. Evaluate assertions against the final state
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	genesis, decimals, err := scenario.Genesis.Resolve()
	if err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	// Logs are noise in scenario output.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := engine.New(ctx, st, genesis,
		engine.WithRequestIDs(engine.NewCountingGenerator("step")),
		engine.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	h := &Harness{
		store:    st,
		engine:   eng,
		decimals: decimals,
		saved:    make(map[string]ir.ScheduleID),
		aliases:  make(map[string]string),
		logger:   logger,
	}

	result := NewResult()
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}
	if err := h.buildTrace(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to build trace: %w", err)
	}

	actx := &AssertionContext{
		Ctx:      ctx,
		Engine:   eng,
		Saved:    h.saved,
		Decimals: decimals,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// Resolve converts the scenario genesis into journal genesis parameters,
// filling defaults, and returns the token decimals.
func (g GenesisSpec) Resolve() (store.Genesis, int, error) {
	decimals := ir.DefaultDecimals
	if g.Decimals != nil {
		decimals = *g.Decimals
	}
	if decimals < 0 || decimals > engine.MaxDecimals {
		return store.Genesis{}, 0, fmt.Errorf("decimals %d out of range 0..%d", decimals, engine.MaxDecimals)
	}

	capTokens := g.Cap
	if capTokens == "" {
		capTokens = DefaultCap
	}
	supplyCap, err := ir.ParseAmount(capTokens, decimals)
	if err != nil {
		return store.Genesis{}, 0, fmt.Errorf("cap: %w", err)
	}

	out := store.Genesis{
		Admin:    g.Admin,
		Manager:  g.Manager,
		Cap:      supplyCap.String(),
		Decimals: decimals,
		Funding:  g.Funding,
		Treasury: g.Treasury,
	}
	if out.Admin == "" {
		out.Admin = DefaultAdmin
	}
	if out.Manager == "" {
		out.Manager = allotment.DefaultAddress
	}
	if out.Funding == "" {
		out.Funding = string(allotment.FundByMint)
	}
	return out, decimals, engine.ValidateGenesis(out)
}

// executeSteps runs every step and validates its expect clause.
// Mismatches are recorded on result; only infrastructure failures and time
// moving backwards abort the run.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	var at int64
	for i, step := range steps {
		if step.At != "" {
			t, err := ir.ParseTime(step.At)
			if err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			at = t
		}

		comp, err := h.engine.Execute(ctx, engine.Request{
			Caller: step.As,
			Action: step.Do,
			Args:   h.resolveArgs(step.Args),
			At:     at,
		})
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Do, err)
		}

		h.checkExpect(i, step, comp, result)

		if step.Save != "" {
			id, ok := comp.Result[engine.ArgScheduleID].(string)
			if !ok {
				result.AddError(fmt.Sprintf("step %d (%s): nothing to save as $%s, completion was %s",
					i, step.Do, step.Save, comp.OutputCase))
			} else {
				h.saved[step.Save] = ir.ScheduleID(id)
				h.aliases[id] = "$" + step.Save
				result.Saved[step.Save] = id
			}
		}

		h.logger.Info("step completed",
			"step", i,
			"action", step.Do,
			"seq", comp.Seq,
			"output_case", comp.OutputCase)
	}
	return nil
}

func (h *Harness) checkExpect(i int, step Step, comp ir.Completion, result *Result) {
	wantCase := ir.OutputSuccess
	if step.Expect != nil {
		wantCase = step.Expect.Case
	}
	if comp.OutputCase != wantCase {
		msg := fmt.Sprintf("step %d (%s as %s): expected case %s, got %s",
			i, step.Do, step.As, wantCase, comp.OutputCase)
		if comp.Message != "" {
			msg += ": " + comp.Message
		}
		result.AddError(msg)
		return
	}

	if step.Expect == nil || step.Expect.Events == nil {
		return
	}
	got := make([]ir.EventKind, len(comp.Events))
	for j, ev := range comp.Events {
		got[j] = ev.Kind
	}
	if !slices.Equal(got, step.Expect.Events) {
		result.AddError(fmt.Sprintf("step %d (%s as %s): expected events %v, got %v",
			i, step.Do, step.As, step.Expect.Events, got))
	}
}

// resolveArgs replaces "$name" references with saved schedule ids and
// converts token amounts to base units. Unresolvable values pass through
// unchanged so the engine reports them as a failed completion.
func (h *Harness) resolveArgs(args map[string]any) ir.Object {
	out := make(ir.Object, len(args))
	for key, v := range args {
		if ref, ok := reference(v); ok {
			if id, saved := h.saved[ref]; saved {
				out[key] = string(id)
				continue
			}
		}
		// Unquoted YAML timestamps decode as time.Time.
		if t, ok := v.(time.Time); ok {
			out[key] = t.Unix()
			continue
		}
		if key == engine.ArgAmount {
			if s, ok := scalarString(v); ok {
				if amount, err := ir.ParseAmount(s, h.decimals); err == nil {
					out[key] = amount.String()
					continue
				}
			}
		}
		out[key] = v
	}
	return out
}

// buildTrace renders the journal as trace entries.
func (h *Harness) buildTrace(ctx context.Context, result *Result) error {
	// Schedules nobody saved get positional aliases.
	for i, id := range h.engine.Manager().GetAllAllotments(ctx) {
		if _, ok := h.aliases[string(id)]; !ok {
			h.aliases[string(id)] = "$allotment-" + strconv.Itoa(i+1)
		}
	}

	records, err := h.store.ReadRecords(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		inv, comp := rec.Invocation, rec.Completion
		result.Trace = append(result.Trace,
			TraceEntry{
				Type:   TraceInvocation,
				Seq:    inv.Seq,
				As:     string(inv.Caller),
				At:     inv.At,
				Action: string(inv.Action),
				Args:   h.renderObject(inv.Args),
			},
			TraceEntry{
				Type:       TraceCompletion,
				Seq:        comp.Seq,
				OutputCase: comp.OutputCase,
				Result:     h.renderObject(comp.Result),
			})
		for _, ev := range comp.Events {
			result.Trace = append(result.Trace, TraceEntry{
				Type:  TraceEvent,
				Seq:   comp.Seq,
				Event: h.renderObject(ev.Object()),
			})
		}
	}
	return nil
}

func (h *Harness) renderObject(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = h.render(k, v)
	}
	return out
}

func (h *Harness) render(key string, v any) any {
	switch val := v.(type) {
	case string:
		if alias, ok := h.aliases[val]; ok {
			return alias
		}
		if key == engine.ArgAmount {
			if n, err := ir.ParseBaseUnits(val); err == nil {
				return ir.FormatAmount(n, h.decimals)
			}
		}
		return val
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = h.render(key, s)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = h.render(key, elem)
		}
		return out
	case ir.Object:
		return h.renderObject(val)
	case map[string]any:
		return h.renderObject(val)
	default:
		return val
	}
}

// scalarString formats a YAML scalar as decimal text.
func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case time.Time:
		return strconv.FormatInt(val.Unix(), 10), true
	default:
		return "", false
	}
}
