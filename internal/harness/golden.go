package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/allotment/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEntry
}

// toCanonicalMaps converts each trace entry to a map for canonical JSON.
// Completions always carry a result, possibly empty.
func (s *TraceSnapshot) toCanonicalMaps() []map[string]any {
	out := make([]map[string]any, 0, len(s.Trace)+1)
	out = append(out, map[string]any{"scenario": s.ScenarioName})
	for _, entry := range s.Trace {
		m := map[string]any{
			"type": entry.Type,
			"seq":  entry.Seq,
		}
		switch entry.Type {
		case TraceInvocation:
			m["as"] = entry.As
			m["at"] = entry.At
			m["action"] = entry.Action
			m["args"] = orEmpty(entry.Args)
		case TraceCompletion:
			m["output_case"] = entry.OutputCase
			m["result"] = orEmpty(entry.Result)
		case TraceEvent:
			m["event"] = orEmpty(entry.Event)
		}
		out = append(out, m)
	}
	return out
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Render serializes the snapshot as canonical JSON, one line per entry,
// starting with a header line naming the scenario.
func (s *TraceSnapshot) Render() ([]byte, error) {
	var buf bytes.Buffer
	for _, m := range s.toCanonicalMaps() {
		line, err := ir.MarshalCanonical(m)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass; a trace mismatch fails t
// through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
	}
	traceJSON, err := snapshot.Render()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
