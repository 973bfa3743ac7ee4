package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/allotment/internal/engine"
	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/query"
	"github.com/roach88/allotment/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	RequestID string // optional - one request only
	Action    string // optional - filter to specific action
	Caller    string // optional - filter to one calling account
	Failed    bool   // only operations whose completion is a fault
	Since     string // optional - earliest operation time
	Until     string // optional - latest operation time
	Schedule  string // optional - records touching one allotment
}

// TraceEvent represents a single entry in the trace timeline.
type TraceEvent struct {
	Seq        int64          `json:"seq"`
	Type       string         `json:"type"` // "invocation", "completion" or "event"
	ID         string         `json:"id,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Action     string         `json:"action,omitempty"`
	Caller     string         `json:"caller,omitempty"`
	At         string         `json:"at,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	OutputCase string         `json:"output_case,omitempty"`
	Message    string         `json:"message,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Event      map[string]any `json:"event,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RequestID string       `json:"request_id,omitempty"`
	Timeline  []TraceEvent `json:"timeline"`
	Stats     TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEntries int `json:"total_entries"`
	Invocations  int `json:"invocations"`
	Completions  int `json:"completions"`
	Failed       int `json:"failed"`
	Events       int `json:"events"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journal timeline",
		Long: `Show journaled operations in seq order: each invocation, its completion
and the events it emitted.

Filters combine: one request, one action, one caller, failed operations
only, a time window, or every record that touched one allotment (its
creation, extensions and release). Times are unix seconds or RFC 3339.

Examples:
  allotment trace --db ./allotment.db
  allotment trace --db ./allotment.db --request 0192f1c2-...
  allotment trace --db ./allotment.db --caller alice --failed
  allotment trace --db ./allotment.db --since 2020-11-01T00:00:00Z
  allotment trace --db ./allotment.db --schedule 0x3f2a... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RequestID, "request", "", "request id to trace")
	cmd.Flags().StringVar(&opts.Action, "action", "", "filter to specific action")
	cmd.Flags().StringVar(&opts.Caller, "caller", "", "filter to one calling account")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "only failed operations")
	cmd.Flags().StringVar(&opts.Since, "since", "", "earliest operation time")
	cmd.Flags().StringVar(&opts.Until, "until", "", "latest operation time")
	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "filter to records touching an allotment")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	q, err := traceQuery(opts)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	records, err := st.QueryRecords(ctx, q)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := TraceResult{
		RequestID: opts.RequestID,
		Timeline:  []TraceEvent{},
	}
	for _, rec := range records {
		if !matchesTrace(rec, opts) {
			continue
		}
		result.Timeline = append(result.Timeline, buildTimeline(rec)...)
		result.Stats.Invocations++
		result.Stats.Completions++
		result.Stats.Events += len(rec.Completion.Events)
		if !rec.Completion.Succeeded() {
			result.Stats.Failed++
		}
	}
	result.Stats.TotalEntries = len(result.Timeline)

	if len(result.Timeline) == 0 && opts.Format != "json" {
		fmt.Fprintln(cmd.OutOrStdout(), "No records found.")
		return nil
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

// traceQuery turns the column filters into a journal query. The schedule
// filter looks inside payloads and is applied by matchesTrace.
func traceQuery(opts *TraceOptions) (query.Select, error) {
	var preds []query.Predicate
	text := func(f query.Field, v string) {
		if v != "" {
			preds = append(preds, query.Equals{Field: f, Value: v})
		}
	}
	text(query.FieldRequestID, opts.RequestID)
	text(query.FieldAction, opts.Action)
	text(query.FieldCaller, opts.Caller)
	if opts.Failed {
		preds = append(preds, query.NotEquals{Field: query.FieldOutputCase, Value: ir.OutputSuccess})
	}

	if opts.Since != "" || opts.Until != "" {
		window := query.Between{Field: query.FieldAt, Min: math.MinInt64, Max: math.MaxInt64}
		if opts.Since != "" {
			at, err := ir.ParseTime(opts.Since)
			if err != nil {
				return query.Select{}, WrapExitError(ExitCommandError, "invalid --since", err)
			}
			window.Min = at
		}
		if opts.Until != "" {
			at, err := ir.ParseTime(opts.Until)
			if err != nil {
				return query.Select{}, WrapExitError(ExitCommandError, "invalid --until", err)
			}
			window.Max = at
		}
		if window.Min > window.Max {
			return query.Select{}, NewExitError(ExitCommandError, "--since is after --until")
		}
		preds = append(preds, window)
	}
	return query.Select{Filter: query.All(preds...)}, nil
}

// matchesTrace applies the schedule filter.
func matchesTrace(rec ir.Record, opts *TraceOptions) bool {
	if opts.Schedule == "" {
		return true
	}
	if rec.Invocation.Args[engine.ArgScheduleID] == opts.Schedule ||
		rec.Completion.Result[engine.ArgScheduleID] == opts.Schedule {
		return true
	}
	for _, ev := range rec.Completion.Events {
		if string(ev.ScheduleID) == opts.Schedule {
			return true
		}
	}
	return false
}

// buildTimeline converts a journal record to timeline entries.
func buildTimeline(rec ir.Record) []TraceEvent {
	inv, comp := rec.Invocation, rec.Completion
	timeline := []TraceEvent{
		{
			Seq:       inv.Seq,
			Type:      "invocation",
			ID:        inv.ID,
			RequestID: inv.RequestID,
			Action:    string(inv.Action),
			Caller:    string(inv.Caller),
			At:        ir.FormatTime(inv.At),
			Args:      inv.Args,
		},
		{
			Seq:        comp.Seq,
			Type:       "completion",
			ID:         comp.ID,
			OutputCase: comp.OutputCase,
			Message:    comp.Message,
			Result:     comp.Result,
		},
	}
	for _, ev := range comp.Events {
		timeline = append(timeline, TraceEvent{
			Seq:   comp.Seq,
			Type:  "event",
			Event: ev.Object(),
		})
	}
	return timeline
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if result.RequestID != "" {
		fmt.Fprintf(w, "Trace for Request: %s\n\n", result.RequestID)
	}

	fmt.Fprintln(w, "=== Timeline ===")
	for _, event := range result.Timeline {
		formatTimelineEvent(w, event, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Entries: %d\n", result.Stats.TotalEntries)
	fmt.Fprintf(w, "  Operations:    %d (%d failed)\n", result.Stats.Invocations, result.Stats.Failed)
	fmt.Fprintf(w, "  Events:        %d\n", result.Stats.Events)

	return nil
}

// formatTimelineEvent formats a single timeline entry for text output.
func formatTimelineEvent(w io.Writer, event TraceEvent, verbose bool) {
	switch event.Type {
	case "invocation":
		fmt.Fprintf(w, "  [%d] INV %s by %s at %s\n", event.Seq, event.Action, event.Caller, event.At)
		if verbose && len(event.Args) > 0 {
			fmt.Fprintf(w, "       Args: %s\n", formatArgs(event.Args))
		}
		if verbose {
			fmt.Fprintf(w, "       ID: %s (request %s)\n", truncateID(event.ID), event.RequestID)
		}

	case "completion":
		fmt.Fprintf(w, "  [%d] COMP %s\n", event.Seq, event.OutputCase)
		if event.Message != "" {
			fmt.Fprintf(w, "       %s\n", event.Message)
		}
		if verbose && len(event.Result) > 0 {
			fmt.Fprintf(w, "       Result: %s\n", formatArgs(event.Result))
		}
		if verbose {
			fmt.Fprintf(w, "       ID: %s\n", truncateID(event.ID))
		}

	case "event":
		kind, _ := event.Event["kind"].(string)
		fmt.Fprintf(w, "  [%d]   EVT %s\n", event.Seq, kind)
		if verbose {
			fmt.Fprintf(w, "       %s\n", formatArgs(event.Event))
		}
	}
}

// formatArgs formats a map of args for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case ir.Object:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		return "[" + strings.Join(val, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
