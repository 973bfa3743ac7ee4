package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/allotment/internal/engine"
	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/store"
)

// ReplayActionStats counts the journaled outcomes of one action.
type ReplayActionStats struct {
	Action    ir.Action `json:"action"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	Records       int                 `json:"records"`
	LastSeq       int64               `json:"last_seq"`
	Actions       []ReplayActionStats `json:"actions"`
	Deterministic bool                `json:"deterministic"`
	Divergence    string              `json:"divergence,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the journal and verify determinism",
		Long: `Replay every journaled operation against a fresh state, under the genesis
the journal was created with, and verify each re-execution reproduces the
journaled invocation and completion ids.

Exit codes:
  0 - Replay reproduced the journal
  1 - Determinism verification failed (replay diverged)
  2 - Command error (database not found, etc.)

Examples:
  allotment replay --db ./allotment.db
  allotment replay --db ./allotment.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, cmd)
		},
	}

	return cmd
}

func runReplay(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	genesis, ok, err := st.Genesis(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read genesis", err)
	}
	if !ok {
		if opts.Format == "json" {
			return outputReplayJSON(cmd, ReplayResult{Actions: []ReplayActionStats{}, Deterministic: true})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Journal is empty.")
		return nil
	}

	records, err := st.ReadRecords(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	result := ReplayResult{
		Records:       len(records),
		Actions:       actionStats(records),
		Deterministic: true,
	}

	// Replay diagnostics are reported in the result, not logged.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = cfg.Logger(cmd.ErrOrStderr(), true)
	}
	eng, err := engine.New(ctx, st, genesis, engine.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	if _, err := eng.Restore(ctx); err != nil {
		result.Deterministic = false
		result.Divergence = err.Error()
	}
	result.LastSeq = eng.LastSeq()

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// actionStats groups records by action in first-seen order.
func actionStats(records []ir.Record) []ReplayActionStats {
	stats := []ReplayActionStats{}
	for _, rec := range records {
		i := slices.IndexFunc(stats, func(s ReplayActionStats) bool {
			return s.Action == rec.Invocation.Action
		})
		if i < 0 {
			stats = append(stats, ReplayActionStats{Action: rec.Invocation.Action})
			i = len(stats) - 1
		}
		if rec.Completion.Succeeded() {
			stats[i].Succeeded++
		} else {
			stats[i].Failed++
		}
	}
	return stats
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.Deterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    CodeDeterminism,
			Message: "determinism verification failed",
			Details: result.Divergence,
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.Deterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d record(s)\n", result.Records)
	if verbose {
		for _, s := range result.Actions {
			fmt.Fprintf(w, "  %s: %d succeeded, %d failed\n", s.Action, s.Succeeded, s.Failed)
		}
	}
	fmt.Fprintln(w)

	if result.Deterministic {
		fmt.Fprintf(w, "✓ Journal verified deterministic through seq %d\n", result.LastSeq)
		return nil
	}

	fmt.Fprintf(w, "✗ Determinism verification failed near seq %d\n", result.LastSeq)
	fmt.Fprintf(w, "  %s\n", result.Divergence)
	return NewExitError(ExitFailure, "determinism verification failed")
}
