package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/allotment/internal/engine"
	"github.com/roach88/allotment/internal/ir"
)

// OperationResult is the output of an operation command.
type OperationResult struct {
	Seq        int64      `json:"seq"`
	Action     ir.Action  `json:"action"`
	Caller     string     `json:"caller"`
	At         string     `json:"at"`
	OutputCase string     `json:"output_case"`
	Message    string     `json:"message,omitempty"`
	Result     ir.Object  `json:"result"`
	Events     []ir.Event `json:"events"`
}

func (r OperationResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [seq %d] %s by %s at %s", r.OutputCase, r.Seq, r.Action, r.Caller, r.At)
	for _, k := range slices.Sorted(maps.Keys(r.Result)) {
		fmt.Fprintf(&b, "\n  %s: %v", k, r.Result[k])
	}
	for _, ev := range r.Events {
		fmt.Fprintf(&b, "\n  event %s", ev.Kind)
	}
	return b.String()
}

// buildArgs turns positional arguments into request args. It runs after the
// session is open so amounts can use the journal's decimals.
type buildArgs func(s *session, args []string) (ir.Object, error)

// newOperationCommand builds a command that executes one action.
func newOperationCommand(rootOpts *RootOptions, use, short, long string, nargs int, action ir.Action, build buildArgs) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Long:          long,
		Args:          cobra.ExactArgs(nargs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(rootOpts, cmd, action, args, build)
		},
	}
}

func runOperation(opts *RootOptions, cmd *cobra.Command, action ir.Action, args []string, build buildArgs) error {
	ctx := commandContext(cmd)
	f := newFormatter(cmd, opts)

	if opts.As == "" {
		return NewExitError(ExitCommandError, "--as is required for operations")
	}
	at, err := parseAt(opts)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	reqArgs, err := build(s, args)
	if err != nil {
		return err
	}
	return execute(s, f, cmd, engine.Request{
		Caller: opts.As,
		Action: action,
		Args:   reqArgs,
		At:     at,
	})
}

// execute runs req and prints its completion. A failed completion exits 1
// after printing; the failure is journaled like any other outcome.
func execute(s *session, f *OutputFormatter, cmd *cobra.Command, req engine.Request) error {
	ctx := commandContext(cmd)
	comp, err := s.engine.Execute(ctx, req)
	if err != nil {
		return WrapExitError(ExitCommandError, "execute failed", err)
	}

	out := OperationResult{
		Seq:        comp.Seq,
		Action:     req.Action,
		Caller:     req.Caller,
		At:         ir.FormatTime(s.engine.LastAt()),
		OutputCase: comp.OutputCase,
		Message:    comp.Message,
		Result:     comp.Result,
		Events:     comp.Events,
	}
	if !comp.Succeeded() {
		if err := f.Failure(comp.OutputCase, comp.Message, nil, out); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%s failed: %s", req.Action, comp.OutputCase))
	}
	return f.Success(out)
}

// NewGrantAlloterCommand creates the grant-alloter command.
func NewGrantAlloterCommand(rootOpts *RootOptions) *cobra.Command {
	return newOperationCommand(rootOpts,
		"grant-alloter <account>",
		"Grant the alloter role",
		`Grant the alloter role to an account. Only the admin may grant it.

Example:
  allotment grant-alloter --as admin treasury-ops`,
		1, ir.ActionGrantAlloter,
		func(_ *session, args []string) (ir.Object, error) {
			return ir.Object{engine.ArgAccount: args[0]}, nil
		})
}

// NewGrantMinterCommand creates the grant-minter command.
func NewGrantMinterCommand(rootOpts *RootOptions) *cobra.Command {
	return newOperationCommand(rootOpts,
		"grant-minter <account>",
		"Grant the ledger minter role",
		`Grant the ledger's minter role to an account. Only the ledger admin may
grant it. With mint funding the manager itself needs this role before it can
allot.

Example:
  allotment grant-minter --as admin allotment-manager`,
		1, ir.ActionGrantMinterRole,
		func(_ *session, args []string) (ir.Object, error) {
			return ir.Object{engine.ArgAccount: args[0]}, nil
		})
}

// NewMintCommand creates the mint command.
func NewMintCommand(rootOpts *RootOptions) *cobra.Command {
	return newOperationCommand(rootOpts,
		"mint <to> <amount>",
		"Mint tokens on the ledger",
		`Mint tokens to an account. Amounts are in token units. The caller must
hold the minter role and the total supply may not exceed the cap.

Example:
  allotment mint --as admin reserve 1000`,
		2, ir.ActionMint,
		func(s *session, args []string) (ir.Object, error) {
			amount, err := s.baseUnits(args[1])
			if err != nil {
				return nil, err
			}
			return ir.Object{engine.ArgTo: args[0], engine.ArgAmount: amount}, nil
		})
}

// NewAllotCommand creates the allot command.
func NewAllotCommand(rootOpts *RootOptions) *cobra.Command {
	return newOperationCommand(rootOpts,
		"allot <beneficiary> <release-time> <amount>",
		"Lock tokens for a beneficiary until a release time",
		`Create an allotment: fund a custody account with the amount and lock it
for the beneficiary until the release time. The caller must be an alloter.

Release time is unix seconds or RFC 3339. Amounts are in token units.

Example:
  allotment allot --as ops alice 2021-05-05T00:00:00Z 777777`,
		3, ir.ActionAllotTokens,
		func(s *session, args []string) (ir.Object, error) {
			releaseTime, err := ir.ParseTime(args[1])
			if err != nil {
				return nil, WrapExitError(ExitCommandError, "invalid release time", err)
			}
			amount, err := s.baseUnits(args[2])
			if err != nil {
				return nil, err
			}
			return ir.Object{
				engine.ArgBeneficiary: args[0],
				engine.ArgReleaseTime: releaseTime,
				engine.ArgAmount:      amount,
			}, nil
		})
}

// NewExtendCommand creates the extend command.
func NewExtendCommand(rootOpts *RootOptions) *cobra.Command {
	return newOperationCommand(rootOpts,
		"extend <schedule-id> <release-time>",
		"Move an allotment's release time later",
		`Set a new release time for an unreleased allotment. The new time must be
strictly later than the current one. The caller must be an alloter.

Example:
  allotment extend --as ops 0x3f2a... 2022-01-01T00:00:00Z`,
		2, ir.ActionSetNewReleaseTime,
		func(_ *session, args []string) (ir.Object, error) {
			releaseTime, err := ir.ParseTime(args[1])
			if err != nil {
				return nil, WrapExitError(ExitCommandError, "invalid release time", err)
			}
			return ir.Object{engine.ArgScheduleID: args[0], engine.ArgReleaseTime: releaseTime}, nil
		})
}

// NewReleaseCommand creates the release command.
func NewReleaseCommand(rootOpts *RootOptions) *cobra.Command {
	return newOperationCommand(rootOpts,
		"release",
		"Release every due allotment of the caller",
		`Release all of the caller's allotments whose release time has passed.
Fails with TOO_EARLY when none are due.

Example:
  allotment release --as alice`,
		0, ir.ActionRelease,
		func(*session, []string) (ir.Object, error) {
			return ir.Object{}, nil
		})
}

// NewReleaseAllotmentCommand creates the release-allotment command.
func NewReleaseAllotmentCommand(rootOpts *RootOptions) *cobra.Command {
	return newOperationCommand(rootOpts,
		"release-allotment <schedule-id>",
		"Release one due allotment to its beneficiary",
		`Release a single allotment to its beneficiary. Anyone may call this once
the release time has passed.

Example:
  allotment release-allotment --as keeper 0x3f2a...`,
		1, ir.ActionReleaseAllotment,
		func(_ *session, args []string) (ir.Object, error) {
			return ir.Object{engine.ArgScheduleID: args[0]}, nil
		})
}

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Args string
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <action>",
		Short: "Invoke any action with raw arguments",
		Long: `Invoke an action with JSON arguments exactly as the journal records them:
amounts in base units, times in unix seconds.

Example:
  allotment invoke allotTokens --as ops \
    --args '{"beneficiary":"alice","release_time":1620172800,"amount":"777777000000000000000000"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(rootOpts, cmd, ir.Action(args[0]), nil,
				func(*session, []string) (ir.Object, error) {
					return decodeArgs(opts.Args)
				})
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "{}", "action arguments as JSON")

	return cmd
}

// decodeArgs parses a JSON object keeping numbers exact.
func decodeArgs(s string) (ir.Object, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var args ir.Object
	if err := dec.Decode(&args); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --args JSON", err)
	}
	if args == nil {
		args = ir.Object{}
	}
	return args, nil
}
