package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/allotment/internal/config"
	"github.com/roach88/allotment/internal/store"
)

// Error codes for validate.
const (
	CodeConfigInvalid  = "E_CONFIG"
	CodeGenesisInvalid = "E_GENESIS"
)

// ValidationResult is the output of a successful validate.
type ValidationResult struct {
	Valid    bool          `json:"valid"`
	Config   config.Config `json:"config"`
	Genesis  store.Genesis `json:"genesis"`
	Database string        `json:"database"`
}

func (r ValidationResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Configuration valid\n")
	fmt.Fprintf(&b, "  token:    %s (%s), %d decimals, cap %s\n",
		r.Config.Token.Name, r.Config.Token.Symbol, r.Config.Token.Decimals, r.Config.Token.Cap)
	fmt.Fprintf(&b, "  admin:    %s\n", r.Config.Admin)
	fmt.Fprintf(&b, "  manager:  %s\n", r.Config.Manager)
	fmt.Fprintf(&b, "  funding:  %s", r.Config.Funding.Policy)
	if r.Config.Funding.Treasury != "" {
		fmt.Fprintf(&b, " from %s", r.Config.Funding.Treasury)
	}
	fmt.Fprintf(&b, "\n  database: %s", r.Database)
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config.cue]",
		Short: "Validate a configuration file",
		Long: `Validate a CUE configuration against the schema, apply environment
overrides and check the genesis it describes, without opening the journal.

With no argument the --config file (or the built-in defaults) is checked.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts)
	formatter.VerboseLog("Validating %s", displayPath(path))

	cfg, err := config.Load(path)
	if err != nil {
		if ferr := formatter.Error(CodeConfigInvalid, err.Error(), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "configuration invalid", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	genesis, err := cfg.Genesis()
	if err != nil {
		if ferr := formatter.Error(CodeGenesisInvalid, err.Error(), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "genesis invalid", err)
	}

	return formatter.Success(ValidationResult{
		Valid:    true,
		Config:   *cfg,
		Genesis:  genesis,
		Database: cfg.Database,
	})
}

func displayPath(path string) string {
	if path == "" {
		return "built-in defaults"
	}
	return path
}
