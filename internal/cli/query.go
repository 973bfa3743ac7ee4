package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/allotment/internal/allotment"
	"github.com/roach88/allotment/internal/fault"
	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/vesting"
)

// AllotmentView is a schedule with amounts in token units and RFC 3339 times.
type AllotmentView struct {
	ID          string `json:"id"`
	Beneficiary string `json:"beneficiary"`
	Amount      string `json:"amount"`
	ReleaseTime string `json:"release_time"`
	Released    bool   `json:"released"`
	CreatedAt   string `json:"created_at"`
	ReleasedAt  string `json:"released_at,omitempty"`
}

func newAllotmentView(v vesting.View, decimals int) AllotmentView {
	out := AllotmentView{
		ID:          string(v.ID),
		Beneficiary: string(v.Beneficiary),
		Amount:      ir.FormatAmount(v.Amount, decimals),
		ReleaseTime: ir.FormatTime(v.ReleaseTime.Unix()),
		Released:    v.Released,
		CreatedAt:   ir.FormatTime(v.CreatedAt.Unix()),
	}
	if v.ReleasedAt != nil {
		out.ReleasedAt = ir.FormatTime(v.ReleasedAt.Unix())
	}
	return out
}

func (v AllotmentView) status() string {
	if v.Released {
		return "released"
	}
	return "locked"
}

func (v AllotmentView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Allotment %s\n", v.ID)
	fmt.Fprintf(&b, "  beneficiary:  %s\n", v.Beneficiary)
	fmt.Fprintf(&b, "  amount:       %s\n", v.Amount)
	fmt.Fprintf(&b, "  release time: %s\n", v.ReleaseTime)
	fmt.Fprintf(&b, "  created:      %s\n", v.CreatedAt)
	fmt.Fprintf(&b, "  status:       %s", v.status())
	if v.ReleasedAt != "" {
		fmt.Fprintf(&b, " at %s", v.ReleasedAt)
	}
	return b.String()
}

// AllotmentList is the output of list.
type AllotmentList struct {
	Beneficiary string          `json:"beneficiary,omitempty"`
	Allotments  []AllotmentView `json:"allotments"`
}

func (l AllotmentList) String() string {
	if len(l.Allotments) == 0 {
		return "No allotments found."
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBENEFICIARY\tAMOUNT\tRELEASE TIME\tSTATUS")
	for _, v := range l.Allotments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.Beneficiary, v.Amount, v.ReleaseTime, v.status())
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// BalanceResult is the output of balance.
type BalanceResult struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

func (r BalanceResult) String() string {
	return fmt.Sprintf("%s: %s", r.Account, r.Balance)
}

// SummaryResult is the output of summary.
type SummaryResult struct {
	Manager       string `json:"manager"`
	Funding       string `json:"funding"`
	Schedules     int    `json:"schedules"`
	Released      int    `json:"released"`
	Unreleased    int    `json:"unreleased"`
	Beneficiaries int    `json:"beneficiaries"`
	Locked        string `json:"locked"`
	Disbursed     string `json:"disbursed"`
	TotalSupply   string   `json:"total_supply"`
	Cap           string   `json:"cap"`
	Admin         string   `json:"admin"`
	Alloters      []string `json:"alloters"`
	Records       int      `json:"records"`
}

func (r SummaryResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Manager %s (funding: %s)\n", r.Manager, r.Funding)
	fmt.Fprintf(&b, "  allotments:    %d (%d locked, %d released)\n", r.Schedules, r.Unreleased, r.Released)
	fmt.Fprintf(&b, "  beneficiaries: %d\n", r.Beneficiaries)
	fmt.Fprintf(&b, "  locked:        %s\n", r.Locked)
	fmt.Fprintf(&b, "  disbursed:     %s\n", r.Disbursed)
	fmt.Fprintf(&b, "  total supply:  %s of %s\n", r.TotalSupply, r.Cap)
	fmt.Fprintf(&b, "  admin:         %s\n", r.Admin)
	fmt.Fprintf(&b, "  alloters:      %s\n", strings.Join(r.Alloters, ", "))
	fmt.Fprintf(&b, "  journal:       %d records", r.Records)
	return b.String()
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Beneficiary string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List allotments",
		Long: `List allotments in creation order, optionally for one beneficiary.

Examples:
  allotment list
  allotment list --beneficiary alice --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Beneficiary, "beneficiary", "", "only allotments of this beneficiary")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	s, err := openSession(ctx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	mgr := s.engine.Manager()
	var views []vesting.View
	if opts.Beneficiary != "" {
		for _, id := range mgr.GetAllotments(ctx, ir.Account(opts.Beneficiary)) {
			view, err := mgr.Schedule(ctx, id)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read allotment", err)
			}
			views = append(views, view)
		}
	} else {
		views = mgr.Schedules(ctx)
	}

	out := AllotmentList{Beneficiary: opts.Beneficiary, Allotments: make([]AllotmentView, 0, len(views))}
	for _, view := range views {
		out.Allotments = append(out.Allotments, newAllotmentView(view, s.decimals()))
	}
	return newFormatter(cmd, opts.RootOptions).Success(out)
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <schedule-id>",
		Short:         "Show one allotment",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			f := newFormatter(cmd, rootOpts)
			s, err := openSession(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			view, err := s.engine.Manager().Schedule(ctx, ir.ScheduleID(args[0]))
			if err != nil {
				code := string(fault.CodeOf(err))
				if code == "" {
					code = CodeCommand
				}
				if ferr := f.Error(code, err.Error(), nil); ferr != nil {
					return ferr
				}
				return WrapExitError(ExitFailure, "show failed", err)
			}
			return f.Success(newAllotmentView(view, s.decimals()))
		},
	}
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Show an account's ledger balance",
		Long: `Show an account's ledger balance in token units. For a beneficiary this
is what has been released to them; locked allotments sit in custody accounts
named by their schedule id.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := openSession(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			bal, err := s.engine.Manager().GetTotalBalance(ctx, ir.Account(args[0]))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read balance", err)
			}
			return newFormatter(cmd, rootOpts).Success(BalanceResult{
				Account: args[0],
				Balance: ir.FormatAmount(bal, s.decimals()),
			})
		},
	}
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "summary",
		Short:         "Summarize allotments and supply",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := openSession(ctx, cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close(ctx)

			out, err := summarize(ctx, s)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read journal", err)
			}
			return newFormatter(cmd, rootOpts).Success(out)
		},
	}
}

func summarize(ctx context.Context, s *session) (SummaryResult, error) {
	mgr := s.engine.Manager()
	sum := mgr.Summary(ctx)
	d := s.decimals()
	led := s.engine.Ledger()
	roles := s.engine.Roles()

	records, err := s.engine.Store().CountRecords(ctx)
	if err != nil {
		return SummaryResult{}, err
	}
	alloters := roles.Alloters()
	names := make([]string, len(alloters))
	for i, a := range alloters {
		names[i] = string(a)
	}

	var funding string
	switch policy, treasury := mgr.Funding(); policy {
	case allotment.FundFromTreasury:
		funding = fmt.Sprintf("%s from %s", policy, treasury)
	default:
		funding = string(policy)
	}

	return SummaryResult{
		Manager:       string(mgr.Address()),
		Funding:       funding,
		Schedules:     sum.Schedules,
		Released:      sum.Released,
		Unreleased:    sum.Unreleased,
		Beneficiaries: sum.Beneficiaries,
		Locked:        ir.FormatAmount(sum.Locked, d),
		Disbursed:     ir.FormatAmount(sum.Disbursed, d),
		TotalSupply:   ir.FormatAmount(led.TotalSupply(), d),
		Cap:           ir.FormatAmount(led.Cap(), d),
		Admin:         string(roles.AdminAccount()),
		Alloters:      names,
		Records:       records,
	}, nil
}
