package engine

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/allotment/internal/allotment"
	"github.com/roach88/allotment/internal/clock"
	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/ledger"
	"github.com/roach88/allotment/internal/role"
	"github.com/roach88/allotment/internal/store"
)

// MaxDecimals bounds the token decimals a genesis may declare.
const MaxDecimals = 36

// state is the set of components one engine drives. It is rebuilt from the
// genesis on every start and brought up to date by replaying the journal.
type state struct {
	clock   *clock.Manual
	events  *ir.Recorder
	roles   *role.Registry
	ledger  *ledger.Memory
	manager *allotment.Manager
}

// ValidateGenesis checks that g describes a constructible system.
func ValidateGenesis(g store.Genesis) error {
	if _, err := ir.ParseAccount(g.Admin); err != nil {
		return fmt.Errorf("genesis admin: %w", err)
	}
	if _, err := ir.ParseAccount(g.Manager); err != nil {
		return fmt.Errorf("genesis manager: %w", err)
	}
	if g.Decimals < 0 || g.Decimals > MaxDecimals {
		return fmt.Errorf("genesis decimals %d out of range 0..%d", g.Decimals, MaxDecimals)
	}
	supplyCap, err := ir.ParseBaseUnits(g.Cap)
	if err != nil {
		return fmt.Errorf("genesis cap: %w", err)
	}
	if supplyCap.Sign() <= 0 {
		return fmt.Errorf("genesis cap must be positive")
	}
	switch allotment.FundingPolicy(g.Funding) {
	case allotment.FundByMint:
	case allotment.FundFromTreasury:
		if _, err := ir.ParseAccount(g.Treasury); err != nil {
			return fmt.Errorf("genesis treasury: %w", err)
		}
	default:
		return fmt.Errorf("genesis funding %q: expected %q or %q", g.Funding, allotment.FundByMint, allotment.FundFromTreasury)
	}
	return nil
}

func newState(g store.Genesis, logger *slog.Logger, tracer trace.Tracer) (*state, error) {
	if err := ValidateGenesis(g); err != nil {
		return nil, err
	}
	supplyCap, _ := ir.ParseBaseUnits(g.Cap)
	admin := ir.MustAccount(g.Admin)

	st := &state{
		clock:  clock.NewManualUnix(0),
		events: ir.NewRecorder(),
	}

	var err error
	st.roles, err = role.New(admin,
		role.WithEventSink(st.events),
		role.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	st.ledger, err = ledger.NewMemory(admin, supplyCap,
		ledger.WithEventSink(st.events),
		ledger.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	opts := []allotment.Option{
		allotment.WithAddress(ir.MustAccount(g.Manager)),
		allotment.WithEventSink(st.events),
		allotment.WithLogger(logger),
		allotment.WithTracer(tracer),
	}
	if allotment.FundingPolicy(g.Funding) == allotment.FundFromTreasury {
		opts = append(opts, allotment.WithTreasury(ir.MustAccount(g.Treasury)))
	}
	st.manager, err = allotment.New(st.ledger, st.roles, st.clock, opts...)
	if err != nil {
		return nil, err
	}
	return st, nil
}
