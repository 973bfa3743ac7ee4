package allotment

import (
	"context"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/allotment/internal/clock"
	"github.com/roach88/allotment/internal/fault"
	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/ledger"
	"github.com/roach88/allotment/internal/role"
	"github.com/roach88/allotment/internal/vesting"
)

const tracerName = "github.com/roach88/allotment/internal/allotment"

// Manager creates, extends and releases vesting schedules.
//
// Thread-safety: Manager is safe for concurrent use.
type Manager struct {
	mu sync.RWMutex

	address  ir.Account
	funding  FundingPolicy
	treasury ir.Account

	ledger ledger.Ledger
	roles  *role.Registry
	clock  clock.Clock

	// nonce counts created schedules; failed creations do not consume it.
	nonce         uint64
	schedules     map[ir.ScheduleID]*vesting.Schedule
	order         []ir.ScheduleID
	byBeneficiary map[ir.Account][]ir.ScheduleID

	sink   ir.EventSink
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a manager over the given ledger, role registry and clock.
func New(l ledger.Ledger, roles *role.Registry, clk clock.Clock, opts ...Option) (*Manager, error) {
	if l == nil || roles == nil || clk == nil {
		return nil, fault.InvalidArgument("ledger, roles and clock are required")
	}
	m := &Manager{
		address:       DefaultAddress,
		funding:       FundByMint,
		ledger:        l,
		roles:         roles,
		clock:         clk,
		schedules:     make(map[ir.ScheduleID]*vesting.Schedule),
		byBeneficiary: make(map[ir.Account][]ir.ScheduleID),
		sink:          ir.DiscardEvents,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	if m.address == "" {
		return nil, fault.InvalidArgument("manager address must not be empty")
	}
	if m.funding == FundFromTreasury && m.treasury == "" {
		return nil, fault.InvalidArgument("treasury funding requires a treasury account")
	}
	return m, nil
}

// Address returns the manager's ledger account.
func (m *Manager) Address() ir.Account {
	return m.address
}

// Funding returns the funding policy and, for FundFromTreasury, its source.
func (m *Manager) Funding() (FundingPolicy, ir.Account) {
	return m.funding, m.treasury
}

// AllotTokens locks amount for beneficiary until releaseTime and returns the
// new schedule id. Only Alloters may call it.
//
// Ledger failures (cap exceeded, missing minter role, short treasury) are
// returned unchanged and leave no trace in the manager.
func (m *Manager) AllotTokens(ctx context.Context, caller, beneficiary ir.Account, releaseTime time.Time, amount *big.Int) (ir.ScheduleID, error) {
	ctx, span := m.startSpan(ctx, "allotment.AllotTokens", caller)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.roles.IsAlloter(caller) {
		return "", m.fail(span, fault.PermissionDenied("caller is not an alloter").With("caller", string(caller)))
	}
	beneficiary, err := ir.ParseAccount(string(beneficiary))
	if err != nil {
		return "", m.fail(span, fault.InvalidArgument("beneficiary must not be empty"))
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", m.fail(span, fault.InvalidArgument("amount must be positive"))
	}

	id := ir.CustodyAddress(m.address, m.nonce)
	if _, exists := m.schedules[id]; exists {
		return "", m.fail(span, fault.InvalidArgument("schedule id collision").With("schedule_id", string(id)))
	}

	now := m.clock.Now()
	sched, err := vesting.New(id, beneficiary, amount, releaseTime, now)
	if err != nil {
		return "", m.fail(span, err)
	}
	if err := m.fund(ctx, id.Account(), amount); err != nil {
		return "", m.fail(span, err)
	}

	m.nonce++
	m.schedules[id] = sched
	m.order = append(m.order, id)
	m.byBeneficiary[beneficiary] = append(m.byBeneficiary[beneficiary], id)

	span.SetAttributes(attribute.String("schedule_id", string(id)))
	if sched.ReleaseTime().Before(now) {
		m.logger.WarnContext(ctx, "release time is in the past",
			"schedule_id", id,
			"release_time", sched.ReleaseTime().Unix(),
			"now", now.Unix())
	}
	m.logger.InfoContext(ctx, "allotment created",
		"schedule_id", id,
		"beneficiary", beneficiary,
		"amount", amount.String(),
		"release_time", sched.ReleaseTime().Unix())

	m.sink.Emit(ir.Event{
		Kind:        ir.EventAllotmentCreated,
		ScheduleID:  id,
		Beneficiary: beneficiary,
		Custody:     id.Account(),
		Amount:      amount.String(),
		ReleaseTime: sched.ReleaseTime().Unix(),
	})
	return id, nil
}

func (m *Manager) fund(ctx context.Context, custody ir.Account, amount *big.Int) error {
	switch m.funding {
	case FundFromTreasury:
		return m.ledger.Transfer(ctx, m.treasury, custody, amount)
	default:
		return m.ledger.Mint(ctx, m.address, custody, amount)
	}
}

// SetNewReleaseTime moves an unreleased schedule's release time strictly
// later. Only Alloters may call it.
func (m *Manager) SetNewReleaseTime(ctx context.Context, caller ir.Account, id ir.ScheduleID, releaseTime time.Time) error {
	ctx, span := m.startSpan(ctx, "allotment.SetNewReleaseTime", caller)
	defer span.End()
	span.SetAttributes(attribute.String("schedule_id", string(id)))

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.roles.IsAlloter(caller) {
		return m.fail(span, fault.PermissionDenied("caller is not an alloter").With("caller", string(caller)))
	}
	sched, err := m.lookup(id)
	if err != nil {
		return m.fail(span, err)
	}
	previous := sched.ReleaseTime()
	if err := sched.Extend(releaseTime); err != nil {
		return m.fail(span, err)
	}

	m.logger.InfoContext(ctx, "release time extended",
		"schedule_id", id,
		"previous", previous.Unix(),
		"release_time", sched.ReleaseTime().Unix())

	m.sink.Emit(ir.Event{
		Kind:        ir.EventReleaseTimeExtended,
		ScheduleID:  id,
		Beneficiary: sched.Beneficiary(),
		ReleaseTime: sched.ReleaseTime().Unix(),
	})
	return nil
}

// Release pays out every due, unreleased schedule of caller in creation order
// and returns their ids. Either all of them are released or none is: the
// transfers run first, are reversed if any of them fails, and only then are
// the schedules marked released.
//
// When nothing is eligible it fails with NOT_FOUND (caller has no schedules),
// TOO_EARLY (some are locked, none due) or ALREADY_RELEASED (all paid out).
func (m *Manager) Release(ctx context.Context, caller ir.Account) ([]ir.ScheduleID, error) {
	caller = normalizeAccount(caller)
	ctx, span := m.startSpan(ctx, "allotment.Release", caller)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byBeneficiary[caller]
	if len(ids) == 0 {
		return nil, m.fail(span, fault.New(fault.CodeNotFound, "no allotments for account").With("account", string(caller)))
	}

	now := m.clock.Now()
	var (
		eligible []*vesting.Schedule
		earliest time.Time
		locked   int
	)
	for _, id := range ids {
		sched := m.schedules[id]
		if sched.IsReleased() {
			continue
		}
		if sched.Releasable(now) != nil {
			if locked == 0 || sched.ReleaseTime().Before(earliest) {
				earliest = sched.ReleaseTime()
			}
			locked++
			continue
		}
		eligible = append(eligible, sched)
	}

	if len(eligible) == 0 {
		if locked > 0 {
			return nil, m.fail(span, fault.New(fault.CodeTooEarly, "current time is before release time").
				With("account", string(caller)).
				With("release_time", strconv.FormatInt(earliest.Unix(), 10)))
		}
		return nil, m.fail(span, fault.New(fault.CodeAlreadyReleased, "all allotments already released").
			With("account", string(caller)))
	}

	for _, sched := range eligible {
		if err := m.checkCustody(ctx, sched); err != nil {
			return nil, m.fail(span, err)
		}
	}

	for i, sched := range eligible {
		if err := m.ledger.Transfer(ctx, sched.ID().Account(), sched.Beneficiary(), sched.Amount()); err != nil {
			m.logger.ErrorContext(ctx, "release transfer failed, reversing",
				"schedule_id", sched.ID(),
				"transferred", i,
				"error", err)
			m.reverse(ctx, eligible[:i])
			return nil, m.fail(span, err)
		}
	}

	released := make([]ir.ScheduleID, 0, len(eligible))
	for _, sched := range eligible {
		// Eligibility was checked under the same lock and now is fixed.
		if err := sched.MarkReleased(now); err != nil {
			return nil, m.fail(span, err)
		}
		released = append(released, sched.ID())
	}

	m.logger.InfoContext(ctx, "allotments released",
		"beneficiary", caller,
		"count", len(released))
	for _, sched := range eligible {
		m.sink.Emit(releasedEvent(sched))
	}
	span.SetAttributes(attribute.Int("released", len(released)))
	return released, nil
}

// reverse moves the amounts of done back into custody, last transfer first.
// done must already have been paid to their beneficiaries.
func (m *Manager) reverse(ctx context.Context, done []*vesting.Schedule) {
	for i := len(done) - 1; i >= 0; i-- {
		sched := done[i]
		if err := m.ledger.Transfer(ctx, sched.Beneficiary(), sched.ID().Account(), sched.Amount()); err != nil {
			m.logger.ErrorContext(ctx, "release reversal failed",
				"schedule_id", sched.ID(),
				"beneficiary", sched.Beneficiary(),
				"amount", sched.Amount().String(),
				"error", err)
		}
	}
}

// ReleaseAllotment pays out one schedule to its beneficiary. Anyone may call
// it; funds always go to the beneficiary.
func (m *Manager) ReleaseAllotment(ctx context.Context, caller ir.Account, id ir.ScheduleID) error {
	ctx, span := m.startSpan(ctx, "allotment.ReleaseAllotment", caller)
	defer span.End()
	span.SetAttributes(attribute.String("schedule_id", string(id)))

	m.mu.Lock()
	defer m.mu.Unlock()

	sched, err := m.lookup(id)
	if err != nil {
		return m.fail(span, err)
	}
	if err := sched.Release(ctx, m.ledger, m.clock.Now()); err != nil {
		return m.fail(span, err)
	}

	m.logger.InfoContext(ctx, "allotment released",
		"schedule_id", id,
		"beneficiary", sched.Beneficiary(),
		"caller", caller,
		"amount", sched.Amount().String())
	m.sink.Emit(releasedEvent(sched))
	return nil
}

func releasedEvent(sched *vesting.Schedule) ir.Event {
	return ir.Event{
		Kind:        ir.EventAllotmentReleased,
		ScheduleID:  sched.ID(),
		Beneficiary: sched.Beneficiary(),
		Amount:      sched.Amount().String(),
	}
}

func (m *Manager) checkCustody(ctx context.Context, sched *vesting.Schedule) error {
	bal, err := m.ledger.BalanceOf(ctx, sched.ID().Account())
	if err != nil {
		return err
	}
	if bal.Cmp(sched.Amount()) < 0 {
		return fault.New(fault.CodeInsufficientBalance, "custody balance below locked amount").
			With("schedule_id", string(sched.ID())).
			With("balance", bal.String()).
			With("amount", sched.Amount().String())
	}
	return nil
}

// lookup must be called with m.mu held.
func (m *Manager) lookup(id ir.ScheduleID) (*vesting.Schedule, error) {
	sched, ok := m.schedules[id]
	if !ok {
		return nil, fault.New(fault.CodeNotFound, "unknown allotment").With("schedule_id", string(id))
	}
	return sched, nil
}

// normalizeAccount applies ir.ParseAccount, keeping a blank account as is
// so lookups on it simply find nothing.
func normalizeAccount(a ir.Account) ir.Account {
	if n, err := ir.ParseAccount(string(a)); err == nil {
		return n
	}
	return a
}

func (m *Manager) startSpan(ctx context.Context, name string, caller ir.Account) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("caller", string(caller))))
}

func (m *Manager) fail(span trace.Span, err error) error {
	span.SetStatus(codes.Error, string(fault.CodeOf(err)))
	span.RecordError(err)
	return err
}
