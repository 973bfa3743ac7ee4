package allotment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/allotment/internal/clock"
	"github.com/roach88/allotment/internal/fault"
	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/ledger"
	"github.com/roach88/allotment/internal/role"
	"github.com/roach88/allotment/internal/testutil"
)

type fixture struct {
	mgr    *Manager
	ledger *ledger.Memory
	roles  *role.Registry
	clock  *clock.Manual
	events *ir.Recorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	rec := ir.NewRecorder()

	roles, err := role.New("admin", role.WithEventSink(rec))
	require.NoError(t, err)
	l, err := ledger.NewMemory("admin", testutil.TokensBig(7777778), ledger.WithEventSink(rec))
	require.NoError(t, err)
	clk := clock.NewManualUnix(1600000000)

	opts = append([]Option{WithEventSink(rec)}, opts...)
	mgr, err := New(l, roles, clk, opts...)
	require.NoError(t, err)

	_, err = l.GrantMinterRole(ctx, "admin", mgr.Address())
	require.NoError(t, err)
	rec.Drain()

	return &fixture{mgr: mgr, ledger: l, roles: roles, clock: clk, events: rec}
}

func (f *fixture) allot(t *testing.T, beneficiary ir.Account, releaseUnix int64, amount *big.Int) ir.ScheduleID {
	t.Helper()
	id, err := f.mgr.AllotTokens(context.Background(), "admin", beneficiary, time.Unix(releaseUnix, 0), amount)
	require.NoError(t, err)
	return id
}

func (f *fixture) balance(t *testing.T, account ir.Account) *big.Int {
	t.Helper()
	b, err := f.mgr.GetTotalBalance(context.Background(), account)
	require.NoError(t, err)
	return b
}

func kinds(events []ir.Event) []ir.EventKind {
	out := make([]ir.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestNew_Validates(t *testing.T) {
	roles, err := role.New("admin")
	require.NoError(t, err)
	l, err := ledger.NewMemory("admin", big.NewInt(10))
	require.NoError(t, err)

	_, err = New(nil, roles, clock.System{})
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))

	_, err = New(l, roles, clock.System{}, WithTreasury(""))
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))

	m, err := New(l, roles, clock.System{})
	require.NoError(t, err)
	assert.Equal(t, DefaultAddress, m.Address())
	policy, _ := m.Funding()
	assert.Equal(t, FundByMint, policy)
}

func TestAllotTokens(t *testing.T) {
	f := newFixture(t)

	id := f.allot(t, "promo", 1604534400, testutil.TokensBig(777777))

	assert.Equal(t, ir.CustodyAddress(DefaultAddress, 0), id)
	assert.Equal(t, 0, testutil.TokensBig(777777).Cmp(f.balance(t, id.Account())), "custody holds the locked amount")
	assert.Equal(t, 0, f.balance(t, "promo").Sign())
	assert.Equal(t, []ir.ScheduleID{id}, f.mgr.GetAllAllotments(context.Background()))
	assert.Equal(t, []ir.ScheduleID{id}, f.mgr.GetAllotments(context.Background(), "promo"))

	events := f.events.Drain()
	assert.Equal(t, []ir.EventKind{ir.EventTransfer, ir.EventAllotmentCreated}, kinds(events))
	assert.Equal(t, ir.Event{
		Kind:        ir.EventAllotmentCreated,
		ScheduleID:  id,
		Beneficiary: "promo",
		Custody:     id.Account(),
		Amount:      testutil.TokensBig(777777).String(),
		ReleaseTime: 1604534400,
	}, events[1])

	view, err := f.mgr.Schedule(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(1604534400), view.ReleaseTime.Unix())
	assert.Equal(t, int64(1600000000), view.CreatedAt.Unix())
	assert.False(t, view.Released)
}

func TestAllotTokens_RequiresAlloter(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.AllotTokens(context.Background(), "mallory", "mallory", time.Unix(1600000000, 0), testutil.TokensBig(1))
	assert.True(t, fault.IsCode(err, fault.CodePermissionDenied))
	assert.Empty(t, f.mgr.GetAllAllotments(context.Background()))
	assert.Empty(t, f.events.Events())

	_, err = f.roles.GrantAlloter(context.Background(), "admin", "bob")
	require.NoError(t, err)
	_, err = f.mgr.AllotTokens(context.Background(), "bob", "alice", time.Unix(1700000000, 0), testutil.TokensBig(1))
	require.NoError(t, err)
}

func TestAllotTokens_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Unix(1700000000, 0)

	_, err := f.mgr.AllotTokens(ctx, "admin", "", at, testutil.TokensBig(1))
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))
	_, err = f.mgr.AllotTokens(ctx, "admin", "alice", at, big.NewInt(0))
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))
	_, err = f.mgr.AllotTokens(ctx, "admin", "alice", at, nil)
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))
}

func TestAllotTokens_WithoutMinterRole(t *testing.T) {
	roles, err := role.New("admin")
	require.NoError(t, err)
	l, err := ledger.NewMemory("admin", testutil.TokensBig(10))
	require.NoError(t, err)
	mgr, err := New(l, roles, clock.NewManualUnix(1600000000))
	require.NoError(t, err)

	_, err = mgr.AllotTokens(context.Background(), "admin", "alice", time.Unix(1700000000, 0), testutil.TokensBig(1))
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodePermissionDenied))
	assert.Contains(t, err.Error(), "must have minter role to mint")
	assert.Empty(t, mgr.GetAllAllotments(context.Background()))
}

func TestAllotTokens_CapExceededConsumesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.AllotTokens(context.Background(), "admin", "whale", time.Unix(1700000000, 0), testutil.TokensBig(7777779))
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeSupplyCapExceeded))
	assert.Empty(t, f.mgr.GetAllAllotments(context.Background()))
	assert.Empty(t, f.events.Events())

	// The failed attempt did not consume an id.
	id := f.allot(t, "alice", 1700000000, testutil.TokensBig(1))
	assert.Equal(t, ir.CustodyAddress(DefaultAddress, 0), id)
}

func TestAllotTokens_TreasuryFunding(t *testing.T) {
	f := newFixture(t, WithTreasury("admin"))
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint(ctx, "admin", "admin", testutil.TokensBig(100)))

	id := f.allot(t, "alice", 1700000000, testutil.TokensBig(60))
	assert.Equal(t, 0, testutil.TokensBig(40).Cmp(f.balance(t, "admin")))
	assert.Equal(t, 0, testutil.TokensBig(60).Cmp(f.balance(t, id.Account())))

	_, err := f.mgr.AllotTokens(ctx, "admin", "bob", time.Unix(1700000000, 0), testutil.TokensBig(41))
	assert.True(t, fault.IsCode(err, fault.CodeInsufficientBalance))
	assert.Len(t, f.mgr.GetAllAllotments(ctx), 1)
}

func TestAllotTokens_PastReleaseTimeIsImmediatelyReleasable(t *testing.T) {
	f := newFixture(t)
	id := f.allot(t, "alice", 1500000000, testutil.TokensBig(5))

	require.NoError(t, f.mgr.ReleaseAllotment(context.Background(), "anyone", id))
	assert.Equal(t, 0, testutil.TokensBig(5).Cmp(f.balance(t, "alice")))
}

func TestSetNewReleaseTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.allot(t, "promo", 1604534400, testutil.TokensBig(777777))
	f.events.Drain()

	require.NoError(t, f.mgr.SetNewReleaseTime(ctx, "admin", id, time.Unix(1604536400, 0)))

	view, err := f.mgr.Schedule(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1604536400), view.ReleaseTime.Unix())
	assert.Equal(t, []ir.Event{{
		Kind:        ir.EventReleaseTimeExtended,
		ScheduleID:  id,
		Beneficiary: "promo",
		ReleaseTime: 1604536400,
	}}, f.events.Drain())

	err = f.mgr.SetNewReleaseTime(ctx, "admin", id, time.Unix(1604536400, 0))
	assert.True(t, fault.IsCode(err, fault.CodeInvalidExtension))
	err = f.mgr.SetNewReleaseTime(ctx, "admin", id, time.Unix(1604534400, 0))
	assert.True(t, fault.IsCode(err, fault.CodeInvalidExtension))
	err = f.mgr.SetNewReleaseTime(ctx, "promo", id, time.Unix(1704536400, 0))
	assert.True(t, fault.IsCode(err, fault.CodePermissionDenied))
	err = f.mgr.SetNewReleaseTime(ctx, "admin", "0xmissing", time.Unix(1704536400, 0))
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))
	assert.Empty(t, f.events.Events())
}

func TestSetNewReleaseTime_AfterRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.allot(t, "alice", 1600000000, testutil.TokensBig(1))
	require.NoError(t, f.mgr.ReleaseAllotment(ctx, "alice", id))

	err := f.mgr.SetNewReleaseTime(ctx, "admin", id, time.Unix(1700000000, 0))
	assert.True(t, fault.IsCode(err, fault.CodeAlreadyReleased))
}

func TestReleaseAllotment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.allot(t, "promo", 1604534400, testutil.TokensBig(777777))
	f.events.Drain()

	f.clock.SetUnix(1604534399)
	err := f.mgr.ReleaseAllotment(ctx, "promo", id)
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeTooEarly))
	assert.Contains(t, err.Error(), "current time is before release time")

	// Anyone may trigger, funds still go to the beneficiary.
	f.clock.SetUnix(1604534400)
	require.NoError(t, f.mgr.ReleaseAllotment(ctx, "stranger", id))
	assert.Equal(t, 0, testutil.TokensBig(777777).Cmp(f.balance(t, "promo")))
	assert.Equal(t, 0, f.balance(t, id.Account()).Sign())
	assert.Equal(t, 0, f.balance(t, "stranger").Sign())

	events := f.events.Drain()
	assert.Equal(t, []ir.EventKind{ir.EventTransfer, ir.EventAllotmentReleased}, kinds(events))
	assert.Equal(t, ir.Event{
		Kind:        ir.EventAllotmentReleased,
		ScheduleID:  id,
		Beneficiary: "promo",
		Amount:      testutil.TokensBig(777777).String(),
	}, events[1])

	err = f.mgr.ReleaseAllotment(ctx, "promo", id)
	assert.True(t, fault.IsCode(err, fault.CodeAlreadyReleased))
	assert.Equal(t, 0, testutil.TokensBig(777777).Cmp(f.balance(t, "promo")), "second release moves nothing")

	err = f.mgr.ReleaseAllotment(ctx, "promo", "0xmissing")
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))
}

func TestRelease_SelfServiceReleasesAllDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.allot(t, "alice", 1600000100, testutil.TokensBig(1))
	f.allot(t, "bob", 1600000100, testutil.TokensBig(7))
	second := f.allot(t, "alice", 1600000200, testutil.TokensBig(2))
	later := f.allot(t, "alice", 1600000900, testutil.TokensBig(4))
	f.events.Drain()

	f.clock.SetUnix(1600000500)
	released, err := f.mgr.Release(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []ir.ScheduleID{first, second}, released)
	assert.Equal(t, 0, testutil.TokensBig(3).Cmp(f.balance(t, "alice")))

	events := f.events.Drain()
	assert.Equal(t, 2, countKind(events, ir.EventAllotmentReleased))
	assert.Equal(t, 2, countKind(events, ir.EventTransfer))

	view, err := f.mgr.Schedule(ctx, later)
	require.NoError(t, err)
	assert.False(t, view.Released)
}

func TestRelease_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.Release(ctx, "alice")
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))

	f.allot(t, "alice", 1600000900, testutil.TokensBig(1))
	f.allot(t, "alice", 1600000500, testutil.TokensBig(1))
	_, err = f.mgr.Release(ctx, "alice")
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeTooEarly))
	assert.Contains(t, err.Error(), "release_time=1600000500", "names the earliest locked schedule")

	f.clock.SetUnix(1600001000)
	released, err := f.mgr.Release(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, released, 2)

	_, err = f.mgr.Release(ctx, "alice")
	assert.True(t, fault.IsCode(err, fault.CodeAlreadyReleased))
	assert.Equal(t, 0, testutil.TokensBig(2).Cmp(f.balance(t, "alice")))
}

func TestRelease_DrainedCustodyReleasesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.allot(t, "alice", 1600000100, testutil.TokensBig(1))
	second := f.allot(t, "alice", 1600000200, testutil.TokensBig(2))
	require.NoError(t, f.ledger.Transfer(ctx, second.Account(), "mallory", testutil.TokensBig(2)))
	f.events.Drain()

	f.clock.SetUnix(1600000500)
	_, err := f.mgr.Release(ctx, "alice")
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeInsufficientBalance))

	for _, id := range []ir.ScheduleID{first, second} {
		view, err := f.mgr.Schedule(ctx, id)
		require.NoError(t, err)
		assert.False(t, view.Released, id)
	}
	assert.Equal(t, 0, f.balance(t, "alice").Sign())
	assert.Equal(t, 0, testutil.TokensBig(1).Cmp(f.balance(t, first.Account())))
	assert.Empty(t, f.events.Drain())
}

// failingLedger fails the nth Transfer call (1-based) and delegates
// everything else to the wrapped ledger.
type failingLedger struct {
	*ledger.Memory
	failOn int

	mu    sync.Mutex
	calls int
}

var errLedgerDown = errors.New("ledger unavailable")

func (l *failingLedger) Transfer(ctx context.Context, from, to ir.Account, amount *big.Int) error {
	l.mu.Lock()
	l.calls++
	n := l.calls
	l.mu.Unlock()
	if n == l.failOn {
		return errLedgerDown
	}
	return l.Memory.Transfer(ctx, from, to, amount)
}

func TestRelease_TransferFailureReversesEarlierPayouts(t *testing.T) {
	ctx := context.Background()
	rec := ir.NewRecorder()
	roles, err := role.New("admin")
	require.NoError(t, err)
	mem, err := ledger.NewMemory("admin", testutil.TokensBig(100))
	require.NoError(t, err)
	fl := &failingLedger{Memory: mem, failOn: 3}
	clk := clock.NewManualUnix(1600000000)
	mgr, err := New(fl, roles, clk, WithEventSink(rec))
	require.NoError(t, err)
	_, err = mem.GrantMinterRole(ctx, "admin", mgr.Address())
	require.NoError(t, err)

	var ids []ir.ScheduleID
	for i := int64(1); i <= 3; i++ {
		id, err := mgr.AllotTokens(ctx, "admin", "alice", time.Unix(1600000000+i, 0), testutil.TokensBig(i))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	rec.Drain()

	clk.SetUnix(1600000100)
	_, err = mgr.Release(ctx, "alice")
	assert.ErrorIs(t, err, errLedgerDown)

	alice, err := mem.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, alice.Sign())
	for i, id := range ids {
		view, err := mgr.Schedule(ctx, id)
		require.NoError(t, err)
		assert.False(t, view.Released, id)
		custody, err := mem.BalanceOf(ctx, id.Account())
		require.NoError(t, err)
		assert.Equal(t, 0, testutil.TokensBig(int64(i+1)).Cmp(custody), id)
	}
	assert.Equal(t, 0, rec.Count(ir.EventAllotmentReleased))

	// Two payouts, the failed third, then two reversals.
	assert.Equal(t, 5, fl.calls)

	released, err := mgr.Release(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, ids, released)
	alice, err = mem.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, testutil.TokensBig(6).Cmp(alice))
}

func TestRelease_NormalizesCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.allot(t, "alice", 1600000000, testutil.TokensBig(1))

	assert.Equal(t, []ir.ScheduleID{id}, f.mgr.GetAllotments(ctx, " alice "))

	released, err := f.mgr.Release(ctx, " alice")
	require.NoError(t, err)
	assert.Equal(t, []ir.ScheduleID{id}, released)
	assert.Equal(t, 0, testutil.TokensBig(1).Cmp(f.balance(t, "alice")))

	_, err = f.mgr.Release(ctx, "  ")
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))
	assert.Equal(t, []ir.ScheduleID{}, f.mgr.GetAllotments(ctx, ""))
}

func TestSummary_Reconciles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.allot(t, "alice", 1600000000, testutil.TokensBig(10))
	f.allot(t, "bob", 1700000000, testutil.TokensBig(20))
	require.NoError(t, f.mgr.ReleaseAllotment(ctx, "alice", a))

	s := f.mgr.Summary(ctx)
	assert.Equal(t, 2, s.Schedules)
	assert.Equal(t, 1, s.Released)
	assert.Equal(t, 1, s.Unreleased)
	assert.Equal(t, 2, s.Beneficiaries)
	assert.Equal(t, 0, testutil.TokensBig(20).Cmp(s.Locked))
	assert.Equal(t, 0, testutil.TokensBig(10).Cmp(s.Disbursed))

	funded := new(big.Int).Add(s.Locked, s.Disbursed)
	assert.Equal(t, 0, funded.Cmp(f.ledger.TotalSupply()))
	assert.Len(t, f.mgr.Schedules(ctx), 2)
}

func TestQueries_ReturnCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.allot(t, "alice", 1700000000, testutil.TokensBig(1))

	all := f.mgr.GetAllAllotments(ctx)
	all[0] = "0xtampered"
	mine := f.mgr.GetAllotments(ctx, "alice")
	mine[0] = "0xtampered"

	assert.Equal(t, []ir.ScheduleID{id}, f.mgr.GetAllAllotments(ctx))
	assert.Equal(t, []ir.ScheduleID{id}, f.mgr.GetAllotments(ctx, "alice"))
	assert.Equal(t, []ir.ScheduleID{}, f.mgr.GetAllotments(ctx, "nobody"))

	_, err := f.mgr.Schedule(ctx, "0xmissing")
	assert.True(t, fault.IsCode(err, fault.CodeNotFound))
}

func TestConcurrentReleaseHappensOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.allot(t, "alice", 1600000000, testutil.TokensBig(9))
	f.events.Drain()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if f.mgr.ReleaseAllotment(ctx, "anyone", id) == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			b, err := f.mgr.GetTotalBalance(ctx, "alice")
			if assert.NoError(t, err) {
				// Never a partial amount.
				assert.True(t, b.Sign() == 0 || b.Cmp(testutil.TokensBig(9)) == 0)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, f.events.Count(ir.EventAllotmentReleased))
	assert.Equal(t, 0, testutil.TokensBig(9).Cmp(f.balance(t, "alice")))
}

func TestConcurrentAllotTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	beneficiaries := []ir.Account{"alice", "bob", "carol", "dave"}
	const perBeneficiary = 20

	var wg sync.WaitGroup
	for _, b := range beneficiaries {
		for i := 0; i < perBeneficiary; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.mgr.AllotTokens(ctx, "admin", b, time.Unix(1700000000, 0), testutil.TokensBig(int64(i+1)))
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	all := f.mgr.GetAllAllotments(ctx)
	require.Len(t, all, len(beneficiaries)*perBeneficiary)

	seen := make(map[ir.ScheduleID]bool, len(all))
	for _, id := range all {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}

	custody := new(big.Int)
	partitioned := 0
	for _, b := range beneficiaries {
		ids := f.mgr.GetAllotments(ctx, b)
		assert.Len(t, ids, perBeneficiary, string(b))
		for _, id := range ids {
			assert.True(t, seen[id], fmt.Sprintf("%s owns unknown id %s", b, id))
			view, err := f.mgr.Schedule(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, b, view.Beneficiary)
			custody.Add(custody, f.balance(t, id.Account()))
		}
		partitioned += len(ids)
	}
	assert.Equal(t, len(all), partitioned)
	assert.Equal(t, 0, custody.Cmp(f.ledger.TotalSupply()))
	assert.Equal(t, len(all), f.events.Count(ir.EventAllotmentCreated))
}

func countKind(events []ir.Event, kind ir.EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
