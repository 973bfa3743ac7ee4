package ledger

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/allotment/internal/fault"
	"github.com/roach88/allotment/internal/ir"
)

func newLedger(t *testing.T, supplyCap int64) (*Memory, *ir.Recorder) {
	t.Helper()
	rec := ir.NewRecorder()
	m, err := NewMemory("admin", big.NewInt(supplyCap), WithEventSink(rec))
	require.NoError(t, err)
	return m, rec
}

func balance(t *testing.T, m *Memory, account ir.Account) string {
	t.Helper()
	b, err := m.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	return b.String()
}

func TestNewMemory_Validates(t *testing.T) {
	_, err := NewMemory("", big.NewInt(1))
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))
	_, err = NewMemory("admin", big.NewInt(0))
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))
}

func TestMint(t *testing.T) {
	ctx := context.Background()
	m, rec := newLedger(t, 100)

	require.NoError(t, m.Mint(ctx, "admin", "alice", big.NewInt(40)))
	assert.Equal(t, "40", balance(t, m, "alice"))
	assert.Equal(t, "40", m.TotalSupply().String())
	assert.Equal(t, "100", m.Cap().String())

	events := rec.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, ir.Event{Kind: ir.EventTransfer, From: ir.ZeroAccount, To: "alice", Amount: "40"}, events[0])
}

func TestMint_RequiresMinterRole(t *testing.T) {
	m, rec := newLedger(t, 100)

	err := m.Mint(context.Background(), "manager", "alice", big.NewInt(1))
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodePermissionDenied))
	assert.Contains(t, err.Error(), "must have minter role to mint")
	assert.Empty(t, rec.Events())
}

func TestMint_CapExceeded(t *testing.T) {
	ctx := context.Background()
	m, rec := newLedger(t, 100)
	require.NoError(t, m.Mint(ctx, "admin", "alice", big.NewInt(60)))
	rec.Drain()

	err := m.Mint(ctx, "admin", "bob", big.NewInt(41))
	require.Error(t, err)
	assert.True(t, fault.IsCode(err, fault.CodeSupplyCapExceeded))
	assert.Contains(t, err.Error(), "cap exceeded")
	assert.Equal(t, "60", m.TotalSupply().String())
	assert.Equal(t, "0", balance(t, m, "bob"))
	assert.Empty(t, rec.Events())

	// Minting exactly up to the cap is fine.
	require.NoError(t, m.Mint(ctx, "admin", "bob", big.NewInt(40)))
	assert.Equal(t, "100", m.TotalSupply().String())
}

func TestMint_RejectsNonPositive(t *testing.T) {
	m, _ := newLedger(t, 100)
	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		err := m.Mint(context.Background(), "admin", "alice", amount)
		assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))
	}
}

func TestGrantMinterRole(t *testing.T) {
	ctx := context.Background()
	m, rec := newLedger(t, 100)
	assert.True(t, m.HasMinterRole("admin"))
	assert.False(t, m.HasMinterRole("manager"))

	_, err := m.GrantMinterRole(ctx, "manager", "manager")
	assert.True(t, fault.IsCode(err, fault.CodePermissionDenied))

	granted, err := m.GrantMinterRole(ctx, "admin", "manager")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.True(t, m.HasMinterRole("manager"))

	granted, err = m.GrantMinterRole(ctx, "admin", "manager")
	require.NoError(t, err)
	assert.False(t, granted)

	events := rec.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, ir.Event{Kind: ir.EventRoleGranted, Role: "MINTER", Account: "manager", Sender: "admin"}, events[0])

	require.NoError(t, m.Mint(ctx, "manager", "alice", big.NewInt(5)))
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	m, rec := newLedger(t, 100)
	require.NoError(t, m.Mint(ctx, "admin", "alice", big.NewInt(50)))
	rec.Drain()

	require.NoError(t, m.Transfer(ctx, "alice", "bob", big.NewInt(20)))
	assert.Equal(t, "30", balance(t, m, "alice"))
	assert.Equal(t, "20", balance(t, m, "bob"))
	assert.Equal(t, "50", m.TotalSupply().String(), "transfers do not change supply")

	events := rec.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, ir.Event{Kind: ir.EventTransfer, From: "alice", To: "bob", Amount: "20"}, events[0])
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	m, rec := newLedger(t, 100)
	require.NoError(t, m.Mint(ctx, "admin", "alice", big.NewInt(10)))
	rec.Drain()

	err := m.Transfer(ctx, "alice", "bob", big.NewInt(11))
	assert.True(t, fault.IsCode(err, fault.CodeInsufficientBalance))
	assert.Equal(t, "10", balance(t, m, "alice"))
	assert.Equal(t, "0", balance(t, m, "bob"))
	assert.Empty(t, rec.Events())

	err = m.Transfer(ctx, "alice", "bob", big.NewInt(-1))
	assert.True(t, fault.IsCode(err, fault.CodeInvalidArgument))
}

func TestBalanceOf_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m, _ := newLedger(t, 100)
	require.NoError(t, m.Mint(ctx, "admin", "alice", big.NewInt(10)))

	b, err := m.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	b.SetInt64(999)
	assert.Equal(t, "10", balance(t, m, "alice"))
	assert.Equal(t, "0", balance(t, m, "nobody"))
}

func TestMint_ConcurrentNeverExceedsCap(t *testing.T) {
	ctx := context.Background()
	m, _ := newLedger(t, 100)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Mint(ctx, "admin", "alice", big.NewInt(3))
		}()
	}
	wg.Wait()

	assert.Equal(t, "99", m.TotalSupply().String())
	assert.Equal(t, "99", balance(t, m, "alice"))
}
