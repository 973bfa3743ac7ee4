// Package ledger defines the asset ledger contract consumed by the allotment
// manager and provides Memory, a capped mintable reference ledger.
package ledger

import (
	"context"
	"log/slog"
	"math/big"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/allotment/internal/fault"
	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/role"
)

// Ledger is the asset ledger the manager funds and releases schedules through.
//
// Implementations must be atomic per call: a failed Mint or Transfer changes
// nothing.
type Ledger interface {
	// Mint creates amount new units in to. minter must hold the minter role.
	Mint(ctx context.Context, minter, to ir.Account, amount *big.Int) error

	// Transfer moves amount from one account to another.
	Transfer(ctx context.Context, from, to ir.Account, amount *big.Int) error

	// BalanceOf returns the balance of account. Unknown accounts hold zero.
	BalanceOf(ctx context.Context, account ir.Account) (*big.Int, error)
}

// Memory is an in-memory capped mintable ledger.
//
// The admin holds the minter role from construction and is the only account
// that may grant it. Total supply never exceeds the cap.
//
// Thread-safety: Memory is safe for concurrent use. Every mutation validates
// before it writes, under the write lock.
type Memory struct {
	mu       sync.RWMutex
	admin    ir.Account
	cap      *big.Int
	supply   *big.Int
	balances map[ir.Account]*big.Int
	minters  mapset.Set[ir.Account]
	sink     ir.EventSink
	logger   *slog.Logger
}

var _ Ledger = (*Memory)(nil)

// Option configures a Memory ledger.
type Option func(*Memory)

// WithEventSink delivers Transfer and RoleGranted events to sink.
func WithEventSink(sink ir.EventSink) Option {
	return func(m *Memory) {
		m.sink = sink
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Memory) {
		m.logger = logger
	}
}

// NewMemory creates an empty ledger with the given supply cap in base units.
func NewMemory(admin ir.Account, supplyCap *big.Int, opts ...Option) (*Memory, error) {
	if admin == "" {
		return nil, fault.InvalidArgument("ledger admin must not be empty")
	}
	if supplyCap == nil || supplyCap.Sign() <= 0 {
		return nil, fault.InvalidArgument("supply cap must be positive")
	}
	m := &Memory{
		admin:    admin,
		cap:      new(big.Int).Set(supplyCap),
		supply:   new(big.Int),
		balances: make(map[ir.Account]*big.Int),
		minters:  mapset.NewSet(admin),
		sink:     ir.DiscardEvents,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// GrantMinterRole lets account mint. Only the admin may call it. Granting an
// existing minter returns granted=false and emits nothing.
func (m *Memory) GrantMinterRole(ctx context.Context, caller, account ir.Account) (bool, error) {
	if caller != m.admin {
		return false, fault.PermissionDenied("must have admin role to grant").With("caller", string(caller))
	}
	if account == "" {
		return false, fault.InvalidArgument("account must not be empty")
	}
	if !m.minters.Add(account) {
		return false, nil
	}
	m.logger.InfoContext(ctx, "minter granted", "account", account, "sender", caller)
	m.sink.Emit(ir.Event{
		Kind:    ir.EventRoleGranted,
		Role:    string(role.Minter),
		Account: account,
		Sender:  caller,
	})
	return true, nil
}

// HasMinterRole reports whether account may mint.
func (m *Memory) HasMinterRole(account ir.Account) bool {
	return m.minters.Contains(account)
}

// Mint implements Ledger.
func (m *Memory) Mint(ctx context.Context, minter, to ir.Account, amount *big.Int) error {
	if !m.minters.Contains(minter) {
		return fault.PermissionDenied("must have minter role to mint").With("minter", string(minter))
	}
	if to == "" {
		return fault.InvalidArgument("mint recipient must not be empty")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fault.InvalidArgument("mint amount must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := new(big.Int).Add(m.supply, amount)
	if next.Cmp(m.cap) > 0 {
		return fault.New(fault.CodeSupplyCapExceeded, "cap exceeded").
			With("cap", m.cap.String()).
			With("total_supply", m.supply.String()).
			With("amount", amount.String())
	}
	m.supply = next
	m.credit(to, amount)

	m.logger.DebugContext(ctx, "minted", "to", to, "amount", amount.String())
	m.sink.Emit(ir.Event{Kind: ir.EventTransfer, From: ir.ZeroAccount, To: to, Amount: amount.String()})
	return nil
}

// Transfer implements Ledger. Zero-amount transfers succeed and still emit.
func (m *Memory) Transfer(ctx context.Context, from, to ir.Account, amount *big.Int) error {
	if from == "" || to == "" {
		return fault.InvalidArgument("transfer accounts must not be empty")
	}
	if amount == nil || amount.Sign() < 0 {
		return fault.InvalidArgument("transfer amount must not be negative")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		return fault.New(fault.CodeInsufficientBalance, "transfer amount exceeds balance").
			With("account", string(from)).
			With("balance", bal.String()).
			With("amount", amount.String())
	}
	m.balances[from] = new(big.Int).Sub(bal, amount)
	m.credit(to, amount)

	m.logger.DebugContext(ctx, "transferred", "from", from, "to", to, "amount", amount.String())
	m.sink.Emit(ir.Event{Kind: ir.EventTransfer, From: from, To: to, Amount: amount.String()})
	return nil
}

// BalanceOf implements Ledger.
func (m *Memory) BalanceOf(_ context.Context, account ir.Account) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.balanceLocked(account)), nil
}

// TotalSupply returns the amount minted so far.
func (m *Memory) TotalSupply() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.supply)
}

// Cap returns the supply cap.
func (m *Memory) Cap() *big.Int {
	return new(big.Int).Set(m.cap)
}

// Admin returns the ledger admin.
func (m *Memory) Admin() ir.Account {
	return m.admin
}

func (m *Memory) balanceLocked(account ir.Account) *big.Int {
	if bal, ok := m.balances[account]; ok {
		return bal
	}
	return new(big.Int)
}

func (m *Memory) credit(account ir.Account, amount *big.Int) {
	m.balances[account] = new(big.Int).Add(m.balanceLocked(account), amount)
}
