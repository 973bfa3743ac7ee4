package allotment

import (
	"context"
	"math/big"

	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/vesting"
)

// GetAllAllotments returns every schedule id in creation order.
func (m *Manager) GetAllAllotments(_ context.Context) []ir.ScheduleID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ir.ScheduleID, len(m.order))
	copy(out, m.order)
	return out
}

// GetAllotments returns the schedule ids of beneficiary in creation order.
// beneficiary is normalized the way AllotTokens stores it. Unknown
// beneficiaries yield an empty slice.
func (m *Manager) GetAllotments(_ context.Context, beneficiary ir.Account) []ir.ScheduleID {
	beneficiary = normalizeAccount(beneficiary)
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byBeneficiary[beneficiary]
	out := make([]ir.ScheduleID, len(ids))
	copy(out, ids)
	return out
}

// GetTotalBalance returns the ledger balance of account. The read lock keeps
// it from observing a release in progress.
func (m *Manager) GetTotalBalance(ctx context.Context, account ir.Account) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.BalanceOf(ctx, account)
}

// Schedule returns a snapshot of one schedule.
func (m *Manager) Schedule(_ context.Context, id ir.ScheduleID) (vesting.View, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sched, err := m.lookup(id)
	if err != nil {
		return vesting.View{}, err
	}
	return sched.View(), nil
}

// Schedules returns snapshots of every schedule in creation order.
func (m *Manager) Schedules(_ context.Context) []vesting.View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]vesting.View, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.schedules[id].View())
	}
	return out
}

// Summary aggregates the manager's schedules.
type Summary struct {
	Schedules     int      `json:"schedules"`
	Released      int      `json:"released"`
	Unreleased    int      `json:"unreleased"`
	Beneficiaries int      `json:"beneficiaries"`
	Locked        *big.Int `json:"locked"`
	Disbursed     *big.Int `json:"disbursed"`
}

// Summary reports counts and totals. Locked + Disbursed equals everything
// ever funded into custody.
func (m *Manager) Summary(_ context.Context) Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		Schedules:     len(m.order),
		Beneficiaries: len(m.byBeneficiary),
		Locked:        new(big.Int),
		Disbursed:     new(big.Int),
	}
	for _, id := range m.order {
		sched := m.schedules[id]
		if sched.IsReleased() {
			s.Released++
			s.Disbursed.Add(s.Disbursed, sched.Amount())
		} else {
			s.Unreleased++
			s.Locked.Add(s.Locked, sched.Amount())
		}
	}
	return s
}
