// Package vesting implements the vesting schedule entity.
//
// A Schedule locks a fixed amount in a custody account until its release time.
// The release time may only move later, and only while the schedule is
// unreleased. Release happens at most once.
//
// Schedules are not safe for concurrent use; the allotment manager owns every
// schedule and mutates it under its own lock.
package vesting

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/roach88/allotment/internal/fault"
	"github.com/roach88/allotment/internal/ir"
)

// State is the lifecycle state of a schedule.
type State int

const (
	// Unreleased schedules hold their amount in custody.
	Unreleased State = iota
	// Released schedules have paid out to the beneficiary. Terminal.
	Released
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Unreleased:
		return "unreleased"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transferer moves funds between ledger accounts.
// ledger.Ledger satisfies it.
type Transferer interface {
	Transfer(ctx context.Context, from, to ir.Account, amount *big.Int) error
}

// Schedule is one allotment: an amount locked for a beneficiary until a
// release time.
type Schedule struct {
	id          ir.ScheduleID
	beneficiary ir.Account
	amount      *big.Int
	releaseTime time.Time
	createdAt   time.Time
	releasedAt  time.Time
	state       State
}

// New creates an unreleased schedule. The caller is responsible for funding
// the custody account (id.Account()) with amount.
func New(id ir.ScheduleID, beneficiary ir.Account, amount *big.Int, releaseTime, createdAt time.Time) (*Schedule, error) {
	if id == "" {
		return nil, fault.InvalidArgument("schedule id must not be empty")
	}
	if beneficiary == "" {
		return nil, fault.InvalidArgument("beneficiary must not be empty")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fault.InvalidArgument("amount must be positive")
	}
	return &Schedule{
		id:          id,
		beneficiary: beneficiary,
		amount:      new(big.Int).Set(amount),
		releaseTime: releaseTime.UTC().Truncate(time.Second),
		createdAt:   createdAt.UTC().Truncate(time.Second),
		state:       Unreleased,
	}, nil
}

// ID returns the schedule id, which is also its custody account.
func (s *Schedule) ID() ir.ScheduleID { return s.id }

// Beneficiary returns the account the schedule pays out to.
func (s *Schedule) Beneficiary() ir.Account { return s.beneficiary }

// Amount returns a copy of the locked amount.
func (s *Schedule) Amount() *big.Int { return new(big.Int).Set(s.amount) }

// ReleaseTime returns the earliest time the schedule may be released.
func (s *Schedule) ReleaseTime() time.Time { return s.releaseTime }

// State returns the lifecycle state.
func (s *Schedule) State() State { return s.state }

// IsReleased reports whether the schedule has paid out.
func (s *Schedule) IsReleased() bool { return s.state == Released }

// Extend moves the release time to t. t must be strictly later than the
// current release time and the schedule must be unreleased.
func (s *Schedule) Extend(t time.Time) error {
	if s.state == Released {
		return s.alreadyReleased()
	}
	t = t.UTC().Truncate(time.Second)
	if !t.After(s.releaseTime) {
		return fault.New(fault.CodeInvalidExtension, "new release time must be after current release time").
			With("schedule_id", string(s.id)).
			With("release_time", strconv.FormatInt(s.releaseTime.Unix(), 10)).
			With("requested", strconv.FormatInt(t.Unix(), 10))
	}
	s.releaseTime = t
	return nil
}

// Releasable reports why the schedule cannot be released at now, or nil.
func (s *Schedule) Releasable(now time.Time) error {
	if s.state == Released {
		return s.alreadyReleased()
	}
	if now.Before(s.releaseTime) {
		return fault.New(fault.CodeTooEarly, "current time is before release time").
			With("schedule_id", string(s.id)).
			With("release_time", strconv.FormatInt(s.releaseTime.Unix(), 10))
	}
	return nil
}

// Release transfers the locked amount from custody to the beneficiary and
// marks the schedule released. A failed transfer leaves it unreleased.
func (s *Schedule) Release(ctx context.Context, tr Transferer, now time.Time) error {
	if err := s.Releasable(now); err != nil {
		return err
	}
	if err := tr.Transfer(ctx, s.id.Account(), s.beneficiary, s.amount); err != nil {
		return err
	}
	return s.MarkReleased(now)
}

// MarkReleased records a payout the caller has already made on the ledger.
// It fails without side effects when the schedule is not releasable at now.
func (s *Schedule) MarkReleased(now time.Time) error {
	if err := s.Releasable(now); err != nil {
		return err
	}
	s.state = Released
	s.releasedAt = now.UTC().Truncate(time.Second)
	return nil
}

func (s *Schedule) alreadyReleased() error {
	return fault.New(fault.CodeAlreadyReleased, "allotment already released").
		With("schedule_id", string(s.id))
}

// View is an immutable snapshot of a schedule.
type View struct {
	ID          ir.ScheduleID `json:"id"`
	Beneficiary ir.Account    `json:"beneficiary"`
	Amount      *big.Int      `json:"amount"`
	ReleaseTime time.Time     `json:"release_time"`
	Released    bool          `json:"released"`
	CreatedAt   time.Time     `json:"created_at"`
	ReleasedAt  *time.Time    `json:"released_at,omitempty"`
}

// View returns a snapshot that does not alias the schedule.
func (s *Schedule) View() View {
	v := View{
		ID:          s.id,
		Beneficiary: s.beneficiary,
		Amount:      s.Amount(),
		ReleaseTime: s.releaseTime,
		Released:    s.state == Released,
		CreatedAt:   s.createdAt,
	}
	if s.state == Released {
		at := s.releasedAt
		v.ReleasedAt = &at
	}
	return v
}
