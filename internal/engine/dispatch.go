package engine

import (
	"context"
	"time"

	"github.com/roach88/allotment/internal/fault"
	"github.com/roach88/allotment/internal/ir"
)

// call is a parsed request: the normalized args that get journaled and the
// operation that runs against the state.
type call struct {
	args ir.Object
	run  func(ctx context.Context, st *state, caller ir.Account) (ir.Object, error)
}

// parse validates args for action and returns the call to execute.
// Normalized args use fixed types (strings, int64) so equal requests hash
// equally however they were encoded.
func parse(action ir.Action, args ir.Object) (call, error) {
	switch action {
	case ir.ActionGrantAlloter:
		account, err := argAccount(args, ArgAccount)
		if err != nil {
			return call{}, err
		}
		return call{
			args: ir.Object{ArgAccount: string(account)},
			run: func(ctx context.Context, st *state, caller ir.Account) (ir.Object, error) {
				granted, err := st.roles.GrantAlloter(ctx, caller, account)
				return ir.Object{"granted": granted}, err
			},
		}, nil

	case ir.ActionGrantMinterRole:
		account, err := argAccount(args, ArgAccount)
		if err != nil {
			return call{}, err
		}
		return call{
			args: ir.Object{ArgAccount: string(account)},
			run: func(ctx context.Context, st *state, caller ir.Account) (ir.Object, error) {
				granted, err := st.ledger.GrantMinterRole(ctx, caller, account)
				return ir.Object{"granted": granted}, err
			},
		}, nil

	case ir.ActionMint:
		to, err := argAccount(args, ArgTo)
		if err != nil {
			return call{}, err
		}
		amount, err := argAmount(args, ArgAmount)
		if err != nil {
			return call{}, err
		}
		return call{
			args: ir.Object{ArgTo: string(to), ArgAmount: amount.String()},
			run: func(ctx context.Context, st *state, caller ir.Account) (ir.Object, error) {
				return ir.Object{}, st.ledger.Mint(ctx, caller, to, amount)
			},
		}, nil

	case ir.ActionAllotTokens:
		beneficiary, err := argAccount(args, ArgBeneficiary)
		if err != nil {
			return call{}, err
		}
		releaseTime, err := argTime(args, ArgReleaseTime)
		if err != nil {
			return call{}, err
		}
		amount, err := argAmount(args, ArgAmount)
		if err != nil {
			return call{}, err
		}
		return call{
			args: ir.Object{
				ArgBeneficiary: string(beneficiary),
				ArgReleaseTime: releaseTime,
				ArgAmount:      amount.String(),
			},
			run: func(ctx context.Context, st *state, caller ir.Account) (ir.Object, error) {
				id, err := st.manager.AllotTokens(ctx, caller, beneficiary, time.Unix(releaseTime, 0), amount)
				if err != nil {
					return nil, err
				}
				return ir.Object{ArgScheduleID: string(id)}, nil
			},
		}, nil

	case ir.ActionSetNewReleaseTime:
		id, err := argString(args, ArgScheduleID)
		if err != nil {
			return call{}, err
		}
		releaseTime, err := argTime(args, ArgReleaseTime)
		if err != nil {
			return call{}, err
		}
		return call{
			args: ir.Object{ArgScheduleID: id, ArgReleaseTime: releaseTime},
			run: func(ctx context.Context, st *state, caller ir.Account) (ir.Object, error) {
				err := st.manager.SetNewReleaseTime(ctx, caller, ir.ScheduleID(id), time.Unix(releaseTime, 0))
				if err != nil {
					return nil, err
				}
				return ir.Object{ArgReleaseTime: releaseTime}, nil
			},
		}, nil

	case ir.ActionRelease:
		return call{
			args: ir.Object{},
			run: func(ctx context.Context, st *state, caller ir.Account) (ir.Object, error) {
				ids, err := st.manager.Release(ctx, caller)
				if err != nil {
					return nil, err
				}
				released := make([]string, len(ids))
				for i, id := range ids {
					released[i] = string(id)
				}
				return ir.Object{"released": released}, nil
			},
		}, nil

	case ir.ActionReleaseAllotment:
		id, err := argString(args, ArgScheduleID)
		if err != nil {
			return call{}, err
		}
		return call{
			args: ir.Object{ArgScheduleID: id},
			run: func(ctx context.Context, st *state, caller ir.Account) (ir.Object, error) {
				if err := st.manager.ReleaseAllotment(ctx, caller, ir.ScheduleID(id)); err != nil {
					return nil, err
				}
				return ir.Object{ArgScheduleID: id}, nil
			},
		}, nil

	default:
		return call{}, fault.InvalidArgument("unknown action %q", action)
	}
}
