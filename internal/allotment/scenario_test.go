package allotment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/allotment/internal/fault"
	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/testutil"
)

// TestTokenDistribution walks the launch distribution end to end: four
// allotments, one extension, releases before and after the release times, and
// the remainder minted to the admin just under the cap.
func TestTokenDistribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	staking := f.allot(t, "staking", 1600128000, testutil.TokensBig(3888888))
	promo := f.allot(t, "promo", 1604534400, testutil.TokensBig(777777))
	team := f.allot(t, "team", 1661731200, testutil.TokensBig(777777))
	private := f.allot(t, "private-round", 1601856000, testutil.TokensBig(388888))

	require.NoError(t, f.ledger.Mint(ctx, "admin", "admin", testutil.TokensBig(1944447)))
	assert.Equal(t, 0, testutil.TokensBig(7777777).Cmp(f.ledger.TotalSupply()))

	err := f.ledger.Mint(ctx, "admin", "admin", testutil.TokensBig(2))
	assert.True(t, fault.IsCode(err, fault.CodeSupplyCapExceeded))

	assert.Equal(t, []ir.ScheduleID{staking, promo, team, private}, f.mgr.GetAllAllotments(ctx))

	require.NoError(t, f.mgr.SetNewReleaseTime(ctx, "admin", promo, time.Unix(1604536400, 0)))

	f.clock.SetUnix(1600127999)
	_, err = f.mgr.Release(ctx, "staking")
	assert.True(t, fault.IsCode(err, fault.CodeTooEarly))

	f.clock.SetUnix(1604535000)
	_, err = f.mgr.Release(ctx, "promo")
	assert.True(t, fault.IsCode(err, fault.CodeTooEarly), "extension pushed promo past the original time")

	for _, beneficiary := range []ir.Account{"staking", "private-round"} {
		released, err := f.mgr.Release(ctx, beneficiary)
		require.NoError(t, err)
		assert.Len(t, released, 1)
	}

	f.clock.SetUnix(1604536400)
	require.NoError(t, f.mgr.ReleaseAllotment(ctx, "anyone", promo))

	assert.Equal(t, 0, testutil.TokensBig(3888888).Cmp(f.balance(t, "staking")))
	assert.Equal(t, 0, testutil.TokensBig(777777).Cmp(f.balance(t, "promo")))
	assert.Equal(t, 0, testutil.TokensBig(388888).Cmp(f.balance(t, "private-round")))
	assert.Equal(t, 0, f.balance(t, "team").Sign())
	assert.Equal(t, 0, testutil.TokensBig(777777).Cmp(f.balance(t, team.Account())))

	s := f.mgr.Summary(ctx)
	assert.Equal(t, 3, s.Released)
	assert.Equal(t, 0, testutil.TokensBig(777777).Cmp(s.Locked))
}
