package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPlaceBounty(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "hunter", 100000)
	seedAccount(t, led, "mark", 0)

	bounty, err := svc.PlaceBounty(ctx, "hunter", "mark", 50000, now)
	require.NoError(t, err)
	require.Equal(t, BountyActive, bounty.State)
	require.Equal(t, int64(50000), bounty.Stake)
	require.Equal(t, int64(50000), bounty.Remaining)
	require.Equal(t, now.Add(time.Hour), bounty.ExpiresAt)

	placer, err := led.GetAccount(ctx, "hunter")
	require.NoError(t, err)
	require.Equal(t, int64(50000), placer.Credits)

	target, err := led.GetAccount(ctx, "mark")
	require.NoError(t, err)
	require.NotNil(t, target.BountyID)
	require.Equal(t, bounty.ID, *target.BountyID)

	recs, err := led.Transfers(ctx, "hunter", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, KindBountyStake, recs[0].Kind)
	require.Nil(t, recs[0].ToID)
}

func TestPlaceBountyPreconditions(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "hunter", 60000)
	seedAccount(t, led, "mark", 0)
	seedAccount(t, led, "broke", 10)

	_, err := svc.PlaceBounty(ctx, "hunter", "hunter", 50000, now)
	require.ErrorIs(t, err, ErrSelfBounty)

	_, err = svc.PlaceBounty(ctx, "hunter", "mark", 49999, now)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.PlaceBounty(ctx, "broke", "mark", 50000, now)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = svc.PlaceBounty(ctx, "hunter", "ghost", 50000, now)
	require.ErrorIs(t, err, ErrNotFound)

	// Failed placements escrowed nothing.
	placer, err := led.GetAccount(ctx, "hunter")
	require.NoError(t, err)
	require.Equal(t, int64(60000), placer.Credits)
}

func TestPlaceBountyAlreadyTargeted(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "h1", 100000)
	seedAccount(t, led, "h2", 100000)
	seedAccount(t, led, "mark", 0)

	_, err := svc.PlaceBounty(ctx, "h1", "mark", 50000, now)
	require.NoError(t, err)
	_, err = svc.PlaceBounty(ctx, "h2", "mark", 50000, now)
	require.ErrorIs(t, err, ErrAlreadyTargeted)
}

func TestClaimBountyPartialThenCleared(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "hunter", 100000)
	seedAccount(t, led, "mark", 0)
	seedAccount(t, led, "claimant", 0)

	bounty, err := svc.PlaceBounty(ctx, "hunter", "mark", 50000, now)
	require.NoError(t, err)

	got, err := svc.ClaimBounty(ctx, "claimant", bounty.ID, 20000, now)
	require.NoError(t, err)
	require.Equal(t, BountyActive, got.State)
	require.Equal(t, int64(30000), got.Remaining)

	claimant, err := led.GetAccount(ctx, "claimant")
	require.NoError(t, err)
	require.Equal(t, int64(20000), claimant.Credits)

	got, err = svc.ClaimBounty(ctx, "claimant", bounty.ID, 30000, now)
	require.NoError(t, err)
	require.Equal(t, BountyCleared, got.State)
	require.Equal(t, int64(0), got.Remaining)

	// Clearing releases the target for a new bounty.
	target, err := led.GetAccount(ctx, "mark")
	require.NoError(t, err)
	require.Nil(t, target.BountyID)

	_, err = svc.ClaimBounty(ctx, "claimant", bounty.ID, 1, now)
	require.ErrorIs(t, err, ErrAlreadyExpired)
}

func TestClaimBountyOverRemaining(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "hunter", 100000)
	seedAccount(t, led, "mark", 0)
	seedAccount(t, led, "claimant", 0)

	bounty, err := svc.PlaceBounty(ctx, "hunter", "mark", 50000, now)
	require.NoError(t, err)

	_, err = svc.ClaimBounty(ctx, "claimant", bounty.ID, 50001, now)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.ClaimBounty(ctx, "claimant", bounty.ID, 0, now)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

// Placing 50,000, letting it expire untouched, returns exactly 50,000 to the
// placer and leaves remaining=0, state=expired.
func TestExpireBountyRefundsPlacer(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "hunter", 50000)
	seedAccount(t, led, "mark", 0)

	bounty, err := svc.PlaceBounty(ctx, "hunter", "mark", 50000, now)
	require.NoError(t, err)

	later := bounty.ExpiresAt.Add(time.Second)
	settled, err := svc.ExpireBounty(ctx, bounty.ID, later)
	require.NoError(t, err)
	require.Equal(t, BountyExpired, settled.State)
	require.Equal(t, int64(0), settled.Remaining)

	placer, err := led.GetAccount(ctx, "hunter")
	require.NoError(t, err)
	require.Equal(t, int64(50000), placer.Credits)

	target, err := led.GetAccount(ctx, "mark")
	require.NoError(t, err)
	require.Nil(t, target.BountyID)

	recs, err := led.Transfers(ctx, "hunter", 10)
	require.NoError(t, err)
	require.Equal(t, KindBountyRefund, recs[0].Kind)

	// Re-settling is a no-op, not a double refund.
	_, err = svc.ExpireBounty(ctx, bounty.ID, later)
	require.NoError(t, err)
	placer, err = led.GetAccount(ctx, "hunter")
	require.NoError(t, err)
	require.Equal(t, int64(50000), placer.Credits)
}

func TestExpireBountyBeforeDeadline(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "hunter", 50000)
	seedAccount(t, led, "mark", 0)

	bounty, err := svc.PlaceBounty(ctx, "hunter", "mark", 50000, now)
	require.NoError(t, err)

	_, err = svc.ExpireBounty(ctx, bounty.ID, now.Add(time.Minute))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

// A claim that observes an elapsed deadline settles the expiry first and
// then fails; the claimant receives nothing and the placer gets the refund.
func TestClaimAfterDeadlineSettlesExpiry(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "hunter", 50000)
	seedAccount(t, led, "mark", 0)
	seedAccount(t, led, "claimant", 0)

	bounty, err := svc.PlaceBounty(ctx, "hunter", "mark", 50000, now)
	require.NoError(t, err)

	later := bounty.ExpiresAt.Add(time.Second)
	_, err = svc.ClaimBounty(ctx, "claimant", bounty.ID, 10000, later)
	require.ErrorIs(t, err, ErrAlreadyExpired)

	claimant, err := led.GetAccount(ctx, "claimant")
	require.NoError(t, err)
	require.Equal(t, int64(0), claimant.Credits)

	placer, err := led.GetAccount(ctx, "hunter")
	require.NoError(t, err)
	require.Equal(t, int64(50000), placer.Credits)

	// The settlement committed despite the failed claim: the bounty is
	// durably expired, the target released, and the refund logged.
	settled, err := svc.GetBounty(ctx, bounty.ID, later)
	require.NoError(t, err)
	require.Equal(t, BountyExpired, settled.State)
	require.Equal(t, int64(0), settled.Remaining)

	target, err := led.GetAccount(ctx, "mark")
	require.NoError(t, err)
	require.Nil(t, target.BountyID)

	recs, err := led.Transfers(ctx, "hunter", 10)
	require.NoError(t, err)
	require.Equal(t, KindBountyRefund, recs[0].Kind)

	// A second late claim neither double-refunds nor resurrects the bounty.
	_, err = svc.ClaimBounty(ctx, "claimant", bounty.ID, 10000, later)
	require.ErrorIs(t, err, ErrAlreadyExpired)
	placer, err = led.GetAccount(ctx, "hunter")
	require.NoError(t, err)
	require.Equal(t, int64(50000), placer.Credits)
}

func TestGetBountySettlesLazily(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "hunter", 50000)
	seedAccount(t, led, "mark", 0)

	bounty, err := svc.PlaceBounty(ctx, "hunter", "mark", 50000, now)
	require.NoError(t, err)

	got, err := svc.GetBounty(ctx, bounty.ID, bounty.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, BountyExpired, got.State)
	require.Equal(t, int64(0), got.Remaining)
}

// A stale pointer to an expired-but-unsettled bounty does not block a new
// placement; the old escrow is returned in the same transaction.
func TestPlaceBountyOverExpiredOne(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "h1", 50000)
	seedAccount(t, led, "h2", 60000)
	seedAccount(t, led, "mark", 0)

	first, err := svc.PlaceBounty(ctx, "h1", "mark", 50000, now)
	require.NoError(t, err)

	later := first.ExpiresAt.Add(time.Second)
	second, err := svc.PlaceBounty(ctx, "h2", "mark", 60000, later)
	require.NoError(t, err)
	require.Equal(t, BountyActive, second.State)

	h1, err := led.GetAccount(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, int64(50000), h1.Credits)

	target, err := led.GetAccount(ctx, "mark")
	require.NoError(t, err)
	require.Equal(t, second.ID, *target.BountyID)
}

func TestSweepExpiredBounties(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "h1", 50000)
	seedAccount(t, led, "h2", 50000)
	seedAccount(t, led, "m1", 0)
	seedAccount(t, led, "m2", 0)

	b1, err := svc.PlaceBounty(ctx, "h1", "m1", 50000, now)
	require.NoError(t, err)
	_, err = svc.PlaceBounty(ctx, "h2", "m2", 50000, now)
	require.NoError(t, err)

	require.Equal(t, 0, svc.SweepExpiredBounties(ctx, now.Add(time.Minute)))

	settled := svc.SweepExpiredBounties(ctx, b1.ExpiresAt.Add(time.Second))
	require.Equal(t, 2, settled)

	for _, id := range []string{"h1", "h2"} {
		acct, err := led.GetAccount(ctx, id)
		require.NoError(t, err)
		require.Equal(t, int64(50000), acct.Credits)
	}
}

func TestPlaceBountyRestrictedPlacer(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "hunter", 100000)
	seedAccount(t, led, "mark", 0)

	_, err := svc.SetStatus(ctx, "hunter", StatusBanned, nil, now)
	require.NoError(t, err)
	_, err = svc.PlaceBounty(ctx, "hunter", "mark", 50000, now)
	require.ErrorIs(t, err, ErrAccountRestricted)
}
