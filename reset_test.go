package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResetAllVotesRestoresAllowance(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, id := range []string{"a", "b", "c"} {
		seedAccount(t, led, id, 0)
	}

	_, err := svc.CastVote(ctx, "a", "b", now)
	require.NoError(t, err)
	_, err = svc.CastVote(ctx, "a", "c", now)
	require.NoError(t, err)
	_, err = svc.CastVote(ctx, "b", "c", now)
	require.NoError(t, err)

	count, err := svc.ResetAllVotes(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 2, count) // a and b were below the allowance

	for _, id := range []string{"a", "b", "c"} {
		acct, err := led.GetAccount(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 3, acct.VotesRemaining)
	}

	// Allocations were cleared, so the same pairing is votable again even
	// within the same ISO week.
	_, err = svc.CastVote(ctx, "a", "b", now)
	require.NoError(t, err)
}

func TestResetAllVotesIdempotent(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "a", 0)
	seedAccount(t, led, "b", 0)

	_, err := svc.CastVote(ctx, "a", "b", now)
	require.NoError(t, err)

	first, err := svc.ResetAllVotes(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, first)

	second, err := svc.ResetAllVotes(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 0, second)

	acct, err := led.GetAccount(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 3, acct.VotesRemaining)
}

func TestResetAllVotesChunked(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResetChunkSize = 2
	cfg.TxnMaxAttempts = 40
	led := NewMemoryLedger(cfg, nil)
	svc := NewService(cfg, led, nil, nil, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		seedAccount(t, led, id, 0)
	}
	for _, id := range ids[1:] {
		_, err := svc.CastVote(ctx, id, "a", now)
		require.NoError(t, err)
	}

	count, err := svc.ResetAllVotes(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 4, count)

	for _, id := range ids {
		acct, err := led.GetAccount(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 3, acct.VotesRemaining)
	}
}

func TestResetDoesNotTouchCreditsOrReceivedVotes(t *testing.T) {
	svc, led := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedAccount(t, led, "a", 777)
	seedAccount(t, led, "b", 0)

	_, err := svc.CastVote(ctx, "a", "b", now)
	require.NoError(t, err)

	_, err = svc.ResetAllVotes(ctx, now)
	require.NoError(t, err)

	a, err := led.GetAccount(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int64(777+100), a.Credits) // seeded balance plus vote reward

	b, err := led.GetAccount(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, int64(1), b.VotesReceived) // all-time total survives the reset
}
