package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLedgerCreateDuplicate(t *testing.T) {
	led := NewMemoryLedger(DefaultConfig(), nil)
	ctx := context.Background()
	a := newAccount("alice", DefaultConfig(), nil, time.Now().UTC())

	require.NoError(t, led.CreateAccount(ctx, a))
	require.ErrorIs(t, led.CreateAccount(ctx, a), ErrAlreadyExists)
}

func TestMemoryLedgerGetMissing(t *testing.T) {
	led := NewMemoryLedger(DefaultConfig(), nil)
	_, err := led.GetAccount(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

// A transaction whose read set is invalidated by an external commit retries
// and succeeds on the next attempt against fresh state.
func TestMemoryLedgerConflictRetries(t *testing.T) {
	cfg := DefaultConfig()
	led := NewMemoryLedger(cfg, nil)
	ctx := context.Background()
	seedAccount(t, led, "alice", 100)

	attempts := 0
	err := led.RunTransactional(ctx, func(tx Txn) error {
		attempts++
		a, err := tx.Account("alice")
		if err != nil {
			return err
		}
		if attempts == 1 {
			// Invalidate the read from outside the transaction.
			require.NoError(t, led.RunTransactional(ctx, func(inner Txn) error {
				b, err := inner.Account("alice")
				if err != nil {
					return err
				}
				b.Credits += 5
				inner.PutAccount(b)
				return nil
			}))
		}
		a.Credits += 10
		tx.PutAccount(a)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)

	a, err := led.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(115), a.Credits)
}

func TestMemoryLedgerContentionExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TxnMaxAttempts = 2
	led := NewMemoryLedger(cfg, nil)
	ctx := context.Background()
	seedAccount(t, led, "alice", 0)

	err := led.RunTransactional(ctx, func(tx Txn) error {
		a, err := tx.Account("alice")
		if err != nil {
			return err
		}
		// Invalidate the read set on every attempt.
		require.NoError(t, led.RunTransactional(ctx, func(inner Txn) error {
			b, err := inner.Account("alice")
			if err != nil {
				return err
			}
			b.Credits++
			inner.PutAccount(b)
			return nil
		}))
		tx.PutAccount(a)
		return nil
	})
	require.ErrorIs(t, err, ErrContention)
}

func TestMemoryLedgerDomainErrorNotRetried(t *testing.T) {
	led := NewMemoryLedger(DefaultConfig(), nil)
	calls := 0
	err := led.RunTransactional(context.Background(), func(tx Txn) error {
		calls++
		return ErrInsufficientFunds
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, 1, calls)
}

func TestMemoryLedgerTransfersNewestFirst(t *testing.T) {
	led := NewMemoryLedger(DefaultConfig(), nil)
	ctx := context.Background()
	from := "a"

	err := led.RunTransactional(ctx, func(tx Txn) error {
		for i := 1; i <= 3; i++ {
			tx.AppendTransfer(TransferRecord{
				ID: string(rune('0' + i)), FromID: &from, Amount: int64(i), Kind: KindGift,
			})
		}
		return nil
	})
	require.NoError(t, err)

	recs, err := led.Transfers(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, int64(3), recs[0].Amount)
	require.Equal(t, int64(2), recs[1].Amount)

	// Unrelated account sees nothing.
	recs, err = led.Transfers(ctx, "zzz", 10)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestMemoryLedgerClearAllocationsScopedToVoter(t *testing.T) {
	led := NewMemoryLedger(DefaultConfig(), nil)
	ctx := context.Background()
	week := weekOf(time.Now().UTC())

	require.NoError(t, led.RunTransactional(ctx, func(tx Txn) error {
		tx.SetAllocation("a", "b", week, 1)
		tx.SetAllocation("ab", "c", week, 1)
		return nil
	}))
	require.NoError(t, led.RunTransactional(ctx, func(tx Txn) error {
		tx.ClearAllocations("a")
		return nil
	}))

	require.NoError(t, led.RunTransactional(ctx, func(tx Txn) error {
		n, err := tx.Allocation("a", "b", week)
		require.NoError(t, err)
		require.Equal(t, 0, n)

		// Prefix-adjacent voter must be untouched.
		n, err = tx.Allocation("ab", "c", week)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		return nil
	}))
}
