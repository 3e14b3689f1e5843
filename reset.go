package main

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ResetAllVotes restores every account's weekly allowance and clears the
// per-target allocations for past weeks. Accounts are processed in chunks of
// independent transactions so a failure mid-run leaves earlier chunks
// committed; re-running is safe because an already-reset account is skipped.
func (s *Service) ResetAllVotes(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.ledger.AccountIDs(ctx)
	if err != nil {
		return 0, err
	}

	chunkSize := s.cfg.ResetChunkSize
	if chunkSize <= 0 {
		chunkSize = 100
	}

	week := weekOf(now)
	total := 0
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		reset := 0
		err := s.ledger.RunTransactional(ctx, func(tx Txn) error {
			reset = 0
			for _, id := range chunk {
				acct, err := tx.Account(id)
				if err != nil {
					if isDomainError(err) {
						continue // deleted since listing
					}
					return err
				}
				tx.ClearAllocations(id)
				if acct.VotesRemaining == s.cfg.WeeklyVoteAllowance {
					continue
				}
				acct.VotesRemaining = s.cfg.WeeklyVoteAllowance
				tx.PutAccount(acct)
				reset++
			}
			return nil
		})
		if err != nil {
			s.log.Error("vote reset chunk failed",
				zap.Int("offset", start),
				zap.Error(err))
			return total, err
		}
		total += reset
	}

	s.publish(NewEvent(EventVotesReset, ResetEvent{AccountsReset: total, Week: week}))
	s.log.Info("weekly vote reset finished",
		zap.Int("accounts_reset", total),
		zap.Int("accounts_seen", len(ids)),
		zap.String("week", week))
	return total, nil
}
