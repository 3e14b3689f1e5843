package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type VoteResult struct {
	VoterID        string
	TargetID       string
	Week           string
	VotesRemaining int
	TargetVotes    int64
	RewardGranted  int64
}

// CastVote moves one vote unit from voter to target in a single ledger
// transaction: the voter's allowance is decremented, the per-target weekly
// allocation bumped, the target's received total incremented, and the
// configured vote reward (if any) credited with a vote_reward record.
//
// Casting is not idempotent; every committed call consumes a vote. Callers
// must not blindly retry an ambiguous failure without checking
// VotesRemaining first.
func (s *Service) CastVote(ctx context.Context, voterID, targetID string, now time.Time) (*VoteResult, error) {
	if voterID == targetID {
		return nil, ErrSelfVote
	}
	week := weekOf(now)

	var result VoteResult
	err := s.ledger.RunTransactional(ctx, func(tx Txn) error {
		voter, err := tx.Account(voterID)
		if err != nil {
			return err
		}
		if voter.restricted(now) {
			return ErrAccountRestricted
		}
		if voter.VotesRemaining <= 0 {
			return ErrNoVotesRemaining
		}

		given, err := tx.Allocation(voterID, targetID, week)
		if err != nil {
			return err
		}
		if given >= s.cfg.MaxVotesPerTarget {
			return ErrTargetCapReached
		}

		target, err := tx.Account(targetID)
		if err != nil {
			return err
		}

		voter.VotesRemaining--
		voter.LastActivityAt = now
		target.VotesReceived++

		reward := s.cfg.VoteRewardCredits
		if reward > 0 {
			voter.Credits += reward
			tx.AppendTransfer(TransferRecord{
				ID:        uuid.New().String(),
				ToID:      &voter.ID,
				Amount:    reward,
				Kind:      KindVoteReward,
				CreatedAt: now,
			})
		}

		tx.SetAllocation(voterID, targetID, week, given+1)
		tx.PutAccount(voter)
		tx.PutAccount(target)

		result = VoteResult{
			VoterID:        voterID,
			TargetID:       targetID,
			Week:           week,
			VotesRemaining: voter.VotesRemaining,
			TargetVotes:    target.VotesReceived,
			RewardGranted:  reward,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The vote log is audit-only: append after commit, never before, and a
	// failure here does not roll back the vote.
	if err := s.ledger.AppendVote(ctx, VoteRecord{
		VoterID:   voterID,
		TargetID:  targetID,
		Week:      week,
		CreatedAt: now,
	}); err != nil {
		s.log.Warn("vote log append failed",
			zap.String("voter", voterID),
			zap.String("target", targetID),
			zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.votesCast.Inc()
	}
	s.publish(NewEvent(EventVoteCast, VoteCastEvent{
		VoterID:        voterID,
		TargetID:       targetID,
		Week:           week,
		VotesRemaining: result.VotesRemaining,
	}))
	s.log.Info("vote cast",
		zap.String("voter", voterID),
		zap.String("target", targetID),
		zap.Int("votesRemaining", result.VotesRemaining))
	return &result, nil
}
