package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PlaceBounty escrows a stake against a target account. The stake leaves the
// placer's balance immediately and is held on the bounty row itself until it
// is claimed or the bounty expires, so no phantom escrow account is needed.
func (s *Service) PlaceBounty(ctx context.Context, placerID, targetID string, stake int64, now time.Time) (*Bounty, error) {
	if placerID == targetID {
		return nil, ErrSelfBounty
	}
	if stake < s.cfg.MinBounty {
		return nil, ErrInvalidAmount
	}

	bounty := &Bounty{
		ID:        uuid.New().String(),
		TargetID:  targetID,
		PlacerID:  placerID,
		Stake:     stake,
		Remaining: stake,
		State:     BountyActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.BountyDuration),
	}
	stakeRec := TransferRecord{
		ID:        uuid.New().String(),
		FromID:    &placerID,
		Amount:    stake,
		Kind:      KindBountyStake,
		CreatedAt: now,
	}

	err := s.ledger.RunTransactional(ctx, func(tx Txn) error {
		placer, err := tx.Account(placerID)
		if err != nil {
			return err
		}
		if placer.restricted(now) {
			return ErrAccountRestricted
		}
		if placer.Credits < stake {
			return ErrInsufficientFunds
		}
		target, err := tx.Account(targetID)
		if err != nil {
			return err
		}
		if target.BountyID != nil {
			// A stale pointer to an expired bounty does not block a new
			// placement; settle it first, then proceed.
			prev, err := tx.Bounty(*target.BountyID)
			if err != nil {
				return err
			}
			if prev.State == BountyActive && !prev.expiredBy(now) {
				return ErrAlreadyTargeted
			}
			if prev.State == BountyActive {
				if err := settleExpiry(tx, prev, target, now); err != nil {
					return err
				}
			}
			target.BountyID = nil
		}

		placer.Credits -= stake
		placer.LastActivityAt = now
		target.BountyID = &bounty.ID
		tx.PutAccount(placer)
		tx.PutAccount(target)
		tx.PutBounty(bounty)
		tx.AppendTransfer(stakeRec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.bountiesPlaced.Inc()
		s.metrics.transfers.WithLabelValues(string(KindBountyStake)).Inc()
	}
	s.publish(NewEvent(EventBountyPlaced, BountyEvent{Bounty: *bounty}))
	s.log.Info("bounty placed",
		zap.String("bounty_id", bounty.ID),
		zap.String("placer", placerID),
		zap.String("target", targetID),
		zap.Int64("stake", stake))
	return bounty, nil
}

// ClaimBounty pays part of an active bounty's escrow to the claimant. A
// claim that drains the escrow moves the bounty to cleared and releases the
// target. Observing an elapsed deadline settles the expiry instead, and the
// claim fails ALREADY_EXPIRED.
func (s *Service) ClaimBounty(ctx context.Context, claimantID, bountyID string, payout int64, now time.Time) (*Bounty, error) {
	if payout <= 0 {
		return nil, ErrInvalidAmount
	}

	var claimed Bounty
	var settledExpiry bool
	var refunded int64
	payoutRec := TransferRecord{
		ID:        uuid.New().String(),
		ToID:      &claimantID,
		Amount:    payout,
		Kind:      KindBountyPayout,
		CreatedAt: now,
	}

	err := s.ledger.RunTransactional(ctx, func(tx Txn) error {
		settledExpiry = false
		bounty, err := tx.Bounty(bountyID)
		if err != nil {
			return err
		}
		if bounty.State != BountyActive {
			return ErrAlreadyExpired
		}
		target, err := tx.Account(bounty.TargetID)
		if err != nil {
			return err
		}
		if bounty.expiredBy(now) {
			// The settlement must commit even though the claim fails, so
			// the body returns nil here and the failure surfaces below.
			refunded = bounty.Remaining
			if err := settleExpiry(tx, bounty, target, now); err != nil {
				return err
			}
			claimed = *bounty
			settledExpiry = true
			return nil
		}
		if payout > bounty.Remaining {
			return ErrInvalidAmount
		}
		claimant, err := tx.Account(claimantID)
		if err != nil {
			return err
		}

		bounty.Remaining -= payout
		claimant.Credits += payout
		claimant.LastActivityAt = now
		if bounty.Remaining == 0 {
			bounty.State = BountyCleared
			target.BountyID = nil
			tx.PutAccount(target)
		}
		tx.PutBounty(bounty)
		tx.PutAccount(claimant)
		tx.AppendTransfer(payoutRec)
		claimed = *bounty
		return nil
	})
	if err != nil {
		return nil, err
	}
	if settledExpiry {
		if s.metrics != nil {
			s.metrics.bountiesExpired.Inc()
			if refunded > 0 {
				s.metrics.transfers.WithLabelValues(string(KindBountyRefund)).Inc()
			}
		}
		s.publish(NewEvent(EventBountyExpired, BountyEvent{Bounty: claimed, Amount: refunded}))
		s.log.Info("bounty expired",
			zap.String("bounty_id", bountyID),
			zap.Int64("refunded", refunded))
		return nil, ErrAlreadyExpired
	}

	if s.metrics != nil {
		s.metrics.bountiesClaimed.Inc()
		s.metrics.transfers.WithLabelValues(string(KindBountyPayout)).Inc()
	}
	s.publish(NewEvent(EventBountyClaimed, BountyEvent{Bounty: claimed, ClaimedBy: claimantID, Amount: payout}))
	s.log.Info("bounty claimed",
		zap.String("bounty_id", bountyID),
		zap.String("claimant", claimantID),
		zap.Int64("payout", payout))
	return &claimed, nil
}

// ExpireBounty settles an active bounty whose deadline has passed, returning
// the unclaimed escrow to the placer. Calling it on an already-settled
// bounty is a no-op; calling it before the deadline fails.
func (s *Service) ExpireBounty(ctx context.Context, bountyID string, now time.Time) (*Bounty, error) {
	var settled Bounty
	var refunded int64
	var didSettle bool

	err := s.ledger.RunTransactional(ctx, func(tx Txn) error {
		didSettle = false
		bounty, err := tx.Bounty(bountyID)
		if err != nil {
			return err
		}
		if bounty.State != BountyActive {
			settled = *bounty
			return nil
		}
		if !bounty.expiredBy(now) {
			return ErrInvalidArgument
		}
		target, err := tx.Account(bounty.TargetID)
		if err != nil {
			return err
		}
		refunded = bounty.Remaining
		if err := settleExpiry(tx, bounty, target, now); err != nil {
			return err
		}
		settled = *bounty
		didSettle = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if didSettle {
		if s.metrics != nil {
			s.metrics.bountiesExpired.Inc()
			if refunded > 0 {
				s.metrics.transfers.WithLabelValues(string(KindBountyRefund)).Inc()
			}
		}
		s.publish(NewEvent(EventBountyExpired, BountyEvent{Bounty: settled, Amount: refunded}))
		s.log.Info("bounty expired",
			zap.String("bounty_id", bountyID),
			zap.Int64("refunded", refunded))
	}
	return &settled, nil
}

// settleExpiry applies the expiry transition inside the caller's
// transaction: refund the unclaimed escrow to the placer, zero the bounty,
// and release the target. The target must already be loaded by the caller.
func settleExpiry(tx Txn, bounty *Bounty, target *Account, now time.Time) error {
	if bounty.Remaining > 0 {
		placer, err := tx.Account(bounty.PlacerID)
		if err != nil {
			return err
		}
		placer.Credits += bounty.Remaining
		tx.PutAccount(placer)
		tx.AppendTransfer(TransferRecord{
			ID:        uuid.New().String(),
			ToID:      &bounty.PlacerID,
			Amount:    bounty.Remaining,
			Kind:      KindBountyRefund,
			CreatedAt: now,
		})
	}
	bounty.Remaining = 0
	bounty.State = BountyExpired
	if target.BountyID != nil && *target.BountyID == bounty.ID {
		target.BountyID = nil
		tx.PutAccount(target)
	}
	tx.PutBounty(bounty)
	return nil
}

// GetBounty reads a bounty, settling its expiry first if the deadline has
// passed. Readers therefore never observe an active bounty past expiresAt.
func (s *Service) GetBounty(ctx context.Context, bountyID string, now time.Time) (*Bounty, error) {
	var out Bounty
	err := s.ledger.RunTransactional(ctx, func(tx Txn) error {
		bounty, err := tx.Bounty(bountyID)
		if err != nil {
			return err
		}
		if bounty.State == BountyActive && bounty.expiredBy(now) {
			target, err := tx.Account(bounty.TargetID)
			if err != nil {
				return err
			}
			if err := settleExpiry(tx, bounty, target, now); err != nil {
				return err
			}
		}
		out = *bounty
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SweepExpiredBounties settles every active bounty past its deadline. Runs
// on a ticker so bounties nobody reads still settle eventually. Failures on
// one bounty do not stop the sweep.
func (s *Service) SweepExpiredBounties(ctx context.Context, now time.Time) int {
	ids, err := s.ledger.ExpiredBountyIDs(ctx, now)
	if err != nil {
		s.log.Warn("bounty sweep listing failed", zap.Error(err))
		return 0
	}
	settled := 0
	for _, id := range ids {
		if _, err := s.ExpireBounty(ctx, id, now); err != nil {
			s.log.Warn("bounty sweep settle failed", zap.String("bounty_id", id), zap.Error(err))
			continue
		}
		settled++
	}
	if settled > 0 {
		s.log.Info("bounty sweep finished", zap.Int("settled", settled))
	}
	return settled
}
