package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transfer is the one credit-movement primitive. A nil from or to marks the
// system side of a tagged injection or removal; at least one side must name
// an account. Debit, credit, and the audit record commit in one transaction,
// so credits are conserved for every reachable state.
func (s *Service) Transfer(ctx context.Context, from, to *string, amount int64, kind TransferKind, now time.Time) (*TransferRecord, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if from == nil && to == nil {
		return nil, errors.New("transfer requires at least one account side")
	}

	rec := TransferRecord{
		ID:        uuid.New().String(),
		FromID:    from,
		ToID:      to,
		Amount:    amount,
		Kind:      kind,
		CreatedAt: now,
	}

	err := s.ledger.RunTransactional(ctx, func(tx Txn) error {
		var src, dst *Account
		var err error

		if from != nil {
			if src, err = tx.Account(*from); err != nil {
				return err
			}
			if src.Credits < amount {
				return ErrInsufficientFunds
			}
		}
		if to != nil {
			if from != nil && *from == *to {
				dst = src
			} else if dst, err = tx.Account(*to); err != nil {
				return err
			}
		}

		if src != nil {
			src.Credits -= amount
			src.LastActivityAt = now
		}
		if dst != nil {
			dst.Credits += amount
		}

		if src != nil {
			tx.PutAccount(src)
		}
		if dst != nil && dst != src {
			tx.PutAccount(dst)
		}
		tx.AppendTransfer(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.transfers.WithLabelValues(string(kind)).Inc()
	}
	s.publish(NewEvent(EventTransfer, TransferEvent{Record: rec}))
	s.log.Info("transfer committed",
		zap.String("kind", string(kind)),
		zap.Int64("amount", amount))
	return &rec, nil
}

// Gift is the peer-to-peer transfer. The sender must be unrestricted; the
// restriction is checked transactionally alongside the balance.
func (s *Service) Gift(ctx context.Context, fromID, toID string, amount int64, now time.Time) (*TransferRecord, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	// Restriction lives in the same transaction as the movement, so a
	// concurrent ban cannot race a gift past the check.
	rec := TransferRecord{
		ID:        uuid.New().String(),
		FromID:    &fromID,
		ToID:      &toID,
		Amount:    amount,
		Kind:      KindGift,
		CreatedAt: now,
	}
	err := s.ledger.RunTransactional(ctx, func(tx Txn) error {
		src, err := tx.Account(fromID)
		if err != nil {
			return err
		}
		if src.restricted(now) {
			return ErrAccountRestricted
		}
		if src.Credits < amount {
			return ErrInsufficientFunds
		}

		if fromID == toID {
			src.LastActivityAt = now
			tx.PutAccount(src)
			tx.AppendTransfer(rec)
			return nil
		}

		dst, err := tx.Account(toID)
		if err != nil {
			return err
		}
		src.Credits -= amount
		src.LastActivityAt = now
		dst.Credits += amount
		tx.PutAccount(src)
		tx.PutAccount(dst)
		tx.AppendTransfer(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.transfers.WithLabelValues(string(KindGift)).Inc()
	}
	s.publish(NewEvent(EventTransfer, TransferEvent{Record: rec}))
	s.log.Info("gift sent",
		zap.String("from", fromID),
		zap.String("to", toID),
		zap.Int64("amount", amount))
	return &rec, nil
}

// ReferralBonus pays both sides of a referral as two separate system
// transfers, so each shows up independently in the audit trail.
func (s *Service) ReferralBonus(ctx context.Context, newID, referrerID string, now time.Time) error {
	if s.cfg.ReferralBonusNew > 0 {
		if _, err := s.Transfer(ctx, nil, &newID, s.cfg.ReferralBonusNew, KindReferral, now); err != nil {
			return err
		}
	}
	if s.cfg.ReferralBonusReferrer > 0 {
		if _, err := s.Transfer(ctx, nil, &referrerID, s.cfg.ReferralBonusReferrer, KindReferral, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) AdminGrant(ctx context.Context, toID string, amount int64, now time.Time) (*TransferRecord, error) {
	return s.Transfer(ctx, nil, &toID, amount, KindAdminGrant, now)
}

func (s *Service) AdminRevoke(ctx context.Context, fromID string, amount int64, now time.Time) (*TransferRecord, error) {
	return s.Transfer(ctx, &fromID, nil, amount, KindAdminRevoke, now)
}
