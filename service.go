package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Service wires the engines to one ledger, one config, one event bus.
// Callers pass the acting principal and the operation timestamp explicitly;
// nothing is looked up from ambient globals.
type Service struct {
	cfg     Config
	ledger  Ledger
	bus     *EventBus
	metrics *coreMetrics
	log     *zap.Logger
}

func NewService(cfg Config, ledger Ledger, bus *EventBus, metrics *coreMetrics, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{cfg: cfg, ledger: ledger, bus: bus, metrics: metrics, log: log}
}

func (s *Service) publish(evt Event) {
	if s.bus != nil {
		s.bus.Publish(evt)
	}
}

// Register creates an account under a globally-unique id and funds it with
// the starting grant. If a referrer is named, both sides receive the
// referral bonus. The grant and bonuses are ordinary tagged transfers so
// the audit trail reconciles from day one.
//
// Creation and the grants commit as separate transactions: a crash after
// the first leaves a valid zero-credit account with no registration record,
// never an unfunded record or a funded non-account. Conservation holds in
// either outcome, and the caller sees the error and can retry the funding
// via an admin grant.
func (s *Service) Register(ctx context.Context, id string, referredBy *string, now time.Time) (*Account, error) {
	if !isValidAccountID(id) {
		return nil, fmt.Errorf("%w: invalid account id", ErrInvalidArgument)
	}
	if referredBy != nil {
		if *referredBy == id {
			return nil, fmt.Errorf("%w: self referral", ErrInvalidArgument)
		}
		if _, err := s.ledger.GetAccount(ctx, *referredBy); err != nil {
			return nil, err
		}
	}

	account := newAccount(id, s.cfg, referredBy, now)
	if err := s.ledger.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	if s.cfg.StartingCredits > 0 {
		if _, err := s.Transfer(ctx, nil, &id, s.cfg.StartingCredits, KindRegistration, now); err != nil {
			return nil, fmt.Errorf("starting grant: %w", err)
		}
	}
	if referredBy != nil {
		if err := s.ReferralBonus(ctx, id, *referredBy, now); err != nil {
			return nil, fmt.Errorf("referral bonus: %w", err)
		}
	}

	s.log.Info("account registered",
		zap.String("account", id),
		zap.Int64("startingCredits", s.cfg.StartingCredits))
	return s.ledger.GetAccount(ctx, id)
}

func (s *Service) GetAccount(ctx context.Context, id string) (*Account, error) {
	return s.ledger.GetAccount(ctx, id)
}

func (s *Service) Transfers(ctx context.Context, accountID string, limit int) ([]TransferRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.ledger.Transfers(ctx, accountID, limit)
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.ledger.TopByVotes(ctx, limit)
}

// SetStatus applies an admin sanction (or lifts one). The until pointer is
// honored only for timed statuses.
func (s *Service) SetStatus(ctx context.Context, id string, status Status, until *time.Time, now time.Time) (*Account, error) {
	switch status {
	case StatusActive, StatusMuted, StatusBanned, StatusSuspended:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
	}
	if status == StatusActive || status == StatusBanned {
		until = nil
	}

	var updated *Account
	err := s.ledger.RunTransactional(ctx, func(tx Txn) error {
		a, err := tx.Account(id)
		if err != nil {
			return err
		}
		a.Status = status
		a.StatusUntil = until
		a.LastActivityAt = now
		tx.PutAccount(a)
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("account status changed",
		zap.String("account", id),
		zap.String("status", string(status)))
	return updated, nil
}
