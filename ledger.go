package main

import (
	"context"
	"math/rand"
	"time"
)

type TransferKind string

const (
	KindGift         TransferKind = "gift"
	KindBountyStake  TransferKind = "bounty_stake"
	KindBountyPayout TransferKind = "bounty_payout"
	KindBountyRefund TransferKind = "bounty_refund"
	KindReferral     TransferKind = "referral"
	KindAdminGrant   TransferKind = "admin_grant"
	KindAdminRevoke  TransferKind = "admin_revoke"
	KindVoteReward   TransferKind = "vote_reward"
	KindRegistration TransferKind = "registration"
)

// TransferRecord is the append-only audit entry for every credit movement.
// A nil FromID or ToID marks the system side of a tagged injection/removal.
type TransferRecord struct {
	ID        string       `json:"id"`
	FromID    *string      `json:"fromId,omitempty"`
	ToID      *string      `json:"toId,omitempty"`
	Amount    int64        `json:"amount"`
	Kind      TransferKind `json:"kind"`
	CreatedAt time.Time    `json:"createdAt"`
}

// VoteRecord is appended best-effort after a vote transaction commits.
type VoteRecord struct {
	VoterID   string    `json:"voterId"`
	TargetID  string    `json:"targetId"`
	Week      string    `json:"week"`
	CreatedAt time.Time `json:"createdAt"`
}

type LeaderboardEntry struct {
	AccountID     string `json:"accountId"`
	VotesReceived int64  `json:"votesReceived"`
	Credits       int64  `json:"credits"`
}

// Txn is the consistent view handed to a transaction body. Reads observe
// committed state; writes are not visible outside until the body returns
// nil and the commit succeeds. A body returning an error stages nothing.
type Txn interface {
	Account(id string) (*Account, error)
	PutAccount(a *Account)
	Bounty(id string) (*Bounty, error)
	PutBounty(b *Bounty)
	Allocation(voterID, targetID, week string) (int, error)
	SetAllocation(voterID, targetID, week string, count int)
	ClearAllocations(voterID string)
	AppendTransfer(rec TransferRecord)
}

// Ledger is the single mutation chokepoint over account documents. All
// engines go through RunTransactional; nothing writes an account outside it.
type Ledger interface {
	GetAccount(ctx context.Context, id string) (*Account, error)
	CreateAccount(ctx context.Context, a *Account) error
	AccountIDs(ctx context.Context) ([]string, error)

	// RunTransactional executes fn against a consistent snapshot and commits
	// its writes atomically. Conflicting concurrent commits are retried with
	// jittered backoff up to the configured attempt budget; exhaustion
	// surfaces ErrContention. Errors returned by fn are never retried.
	RunTransactional(ctx context.Context, fn func(tx Txn) error) error

	AppendVote(ctx context.Context, rec VoteRecord) error
	ExpiredBountyIDs(ctx context.Context, now time.Time) ([]string, error)
	Transfers(ctx context.Context, accountID string, limit int) ([]TransferRecord, error)
	TopByVotes(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// txnBackoff spaces retry attempts: exponential base with jitter so that
// colliding clients do not re-collide in lockstep.
func txnBackoff(attempt int) time.Duration {
	base := 5 * time.Millisecond << uint(attempt)
	if base > 200*time.Millisecond {
		base = 200 * time.Millisecond
	}
	return base + time.Duration(rand.Int63n(int64(base)))
}
