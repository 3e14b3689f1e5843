package main

import (
	"fmt"
	"time"
	"unicode"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusMuted     Status = "muted"
	StatusBanned    Status = "banned"
	StatusSuspended Status = "suspended"
)

type BountyState string

const (
	BountyActive  BountyState = "active"
	BountyExpired BountyState = "expired"
	BountyCleared BountyState = "cleared"
)

// Account is a participant's persisted state. Every field default is applied
// once, at creation, never re-derived per call site.
type Account struct {
	ID             string     `json:"id"`
	Credits        int64      `json:"credits"`
	VotesRemaining int        `json:"votesRemaining"`
	VotesReceived  int64      `json:"votesReceived"`
	Status         Status     `json:"status"`
	StatusUntil    *time.Time `json:"statusUntil,omitempty"`
	BountyID       *string    `json:"bountyId,omitempty"`
	ReferredBy     *string    `json:"referredBy,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
}

// Bounty is a time-bounded contract on a target account. The escrowed stake
// lives in Remaining; it is not owned by any account until claimed or
// returned.
type Bounty struct {
	ID        string      `json:"id"`
	TargetID  string      `json:"targetId"`
	PlacerID  string      `json:"placerId"`
	Stake     int64       `json:"stakeAmount"`
	Remaining int64       `json:"remaining"`
	State     BountyState `json:"state"`
	CreatedAt time.Time   `json:"createdAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

func (b *Bounty) expiredBy(now time.Time) bool {
	return b.State == BountyActive && !now.Before(b.ExpiresAt)
}

// restricted reports whether the account may initiate votes, gifts, or
// bounties. Muting is a chat-surface sanction and does not restrict the
// economy; an elapsed suspension counts as active again (evaluated lazily,
// the same way bounty expiry is).
func (a *Account) restricted(now time.Time) bool {
	switch a.Status {
	case StatusBanned:
		return true
	case StatusSuspended:
		return a.StatusUntil == nil || now.Before(*a.StatusUntil)
	default:
		return false
	}
}

func newAccount(id string, cfg Config, referredBy *string, now time.Time) *Account {
	return &Account{
		ID:             id,
		Credits:        0,
		VotesRemaining: cfg.WeeklyVoteAllowance,
		VotesReceived:  0,
		Status:         StatusActive,
		ReferredBy:     referredBy,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func isValidAccountID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		if r == '-' || r == '_' {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}

// weekOf identifies the voting period a timestamp falls in, e.g. "2026-W35".
func weekOf(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}
