package main

import "errors"

// Domain failures surfaced across the engine boundary. Precondition failures
// are detected before any write is staged, so a returned error guarantees
// zero mutation. Only ErrContention is the product of automatic retry; the
// rest are real rule violations and must not be retried.
var (
	ErrNotFound          = errors.New("NOT_FOUND")
	ErrAlreadyExists     = errors.New("ALREADY_EXISTS")
	ErrSelfVote          = errors.New("SELF_VOTE")
	ErrNoVotesRemaining  = errors.New("NO_VOTES_REMAINING")
	ErrTargetCapReached  = errors.New("TARGET_CAP_REACHED")
	ErrInsufficientFunds = errors.New("INSUFFICIENT_FUNDS")
	ErrAlreadyTargeted   = errors.New("ALREADY_TARGETED")
	ErrAlreadyExpired    = errors.New("ALREADY_EXPIRED")
	ErrSelfBounty        = errors.New("SELF_BOUNTY")
	ErrAccountRestricted = errors.New("ACCOUNT_RESTRICTED")
	ErrInvalidAmount     = errors.New("INVALID_AMOUNT")
	ErrInvalidArgument   = errors.New("INVALID_ARGUMENT")
	ErrContention        = errors.New("CONTENTION")
)

var domainErrors = []error{
	ErrNotFound,
	ErrAlreadyExists,
	ErrSelfVote,
	ErrNoVotesRemaining,
	ErrTargetCapReached,
	ErrInsufficientFunds,
	ErrAlreadyTargeted,
	ErrAlreadyExpired,
	ErrSelfBounty,
	ErrAccountRestricted,
	ErrInvalidAmount,
	ErrInvalidArgument,
	ErrContention,
}

func isDomainError(err error) bool {
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}

// errorCode maps an engine error to the stable code handed to collaborators.
func errorCode(err error) string {
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return d.Error()
		}
	}
	return "INTERNAL_ERROR"
}
