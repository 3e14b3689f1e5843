package main

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryLedger implements the Ledger contract against process-local state
// with the same optimistic semantics the real store provides: transaction
// bodies read a committed snapshot, writes stage locally, and the commit
// validates that nothing observed changed in the meantime. Conflicts retry
// with the shared backoff, surfacing ErrContention on exhaustion. Used for
// DEV_MODE and the test suite.
type memoryLedger struct {
	mu          sync.Mutex
	accounts    map[string]*versioned[Account]
	bounties    map[string]*versioned[Bounty]
	allocations map[string]int
	transfers   []TransferRecord
	votes       []VoteRecord
	maxAttempts int
	metrics     *coreMetrics
}

type versioned[T any] struct {
	doc     T
	version uint64
}

var errTxnConflict = errors.New("txn conflict")

func NewMemoryLedger(cfg Config, metrics *coreMetrics) *memoryLedger {
	attempts := cfg.TxnMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &memoryLedger{
		accounts:    make(map[string]*versioned[Account]),
		bounties:    make(map[string]*versioned[Bounty]),
		allocations: make(map[string]int),
		maxAttempts: attempts,
		metrics:     metrics,
	}
}

func allocKey(voterID, targetID, week string) string {
	return voterID + "|" + targetID + "|" + week
}

func (l *memoryLedger) GetAccount(ctx context.Context, id string) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	a := v.doc
	return &a, nil
}

func (l *memoryLedger) CreateAccount(ctx context.Context, a *Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[a.ID]; ok {
		return ErrAlreadyExists
	}
	l.accounts[a.ID] = &versioned[Account]{doc: *a, version: 1}
	return nil
}

func (l *memoryLedger) AccountIDs(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (l *memoryLedger) RunTransactional(ctx context.Context, fn func(tx Txn) error) error {
	for attempt := 0; ; attempt++ {
		t := &memTxn{ledger: l}
		err := fn(t)
		if err == nil {
			err = t.commit()
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, errTxnConflict) {
			return err
		}
		if l.metrics != nil {
			l.metrics.txnRetries.Inc()
		}
		if attempt+1 >= l.maxAttempts {
			if l.metrics != nil {
				l.metrics.txnContention.Inc()
			}
			return ErrContention
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(txnBackoff(attempt)):
		}
	}
}

func (l *memoryLedger) AppendVote(ctx context.Context, rec VoteRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.votes = append(l.votes, rec)
	return nil
}

func (l *memoryLedger) ExpiredBountyIDs(ctx context.Context, now time.Time) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []string
	for id, v := range l.bounties {
		if v.doc.State == BountyActive && !now.Before(v.doc.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (l *memoryLedger) Transfers(ctx context.Context, accountID string, limit int) ([]TransferRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var recs []TransferRecord
	for i := len(l.transfers) - 1; i >= 0 && len(recs) < limit; i-- {
		rec := l.transfers[i]
		if accountID == "" ||
			(rec.FromID != nil && *rec.FromID == accountID) ||
			(rec.ToID != nil && *rec.ToID == accountID) {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (l *memoryLedger) TopByVotes(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]LeaderboardEntry, 0, len(l.accounts))
	for _, v := range l.accounts {
		entries = append(entries, LeaderboardEntry{
			AccountID:     v.doc.ID,
			VotesReceived: v.doc.VotesReceived,
			Credits:       v.doc.Credits,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].VotesReceived != entries[j].VotesReceived {
			return entries[i].VotesReceived > entries[j].VotesReceived
		}
		return entries[i].AccountID < entries[j].AccountID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Votes returns a copy of the append-only vote log. Test hook.
func (l *memoryLedger) Votes() []VoteRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]VoteRecord, len(l.votes))
	copy(out, l.votes)
	return out
}

/* ======================
   Transaction view
   ====================== */

type memTxn struct {
	ledger *memoryLedger

	accountReads map[string]uint64
	bountyReads  map[string]uint64
	allocReads   map[string]int

	accountWrites map[string]*Account
	bountyWrites  map[string]*Bounty
	allocWrites   map[string]int
	allocClears   []string
	transfers     []TransferRecord
}

func (t *memTxn) Account(id string) (*Account, error) {
	if a, ok := t.accountWrites[id]; ok {
		return a, nil
	}
	t.ledger.mu.Lock()
	v, ok := t.ledger.accounts[id]
	if !ok {
		t.ledger.mu.Unlock()
		return nil, ErrNotFound
	}
	doc := v.doc
	version := v.version
	t.ledger.mu.Unlock()

	if t.accountReads == nil {
		t.accountReads = make(map[string]uint64)
	}
	if _, seen := t.accountReads[id]; !seen {
		t.accountReads[id] = version
	}
	return &doc, nil
}

func (t *memTxn) PutAccount(a *Account) {
	if t.accountWrites == nil {
		t.accountWrites = make(map[string]*Account)
	}
	t.accountWrites[a.ID] = a
}

func (t *memTxn) Bounty(id string) (*Bounty, error) {
	if b, ok := t.bountyWrites[id]; ok {
		return b, nil
	}
	t.ledger.mu.Lock()
	v, ok := t.ledger.bounties[id]
	if !ok {
		t.ledger.mu.Unlock()
		return nil, ErrNotFound
	}
	doc := v.doc
	version := v.version
	t.ledger.mu.Unlock()

	if t.bountyReads == nil {
		t.bountyReads = make(map[string]uint64)
	}
	if _, seen := t.bountyReads[id]; !seen {
		t.bountyReads[id] = version
	}
	return &doc, nil
}

func (t *memTxn) PutBounty(b *Bounty) {
	if t.bountyWrites == nil {
		t.bountyWrites = make(map[string]*Bounty)
	}
	t.bountyWrites[b.ID] = b
}

func (t *memTxn) Allocation(voterID, targetID, week string) (int, error) {
	key := allocKey(voterID, targetID, week)
	if count, ok := t.allocWrites[key]; ok {
		return count, nil
	}
	t.ledger.mu.Lock()
	count := t.ledger.allocations[key]
	t.ledger.mu.Unlock()

	if t.allocReads == nil {
		t.allocReads = make(map[string]int)
	}
	if _, seen := t.allocReads[key]; !seen {
		t.allocReads[key] = count
	}
	return count, nil
}

func (t *memTxn) SetAllocation(voterID, targetID, week string, count int) {
	if t.allocWrites == nil {
		t.allocWrites = make(map[string]int)
	}
	t.allocWrites[allocKey(voterID, targetID, week)] = count
}

func (t *memTxn) ClearAllocations(voterID string) {
	t.allocClears = append(t.allocClears, voterID)
}

func (t *memTxn) AppendTransfer(rec TransferRecord) {
	t.transfers = append(t.transfers, rec)
}

// commit validates every observed version under the ledger lock and applies
// the staged writes atomically, or reports a conflict for retry.
func (t *memTxn) commit() error {
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()

	for id, version := range t.accountReads {
		v, ok := t.ledger.accounts[id]
		if !ok || v.version != version {
			return errTxnConflict
		}
	}
	for id, version := range t.bountyReads {
		v, ok := t.ledger.bounties[id]
		if !ok || v.version != version {
			return errTxnConflict
		}
	}
	for key, count := range t.allocReads {
		if t.ledger.allocations[key] != count {
			return errTxnConflict
		}
	}

	for id, a := range t.accountWrites {
		if v, ok := t.ledger.accounts[id]; ok {
			v.doc = *a
			v.version++
		} else {
			t.ledger.accounts[id] = &versioned[Account]{doc: *a, version: 1}
		}
	}
	for id, b := range t.bountyWrites {
		if v, ok := t.ledger.bounties[id]; ok {
			v.doc = *b
			v.version++
		} else {
			t.ledger.bounties[id] = &versioned[Bounty]{doc: *b, version: 1}
		}
	}
	for _, voterID := range t.allocClears {
		for key := range t.ledger.allocations {
			if strings.HasPrefix(key, voterID+"|") {
				delete(t.ledger.allocations, key)
			}
		}
	}
	for key, count := range t.allocWrites {
		t.ledger.allocations[key] = count
	}
	t.ledger.transfers = append(t.ledger.transfers, t.transfers...)
	return nil
}
