package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/internal/domain/xp"
)

// Ledger implements xp.Ledger. A single mutex makes Apply atomic: the
// transaction and the balance change are visible together or not at all.
type Ledger struct {
	mu           sync.RWMutex
	records      map[string]*xp.Record
	transactions map[string][]*xp.Transaction
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		records:      make(map[string]*xp.Record),
		transactions: make(map[string][]*xp.Transaction),
	}
}

// Get returns the student record.
func (l *Ledger) Get(_ context.Context, studentID string) (*xp.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.records[studentID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return r.Clone(), nil
}

// Apply appends tx and moves the balance by tx.Amount.
func (l *Ledger) Apply(_ context.Context, tx *xp.Transaction) (*xp.Record, *xp.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.records[tx.StudentID]
	if !ok {
		current = xp.NewRecord(tx.StudentID, tx.CreatedAt)
	}

	total := current.TotalXP + int64(tx.Amount)
	if total < 0 {
		return nil, nil, shared.ErrNegativeValue
	}

	before := current.Clone()
	after := current.Clone()
	after.TotalXP = total
	after.UpdatedAt = tx.CreatedAt
	after.Recompute()

	stored := *tx
	stored.Metadata = cloneMetadata(tx.Metadata)
	l.transactions[tx.StudentID] = append(l.transactions[tx.StudentID], &stored)
	l.records[tx.StudentID] = after.Clone()

	return before, after, nil
}

// ListTransactions returns the newest transactions first.
func (l *Ledger) ListTransactions(_ context.Context, studentID string, limit int) ([]*xp.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.transactions[studentID]
	out := make([]*xp.Transaction, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		c := *all[i]
		c.Metadata = cloneMetadata(all[i].Metadata)
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out[:clampLimit(len(out), limit)], nil
}

// SumTransactions returns the signed sum of the log.
func (l *Ledger) SumTransactions(_ context.Context, studentID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum int64
	for _, tx := range l.transactions[studentID] {
		sum += int64(tx.Amount)
	}
	return sum, nil
}

// SumEarnedSince sums positive transactions at or after since.
func (l *Ledger) SumEarnedSince(_ context.Context, studentID string, since time.Time) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum int64
	for _, tx := range l.transactions[studentID] {
		if tx.Amount > 0 && !tx.CreatedAt.Before(since) {
			sum += int64(tx.Amount)
		}
	}
	return sum, nil
}

// Corrupt overwrites the stored balance without a transaction. Used to
// exercise reconciliation.
func (l *Ledger) Corrupt(studentID string, totalXP int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[studentID]
	if !ok {
		return
	}
	r.TotalXP = totalXP
}
