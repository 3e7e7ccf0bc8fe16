package ledger

import (
	"context"
	"sync"
)

// MemoryLedger keeps the chain in memory. A single mutex covers the
// read-tail-then-append critical section, which is the single-writer
// discipline the chain invariant requires.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) Append(ctx context.Context, tx Transaction) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := GenesisHash
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].CurrentHash
	}

	entry := Entry{
		Sequence:     len(l.entries),
		OrderID:      tx.OrderID,
		BuyerID:      tx.BuyerID,
		Items:        append([]Item(nil), tx.Items...),
		Total:        tx.Total,
		Timestamp:    tx.Timestamp,
		PreviousHash: prev,
		CurrentHash:  Digest(tx),
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *MemoryLedger) Verify(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return VerifyEntries(l.entries)
}

func (l *MemoryLedger) Entries(ctx context.Context) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...), nil
}

// Tamper overwrites a stored entry. Only for chain-verification tests.
func (l *MemoryLedger) Tamper(index int, mutate func(*Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mutate(&l.entries[index])
}
