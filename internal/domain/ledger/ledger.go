package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GenesisHash is the previous-hash sentinel of the first chain entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

var ErrTamperDetected = errors.New("ledger tamper detected")

// Item is one settled line of a transaction. Prices are integer minor units.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int    `json:"unit_price"`
}

// Transaction is the committed fact a ledger entry is computed over.
type Transaction struct {
	OrderID   string
	BuyerID   string
	Items     []Item
	Total     int
	Timestamp time.Time
}

// Entry is one link of the hash chain. Never mutated after append.
type Entry struct {
	Sequence     int       `json:"sequence"`
	OrderID      string    `json:"order_id"`
	BuyerID      string    `json:"buyer_id"`
	Items        []Item    `json:"items"`
	Total        int       `json:"total"`
	Timestamp    time.Time `json:"timestamp"`
	PreviousHash string    `json:"previous_hash"`
	CurrentHash  string    `json:"current_hash"`
}

// Ledger is an append-only hash-chained log. Appends across all orders must
// be linearized: reading the tail and writing the entry as two unguarded
// steps lets concurrent appends fork the chain.
type Ledger interface {
	Append(ctx context.Context, tx Transaction) (Entry, error)
	Verify(ctx context.Context) error
	Entries(ctx context.Context) ([]Entry, error)
}

// Digest computes the SHA-256 hex digest of a transaction's canonical form.
// The canonical form is pipe-delimited with fields in fixed order, so the
// hash can never depend on serialization quirks such as map ordering.
// Timestamps are canonicalized to microseconds: TIMESTAMPTZ columns keep no
// finer resolution, and a stored entry must re-digest to its recorded hash.
func Digest(tx Transaction) string {
	items := make([]string, len(tx.Items))
	for i, it := range tx.Items {
		items[i] = fmt.Sprintf("%s:%d:%d", it.ProductID, it.Quantity, it.UnitPrice)
	}
	ts := tx.Timestamp.UTC().Truncate(time.Microsecond)
	canonical := fmt.Sprintf("%s|%s|%s|%d|%d",
		tx.OrderID, tx.BuyerID, strings.Join(items, ","), tx.Total, ts.UnixNano())
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// transaction reconstructs the digest input of a stored entry.
func (e Entry) transaction() Transaction {
	return Transaction{
		OrderID:   e.OrderID,
		BuyerID:   e.BuyerID,
		Items:     e.Items,
		Total:     e.Total,
		Timestamp: e.Timestamp,
	}
}

// VerifyEntries walks a chain from genesis and reports the first broken link.
// Shared by the store implementations.
func VerifyEntries(entries []Entry) error {
	prev := GenesisHash
	for i, e := range entries {
		if e.PreviousHash != prev {
			return fmt.Errorf("%w: entry %d previous hash mismatch", ErrTamperDetected, i)
		}
		if Digest(e.transaction()) != e.CurrentHash {
			return fmt.Errorf("%w: entry %d content altered", ErrTamperDetected, i)
		}
		prev = e.CurrentHash
	}
	return nil
}
