package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/example/market-settlement/internal/domain/ledger"
)

// PostgresLedger stores the hash chain in a ledger_entries table. Each append
// locks the tail row inside a transaction, so concurrent appends serialize
// instead of forking the chain.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Append(ctx context.Context, tx ledger.Transaction) (ledger.Entry, error) {
	dbtx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, err
	}
	defer dbtx.Rollback()

	sequence := 0
	prev := ledger.GenesisHash
	err = dbtx.QueryRowContext(ctx,
		`SELECT sequence, current_hash FROM ledger_entries
		 ORDER BY sequence DESC LIMIT 1
		 FOR UPDATE`,
	).Scan(&sequence, &prev)
	if err == nil {
		sequence++
	} else if err != sql.ErrNoRows {
		return ledger.Entry{}, err
	}

	entry := ledger.Entry{
		Sequence:     sequence,
		OrderID:      tx.OrderID,
		BuyerID:      tx.BuyerID,
		Items:        tx.Items,
		Total:        tx.Total,
		Timestamp:    tx.Timestamp,
		PreviousHash: prev,
		CurrentHash:  ledger.Digest(tx),
	}

	itemsJSON, err := json.Marshal(entry.Items)
	if err != nil {
		return ledger.Entry{}, err
	}

	_, err = dbtx.ExecContext(ctx,
		`INSERT INTO ledger_entries (sequence, order_id, buyer_id, items, total, committed_at, previous_hash, current_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Sequence, entry.OrderID, entry.BuyerID, itemsJSON, entry.Total,
		entry.Timestamp, entry.PreviousHash, entry.CurrentHash,
	)
	if err != nil {
		return ledger.Entry{}, err
	}

	if err := dbtx.Commit(); err != nil {
		return ledger.Entry{}, err
	}
	return entry, nil
}

func (l *PostgresLedger) Verify(ctx context.Context) error {
	entries, err := l.Entries(ctx)
	if err != nil {
		return err
	}
	return ledger.VerifyEntries(entries)
}

func (l *PostgresLedger) Entries(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT sequence, order_id, buyer_id, items, total, committed_at, previous_hash, current_hash
		 FROM ledger_entries
		 ORDER BY sequence ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var itemsJSON []byte
		if err := rows.Scan(&e.Sequence, &e.OrderID, &e.BuyerID, &itemsJSON, &e.Total,
			&e.Timestamp, &e.PreviousHash, &e.CurrentHash); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(itemsJSON, &e.Items); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
