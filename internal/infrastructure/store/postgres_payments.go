package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/market-settlement/internal/payment"
	"github.com/lib/pq"
)

// PostgresRecordStore persists payment records keyed by the gateway's
// external session id.
type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (s *PostgresRecordStore) Create(ctx context.Context, rec payment.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payment_records (order_id, external_session_id, amount, status, transaction_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.OrderID, rec.ExternalSessionID, rec.Amount, rec.Status, rec.TransactionID, rec.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("payment record for session %s already exists", rec.ExternalSessionID)
	}
	return err
}

func (s *PostgresRecordStore) GetBySession(ctx context.Context, sessionID string) (payment.Record, error) {
	var rec payment.Record
	err := s.db.QueryRowContext(ctx,
		`SELECT order_id, external_session_id, amount, status, transaction_id, created_at
		 FROM payment_records WHERE external_session_id = $1`,
		sessionID,
	).Scan(&rec.OrderID, &rec.ExternalSessionID, &rec.Amount, &rec.Status, &rec.TransactionID, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Record{}, payment.ErrRecordNotFound
	}
	if err != nil {
		return payment.Record{}, err
	}
	return rec, nil
}

func (s *PostgresRecordStore) List(ctx context.Context) ([]payment.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, external_session_id, amount, status, transaction_id, created_at
		 FROM payment_records
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payment.Record
	for rows.Next() {
		var rec payment.Record
		if err := rows.Scan(&rec.OrderID, &rec.ExternalSessionID, &rec.Amount, &rec.Status,
			&rec.TransactionID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
