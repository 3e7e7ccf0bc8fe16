package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/example/market-settlement/internal/domain/order"
)

// PostgresOrderRepository persists orders with line items as JSONB. The
// version column carries the optimistic lock the status mutators rely on.
type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(db *sql.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

func (r *PostgresOrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO orders (id, buyer_id, items, total, status, payment_status, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.BuyerID, itemsJSON, o.Total, o.Status, o.PaymentStatus, o.CreatedAt, o.UpdatedAt, o.Version,
	)
	return err
}

func (r *PostgresOrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, buyer_id, items, total, status, payment_status, created_at, updated_at, version
		 FROM orders WHERE id = $1`,
		id,
	)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	return o, err
}

func (r *PostgresOrderRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	return err
}

func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status, paymentStatus order.PaymentStatus, expectedVersion int) error {
	var res sql.Result
	var err error
	if paymentStatus != "" {
		res, err = r.db.ExecContext(ctx,
			`UPDATE orders SET status = $2, payment_status = $3, version = version + 1, updated_at = $4
			 WHERE id = $1 AND version = $5`,
			id, status, paymentStatus, time.Now(), expectedVersion,
		)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE orders SET status = $2, version = version + 1, updated_at = $3
			 WHERE id = $1 AND version = $4`,
			id, status, time.Now(), expectedVersion,
		)
	}
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// No row matched: either the order is gone or the version moved.
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return order.ErrOrderNotFound
	}
	return order.ErrVersionConflict
}

func (r *PostgresOrderRepository) ListByBuyer(ctx context.Context, buyerID string) ([]*order.Order, error) {
	return r.list(ctx,
		`SELECT id, buyer_id, items, total, status, payment_status, created_at, updated_at, version
		 FROM orders WHERE buyer_id = $1
		 ORDER BY created_at DESC`,
		buyerID,
	)
}

func (r *PostgresOrderRepository) ListByFarmer(ctx context.Context, farmerID string) ([]*order.Order, error) {
	// The JSONB containment test matches orders with at least one line owned
	// by the farmer.
	filter, err := json.Marshal([]map[string]string{{"farmer_id": farmerID}})
	if err != nil {
		return nil, err
	}
	return r.list(ctx,
		`SELECT id, buyer_id, items, total, status, payment_status, created_at, updated_at, version
		 FROM orders WHERE items @> $1
		 ORDER BY created_at DESC`,
		filter,
	)
}

func (r *PostgresOrderRepository) list(ctx context.Context, query string, arg any) ([]*order.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var o order.Order
	var itemsJSON []byte
	if err := row.Scan(&o.ID, &o.BuyerID, &itemsJSON, &o.Total, &o.Status, &o.PaymentStatus,
		&o.CreatedAt, &o.UpdatedAt, &o.Version); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, err
	}
	return &o, nil
}
