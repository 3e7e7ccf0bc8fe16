package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/market-settlement/internal/domain/stock"
)

// PostgresStockStore backs the stock counters with a products table. Reserve
// is a single conditional UPDATE so the quantity check and the decrement are
// one atomic statement.
type PostgresStockStore struct {
	db *sql.DB
}

func NewPostgresStockStore(db *sql.DB) *PostgresStockStore {
	return &PostgresStockStore{db: db}
}

func (s *PostgresStockStore) Reserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return stock.ErrInvalidQuantity
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET quantity = quantity - $2 WHERE id = $1 AND quantity >= $2`,
		productID, qty,
	)
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

	// Distinguish a missing product from an insufficient counter.
	rec, err := s.Get(ctx, productID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: product %s (requested %d, available %d)",
		stock.ErrInsufficientStock, productID, qty, rec.Quantity)
}

func (s *PostgresStockStore) Release(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return stock.ErrInvalidQuantity
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET quantity = quantity + $2 WHERE id = $1`,
		productID, qty,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", stock.ErrProductNotFound, productID)
	}
	return nil
}

func (s *PostgresStockStore) Get(ctx context.Context, productID string) (stock.Record, error) {
	rec := stock.Record{ProductID: productID}
	err := s.db.QueryRowContext(ctx,
		`SELECT quantity, price FROM products WHERE id = $1`,
		productID,
	).Scan(&rec.Quantity, &rec.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return stock.Record{}, fmt.Errorf("%w: %s", stock.ErrProductNotFound, productID)
	}
	if err != nil {
		return stock.Record{}, err
	}
	return rec, nil
}

func (s *PostgresStockStore) Put(ctx context.Context, rec stock.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, quantity, price)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET quantity = $2, price = $3`,
		rec.ProductID, rec.Quantity, rec.Price,
	)
	return err
}
