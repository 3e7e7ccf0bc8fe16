package idempotency

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// PostgresGuard implements Guard on a processed_sessions table. Begin is a
// single INSERT ... ON CONFLICT DO NOTHING, so two concurrent deliveries of
// the same session can never both pass.
type PostgresGuard struct {
	db *sql.DB
}

func NewPostgresGuard(db *sql.DB) *PostgresGuard {
	return &PostgresGuard{db: db}
}

func (g *PostgresGuard) Begin(ctx context.Context, key string) error {
	res, err := g.db.ExecContext(ctx,
		`INSERT INTO processed_sessions (session_id, state, created_at)
		 VALUES ($1, 'pending', $2)
		 ON CONFLICT (session_id) DO NOTHING`,
		key, time.Now(),
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDuplicate
	}
	return nil
}

func (g *PostgresGuard) Commit(ctx context.Context, key string) error {
	_, err := g.db.ExecContext(ctx,
		`UPDATE processed_sessions SET state = 'done' WHERE session_id = $1`, key)
	return err
}

func (g *PostgresGuard) Release(ctx context.Context, key string) error {
	_, err := g.db.ExecContext(ctx,
		`DELETE FROM processed_sessions WHERE session_id = $1 AND state = 'pending'`, key)
	return err
}
