package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/market-settlement/internal/userdir"
	"github.com/lib/pq"
)

// PostgresUserDirectory persists user profiles for login and notification
// lookups.
type PostgresUserDirectory struct {
	db *sql.DB
}

func NewPostgresUserDirectory(db *sql.DB) *PostgresUserDirectory {
	return &PostgresUserDirectory{db: db}
}

func (d *PostgresUserDirectory) Create(ctx context.Context, p userdir.Profile) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, role, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		p.ID, p.Email, p.Name, p.Role, p.PasswordHash,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return userdir.ErrEmailTaken
	}
	return err
}

func (d *PostgresUserDirectory) GetByEmail(ctx context.Context, email string) (userdir.Profile, error) {
	return d.get(ctx,
		`SELECT id, email, name, role, password_hash, created_at FROM users WHERE email = $1`,
		email,
	)
}

func (d *PostgresUserDirectory) GetByID(ctx context.Context, id string) (userdir.Profile, error) {
	return d.get(ctx,
		`SELECT id, email, name, role, password_hash, created_at FROM users WHERE id = $1`,
		id,
	)
}

func (d *PostgresUserDirectory) get(ctx context.Context, query, arg string) (userdir.Profile, error) {
	var p userdir.Profile
	err := d.db.QueryRowContext(ctx, query, arg).
		Scan(&p.ID, &p.Email, &p.Name, &p.Role, &p.PasswordHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return userdir.Profile{}, userdir.ErrUserNotFound
	}
	if err != nil {
		return userdir.Profile{}, err
	}
	return p, nil
}
