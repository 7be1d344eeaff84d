package user

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const columns = `id, email, COALESCE(name,''), role, COALESCE(password_hash,''), created_at`

func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	q := `SELECT ` + columns + ` FROM users WHERE lower(email) = lower($1)`
	u := &User{}
	if err := r.db.QueryRow(ctx, q, strings.TrimSpace(email)).Scan(
		&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.CreatedAt,
	); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*User, error) {
	q := `SELECT ` + columns + ` FROM users WHERE id = $1`
	u := &User{}
	if err := r.db.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.CreatedAt,
	); err != nil {
		return nil, err
	}
	return u, nil
}

// Upsert creates or refreshes a user by email. Used by the dev seeding
// command; an empty hash keeps the stored one.
func (r *Repository) Upsert(ctx context.Context, email, name string, role Role, passwordHash string) (*User, error) {
	q := `
INSERT INTO users (email, name, role, password_hash)
VALUES ($1, $2, $3, NULLIF($4, ''))
ON CONFLICT (email) DO UPDATE SET
  name = EXCLUDED.name,
  role = EXCLUDED.role,
  password_hash = COALESCE(EXCLUDED.password_hash, users.password_hash)
RETURNING ` + columns
	u := &User{}
	if err := r.db.QueryRow(ctx, q, strings.TrimSpace(email), name, string(role), passwordHash).Scan(
		&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.CreatedAt,
	); err != nil {
		return nil, err
	}
	return u, nil
}
