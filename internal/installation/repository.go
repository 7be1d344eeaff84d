package installation

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Installation struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CustomerName string    `json:"customerName"`
	Address      string    `json:"address"`
	SerialNumber string    `json:"serialNumber"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Label is how an installation heads a group of rows in reports.
func (i Installation) Label() string {
	if i.SerialNumber != "" {
		return i.Name + " (" + i.SerialNumber + ")"
	}
	return i.Name
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const columns = `id, name, customer_name, address, serial_number, created_at`

func (r *Repository) List(ctx context.Context) ([]Installation, error) {
	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM installations ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

func (r *Repository) Get(ctx context.Context, id string) (*Installation, error) {
	var i Installation
	if err := r.db.QueryRow(ctx, `SELECT `+columns+` FROM installations WHERE id = $1`, id).Scan(
		&i.ID, &i.Name, &i.CustomerName, &i.Address, &i.SerialNumber, &i.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &i, nil
}

// ByIDs loads the given installations keyed by id. Unknown ids are skipped.
func (r *Repository) ByIDs(ctx context.Context, ids []string) (map[string]Installation, error) {
	out := map[string]Installation{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+columns+` FROM installations WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanAll(rows)
	if err != nil {
		return nil, err
	}
	for _, i := range list {
		out[i.ID] = i
	}
	return out, nil
}

type scanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAll(rows scanner) ([]Installation, error) {
	var out []Installation
	for rows.Next() {
		var i Installation
		if err := rows.Scan(&i.ID, &i.Name, &i.CustomerName, &i.Address, &i.SerialNumber, &i.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func Insert(ctx context.Context, tx pgx.Tx, i Installation) (*Installation, error) {
	const q = `
INSERT INTO installations (name, customer_name, address, serial_number)
VALUES ($1, $2, $3, $4)
RETURNING ` + columns
	var out Installation
	if err := tx.QueryRow(ctx, q, i.Name, i.CustomerName, i.Address, i.SerialNumber).Scan(
		&out.ID, &out.Name, &out.CustomerName, &out.Address, &out.SerialNumber, &out.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &out, nil
}
