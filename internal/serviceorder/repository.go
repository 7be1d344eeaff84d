package serviceorder

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fieldservice/pkg/db"
)

const EntityType = "service_order"

type ServiceOrder struct {
	ID            string    `json:"id"`
	Reference     string    `json:"reference"`
	SaleID        string    `json:"saleId"`
	SaleReference string    `json:"saleReference,omitempty"`
	CustomerName  string    `json:"customerName"`
	Status        string    `json:"status"`
	CreatedBy     *string   `json:"createdBy,omitempty"`
	CreatedByName string    `json:"createdByName,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Item struct {
	ID             string          `json:"id"`
	ServiceOrderID string          `json:"serviceOrderId"`
	SaleItemID     *string         `json:"saleItemId,omitempty"`
	Position       int             `json:"position"`
	Description    string          `json:"description"`
	InstallationID *string         `json:"installationId,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const selectOrder = `
SELECT o.id, o.reference, o.sale_id, s.reference, o.customer_name, o.status,
       o.created_by, COALESCE(NULLIF(u.name, ''), u.email, ''), o.created_at, o.updated_at
FROM service_orders o
JOIN sales s ON s.id = o.sale_id
LEFT JOIN users u ON u.id = o.created_by
`

func scanOrder(row pgx.Row) (*ServiceOrder, error) {
	var o ServiceOrder
	if err := row.Scan(
		&o.ID, &o.Reference, &o.SaleID, &o.SaleReference, &o.CustomerName, &o.Status,
		&o.CreatedBy, &o.CreatedByName, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) List(ctx context.Context) ([]ServiceOrder, error) {
	rows, err := r.db.Query(ctx, selectOrder+`ORDER BY o.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ServiceOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id string) (*ServiceOrder, error) {
	return scanOrder(r.db.QueryRow(ctx, selectOrder+`WHERE o.id = $1`, id))
}

func Items(ctx context.Context, q db.Querier, orderID string) ([]Item, error) {
	const sql = `
SELECT id, service_order_id, sale_item_id, position, description, installation_id,
       quantity::text, unit_price::text
FROM service_order_items
WHERE service_order_id = $1
ORDER BY position ASC
`
	rows, err := q.Query(ctx, sql, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(
			&it.ID, &it.ServiceOrderID, &it.SaleItemID, &it.Position, &it.Description, &it.InstallationID,
			db.Dec(&it.Quantity), db.Dec(&it.UnitPrice),
		); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Insert creates the order header. The unique sale_id constraint keeps a
// sale from being converted twice even under concurrent requests.
func Insert(ctx context.Context, tx pgx.Tx, saleID, customerName string, createdBy *string) (*ServiceOrder, error) {
	const q = `
INSERT INTO service_orders (sale_id, customer_name, created_by)
VALUES ($1, $2, $3)
RETURNING id
`
	var id string
	if err := tx.QueryRow(ctx, q, saleID, customerName, createdBy).Scan(&id); err != nil {
		return nil, err
	}
	return scanOrder(tx.QueryRow(ctx, selectOrder+`WHERE o.id = $1`, id))
}

func InsertItem(ctx context.Context, tx pgx.Tx, it Item) error {
	const q = `
INSERT INTO service_order_items (service_order_id, sale_item_id, position, description, installation_id, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)
`
	_, err := tx.Exec(ctx, q,
		it.ServiceOrderID, it.SaleItemID, it.Position, it.Description, it.InstallationID,
		it.Quantity.String(), it.UnitPrice.String(),
	)
	return err
}

// LockExisting locks an order row. Returns pgx.ErrNoRows when missing.
func LockExisting(ctx context.Context, tx pgx.Tx, id string) (*ServiceOrder, error) {
	return scanOrder(tx.QueryRow(ctx, selectOrder+`WHERE o.id = $1 FOR UPDATE OF o`, id))
}
