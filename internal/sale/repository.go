package sale

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldservice/internal/totals"
	"fieldservice/internal/workflow"
	"fieldservice/pkg/db"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const selectSale = `
SELECT s.id, s.reference, s.title, s.customer_name, s.customer_email, s.customer_address, s.currency,
       s.status, s.discount_type, s.discount_value::text, s.tax_type, s.tax_value::text, s.fiscal_stamp::text,
       s.converted_service_order_id, s.created_by, COALESCE(NULLIF(u.name, ''), u.email, ''),
       s.created_at, s.updated_at
FROM sales s
LEFT JOIN users u ON u.id = s.created_by
`

func scanSale(row pgx.Row) (*Sale, error) {
	var s Sale
	var discountType, taxType string
	if err := row.Scan(
		&s.ID, &s.Reference, &s.Title, &s.CustomerName, &s.CustomerEmail, &s.CustomerAddress, &s.Currency,
		&s.Status, &discountType, db.Dec(&s.Discount.Value), &taxType, db.Dec(&s.Tax.Value), db.Dec(&s.FiscalStamp),
		&s.ConvertedServiceOrderID, &s.CreatedBy, &s.CreatedByName,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Discount.Type = totals.AdjustmentType(discountType)
	s.Tax.Type = totals.AdjustmentType(taxType)
	return &s, nil
}

// List returns sales without their items, newest first, optionally
// restricted to one status.
func (r *Repository) List(ctx context.Context, status workflow.Status) ([]Sale, error) {
	q := selectSale
	var args []any
	if status != "" {
		q += "WHERE s.status = $1\n"
		args = append(args, string(status))
	}
	q += "ORDER BY s.created_at DESC"

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Get loads a sale with its items.
func (r *Repository) Get(ctx context.Context, id string) (*Sale, error) {
	s, err := scanSale(r.db.QueryRow(ctx, selectSale+`WHERE s.id = $1`, id))
	if err != nil {
		return nil, err
	}
	s.Items, err = Items(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetForUpdate locks the sale row and loads its items.
func GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Sale, error) {
	s, err := scanSale(tx.QueryRow(ctx, selectSale+`WHERE s.id = $1 FOR UPDATE OF s`, id))
	if err != nil {
		return nil, err
	}
	s.Items, err = Items(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return s, nil
}

const selectItem = `
SELECT id, sale_id, position, kind, description, installation_id,
       quantity::text, unit_price::text, discount_percent::text
FROM sale_items
`

func Items(ctx context.Context, q db.Querier, saleID string) ([]Item, error) {
	rows, err := q.Query(ctx, selectItem+`WHERE sale_id = $1 ORDER BY position ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// ItemsBySales loads the items of several sales in one query.
func ItemsBySales(ctx context.Context, q db.Querier, saleIDs []string) (map[string][]Item, error) {
	out := map[string][]Item{}
	if len(saleIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, selectItem+`WHERE sale_id = ANY($1::uuid[]) ORDER BY sale_id, position ASC`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		out[it.SaleID] = append(out[it.SaleID], it)
	}
	return out, nil
}

func scanItems(rows pgx.Rows) ([]Item, error) {
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(
			&it.ID, &it.SaleID, &it.Position, &it.Kind, &it.Description, &it.InstallationID,
			db.Dec(&it.Quantity), db.Dec(&it.UnitPrice), db.Dec(&it.DiscountPercent),
		); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Insert creates a sale and its items from a normalized, validated request.
func Insert(ctx context.Context, tx pgx.Tx, req CreateRequest, createdBy *string) (*Sale, error) {
	const q = `
INSERT INTO sales (title, customer_name, customer_email, customer_address, currency,
                   discount_type, discount_value, tax_type, tax_value, fiscal_stamp, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9::numeric, $10::numeric, $11)
RETURNING id
`
	var id string
	if err := tx.QueryRow(ctx, q,
		req.Title, req.CustomerName, req.CustomerEmail, req.CustomerAddress, req.Currency,
		string(req.Discount.Type), req.Discount.Value.String(),
		string(req.Tax.Type), req.Tax.Value.String(),
		req.FiscalStamp.String(), createdBy,
	).Scan(&id); err != nil {
		return nil, err
	}

	for i, it := range req.Items {
		if _, err := InsertItem(ctx, tx, id, i+1, it); err != nil {
			return nil, err
		}
	}
	return GetForUpdate(ctx, tx, id)
}

func InsertItem(ctx context.Context, tx pgx.Tx, saleID string, position int, it ItemRequest) (*Item, error) {
	const q = `
INSERT INTO sale_items (sale_id, position, kind, description, installation_id, quantity, unit_price, discount_percent)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric)
RETURNING id, sale_id, position, kind, description, installation_id,
          quantity::text, unit_price::text, discount_percent::text
`
	var out Item
	if err := tx.QueryRow(ctx, q,
		saleID, position, string(it.Kind), it.Description, it.InstallationID,
		it.Quantity.String(), it.UnitPrice.String(), it.DiscountPercent.String(),
	).Scan(
		&out.ID, &out.SaleID, &out.Position, &out.Kind, &out.Description, &out.InstallationID,
		db.Dec(&out.Quantity), db.Dec(&out.UnitPrice), db.Dec(&out.DiscountPercent),
	); err != nil {
		return nil, err
	}
	return &out, nil
}

func NextPosition(ctx context.Context, tx pgx.Tx, saleID string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(position), 0) + 1 FROM sale_items WHERE sale_id = $1`, saleID).Scan(&n)
	return n, err
}

func MarkConverted(ctx context.Context, tx pgx.Tx, saleID, serviceOrderID string) error {
	_, err := tx.Exec(ctx, `UPDATE sales SET converted_service_order_id = $1, updated_at = NOW() WHERE id = $2`, serviceOrderID, saleID)
	return err
}
