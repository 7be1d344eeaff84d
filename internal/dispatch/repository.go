package dispatch

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldservice/pkg/db"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const selectDispatch = `
SELECT d.id, d.reference, d.service_order_id, d.installation_id, d.technician_id,
       COALESCE(NULLIF(t.name, ''), t.email, ''), d.title, d.description, d.status, d.scheduled_at,
       d.created_by, COALESCE(NULLIF(c.name, ''), c.email, ''), d.created_at, d.updated_at
FROM dispatches d
LEFT JOIN users t ON t.id = d.technician_id
LEFT JOIN users c ON c.id = d.created_by
`

func scanDispatch(row pgx.Row) (*Dispatch, error) {
	var d Dispatch
	if err := row.Scan(
		&d.ID, &d.Reference, &d.ServiceOrderID, &d.InstallationID, &d.TechnicianID,
		&d.TechnicianName, &d.Title, &d.Description, &d.Status, &d.ScheduledAt,
		&d.CreatedBy, &d.CreatedByName, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repository) List(ctx context.Context, f Filter) ([]Dispatch, error) {
	var where []string
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "d.status = $"+strconv.Itoa(len(args)))
	}
	if f.TechnicianID != "" {
		args = append(args, f.TechnicianID)
		where = append(where, "d.technician_id = $"+strconv.Itoa(len(args)))
	}
	if f.ServiceOrderID != "" {
		args = append(args, f.ServiceOrderID)
		where = append(where, "d.service_order_id = $"+strconv.Itoa(len(args)))
	}

	q := selectDispatch
	if len(where) > 0 {
		q += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	q += "ORDER BY d.scheduled_at ASC NULLS LAST, d.created_at DESC"

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id string) (*Dispatch, error) {
	return scanDispatch(r.db.QueryRow(ctx, selectDispatch+`WHERE d.id = $1`, id))
}

func GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*Dispatch, error) {
	return scanDispatch(tx.QueryRow(ctx, selectDispatch+`WHERE d.id = $1 FOR UPDATE OF d`, id))
}

type NewDispatch struct {
	ServiceOrderID *string
	InstallationID *string
	TechnicianID   *string
	Title          string
	Description    string
	ScheduledAt    *time.Time
	CreatedBy      *string
}

func Insert(ctx context.Context, tx pgx.Tx, nd NewDispatch) (*Dispatch, error) {
	const q = `
INSERT INTO dispatches (service_order_id, installation_id, technician_id, title, description, scheduled_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id
`
	var id string
	if err := tx.QueryRow(ctx, q,
		nd.ServiceOrderID, nd.InstallationID, nd.TechnicianID, nd.Title, nd.Description, nd.ScheduledAt, nd.CreatedBy,
	).Scan(&id); err != nil {
		return nil, err
	}
	return scanDispatch(tx.QueryRow(ctx, selectDispatch+`WHERE d.id = $1`, id))
}

func SetTechnician(ctx context.Context, tx pgx.Tx, id, technicianID string) error {
	_, err := tx.Exec(ctx, `UPDATE dispatches SET technician_id = $1, updated_at = NOW() WHERE id = $2`, technicianID, id)
	return err
}

type Assignee struct {
	ID   string
	Name string
}

// FindAssignee returns pgx.ErrNoRows when no such user exists.
func FindAssignee(ctx context.Context, q db.Querier, userID string) (*Assignee, error) {
	var a Assignee
	if err := q.QueryRow(ctx, `SELECT id, COALESCE(NULLIF(name, ''), email) FROM users WHERE id = $1`, userID).Scan(&a.ID, &a.Name); err != nil {
		return nil, err
	}
	return &a, nil
}

const selectTimeEntry = `
SELECT e.id, e.dispatch_id, e.user_id, COALESCE(NULLIF(u.name, ''), u.email, ''), e.started_at,
       e.duration_minutes, e.hourly_rate::text, e.description, e.created_at
FROM time_entries e
LEFT JOIN users u ON u.id = e.user_id
`

func scanTimeEntry(row pgx.Row) (*TimeEntry, error) {
	var e TimeEntry
	if err := row.Scan(
		&e.ID, &e.DispatchID, &e.UserID, &e.UserName, &e.StartedAt,
		&e.DurationMinutes, db.Dec(&e.HourlyRate), &e.Description, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func ListTimeEntries(ctx context.Context, q db.Querier, dispatchID string) ([]TimeEntry, error) {
	rows, err := q.Query(ctx, selectTimeEntry+`WHERE e.dispatch_id = $1 ORDER BY e.started_at ASC, e.id ASC`, dispatchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimeEntry
	for rows.Next() {
		e, err := scanTimeEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func InsertTimeEntry(ctx context.Context, tx pgx.Tx, e TimeEntry) (*TimeEntry, error) {
	const q = `
INSERT INTO time_entries (dispatch_id, user_id, started_at, duration_minutes, hourly_rate, description)
VALUES ($1, $2, $3, $4, $5::numeric, $6)
RETURNING id
`
	var id string
	if err := tx.QueryRow(ctx, q,
		e.DispatchID, e.UserID, e.StartedAt, e.DurationMinutes, e.HourlyRate.String(), e.Description,
	).Scan(&id); err != nil {
		return nil, err
	}
	return scanTimeEntry(tx.QueryRow(ctx, selectTimeEntry+`WHERE e.id = $1`, id))
}

// DeleteTimeEntry returns pgx.ErrNoRows when the entry is not on the dispatch.
func DeleteTimeEntry(ctx context.Context, tx pgx.Tx, dispatchID, entryID string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM time_entries WHERE id = $1 AND dispatch_id = $2`, entryID, dispatchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const selectExpense = `
SELECT x.id, x.dispatch_id, x.user_id, COALESCE(NULLIF(u.name, ''), u.email, ''), x.category,
       x.description, x.amount::text, x.incurred_on, x.created_at
FROM expenses x
LEFT JOIN users u ON u.id = x.user_id
`

func scanExpense(row pgx.Row) (*Expense, error) {
	var e Expense
	if err := row.Scan(
		&e.ID, &e.DispatchID, &e.UserID, &e.UserName, &e.Category,
		&e.Description, db.Dec(&e.Amount), &e.IncurredOn, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func ListExpenses(ctx context.Context, q db.Querier, dispatchID string) ([]Expense, error) {
	rows, err := q.Query(ctx, selectExpense+`WHERE x.dispatch_id = $1 ORDER BY x.incurred_on ASC, x.created_at ASC`, dispatchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func InsertExpense(ctx context.Context, tx pgx.Tx, e Expense) (*Expense, error) {
	const q = `
INSERT INTO expenses (dispatch_id, user_id, category, description, amount, incurred_on)
VALUES ($1, $2, $3, $4, $5::numeric, $6)
RETURNING id
`
	var id string
	if err := tx.QueryRow(ctx, q,
		e.DispatchID, e.UserID, e.Category, e.Description, e.Amount.String(), e.IncurredOn,
	).Scan(&id); err != nil {
		return nil, err
	}
	return scanExpense(tx.QueryRow(ctx, selectExpense+`WHERE x.id = $1`, id))
}

// DeleteExpense returns pgx.ErrNoRows when the expense is not on the dispatch.
func DeleteExpense(ctx context.Context, tx pgx.Tx, dispatchID, expenseID string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM expenses WHERE id = $1 AND dispatch_id = $2`, expenseID, dispatchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
