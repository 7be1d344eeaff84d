package notification

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Link      string     `json:"link,omitempty"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (n Notification) Read() bool { return n.ReadAt != nil }

// Insert creates a notification inside the caller's transaction.
func Insert(ctx context.Context, tx pgx.Tx, userID, title, message, link string) (*Notification, error) {
	const q = `
INSERT INTO notifications (user_id, title, message, link)
VALUES ($1, $2, $3, $4)
RETURNING id, user_id, title, message, link, read_at, created_at
`
	var n Notification
	if err := tx.QueryRow(ctx, q, userID, title, message, link).Scan(
		&n.ID, &n.UserID, &n.Title, &n.Message, &n.Link, &n.ReadAt, &n.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &n, nil
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	const q = `
SELECT id, user_id, title, message, link, read_at, created_at
FROM notifications
WHERE user_id = $1 AND ($2::boolean = false OR read_at IS NULL)
ORDER BY created_at DESC
LIMIT $3
`
	rows, err := r.db.Query(ctx, q, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Link, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`, userID).Scan(&n)
	return n, err
}

// MarkRead marks one notification of the user as read. Reading twice keeps
// the first timestamp. Returns pgx.ErrNoRows when the notification does not
// belong to the user.
func (r *Repository) MarkRead(ctx context.Context, userID, id string) (*Notification, error) {
	const q = `
UPDATE notifications
SET read_at = COALESCE(read_at, NOW())
WHERE id = $1 AND user_id = $2
RETURNING id, user_id, title, message, link, read_at, created_at
`
	var n Notification
	if err := r.db.QueryRow(ctx, q, id, userID).Scan(
		&n.ID, &n.UserID, &n.Title, &n.Message, &n.Link, &n.ReadAt, &n.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *Repository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
