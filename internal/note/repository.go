package note

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"fieldservice/internal/activity"
	"fieldservice/pkg/db"
)

type Note struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Body       string    `json:"body"`
	Author     string    `json:"author"`
	CreatedAt  time.Time `json:"createdAt"`
}

func Insert(ctx context.Context, tx pgx.Tx, entityType, entityID, body, author string) (*Note, error) {
	const q = `
INSERT INTO notes (entity_type, entity_id, body, author)
VALUES ($1, $2, $3, $4)
RETURNING id, entity_type, entity_id, body, author, created_at
`
	var n Note
	if err := tx.QueryRow(ctx, q, entityType, entityID, body, author).Scan(
		&n.ID, &n.EntityType, &n.EntityID, &n.Body, &n.Author, &n.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &n, nil
}

// Delete removes a note of the given entity and returns it. Returns
// pgx.ErrNoRows when no such note exists.
func Delete(ctx context.Context, tx pgx.Tx, entityType, entityID, noteID string) (*Note, error) {
	const q = `
DELETE FROM notes
WHERE id = $1 AND entity_type = $2 AND entity_id = $3
RETURNING id, entity_type, entity_id, body, author, created_at
`
	var n Note
	if err := tx.QueryRow(ctx, q, noteID, entityType, entityID).Scan(
		&n.ID, &n.EntityType, &n.EntityID, &n.Body, &n.Author, &n.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &n, nil
}

func ListByEntity(ctx context.Context, q db.Querier, entityType, entityID string) ([]Note, error) {
	const sql = `
SELECT id, entity_type, entity_id, body, author, created_at
FROM notes
WHERE entity_type = $1 AND entity_id = $2
ORDER BY created_at ASC
`
	rows, err := q.Query(ctx, sql, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.EntityType, &n.EntityID, &n.Body, &n.Author, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func Entries(notes []Note) []activity.Entry {
	out := make([]activity.Entry, 0, len(notes))
	for _, n := range notes {
		out = append(out, activity.Entry{
			ID:          n.ID,
			Type:        "note",
			Description: n.Body,
			Timestamp:   n.CreatedAt,
			Actor:       n.Author,
		})
	}
	return out
}

// Source feeds an entity's notes into the activity aggregator.
func Source(q db.Querier, entityType, entityID string) activity.Source {
	return activity.Source{
		Name: "notes",
		Fetch: func(ctx context.Context) ([]activity.Entry, error) {
			notes, err := ListByEntity(ctx, q, entityType, entityID)
			if err != nil {
				return nil, err
			}
			return Entries(notes), nil
		},
	}
}
