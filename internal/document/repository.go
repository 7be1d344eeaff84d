package document

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"fieldservice/pkg/db"
)

const KindReport = "report"

type Record struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Kind       string    `json:"kind"`
	ObjectKey  string    `json:"objectKey"`
	FileName   string    `json:"fileName"`
	SizeBytes  int64     `json:"sizeBytes"`
	CreatedBy  *string   `json:"createdBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

const columns = `id, entity_type, entity_id, kind, object_key, file_name, size_bytes, created_by, created_at`

func scan(row pgx.Row) (*Record, error) {
	var rec Record
	if err := row.Scan(
		&rec.ID, &rec.EntityType, &rec.EntityID, &rec.Kind, &rec.ObjectKey, &rec.FileName, &rec.SizeBytes, &rec.CreatedBy, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}

func Insert(ctx context.Context, tx pgx.Tx, rec Record) (*Record, error) {
	const q = `
INSERT INTO documents (entity_type, entity_id, kind, object_key, file_name, size_bytes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + columns
	kind := rec.Kind
	if kind == "" {
		kind = KindReport
	}
	return scan(tx.QueryRow(ctx, q, rec.EntityType, rec.EntityID, kind, rec.ObjectKey, rec.FileName, rec.SizeBytes, rec.CreatedBy))
}

func ListByEntity(ctx context.Context, q db.Querier, entityType, entityID string) ([]Record, error) {
	const sql = `
SELECT ` + columns + `
FROM documents
WHERE entity_type = $1 AND entity_id = $2
ORDER BY created_at DESC
`
	rows, err := q.Query(ctx, sql, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
