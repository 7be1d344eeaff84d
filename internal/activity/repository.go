package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"fieldservice/pkg/db"
)

// Activity log event types written by the service.
const (
	EventCreated          = "CREATED"
	EventStatusChanged    = "STATUS_CHANGED"
	EventNoteAdded        = "NOTE_ADDED"
	EventNoteDeleted      = "NOTE_DELETED"
	EventConverted        = "CONVERTED_TO_SERVICE_ORDER"
	EventDispatchCreated  = "DISPATCH_CREATED"
	EventAssigned         = "TECHNICIAN_ASSIGNED"
	EventTimeEntryAdded   = "TIME_ENTRY_ADDED"
	EventTimeEntryDeleted = "TIME_ENTRY_DELETED"
	EventExpenseAdded     = "EXPENSE_ADDED"
	EventExpenseDeleted   = "EXPENSE_DELETED"
	EventDocumentExported = "DOCUMENT_EXPORTED"
)

type Log struct {
	ID          string          `json:"id"`
	EntityType  string          `json:"entityType"`
	EntityID    string          `json:"entityId"`
	EventType   string          `json:"eventType"`
	Description string          `json:"description"`
	Actor       string          `json:"actor"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Insert appends an activity record. It runs inside the caller's
// transaction so the record commits together with the change it describes.
func Insert(ctx context.Context, tx pgx.Tx, entityType, entityID, eventType, description, actor string, data any) error {
	var s *string
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		str := string(b)
		s = &str
	}
	const q = `
INSERT INTO activity_logs (entity_type, entity_id, event_type, description, actor, occurred_at, data)
VALUES ($1, $2, $3, $4, $5, $6, CAST($7 AS jsonb))
`
	_, err := tx.Exec(ctx, q, entityType, entityID, eventType, description, actor, time.Now().UTC(), s)
	return err
}

func ListByEntity(ctx context.Context, q db.Querier, entityType, entityID string) ([]Log, error) {
	const sql = `
SELECT id, entity_type, entity_id, event_type, description, actor, occurred_at, COALESCE(data, '{}'::jsonb)
FROM activity_logs
WHERE entity_type = $1 AND entity_id = $2
ORDER BY occurred_at ASC, id ASC
`
	rows, err := q.Query(ctx, sql, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.EntityType, &l.EntityID, &l.EventType, &l.Description, &l.Actor, &l.OccurredAt, &l.Data); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
