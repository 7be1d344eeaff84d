// Package transition persists workflow status changes: lock, validate,
// update and log in one transaction.
package transition

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fieldservice/internal/activity"
	"fieldservice/internal/workflow"
)

// Target names the table holding an entity's status column. Table must be
// a constant from this codebase, never request input.
type Target struct {
	Entity string
	Table  string
}

type Result struct {
	EntityID string          `json:"entityId"`
	From     workflow.Status `json:"from"`
	To       workflow.Status `json:"to"`
}

// Apply moves the entity to proposed if the definition allows it from the
// currently stored status. The stored status is normalized first so legacy
// values still resolve. Returns pgx.ErrNoRows for a missing entity and
// workflow.ErrInvalidTransition for a disallowed move.
func Apply(ctx context.Context, tx pgx.Tx, def *workflow.Definition, t Target, id, proposed, actor string) (Result, error) {
	current, err := lockStatus(ctx, tx, t.Table, id)
	if err != nil {
		return Result{}, err
	}

	from, to, err := def.Transition(current, proposed)
	if err != nil {
		return Result{}, err
	}

	if err := setStatus(ctx, tx, t.Table, id, to); err != nil {
		return Result{}, err
	}

	desc := fmt.Sprintf("Status changed from %s to %s", from, to)
	if err := activity.Insert(ctx, tx, t.Entity, id, activity.EventStatusChanged, desc, actor,
		map[string]any{"from": from, "to": to}); err != nil {
		return Result{}, err
	}
	return Result{EntityID: id, From: from, To: to}, nil
}

func lockStatus(ctx context.Context, tx pgx.Tx, table, id string) (string, error) {
	q := `SELECT status FROM ` + pgx.Identifier{table}.Sanitize() + ` WHERE id = $1 FOR UPDATE`
	var st string
	if err := tx.QueryRow(ctx, q, id).Scan(&st); err != nil {
		return "", err
	}
	return st, nil
}

func setStatus(ctx context.Context, tx pgx.Tx, table, id string, next workflow.Status) error {
	q := `UPDATE ` + pgx.Identifier{table}.Sanitize() + ` SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := tx.Exec(ctx, q, string(next), id)
	return err
}
