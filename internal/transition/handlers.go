package transition

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"

	"fieldservice/internal/api"
	"fieldservice/internal/realtime"
	"fieldservice/internal/workflow"
	"fieldservice/pkg/db"
	"fieldservice/pkg/log"
)

// Pool is the part of *pgxpool.Pool the handlers use.
type Pool interface {
	db.TxStarter
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Handlers serve the stepper view and the transition endpoint of one entity.
type Handlers struct {
	DB         Pool
	Definition *workflow.Definition
	Target     Target
	Hub        *realtime.Hub
	Logger     *slog.Logger
}

type PatchRequest struct {
	Status string `json:"status"`
}

// WorkflowID is the realtime channel status changes of an entity are
// published on.
func WorkflowID(entity string) string {
	return entity + "-status"
}

func (h Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}

	q := `SELECT status FROM ` + pgx.Identifier{h.Target.Table}.Sanitize() + ` WHERE id = $1`
	var st string
	if err := h.DB.QueryRow(r.Context(), q, id).Scan(&st); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			api.WriteError(w, http.StatusNotFound, "NOT_FOUND", h.Target.Entity+" not found")
			return
		}
		api.Internal(w, r, h.Logger, "load status failed", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, h.Definition.View(st))
}

func (h Handlers) Patch(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}

	var req PatchRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.Status == "" {
		api.WriteValidation(w, api.FieldErrors{"status": "status is required"})
		return
	}

	actor := api.UserFromContext(r.Context()).DisplayName()

	var res Result
	err := db.WithTx(r.Context(), h.DB, func(tx pgx.Tx) error {
		var err error
		res, err = Apply(r.Context(), tx, h.Definition, h.Target, id, req.Status, actor)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		api.WriteError(w, http.StatusNotFound, "NOT_FOUND", h.Target.Entity+" not found")
		return
	case errors.Is(err, workflow.ErrInvalidTransition):
		api.WriteError(w, http.StatusConflict, "INVALID_STATE_TRANSITION", err.Error())
		return
	default:
		api.Internal(w, r, h.Logger, "status transition failed", err)
		return
	}

	if h.Logger != nil {
		h.Logger.InfoContext(r.Context(), "status changed",
			log.Entity(h.Target.Entity, id), log.Status(res.To), slog.String("from", string(res.From)))
	}
	h.Hub.Publish(realtime.Event{
		Type:       realtime.StatusChanged,
		WorkflowID: WorkflowID(h.Target.Entity),
		Message:    string(res.To),
		Data:       res,
	})

	api.WriteJSON(w, http.StatusOK, h.Definition.View(string(res.To)))
}
