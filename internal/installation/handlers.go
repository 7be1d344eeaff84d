package installation

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"

	"fieldservice/internal/api"
)

type Handlers struct {
	Repo   *Repository
	Logger *slog.Logger
}

func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.Repo.List(r.Context())
	if err != nil {
		api.Internal(w, r, h.Logger, "list installations failed", err)
		return
	}
	if items == nil {
		items = []Installation{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	inst, err := h.Repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "installation not found")
			return
		}
		api.Internal(w, r, h.Logger, "get installation failed", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, inst)
}
