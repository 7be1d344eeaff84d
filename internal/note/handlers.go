package note

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldservice/internal/activity"
	"fieldservice/internal/api"
	"fieldservice/pkg/db"
)

const maxBodyLength = 10000

// Handlers serve the notes of one entity type mounted under /{id}/notes.
type Handlers struct {
	DB     *pgxpool.Pool
	Entity string
	Table  string
	Logger *slog.Logger
}

type CreateRequest struct {
	Body string `json:"body"`
}

func (req CreateRequest) Validate() api.FieldErrors {
	fields := api.FieldErrors{}
	body := strings.TrimSpace(req.Body)
	switch {
	case body == "":
		fields.Add("body", "note cannot be empty")
	case utf8.RuneCountInString(body) > maxBodyLength:
		fields.Add("body", "note is too long")
	}
	return fields
}

func (h Handlers) exists(r *http.Request, id string) (bool, error) {
	q := `SELECT EXISTS (SELECT 1 FROM ` + pgx.Identifier{h.Table}.Sanitize() + ` WHERE id = $1)`
	var ok bool
	err := h.DB.QueryRow(r.Context(), q, id).Scan(&ok)
	return ok, err
}

func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	notes, err := ListByEntity(r.Context(), h.DB, h.Entity, id)
	if err != nil {
		api.Internal(w, r, h.Logger, "list notes failed", err)
		return
	}
	if notes == nil {
		notes = []Note{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": notes})
}

func (h Handlers) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	var req CreateRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if fields := req.Validate(); !fields.Empty() {
		api.WriteValidation(w, fields)
		return
	}

	found, err := h.exists(r, id)
	if err != nil {
		api.Internal(w, r, h.Logger, "lookup entity failed", err)
		return
	}
	if !found {
		api.WriteError(w, http.StatusNotFound, "NOT_FOUND", h.Entity+" not found")
		return
	}

	actor := api.UserFromContext(r.Context()).DisplayName()
	var created *Note
	err = db.WithTx(r.Context(), h.DB, func(tx pgx.Tx) error {
		var err error
		created, err = Insert(r.Context(), tx, h.Entity, id, strings.TrimSpace(req.Body), actor)
		if err != nil {
			return err
		}
		return activity.Insert(r.Context(), tx, h.Entity, id, activity.EventNoteAdded, "Note added", actor,
			map[string]any{"noteId": created.ID})
	})
	if err != nil {
		api.Internal(w, r, h.Logger, "add note failed", err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, created)
}

func (h Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	noteID, ok := api.PathID(w, r, "noteId")
	if !ok {
		return
	}

	actor := api.UserFromContext(r.Context()).DisplayName()
	err := db.WithTx(r.Context(), h.DB, func(tx pgx.Tx) error {
		if _, err := Delete(r.Context(), tx, h.Entity, id, noteID); err != nil {
			return err
		}
		return activity.Insert(r.Context(), tx, h.Entity, id, activity.EventNoteDeleted, "Note deleted", actor,
			map[string]any{"noteId": noteID})
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "note not found")
			return
		}
		api.Internal(w, r, h.Logger, "delete note failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
