package notification

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5"

	"fieldservice/internal/api"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type Store interface {
	ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) (*Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

type Handlers struct {
	Store  Store
	Logger *slog.Logger
}

// ParseLimit reads ?limit=, clamped to [1, maxLimit].
func ParseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	u := api.UserFromContext(r.Context())
	if u == nil {
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))

	items, err := h.Store.ListForUser(r.Context(), u.ID, unreadOnly, ParseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		api.Internal(w, r, h.Logger, "list notifications failed", err)
		return
	}
	unread, err := h.Store.CountUnread(r.Context(), u.ID)
	if err != nil {
		api.Internal(w, r, h.Logger, "count notifications failed", err)
		return
	}
	if items == nil {
		items = []Notification{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "unread": unread})
}

func (h Handlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	u := api.UserFromContext(r.Context())
	if u == nil {
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	n, err := h.Store.MarkRead(r.Context(), u.ID, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "notification not found")
			return
		}
		api.Internal(w, r, h.Logger, "mark notification read failed", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, n)
}

func (h Handlers) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	u := api.UserFromContext(r.Context())
	if u == nil {
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	n, err := h.Store.MarkAllRead(r.Context(), u.ID)
	if err != nil {
		api.Internal(w, r, h.Logger, "mark notifications read failed", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"updated": n})
}
