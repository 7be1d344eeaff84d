package sale

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldservice/internal/activity"
	"fieldservice/internal/api"
	"fieldservice/internal/note"
	"fieldservice/internal/totals"
	"fieldservice/internal/transition"
	"fieldservice/internal/workflow"
	"fieldservice/pkg/db"
	"fieldservice/pkg/log"
)

var Target = transition.Target{Entity: EntityType, Table: "sales"}

type Handlers struct {
	DB              *pgxpool.Pool
	Sales           *Repository
	Workflow        *workflow.Definition
	Converter       Converter
	Aggregator      activity.Aggregator
	DefaultCurrency string
	Logger          *slog.Logger
}

type ListItem struct {
	Sale
	Total          string `json:"total"`
	FormattedTotal string `json:"formattedTotal"`
}

func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	var status workflow.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		st, ok := h.Workflow.Normalize(raw)
		if !ok {
			api.WriteValidation(w, api.FieldErrors{"status": "unknown status"})
			return
		}
		status = st
	}

	sales, err := h.Sales.List(r.Context(), status)
	if err != nil {
		api.Internal(w, r, h.Logger, "list sales failed", err)
		return
	}
	totalsBySale, err := h.listTotals(r, sales)
	if err != nil {
		api.Internal(w, r, h.Logger, "list sale totals failed", err)
		return
	}

	out := make([]ListItem, 0, len(sales))
	for _, s := range sales {
		t := totalsBySale[s.ID]
		out = append(out, ListItem{
			Sale:           s,
			Total:          t.Total.StringFixed(int32(totals.DefaultCurrencyScale)),
			FormattedTotal: totals.Format(t.Total, s.Currency, totals.DefaultCurrencyScale),
		})
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

// listTotals prices every listed sale. A sale whose stored values no longer
// validate is listed with zero totals rather than failing the list.
func (h Handlers) listTotals(r *http.Request, sales []Sale) (map[string]totals.Totals, error) {
	ids := make([]string, 0, len(sales))
	for _, s := range sales {
		ids = append(ids, s.ID)
	}
	items, err := ItemsBySales(r.Context(), h.DB, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[string]totals.Totals, len(sales))
	for _, s := range sales {
		s.Items = items[s.ID]
		t, err := s.Totals()
		if err != nil {
			h.logger().WarnContext(r.Context(), "sale totals invalid", log.Entity(EntityType, s.ID), log.Error(err))
			continue
		}
		out[s.ID] = t
	}
	return out, nil
}

func (h Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	s, err := h.Sales.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "load sale failed")
		return
	}
	h.writeDetail(w, r, http.StatusOK, s)
}

func (h Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	req.Normalize(h.DefaultCurrency)
	if fields := req.Validate(); !fields.Empty() {
		api.WriteValidation(w, fields)
		return
	}

	u := api.UserFromContext(r.Context())
	var createdBy *string
	if u != nil {
		createdBy = &u.ID
	}

	var created *Sale
	err := db.WithTx(r.Context(), h.DB, func(tx pgx.Tx) error {
		var err error
		created, err = Insert(r.Context(), tx, req, createdBy)
		if err != nil {
			return err
		}
		return activity.Insert(r.Context(), tx, EntityType, created.ID, activity.EventCreated,
			"Sale "+created.Reference+" created", u.DisplayName(),
			map[string]any{"items": len(req.Items)})
	})
	if err != nil {
		api.Internal(w, r, h.Logger, "create sale failed", err)
		return
	}

	h.logger().InfoContext(r.Context(), "sale created", log.Entity(EntityType, created.ID))
	h.writeDetail(w, r, http.StatusCreated, created)
}

// AddItem appends a line. The sale's totals must still validate with the
// new line, and a converted or terminal sale cannot change.
func (h Handlers) AddItem(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	var req ItemRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	req.Description = strings.TrimSpace(req.Description)
	if fields := req.Validate(); !fields.Empty() {
		api.WriteValidation(w, fields)
		return
	}

	var updated *Sale
	err := db.WithTx(r.Context(), h.DB, func(tx pgx.Tx) error {
		s, err := GetForUpdate(r.Context(), tx, id)
		if err != nil {
			return err
		}
		if s.Converted() {
			return ErrAlreadyConverted
		}
		if h.Workflow.Locate(string(s.Status)).Terminal {
			api.WriteError(w, http.StatusConflict, "SALE_CLOSED", "sale is closed")
			return pgx.ErrTxCommitRollback
		}

		s.Items = append(s.Items, Item{Quantity: req.Quantity, UnitPrice: req.UnitPrice, DiscountPercent: req.DiscountPercent})
		if _, err := s.Totals(); err != nil {
			var ve totals.ValidationError
			if errors.As(err, &ve) {
				api.WriteValidation(w, api.FieldErrors{totalsField(ve.Code): ve.Message})
				return pgx.ErrTxCommitRollback
			}
			return err
		}

		pos, err := NextPosition(r.Context(), tx, id)
		if err != nil {
			return err
		}
		if _, err := InsertItem(r.Context(), tx, id, pos, req); err != nil {
			return err
		}
		if _, err := tx.Exec(r.Context(), `UPDATE sales SET updated_at = NOW() WHERE id = $1`, id); err != nil {
			return err
		}
		updated, err = GetForUpdate(r.Context(), tx, id)
		return err
	})
	if err != nil {
		if err == pgx.ErrTxCommitRollback {
			return
		}
		h.writeError(w, r, err, "add sale item failed")
		return
	}
	h.writeDetail(w, r, http.StatusCreated, updated)
}

func (h Handlers) Activity(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	s, err := h.Sales.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "load sale failed")
		return
	}
	creator := s.CreatedByName
	if creator == "" {
		creator = "system"
	}
	entries := h.Aggregator.Aggregate(r.Context(),
		activity.LogSource(h.DB, EntityType, id),
		note.Source(h.DB, EntityType, id),
		activity.CreatedSource(EntityType, id, s.CreatedAt, creator),
	)
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h Handlers) Convert(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.Converter.Convert(r.Context(), id, api.UserFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err, "convert sale failed")
		return
	}
	api.WriteJSON(w, http.StatusCreated, res)
}

func (h Handlers) writeDetail(w http.ResponseWriter, r *http.Request, status int, s *Sale) {
	d, err := NewDetail(*s, h.Workflow)
	if err != nil {
		api.Internal(w, r, h.Logger, "compute sale totals failed", err)
		return
	}
	api.WriteJSON(w, status, d)
}

func (h Handlers) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "sale not found")
	case errors.Is(err, ErrNoServiceItems):
		api.WriteError(w, http.StatusConflict, "NO_SERVICE_ITEMS", err.Error())
	case errors.Is(err, ErrAlreadyConverted):
		api.WriteError(w, http.StatusConflict, "ALREADY_CONVERTED", err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition):
		api.WriteError(w, http.StatusConflict, "INVALID_STATE_TRANSITION", err.Error())
	default:
		api.Internal(w, r, h.Logger, msg, err)
	}
}

func (h Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
