package serviceorder

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldservice/internal/activity"
	"fieldservice/internal/api"
	"fieldservice/internal/dispatch"
	"fieldservice/internal/note"
	"fieldservice/internal/notification"
	"fieldservice/pkg/db"
	"fieldservice/pkg/log"
)

type Handlers struct {
	DB         *pgxpool.Pool
	Orders     *Repository
	Dispatches *dispatch.Repository
	Aggregator activity.Aggregator
	Logger     *slog.Logger
}

type Detail struct {
	ServiceOrder
	Items      []Item              `json:"items"`
	Dispatches []dispatch.Dispatch `json:"dispatches"`
}

func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.Orders.List(r.Context())
	if err != nil {
		api.Internal(w, r, h.Logger, "list service orders failed", err)
		return
	}
	if items == nil {
		items = []ServiceOrder{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	o, err := h.Orders.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "service order not found")
			return
		}
		api.Internal(w, r, h.Logger, "load service order failed", err)
		return
	}
	items, err := Items(r.Context(), h.DB, id)
	if err != nil {
		api.Internal(w, r, h.Logger, "load service order items failed", err)
		return
	}
	dispatches, err := h.Dispatches.List(r.Context(), dispatch.Filter{ServiceOrderID: id})
	if err != nil {
		api.Internal(w, r, h.Logger, "load service order dispatches failed", err)
		return
	}
	if items == nil {
		items = []Item{}
	}
	if dispatches == nil {
		dispatches = []dispatch.Dispatch{}
	}
	api.WriteJSON(w, http.StatusOK, Detail{ServiceOrder: *o, Items: items, Dispatches: dispatches})
}

func (h Handlers) Activity(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	o, err := h.Orders.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "service order not found")
			return
		}
		api.Internal(w, r, h.Logger, "load service order failed", err)
		return
	}
	creator := o.CreatedByName
	if creator == "" {
		creator = "system"
	}
	entries := h.Aggregator.Aggregate(r.Context(),
		activity.LogSource(h.DB, EntityType, id),
		note.Source(h.DB, EntityType, id),
		activity.CreatedSource(EntityType, id, o.CreatedAt, creator),
	)
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": entries})
}

// CreateDispatch opens a dispatch for the order. When no installation is
// given and every order line sits on the same installation, that one is
// used.
func (h Handlers) CreateDispatch(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	var req dispatch.CreateRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	fields := req.Validate()
	if req.InstallationID != nil {
		if _, err := uuid.Parse(*req.InstallationID); err != nil {
			fields.Add("installationId", "invalid installation id")
		}
	}
	if req.TechnicianID != nil {
		if _, err := uuid.Parse(*req.TechnicianID); err != nil {
			fields.Add("technicianId", "invalid technician id")
		}
	}
	if !fields.Empty() {
		api.WriteValidation(w, fields)
		return
	}

	u := api.UserFromContext(r.Context())
	var createdBy *string
	if u != nil {
		createdBy = &u.ID
	}
	actor := u.DisplayName()

	var created *dispatch.Dispatch
	err := db.WithTx(r.Context(), h.DB, func(tx pgx.Tx) error {
		o, err := LockExisting(r.Context(), tx, id)
		if err != nil {
			return err
		}

		installationID := req.InstallationID
		if installationID == nil {
			items, err := Items(r.Context(), tx, id)
			if err != nil {
				return err
			}
			installationID = SharedInstallation(items)
		}

		var tech *dispatch.Assignee
		if req.TechnicianID != nil {
			tech, err = dispatch.FindAssignee(r.Context(), tx, *req.TechnicianID)
			if errors.Is(err, pgx.ErrNoRows) {
				api.WriteValidation(w, api.FieldErrors{"technicianId": "unknown technician"})
				return pgx.ErrTxCommitRollback
			}
			if err != nil {
				return err
			}
		}

		created, err = dispatch.Insert(r.Context(), tx, dispatch.NewDispatch{
			ServiceOrderID: &o.ID,
			InstallationID: installationID,
			TechnicianID:   req.TechnicianID,
			Title:          strings.TrimSpace(req.Title),
			Description:    strings.TrimSpace(req.Description),
			ScheduledAt:    req.ScheduledAt,
			CreatedBy:      createdBy,
		})
		if err != nil {
			return err
		}

		if err := activity.Insert(r.Context(), tx, EntityType, o.ID, activity.EventDispatchCreated,
			"Dispatch "+created.Reference+" created", actor,
			map[string]any{"dispatchId": created.ID}); err != nil {
			return err
		}
		if err := activity.Insert(r.Context(), tx, dispatch.EntityType, created.ID, activity.EventCreated,
			"Created from service order "+o.Reference, actor,
			map[string]any{"serviceOrderId": o.ID}); err != nil {
			return err
		}
		if tech != nil {
			if _, err := notification.Insert(r.Context(), tx, tech.ID,
				fmt.Sprintf("Dispatch %s assigned to you", created.Reference), created.Title,
				"/dispatches/"+created.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if err == pgx.ErrTxCommitRollback {
			return
		}
		if errors.Is(err, pgx.ErrNoRows) {
			api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "service order not found")
			return
		}
		api.Internal(w, r, h.Logger, "create dispatch failed", err)
		return
	}

	if h.Logger != nil {
		h.Logger.InfoContext(r.Context(), "dispatch created",
			log.Entity(EntityType, id), slog.String("dispatch_id", created.ID))
	}
	api.WriteJSON(w, http.StatusCreated, created)
}

// SharedInstallation returns the installation every item sits on, or nil
// when the items span several installations or none.
func SharedInstallation(items []Item) *string {
	var shared *string
	for _, it := range items {
		if it.InstallationID == nil {
			return nil
		}
		if shared == nil {
			shared = it.InstallationID
			continue
		}
		if *shared != *it.InstallationID {
			return nil
		}
	}
	return shared
}
