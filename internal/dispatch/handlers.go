package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldservice/internal/activity"
	"fieldservice/internal/api"
	"fieldservice/internal/note"
	"fieldservice/internal/notification"
	"fieldservice/internal/realtime"
	"fieldservice/internal/transition"
	"fieldservice/internal/workflow"
	"fieldservice/pkg/db"
	"fieldservice/pkg/log"
)

var Target = transition.Target{Entity: EntityType, Table: "dispatches"}

var (
	ErrClosed            = errors.New("dispatch is closed")
	errUnknownTechnician = errors.New("unknown technician")
)

const statusAssigned workflow.Status = "assigned"

type Handlers struct {
	DB         *pgxpool.Pool
	Dispatches *Repository
	Workflow   *workflow.Definition
	Hub        *realtime.Hub
	Aggregator activity.Aggregator
	Currency   string
	Logger     *slog.Logger
	Now        func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

type Detail struct {
	Dispatch
	Workflow    workflow.View `json:"workflow"`
	TimeEntries []TimeEntry   `json:"timeEntries"`
	Expenses    []Expense     `json:"expenses"`
	Summary     Summary       `json:"summary"`
}

// ParseFilter reads list filters from the query string. technician=me
// resolves to the calling user.
func ParseFilter(r *http.Request, def *workflow.Definition) (Filter, api.FieldErrors) {
	fields := api.FieldErrors{}
	q := r.URL.Query()
	var f Filter

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, ok := def.Normalize(raw)
		if !ok {
			fields.Add("status", "unknown status")
		}
		f.Status = st
	}

	switch raw := strings.TrimSpace(q.Get("technician")); raw {
	case "":
	case "me":
		if u := api.UserFromContext(r.Context()); u != nil {
			f.TechnicianID = u.ID
		}
	default:
		if _, err := uuid.Parse(raw); err != nil {
			fields.Add("technician", "invalid technician id")
		}
		f.TechnicianID = raw
	}

	if raw := strings.TrimSpace(q.Get("serviceOrderId")); raw != "" {
		if _, err := uuid.Parse(raw); err != nil {
			fields.Add("serviceOrderId", "invalid service order id")
		}
		f.ServiceOrderID = raw
	}
	return f, fields
}

func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	f, fields := ParseFilter(r, h.Workflow)
	if !fields.Empty() {
		api.WriteValidation(w, fields)
		return
	}
	items, err := h.Dispatches.List(r.Context(), f)
	if err != nil {
		api.Internal(w, r, h.Logger, "list dispatches failed", err)
		return
	}
	if items == nil {
		items = []Dispatch{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.detail(r, id)
	if err != nil {
		h.writeError(w, r, err, "load dispatch failed")
		return
	}
	api.WriteJSON(w, http.StatusOK, detail)
}

func (h Handlers) detail(r *http.Request, id string) (*Detail, error) {
	d, err := h.Dispatches.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	entries, err := ListTimeEntries(r.Context(), h.DB, id)
	if err != nil {
		return nil, err
	}
	expenses, err := ListExpenses(r.Context(), h.DB, id)
	if err != nil {
		return nil, err
	}
	summary, err := Summarize(entries, expenses, h.Currency)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []TimeEntry{}
	}
	if expenses == nil {
		expenses = []Expense{}
	}
	return &Detail{
		Dispatch:    *d,
		Workflow:    h.Workflow.View(string(d.Status)),
		TimeEntries: entries,
		Expenses:    expenses,
		Summary:     summary,
	}, nil
}

// Assign sets the technician, notifies them and moves a pending dispatch to
// assigned.
func (h Handlers) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	var req AssignRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if _, err := uuid.Parse(req.TechnicianID); err != nil {
		api.WriteValidation(w, api.FieldErrors{"technicianId": "invalid technician id"})
		return
	}

	actor := api.UserFromContext(r.Context()).DisplayName()
	var moved *transition.Result
	err := db.WithTx(r.Context(), h.DB, func(tx pgx.Tx) error {
		d, err := GetForUpdate(r.Context(), tx, id)
		if err != nil {
			return err
		}
		if h.Workflow.Locate(string(d.Status)).Terminal {
			return ErrClosed
		}
		tech, err := FindAssignee(r.Context(), tx, req.TechnicianID)
		if errors.Is(err, pgx.ErrNoRows) {
			return errUnknownTechnician
		}
		if err != nil {
			return err
		}

		if err := SetTechnician(r.Context(), tx, id, tech.ID); err != nil {
			return err
		}
		if err := activity.Insert(r.Context(), tx, EntityType, id, activity.EventAssigned,
			"Assigned to "+tech.Name, actor,
			map[string]any{"technicianId": tech.ID, "previousTechnicianId": d.TechnicianID}); err != nil {
			return err
		}
		if _, err := notification.Insert(r.Context(), tx, tech.ID,
			fmt.Sprintf("Dispatch %s assigned to you", d.Reference), d.Title, "/dispatches/"+id); err != nil {
			return err
		}

		if h.Workflow.CanTransition(string(d.Status), string(statusAssigned)) {
			res, err := transition.Apply(r.Context(), tx, h.Workflow, Target, id, string(statusAssigned), actor)
			if err != nil {
				return err
			}
			moved = &res
		}
		return nil
	})
	if err != nil {
		h.writeError(w, r, err, "assign technician failed")
		return
	}

	if moved != nil {
		h.Hub.Publish(realtime.Event{
			Type:       realtime.StatusChanged,
			WorkflowID: transition.WorkflowID(EntityType),
			Message:    string(moved.To),
			Data:       moved,
		})
	}
	if h.Logger != nil {
		h.Logger.InfoContext(r.Context(), "technician assigned",
			log.Entity(EntityType, id), slog.String("technician_id", req.TechnicianID))
	}

	detail, err := h.detail(r, id)
	if err != nil {
		h.writeError(w, r, err, "load dispatch failed")
		return
	}
	api.WriteJSON(w, http.StatusOK, detail)
}

func (h Handlers) Activity(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	d, err := h.Dispatches.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "load dispatch failed")
		return
	}
	creator := d.CreatedByName
	if creator == "" {
		creator = "system"
	}
	entries := h.Aggregator.Aggregate(r.Context(),
		activity.LogSource(h.DB, EntityType, id),
		note.Source(h.DB, EntityType, id),
		activity.CreatedSource(EntityType, id, d.CreatedAt, creator),
	)
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h Handlers) ListTimeEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	items, err := ListTimeEntries(r.Context(), h.DB, id)
	if err != nil {
		api.Internal(w, r, h.Logger, "list time entries failed", err)
		return
	}
	if items == nil {
		items = []TimeEntry{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h Handlers) CreateTimeEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	var req TimeEntryRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	start, minutes, fields := req.Resolve(h.now())
	if !fields.Empty() {
		api.WriteValidation(w, fields)
		return
	}

	u := api.UserFromContext(r.Context())
	entry := TimeEntry{
		DispatchID:      id,
		StartedAt:       start,
		DurationMinutes: minutes,
		HourlyRate:      req.HourlyRate,
		Description:     strings.TrimSpace(req.Description),
	}
	if u != nil {
		entry.UserID = &u.ID
	}

	var created *TimeEntry
	err := h.mutate(r, id, func(tx pgx.Tx, _ *Dispatch) error {
		var err error
		created, err = InsertTimeEntry(r.Context(), tx, entry)
		if err != nil {
			return err
		}
		return activity.Insert(r.Context(), tx, EntityType, id, activity.EventTimeEntryAdded,
			fmt.Sprintf("Logged %d minutes", minutes), u.DisplayName(),
			map[string]any{"timeEntryId": created.ID, "durationMinutes": minutes})
	})
	if err != nil {
		h.writeError(w, r, err, "add time entry failed")
		return
	}
	api.WriteJSON(w, http.StatusCreated, created)
}

func (h Handlers) DeleteTimeEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	entryID, ok := api.PathID(w, r, "entryId")
	if !ok {
		return
	}
	actor := api.UserFromContext(r.Context()).DisplayName()
	err := h.mutate(r, id, func(tx pgx.Tx, _ *Dispatch) error {
		if err := DeleteTimeEntry(r.Context(), tx, id, entryID); err != nil {
			return err
		}
		return activity.Insert(r.Context(), tx, EntityType, id, activity.EventTimeEntryDeleted,
			"Time entry deleted", actor, map[string]any{"timeEntryId": entryID})
	})
	if err != nil {
		h.writeError(w, r, err, "delete time entry failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h Handlers) ListExpenses(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	items, err := ListExpenses(r.Context(), h.DB, id)
	if err != nil {
		api.Internal(w, r, h.Logger, "list expenses failed", err)
		return
	}
	if items == nil {
		items = []Expense{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h Handlers) CreateExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	var req ExpenseRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	day, fields := req.Resolve(h.now())
	if !fields.Empty() {
		api.WriteValidation(w, fields)
		return
	}

	u := api.UserFromContext(r.Context())
	exp := Expense{
		DispatchID:  id,
		Category:    strings.ToLower(strings.TrimSpace(req.Category)),
		Description: strings.TrimSpace(req.Description),
		Amount:      req.Amount,
		IncurredOn:  day,
	}
	if u != nil {
		exp.UserID = &u.ID
	}

	var created *Expense
	err := h.mutate(r, id, func(tx pgx.Tx, _ *Dispatch) error {
		var err error
		created, err = InsertExpense(r.Context(), tx, exp)
		if err != nil {
			return err
		}
		return activity.Insert(r.Context(), tx, EntityType, id, activity.EventExpenseAdded,
			fmt.Sprintf("Expense %s: %s", exp.Category, exp.Amount.StringFixed(2)), u.DisplayName(),
			map[string]any{"expenseId": created.ID, "amount": exp.Amount.String()})
	})
	if err != nil {
		h.writeError(w, r, err, "add expense failed")
		return
	}
	api.WriteJSON(w, http.StatusCreated, created)
}

func (h Handlers) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := api.PathID(w, r, "id")
	if !ok {
		return
	}
	expenseID, ok := api.PathID(w, r, "expenseId")
	if !ok {
		return
	}
	actor := api.UserFromContext(r.Context()).DisplayName()
	err := h.mutate(r, id, func(tx pgx.Tx, _ *Dispatch) error {
		if err := DeleteExpense(r.Context(), tx, id, expenseID); err != nil {
			return err
		}
		return activity.Insert(r.Context(), tx, EntityType, id, activity.EventExpenseDeleted,
			"Expense deleted", actor, map[string]any{"expenseId": expenseID})
	})
	if err != nil {
		h.writeError(w, r, err, "delete expense failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mutate locks the dispatch and runs fn unless the dispatch is in a
// terminal status.
func (h Handlers) mutate(r *http.Request, id string, fn func(tx pgx.Tx, d *Dispatch) error) error {
	return db.WithTx(r.Context(), h.DB, func(tx pgx.Tx) error {
		d, err := GetForUpdate(r.Context(), tx, id)
		if err != nil {
			return err
		}
		if h.Workflow.Locate(string(d.Status)).Terminal {
			return ErrClosed
		}
		return fn(tx, d)
	})
}

func (h Handlers) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, ErrClosed):
		api.WriteError(w, http.StatusConflict, "DISPATCH_CLOSED", err.Error())
	case errors.Is(err, errUnknownTechnician):
		api.WriteValidation(w, api.FieldErrors{"technicianId": "unknown technician"})
	case errors.Is(err, workflow.ErrInvalidTransition):
		api.WriteError(w, http.StatusConflict, "INVALID_STATE_TRANSITION", err.Error())
	default:
		api.Internal(w, r, h.Logger, msg, err)
	}
}
