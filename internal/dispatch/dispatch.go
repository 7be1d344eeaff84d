package dispatch

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fieldservice/internal/api"
	"fieldservice/internal/totals"
	"fieldservice/internal/workflow"
)

const EntityType = "dispatch"

const maxEntryMinutes = 24 * 60

// Expense categories accepted on create.
var Categories = []string{"travel", "material", "parking", "meal", "accommodation", "other"}

type Dispatch struct {
	ID             string          `json:"id"`
	Reference      string          `json:"reference"`
	ServiceOrderID *string         `json:"serviceOrderId,omitempty"`
	InstallationID *string         `json:"installationId,omitempty"`
	TechnicianID   *string         `json:"technicianId,omitempty"`
	TechnicianName string          `json:"technicianName,omitempty"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Status         workflow.Status `json:"status"`
	ScheduledAt    *time.Time      `json:"scheduledAt,omitempty"`
	CreatedBy      *string         `json:"createdBy,omitempty"`
	CreatedByName  string          `json:"createdByName,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type TimeEntry struct {
	ID              string          `json:"id"`
	DispatchID      string          `json:"dispatchId"`
	UserID          *string         `json:"userId,omitempty"`
	UserName        string          `json:"userName,omitempty"`
	StartedAt       time.Time       `json:"startedAt"`
	DurationMinutes int             `json:"durationMinutes"`
	HourlyRate      decimal.Decimal `json:"hourlyRate"`
	Description     string          `json:"description,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func (e TimeEntry) EndedAt() time.Time {
	return e.StartedAt.Add(time.Duration(e.DurationMinutes) * time.Minute)
}

func (e TimeEntry) Hours() decimal.Decimal {
	return decimal.NewFromInt(int64(e.DurationMinutes)).Div(decimal.NewFromInt(60))
}

// Line bills the entry as hours x hourly rate.
func (e TimeEntry) Line() totals.Line {
	return totals.Line{Quantity: e.Hours(), UnitPrice: e.HourlyRate}
}

type Expense struct {
	ID          string          `json:"id"`
	DispatchID  string          `json:"dispatchId"`
	UserID      *string         `json:"userId,omitempty"`
	UserName    string          `json:"userName,omitempty"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	IncurredOn  time.Time       `json:"incurredOn"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (e Expense) Line() totals.Line {
	return totals.Line{Quantity: decimal.NewFromInt(1), UnitPrice: e.Amount}
}

// Summary is the cost of a dispatch: labour plus expenses, priced through
// the shared totals calculation.
type Summary struct {
	LabourMinutes int              `json:"labourMinutes"`
	Labour        decimal.Decimal  `json:"labour"`
	Expenses      decimal.Decimal  `json:"expenses"`
	Totals        totals.Totals    `json:"totals"`
	Formatted     totals.Formatted `json:"formattedTotals"`
}

func Summarize(entries []TimeEntry, expenses []Expense, currency string) (Summary, error) {
	var s Summary
	var lines []totals.Line
	for _, e := range entries {
		s.LabourMinutes += e.DurationMinutes
		s.Labour = s.Labour.Add(totals.LineTotal(e.Line(), totals.DefaultCurrencyScale))
		lines = append(lines, e.Line())
	}
	for _, e := range expenses {
		s.Expenses = s.Expenses.Add(totals.LineTotal(e.Line(), totals.DefaultCurrencyScale))
		lines = append(lines, e.Line())
	}
	t, err := totals.Calculate(totals.Input{Lines: lines}, totals.DefaultCurrencyScale)
	if err != nil {
		return Summary{}, err
	}
	s.Totals = t
	s.Formatted = t.Format(currency, totals.DefaultCurrencyScale)
	return s, nil
}

// TimeEntryRequest accepts either a start/end pair or a start plus a
// duration. With only a duration, the entry is taken to end now.
type TimeEntryRequest struct {
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	EndedAt         *time.Time      `json:"endedAt,omitempty"`
	DurationMinutes *int            `json:"durationMinutes,omitempty"`
	HourlyRate      decimal.Decimal `json:"hourlyRate"`
	Description     string          `json:"description"`
}

// Resolve validates the request and returns the start and the duration in
// whole minutes. A partial minute counts as a full one.
func (req TimeEntryRequest) Resolve(now time.Time) (time.Time, int, api.FieldErrors) {
	fields := api.FieldErrors{}
	if req.HourlyRate.IsNegative() {
		fields.Add("hourlyRate", "hourly rate must be >= 0")
	}

	var start, end time.Time
	var minutes int
	switch {
	case req.EndedAt != nil:
		if req.StartedAt == nil {
			fields.Add("startedAt", "startedAt is required with endedAt")
			return time.Time{}, 0, fields
		}
		d := req.EndedAt.Sub(*req.StartedAt)
		if d <= 0 {
			fields.Add("endedAt", "endedAt must be after startedAt")
			return time.Time{}, 0, fields
		}
		start, end = *req.StartedAt, *req.EndedAt
		minutes = int((d + time.Minute - 1) / time.Minute)
		if req.DurationMinutes != nil && *req.DurationMinutes != minutes {
			fields.Add("durationMinutes", "durationMinutes does not match startedAt and endedAt")
		}
	case req.DurationMinutes != nil:
		minutes = *req.DurationMinutes
		if minutes <= 0 {
			fields.Add("durationMinutes", "durationMinutes must be > 0")
			return time.Time{}, 0, fields
		}
		if req.StartedAt != nil {
			start = *req.StartedAt
		} else {
			start = now.Add(-time.Duration(minutes) * time.Minute)
		}
		end = start.Add(time.Duration(minutes) * time.Minute)
	default:
		fields.Add("durationMinutes", "either endedAt or durationMinutes is required")
		return time.Time{}, 0, fields
	}

	if minutes > maxEntryMinutes {
		fields.Add("durationMinutes", "an entry cannot exceed 24 hours")
	}
	switch {
	case start.After(now):
		fields.Add("startedAt", "startedAt cannot be in the future")
	case end.After(now):
		field := "durationMinutes"
		if req.EndedAt != nil {
			field = "endedAt"
		}
		fields.Add(field, "the entry cannot end in the future")
	}
	return start.UTC(), minutes, fields
}

type ExpenseRequest struct {
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	// IncurredOn is a calendar date (2006-01-02); empty means today.
	IncurredOn string `json:"incurredOn"`
}

func (req ExpenseRequest) Resolve(now time.Time) (time.Time, api.FieldErrors) {
	fields := api.FieldErrors{}
	if !slices.Contains(Categories, strings.ToLower(strings.TrimSpace(req.Category))) {
		fields.Add("category", "category must be one of "+strings.Join(Categories, ", "))
	}
	if !req.Amount.IsPositive() {
		fields.Add("amount", "amount must be > 0")
	}

	day := now.UTC().Truncate(24 * time.Hour)
	if raw := strings.TrimSpace(req.IncurredOn); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		switch {
		case err != nil:
			fields.Add("incurredOn", "incurredOn must be a date like 2006-01-02")
		case d.After(day):
			fields.Add("incurredOn", "incurredOn cannot be in the future")
		default:
			day = d
		}
	}
	return day, fields
}

type AssignRequest struct {
	TechnicianID string `json:"technicianId"`
}

// Filter narrows the dispatch list. Empty fields match everything.
type Filter struct {
	Status         workflow.Status
	TechnicianID   string
	ServiceOrderID string
}

// CreateRequest is the body used to open a dispatch from a service order.
type CreateRequest struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	InstallationID *string    `json:"installationId,omitempty"`
	TechnicianID   *string    `json:"technicianId,omitempty"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
}

func (req CreateRequest) Validate() api.FieldErrors {
	fields := api.FieldErrors{}
	if strings.TrimSpace(req.Title) == "" {
		fields.Add("title", "title is required")
	}
	return fields
}
