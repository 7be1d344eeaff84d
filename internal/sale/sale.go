package sale

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fieldservice/internal/api"
	"fieldservice/internal/totals"
	"fieldservice/internal/workflow"
)

// EntityType is how sales are keyed in notes, activity and documents.
const EntityType = "sale"

type ItemKind string

const (
	KindService ItemKind = "service"
	KindArticle ItemKind = "article"
)

func (k ItemKind) Valid() bool {
	return k == KindService || k == KindArticle
}

type Item struct {
	ID              string          `json:"id"`
	SaleID          string          `json:"saleId"`
	Position        int             `json:"position"`
	Kind            ItemKind        `json:"kind"`
	Description     string          `json:"description"`
	InstallationID  *string         `json:"installationId,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
}

func (i Item) Line() totals.Line {
	return totals.Line{Quantity: i.Quantity, UnitPrice: i.UnitPrice, DiscountPercent: i.DiscountPercent}
}

type Sale struct {
	ID                      string            `json:"id"`
	Reference               string            `json:"reference"`
	Title                   string            `json:"title"`
	CustomerName            string            `json:"customerName"`
	CustomerEmail           string            `json:"customerEmail,omitempty"`
	CustomerAddress         string            `json:"customerAddress,omitempty"`
	Currency                string            `json:"currency"`
	Status                  workflow.Status   `json:"status"`
	Discount                totals.Adjustment `json:"discount"`
	Tax                     totals.Adjustment `json:"tax"`
	FiscalStamp             decimal.Decimal   `json:"fiscalStamp"`
	ConvertedServiceOrderID *string           `json:"convertedServiceOrderId,omitempty"`
	CreatedBy               *string           `json:"createdBy,omitempty"`
	CreatedByName           string            `json:"createdByName,omitempty"`
	CreatedAt               time.Time         `json:"createdAt"`
	UpdatedAt               time.Time         `json:"updatedAt"`
	Items                   []Item            `json:"items,omitempty"`
}

func (s Sale) TotalsInput() totals.Input {
	lines := make([]totals.Line, 0, len(s.Items))
	for _, it := range s.Items {
		lines = append(lines, it.Line())
	}
	return totals.Input{Lines: lines, Discount: s.Discount, Tax: s.Tax, FiscalStamp: s.FiscalStamp}
}

func (s Sale) Totals() (totals.Totals, error) {
	return totals.Calculate(s.TotalsInput(), totals.DefaultCurrencyScale)
}

// ServiceItems returns the service lines in position order.
func (s Sale) ServiceItems() []Item {
	var out []Item
	for _, it := range s.Items {
		if it.Kind == KindService {
			out = append(out, it)
		}
	}
	return out
}

func (s Sale) Converted() bool {
	return s.ConvertedServiceOrderID != nil && *s.ConvertedServiceOrderID != ""
}

// Detail is the single-sale response: the sale with its items, computed
// totals and the stepper view of its status.
type Detail struct {
	Sale
	Totals          totals.Totals    `json:"totals"`
	FormattedTotals totals.Formatted `json:"formattedTotals"`
	Workflow        workflow.View    `json:"workflow"`
}

func NewDetail(s Sale, def *workflow.Definition) (Detail, error) {
	t, err := s.Totals()
	if err != nil {
		return Detail{}, err
	}
	if s.Items == nil {
		s.Items = []Item{}
	}
	return Detail{
		Sale:            s,
		Totals:          t,
		FormattedTotals: t.Format(s.Currency, totals.DefaultCurrencyScale),
		Workflow:        def.View(string(s.Status)),
	}, nil
}

type ItemRequest struct {
	Kind            ItemKind        `json:"kind"`
	Description     string          `json:"description"`
	InstallationID  *string         `json:"installationId,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
}

func (req ItemRequest) validate(prefix string, fields api.FieldErrors) {
	if !req.Kind.Valid() {
		fields.Add(prefix+"kind", "kind must be service or article")
	}
	if strings.TrimSpace(req.Description) == "" {
		fields.Add(prefix+"description", "description is required")
	}
	if req.InstallationID != nil {
		if _, err := uuid.Parse(*req.InstallationID); err != nil {
			fields.Add(prefix+"installationId", "invalid installation id")
		}
	}
	if !req.Quantity.IsPositive() {
		fields.Add(prefix+"quantity", "quantity must be > 0")
	}
	if req.UnitPrice.IsNegative() {
		fields.Add(prefix+"unitPrice", "unit price must be >= 0")
	}
	if req.DiscountPercent.IsNegative() || req.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		fields.Add(prefix+"discountPercent", "discount must be between 0 and 100")
	}
}

func (req ItemRequest) Validate() api.FieldErrors {
	fields := api.FieldErrors{}
	req.validate("", fields)
	return fields
}

func (req ItemRequest) line() totals.Line {
	return totals.Line{Quantity: req.Quantity, UnitPrice: req.UnitPrice, DiscountPercent: req.DiscountPercent}
}

type CreateRequest struct {
	Title           string             `json:"title"`
	CustomerName    string             `json:"customerName"`
	CustomerEmail   string             `json:"customerEmail"`
	CustomerAddress string             `json:"customerAddress"`
	Currency        string             `json:"currency"`
	Discount        *totals.Adjustment `json:"discount,omitempty"`
	Tax             *totals.Adjustment `json:"tax,omitempty"`
	FiscalStamp     decimal.Decimal    `json:"fiscalStamp"`
	Items           []ItemRequest      `json:"items"`
}

// Normalize trims text fields and fills defaults.
func (req *CreateRequest) Normalize(defaultCurrency string) {
	req.Title = strings.TrimSpace(req.Title)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.CustomerAddress = strings.TrimSpace(req.CustomerAddress)
	req.Currency = strings.TrimSpace(req.Currency)
	if req.Currency == "" {
		req.Currency = defaultCurrency
	}
	req.Currency = strings.ToUpper(req.Currency)
	if req.Discount == nil {
		req.Discount = &totals.Adjustment{Type: totals.AdjustmentFixed}
	}
	if req.Tax == nil {
		req.Tax = &totals.Adjustment{Type: totals.AdjustmentPercentage}
	}
	if req.Discount.Type == "" {
		req.Discount.Type = totals.AdjustmentFixed
	}
	if req.Tax.Type == "" {
		req.Tax.Type = totals.AdjustmentPercentage
	}
	for i := range req.Items {
		req.Items[i].Description = strings.TrimSpace(req.Items[i].Description)
	}
}

// Validate checks a normalized request, including that its totals can be
// computed.
func (req CreateRequest) Validate() api.FieldErrors {
	fields := api.FieldErrors{}
	if req.Title == "" {
		fields.Add("title", "title is required")
	}
	if req.CustomerName == "" {
		fields.Add("customerName", "customer name is required")
	}
	if len(req.Currency) != 3 {
		fields.Add("currency", "currency must be a 3-letter code")
	}
	for i, it := range req.Items {
		it.validate("items["+strconv.Itoa(i)+"].", fields)
	}
	if !fields.Empty() {
		return fields
	}

	in := totals.Input{FiscalStamp: req.FiscalStamp}
	if req.Discount != nil {
		in.Discount = *req.Discount
	}
	if req.Tax != nil {
		in.Tax = *req.Tax
	}
	for _, it := range req.Items {
		in.Lines = append(in.Lines, it.line())
	}
	if _, err := totals.Calculate(in, totals.DefaultCurrencyScale); err != nil {
		var ve totals.ValidationError
		if errors.As(err, &ve) {
			fields.Add(totalsField(ve.Code), ve.Message)
		} else {
			fields.Add("items", err.Error())
		}
	}
	return fields
}

func totalsField(code string) string {
	switch {
	case strings.HasPrefix(code, "DISCOUNT"):
		return "discount"
	case strings.HasPrefix(code, "TAX"):
		return "tax"
	case strings.HasPrefix(code, "FISCAL"):
		return "fiscalStamp"
	default:
		return "items"
	}
}

