package sale

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldservice/internal/totals"
	"fieldservice/internal/workflow"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func saleDefinition(t *testing.T) *workflow.Definition {
	t.Helper()
	def, err := workflow.MustDefaults().Get(workflow.EntitySale)
	require.NoError(t, err)
	return def
}

func sampleSale() Sale {
	inst := "9e3f3a1c-7b55-4c1e-a6a4-0b8f1b2c3d4e"
	return Sale{
		ID:           "s1",
		Reference:    "SA-000001",
		CustomerName: "Acme Bakery",
		Currency:     "EUR",
		Status:       "accepted",
		Tax:          totals.Adjustment{Type: totals.AdjustmentPercentage, Value: d("20")},
		Items: []Item{
			{ID: "i1", Position: 1, Kind: KindArticle, Description: "Filter", Quantity: d("2"), UnitPrice: d("15")},
			{ID: "i2", Position: 2, Kind: KindService, Description: "Oven service", InstallationID: &inst, Quantity: d("3"), UnitPrice: d("80")},
			{ID: "i3", Position: 3, Kind: KindService, Description: "Travel", Quantity: d("1"), UnitPrice: d("40")},
		},
	}
}

func TestPlanConversion_TakesServiceLinesInOrder(t *testing.T) {
	p, err := PlanConversion(sampleSale())
	require.NoError(t, err)

	require.Len(t, p.Items, 2)
	assert.Equal(t, "Oven service", p.Items[0].Description)
	assert.Equal(t, 1, p.Items[0].Position)
	assert.Equal(t, "i2", *p.Items[0].SaleItemID)
	assert.NotNil(t, p.Items[0].InstallationID)
	assert.Equal(t, "Travel", p.Items[1].Description)
	assert.Equal(t, 2, p.Items[1].Position)
	assert.Equal(t, "Acme Bakery", p.CustomerName)
}

func TestPlanConversion_Errors(t *testing.T) {
	s := sampleSale()
	s.Items = s.Items[:1]
	_, err := PlanConversion(s)
	assert.ErrorIs(t, err, ErrNoServiceItems)

	s = sampleSale()
	so := "so-1"
	s.ConvertedServiceOrderID = &so
	_, err = PlanConversion(s)
	assert.ErrorIs(t, err, ErrAlreadyConverted)
}

func TestNewDetail_TotalsAndWorkflow(t *testing.T) {
	det, err := NewDetail(sampleSale(), saleDefinition(t))
	require.NoError(t, err)

	assert.Equal(t, "310.00", det.Totals.Subtotal.StringFixed(2))
	assert.Equal(t, "62.00", det.Totals.Tax.StringFixed(2))
	assert.Equal(t, "372.00 EUR", det.FormattedTotals.Total)
	assert.Equal(t, workflow.Status("in_progress"), det.Workflow.Next)
	assert.Contains(t, det.Workflow.Eligible, workflow.Status("cancelled"))

	b, err := json.Marshal(det)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"reference":"SA-000001"`)
	assert.Contains(t, string(b), `"formattedTotals"`)
}

func TestCreateRequest_Validate(t *testing.T) {
	valid := CreateRequest{
		Title:        "Annual maintenance",
		CustomerName: "Acme Bakery",
		Items: []ItemRequest{
			{Kind: KindService, Description: "Oven service", Quantity: d("1"), UnitPrice: d("100")},
		},
	}
	valid.Normalize("eur")
	assert.Equal(t, "EUR", valid.Currency)
	assert.True(t, valid.Validate().Empty())

	bad := CreateRequest{
		Items: []ItemRequest{
			{Kind: "gadget", Quantity: d("0"), UnitPrice: d("-1"), DiscountPercent: d("120")},
		},
	}
	bad.Normalize("EUR")
	fields := bad.Validate()
	for _, f := range []string{"title", "customerName", "items[0].kind", "items[0].description", "items[0].quantity", "items[0].unitPrice", "items[0].discountPercent"} {
		assert.Contains(t, fields, f)
	}
}

func TestCreateRequest_ValidateTotals(t *testing.T) {
	req := CreateRequest{
		Title:        "Repair",
		CustomerName: "Acme",
		Discount:     &totals.Adjustment{Type: totals.AdjustmentFixed, Value: d("500")},
		Items: []ItemRequest{
			{Kind: KindArticle, Description: "Valve", Quantity: d("1"), UnitPrice: d("10")},
		},
	}
	req.Normalize("EUR")
	assert.Contains(t, req.Validate(), "discount")

	req.Discount = &totals.Adjustment{}
	req.Tax = &totals.Adjustment{Type: "weird", Value: d("1")}
	assert.Contains(t, req.Validate(), "tax")
}

func TestCreate_RejectsInvalidBody(t *testing.T) {
	h := Handlers{DefaultCurrency: "EUR"}
	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/v1/sales", strings.NewReader(`{"title":""}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/v1/sales", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddItem_RejectsInvalidItem(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/v1/sales/{id}/items", Handlers{}.AddItem)

	rec := httptest.NewRecorder()
	body := `{"kind":"service","description":"x","quantity":"-1","unitPrice":"5"}`
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sales/6a1d3c7e-8b2f-4d9a-9c1e-2f3a4b5c6d7e/items", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestList_RejectsUnknownStatus(t *testing.T) {
	h := Handlers{Workflow: saleDefinition(t)}
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/sales?status=teleported", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
