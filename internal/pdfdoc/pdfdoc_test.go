package pdfdoc

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldservice/internal/dispatch"
	"fieldservice/internal/installation"
	"fieldservice/internal/note"
	"fieldservice/internal/sale"
	"fieldservice/internal/totals"
	"fieldservice/internal/workflow"
	"fieldservice/pkg/config"
)

const (
	ovenID   = "11111111-1111-4111-8111-111111111111"
	fridgeID = "22222222-2222-4222-8222-222222222222"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(s string) *string { return &s }

func settings() Settings {
	return DefaultSettings(config.PDFConfig{CompanyName: "Acme Services", Currency: "EUR", DateFormat: "02/01/2006"})
}

func installations() map[string]installation.Installation {
	return map[string]installation.Installation{
		ovenID:   {ID: ovenID, Name: "Oven", SerialNumber: "OV-1"},
		fridgeID: {ID: fridgeID, Name: "Fridge"},
	}
}

func sampleSale() sale.Sale {
	return sale.Sale{
		ID:           "s1",
		Reference:    "SA-000042",
		Title:        "Kitchen maintenance",
		CustomerName: "Acme Bakery",
		Currency:     "EUR",
		Status:       "accepted",
		CreatedAt:    time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		Discount:     totals.Adjustment{Type: totals.AdjustmentFixed, Value: d("10")},
		Tax:          totals.Adjustment{Type: totals.AdjustmentPercentage, Value: d("20")},
		FiscalStamp:  d("1"),
		Items: []sale.Item{
			{ID: "i1", Position: 1, Kind: sale.KindService, Description: "Fridge check", InstallationID: ptr(fridgeID), Quantity: d("1"), UnitPrice: d("50")},
			{ID: "i2", Position: 2, Kind: sale.KindService, Description: "Oven service", InstallationID: ptr(ovenID), Quantity: d("2"), UnitPrice: d("80")},
			{ID: "i3", Position: 3, Kind: sale.KindArticle, Description: "Gasket", Quantity: d("4"), UnitPrice: d("2.50")},
			{ID: "i4", Position: 4, Kind: sale.KindService, Description: "Fridge gas refill", InstallationID: ptr(fridgeID), Quantity: d("1"), UnitPrice: d("30")},
		},
	}
}

func fieldValue(t *testing.T, s Section, label string) string {
	t.Helper()
	for _, f := range s.Fields {
		if f.Label == label {
			return f.Value
		}
	}
	t.Fatalf("field %q not found in section %q", label, s.Title)
	return ""
}

func TestComposeSale_TotalsMatchDetail(t *testing.T) {
	s := sampleSale()
	def, err := workflow.MustDefaults().Get(workflow.EntitySale)
	require.NoError(t, err)
	det, err := sale.NewDetail(s, def)
	require.NoError(t, err)

	doc, err := ComposeSale(s, installations(), nil, settings())
	require.NoError(t, err)

	sec, ok := doc.Section(TitleTotals)
	require.True(t, ok)
	assert.Equal(t, det.FormattedTotals.Subtotal, fieldValue(t, sec, "Subtotal"))
	assert.Equal(t, det.FormattedTotals.Discount, fieldValue(t, sec, "Discount"))
	assert.Equal(t, det.FormattedTotals.Tax, fieldValue(t, sec, "Tax"))
	assert.Equal(t, det.FormattedTotals.FiscalStamp, fieldValue(t, sec, "Fiscal stamp"))
	assert.Equal(t, det.FormattedTotals.Total, fieldValue(t, sec, "Total"))
	assert.Equal(t, "Total", sec.Fields[len(sec.Fields)-1].Label)
	assert.Equal(t, "SA-000042.pdf", doc.FileName())
}

func TestComposeSale_GroupsItemsByInstallation(t *testing.T) {
	doc, err := ComposeSale(sampleSale(), installations(), nil, settings())
	require.NoError(t, err)

	sec, ok := doc.Section(TitleItems)
	require.True(t, ok)
	require.NotNil(t, sec.Table)
	groups := sec.Table.Groups
	require.Len(t, groups, 3)

	assert.Equal(t, "Fridge", groups[0].Label)
	require.Len(t, groups[0].Rows, 2)
	assert.Equal(t, "Fridge check", groups[0].Rows[0][0])
	assert.Equal(t, "Fridge gas refill", groups[0].Rows[1][0])

	assert.Equal(t, "Oven (OV-1)", groups[1].Label)
	assert.Equal(t, "160.00", groups[1].Rows[0][5])

	assert.Equal(t, unassignedLabel, groups[2].Label)
	assert.Equal(t, "Gasket", groups[2].Rows[0][0])
	assert.Equal(t, 4, sec.Table.RowCount())
}

func TestComposeSale_UngroupedAndToggles(t *testing.T) {
	st := settings()
	st.GroupByInstallation = false
	st.ShowCustomer = false
	st.ShowSignature = false

	notes := []note.Note{{Body: "Access via back door", Author: "Dana", CreatedAt: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)}}
	doc, err := ComposeSale(sampleSale(), installations(), notes, st)
	require.NoError(t, err)

	_, ok := doc.Section(TitleCustomer)
	assert.False(t, ok)
	_, ok = doc.Section(TitleSignature)
	assert.False(t, ok)

	items, ok := doc.Section(TitleItems)
	require.True(t, ok)
	require.Len(t, items.Table.Groups, 1)
	assert.Empty(t, items.Table.Groups[0].Label)

	ns, ok := doc.Section(TitleNotes)
	require.True(t, ok)
	assert.Equal(t, []string{"05/03/2026, Dana: Access via back door"}, ns.Text)
}

func TestComposeSale_OmitsZeroAdjustments(t *testing.T) {
	s := sampleSale()
	s.Discount = totals.Adjustment{Type: totals.AdjustmentFixed}
	s.FiscalStamp = decimal.Zero

	doc, err := ComposeSale(s, nil, nil, settings())
	require.NoError(t, err)
	sec, ok := doc.Section(TitleTotals)
	require.True(t, ok)

	labels := make([]string, 0, len(sec.Fields))
	for _, f := range sec.Fields {
		labels = append(labels, f.Label)
	}
	assert.Equal(t, []string{"Subtotal", "Tax", "Total"}, labels)
}

func sampleDispatch() (dispatch.Dispatch, []dispatch.TimeEntry, []dispatch.Expense) {
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	dsp := dispatch.Dispatch{
		ID:             "d1",
		Reference:      "DI-000007",
		InstallationID: ptr(ovenID),
		Title:          "Oven service",
		Status:         "in_progress",
		TechnicianName: "Sam Tech",
	}
	entries := []dispatch.TimeEntry{
		{ID: "t1", StartedAt: start, DurationMinutes: 90, HourlyRate: d("60"), UserName: "Sam Tech"},
		{ID: "t2", StartedAt: start.Add(3 * time.Hour), DurationMinutes: 15, HourlyRate: d("60"), UserName: "Sam Tech"},
	}
	expenses := []dispatch.Expense{
		{ID: "e1", Category: "parking", Amount: d("4.50"), IncurredOn: start},
	}
	return dsp, entries, expenses
}

func TestComposeDispatch_TotalMatchesSummary(t *testing.T) {
	dsp, entries, expenses := sampleDispatch()
	summary, err := dispatch.Summarize(entries, expenses, "EUR")
	require.NoError(t, err)

	doc, err := ComposeDispatch(dsp, entries, expenses, installations(), nil, settings())
	require.NoError(t, err)

	sec, ok := doc.Section(TitleTotals)
	require.True(t, ok)
	assert.Equal(t, summary.Formatted.Total, fieldValue(t, sec, "Total"))
	assert.Equal(t, "109.50 EUR", fieldValue(t, sec, "Total"))
	assert.Equal(t, "105.00 EUR", fieldValue(t, sec, "Labour (1:45)"))

	te, ok := doc.Section(TitleTimeEntries)
	require.True(t, ok)
	require.Len(t, te.Table.Groups, 1)
	assert.Equal(t, "Oven (OV-1)", te.Table.Groups[0].Label)
	assert.Equal(t, "1:30", te.Table.Groups[0].Rows[0][3])

	details, ok := doc.Section(TitleDetails)
	require.True(t, ok)
	assert.Equal(t, "Oven (OV-1)", fieldValue(t, details, "Installation"))
}

func TestFormatMinutes(t *testing.T) {
	assert.Equal(t, "0:00", FormatMinutes(0))
	assert.Equal(t, "0:05", FormatMinutes(5))
	assert.Equal(t, "1:45", FormatMinutes(105))
	assert.Equal(t, "24:00", FormatMinutes(1440))
}

func TestRender_ProducesPDF(t *testing.T) {
	doc, err := ComposeSale(sampleSale(), installations(), []note.Note{{Body: "Crème brûlée oven", Author: "Zoë"}}, settings())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, renderAt(&buf, doc, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Contains(t, buf.String(), "%%EOF")
}

func TestRender_EmptyTable(t *testing.T) {
	dsp, _, _ := sampleDispatch()
	doc, err := ComposeDispatch(dsp, nil, nil, nil, nil, settings())
	require.NoError(t, err)

	sec, ok := doc.Section(TitleTimeEntries)
	require.True(t, ok)
	assert.Equal(t, 0, sec.Table.RowCount())

	var buf bytes.Buffer
	require.NoError(t, renderAt(&buf, doc, time.Now()))
	assert.NotZero(t, buf.Len())
}
