package pdfdoc

import (
	"fmt"
	"strings"

	"fieldservice/internal/dispatch"
	"fieldservice/internal/installation"
	"fieldservice/internal/note"
	"fieldservice/internal/sale"
	"fieldservice/internal/totals"
)

// Section titles.
const (
	TitleCustomer    = "Customer"
	TitleItems       = "Items"
	TitleDetails     = "Details"
	TitleTimeEntries = "Time entries"
	TitleExpenses    = "Expenses"
	TitleNotes       = "Notes"
	TitleTotals      = "Totals"
	TitleSignature   = "Signature"
)

const unassignedLabel = "Other items"

// ComposeSale lays out a sale with its items. Totals are the same formatted
// strings the JSON detail returns.
func ComposeSale(s sale.Sale, installations map[string]installation.Installation, notes []note.Note, st Settings) (Document, error) {
	t, err := s.Totals()
	if err != nil {
		return Document{}, fmt.Errorf("sale totals: %w", err)
	}
	currency := s.Currency
	if currency == "" {
		currency = st.Currency
	}

	doc := Document{
		Company:   st.CompanyName,
		Title:     "Quote " + s.Reference,
		Reference: s.Reference,
		Meta: []Field{
			{Label: "Reference", Value: s.Reference},
			{Label: "Date", Value: s.CreatedAt.Format(st.dateFormat())},
			{Label: "Status", Value: humanize(string(s.Status))},
			{Label: "Subject", Value: s.Title},
		},
	}

	if st.ShowCustomer {
		fields := []Field{{Label: "Name", Value: s.CustomerName}}
		if s.CustomerEmail != "" {
			fields = append(fields, Field{Label: "Email", Value: s.CustomerEmail})
		}
		if s.CustomerAddress != "" {
			fields = append(fields, Field{Label: "Address", Value: s.CustomerAddress})
		}
		doc.Sections = append(doc.Sections, Section{Title: TitleCustomer, Kind: SectionFields, Fields: fields})
	}

	if st.ShowItems {
		table := &Table{Columns: []Column{
			{Header: "Description", Weight: 5, Align: AlignLeft},
			{Header: "Type", Weight: 2, Align: AlignLeft},
			{Header: "Qty", Weight: 1.5, Align: AlignRight},
			{Header: "Unit price", Weight: 2, Align: AlignRight},
			{Header: "Disc. %", Weight: 1.5, Align: AlignRight},
			{Header: "Amount", Weight: 2.5, Align: AlignRight},
		}}
		keyed := make([]keyedRow, 0, len(s.Items))
		for _, it := range s.Items {
			keyed = append(keyed, keyedRow{
				key: deref(it.InstallationID),
				row: []string{
					it.Description,
					humanize(string(it.Kind)),
					it.Quantity.String(),
					totals.Format(it.UnitPrice, "", totals.DefaultCurrencyScale),
					it.DiscountPercent.String(),
					totals.Format(totals.LineTotal(it.Line(), totals.DefaultCurrencyScale), "", totals.DefaultCurrencyScale),
				},
			})
		}
		table.Groups = groupRows(keyed, installations, st.GroupByInstallation)
		doc.Sections = append(doc.Sections, Section{Title: TitleItems, Kind: SectionTable, Table: table})
	}

	if st.ShowTotals {
		f := t.Format(currency, totals.DefaultCurrencyScale)
		fields := []Field{{Label: "Subtotal", Value: f.Subtotal}}
		if !t.Discount.IsZero() {
			fields = append(fields,
				Field{Label: "Discount", Value: f.Discount},
				Field{Label: "After discount", Value: f.AfterDiscount})
		}
		fields = append(fields, Field{Label: "Tax", Value: f.Tax})
		if !t.FiscalStamp.IsZero() {
			fields = append(fields, Field{Label: "Fiscal stamp", Value: f.FiscalStamp})
		}
		fields = append(fields, Field{Label: "Total", Value: f.Total})
		doc.Sections = append(doc.Sections, Section{Title: TitleTotals, Kind: SectionTotals, Fields: fields})
	}

	doc.Sections = appendNotes(doc.Sections, notes, st)
	if st.ShowSignature {
		doc.Sections = append(doc.Sections, Section{Title: TitleSignature, Kind: SectionSignature,
			Fields: []Field{{Label: "Customer"}, {Label: "Date"}}})
	}
	return doc, nil
}

// ComposeDispatch lays out a dispatch report. Labour and expense rows sit
// under the dispatch's installation.
func ComposeDispatch(
	d dispatch.Dispatch,
	entries []dispatch.TimeEntry,
	expenses []dispatch.Expense,
	installations map[string]installation.Installation,
	notes []note.Note,
	st Settings,
) (Document, error) {
	summary, err := dispatch.Summarize(entries, expenses, st.Currency)
	if err != nil {
		return Document{}, fmt.Errorf("dispatch totals: %w", err)
	}

	meta := []Field{
		{Label: "Reference", Value: d.Reference},
		{Label: "Status", Value: humanize(string(d.Status))},
	}
	if d.ScheduledAt != nil {
		meta = append(meta, Field{Label: "Scheduled", Value: d.ScheduledAt.Format(st.dateFormat() + " 15:04")})
	}
	if d.TechnicianName != "" {
		meta = append(meta, Field{Label: "Technician", Value: d.TechnicianName})
	}
	doc := Document{
		Company:   st.CompanyName,
		Title:     "Service report " + d.Reference,
		Reference: d.Reference,
		Meta:      meta,
	}

	if st.ShowCustomer {
		fields := []Field{{Label: "Title", Value: d.Title}}
		if d.Description != "" {
			fields = append(fields, Field{Label: "Description", Value: d.Description})
		}
		if inst, ok := installations[deref(d.InstallationID)]; ok {
			fields = append(fields, Field{Label: "Installation", Value: inst.Label()})
			if inst.CustomerName != "" {
				fields = append(fields, Field{Label: "Customer", Value: inst.CustomerName})
			}
			if inst.Address != "" {
				fields = append(fields, Field{Label: "Address", Value: inst.Address})
			}
		}
		doc.Sections = append(doc.Sections, Section{Title: TitleDetails, Kind: SectionFields, Fields: fields})
	}

	key := deref(d.InstallationID)
	if st.ShowTimeEntries {
		table := &Table{Columns: []Column{
			{Header: "Date", Weight: 2, Align: AlignLeft},
			{Header: "Technician", Weight: 2.5, Align: AlignLeft},
			{Header: "Description", Weight: 4, Align: AlignLeft},
			{Header: "Duration", Weight: 1.5, Align: AlignRight},
			{Header: "Rate", Weight: 1.5, Align: AlignRight},
			{Header: "Amount", Weight: 2, Align: AlignRight},
		}}
		keyed := make([]keyedRow, 0, len(entries))
		for _, e := range entries {
			keyed = append(keyed, keyedRow{key: key, row: []string{
				e.StartedAt.Format(st.dateFormat()),
				e.UserName,
				e.Description,
				FormatMinutes(e.DurationMinutes),
				totals.Format(e.HourlyRate, "", totals.DefaultCurrencyScale),
				totals.Format(totals.LineTotal(e.Line(), totals.DefaultCurrencyScale), "", totals.DefaultCurrencyScale),
			}})
		}
		table.Groups = groupRows(keyed, installations, st.GroupByInstallation)
		doc.Sections = append(doc.Sections, Section{Title: TitleTimeEntries, Kind: SectionTable, Table: table})
	}

	if st.ShowExpenses {
		table := &Table{Columns: []Column{
			{Header: "Date", Weight: 2, Align: AlignLeft},
			{Header: "Category", Weight: 2, Align: AlignLeft},
			{Header: "Description", Weight: 6, Align: AlignLeft},
			{Header: "Amount", Weight: 2, Align: AlignRight},
		}}
		keyed := make([]keyedRow, 0, len(expenses))
		for _, e := range expenses {
			keyed = append(keyed, keyedRow{key: key, row: []string{
				e.IncurredOn.Format(st.dateFormat()),
				humanize(e.Category),
				e.Description,
				totals.Format(totals.LineTotal(e.Line(), totals.DefaultCurrencyScale), "", totals.DefaultCurrencyScale),
			}})
		}
		table.Groups = groupRows(keyed, installations, st.GroupByInstallation)
		doc.Sections = append(doc.Sections, Section{Title: TitleExpenses, Kind: SectionTable, Table: table})
	}

	if st.ShowTotals {
		doc.Sections = append(doc.Sections, Section{Title: TitleTotals, Kind: SectionTotals, Fields: []Field{
			{Label: "Labour (" + FormatMinutes(summary.LabourMinutes) + ")", Value: totals.Format(summary.Labour, st.Currency, totals.DefaultCurrencyScale)},
			{Label: "Expenses", Value: totals.Format(summary.Expenses, st.Currency, totals.DefaultCurrencyScale)},
			{Label: "Total", Value: summary.Formatted.Total},
		}})
	}

	doc.Sections = appendNotes(doc.Sections, notes, st)
	if st.ShowSignature {
		doc.Sections = append(doc.Sections, Section{Title: TitleSignature, Kind: SectionSignature,
			Fields: []Field{{Label: "Technician"}, {Label: "Customer"}}})
	}
	return doc, nil
}

type keyedRow struct {
	key string
	row []string
}

// groupRows keeps groups in order of first appearance; rows without a known
// installation go to a trailing group. Without grouping every row lands in
// one unlabelled group.
func groupRows(rows []keyedRow, installations map[string]installation.Installation, group bool) []RowGroup {
	if !group {
		g := RowGroup{}
		for _, r := range rows {
			g.Rows = append(g.Rows, r.row)
		}
		if len(g.Rows) == 0 {
			return nil
		}
		return []RowGroup{g}
	}

	var out []RowGroup
	index := map[string]int{}
	var rest RowGroup
	for _, r := range rows {
		inst, ok := installations[r.key]
		if r.key == "" || !ok {
			rest.Rows = append(rest.Rows, r.row)
			continue
		}
		i, seen := index[r.key]
		if !seen {
			i = len(out)
			index[r.key] = i
			out = append(out, RowGroup{Key: r.key, Label: inst.Label()})
		}
		out[i].Rows = append(out[i].Rows, r.row)
	}
	if len(rest.Rows) > 0 {
		if len(out) > 0 {
			rest.Label = unassignedLabel
		}
		out = append(out, rest)
	}
	return out
}

func appendNotes(sections []Section, notes []note.Note, st Settings) []Section {
	if !st.ShowNotes || len(notes) == 0 {
		return sections
	}
	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		lines = append(lines, fmt.Sprintf("%s, %s: %s", n.CreatedAt.Format(st.dateFormat()), n.Author, n.Body))
	}
	return append(sections, Section{Title: TitleNotes, Kind: SectionText, Text: lines})
}

// FormatMinutes renders a duration as h:mm.
func FormatMinutes(m int) string {
	return fmt.Sprintf("%d:%02d", m/60, m%60)
}

func humanize(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
