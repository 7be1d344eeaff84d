// Package pdfdoc lays out sale and dispatch reports and renders them as PDF.
// Composition is pure: it turns loaded records into a Document that Render
// draws without further lookups.
package pdfdoc

import (
	"fieldservice/pkg/config"
)

type Settings struct {
	CompanyName string
	Currency    string
	DateFormat  string

	ShowCustomer    bool
	ShowItems       bool
	ShowNotes       bool
	ShowTimeEntries bool
	ShowExpenses    bool
	ShowTotals      bool
	ShowSignature   bool

	// GroupByInstallation splits table rows into one block per installation.
	GroupByInstallation bool
}

// DefaultSettings enables every section.
func DefaultSettings(cfg config.PDFConfig) Settings {
	return Settings{
		CompanyName:         cfg.CompanyName,
		Currency:            cfg.Currency,
		DateFormat:          cfg.DateFormat,
		ShowCustomer:        true,
		ShowItems:           true,
		ShowNotes:           true,
		ShowTimeEntries:     true,
		ShowExpenses:        true,
		ShowTotals:          true,
		ShowSignature:       true,
		GroupByInstallation: true,
	}
}

func (s Settings) dateFormat() string {
	if s.DateFormat == "" {
		return "2006-01-02"
	}
	return s.DateFormat
}

type SectionKind string

const (
	SectionFields    SectionKind = "fields"
	SectionTable     SectionKind = "table"
	SectionText      SectionKind = "text"
	SectionTotals    SectionKind = "totals"
	SectionSignature SectionKind = "signature"
)

type Field struct {
	Label string
	Value string
}

type Align string

const (
	AlignLeft  Align = "L"
	AlignRight Align = "R"
)

type Column struct {
	Header string
	// Weight is the column's share of the printable width.
	Weight float64
	Align  Align
}

// RowGroup is a block of rows sharing a key such as an installation id. An
// empty Label prints no group heading.
type RowGroup struct {
	Key   string
	Label string
	Rows  [][]string
}

type Table struct {
	Columns []Column
	Groups  []RowGroup
}

func (t Table) RowCount() int {
	n := 0
	for _, g := range t.Groups {
		n += len(g.Rows)
	}
	return n
}

type Section struct {
	Title  string
	Kind   SectionKind
	Fields []Field
	Table  *Table
	Text   []string
}

type Document struct {
	Company   string
	Title     string
	Reference string
	Meta      []Field
	Sections  []Section
}

// Section returns the first section with the given title.
func (d Document) Section(title string) (Section, bool) {
	for _, s := range d.Sections {
		if s.Title == title {
			return s, true
		}
	}
	return Section{}, false
}

// FileName is the download name of the rendered document.
func (d Document) FileName() string {
	if d.Reference == "" {
		return "document.pdf"
	}
	return d.Reference + ".pdf"
}
