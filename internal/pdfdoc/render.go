package pdfdoc

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
)

const (
	fontFamily   = "Helvetica"
	lineHeight   = 6.0
	marginMM     = 15.0
	labelWidthMM = 40.0
)

// Render draws doc as a paginated A4 PDF.
func Render(w io.Writer, doc Document) error {
	return renderAt(w, doc, time.Now())
}

func renderAt(w io.Writer, doc Document, created time.Time) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginMM, marginMM, marginMM)
	pdf.SetAutoPageBreak(true, marginMM+5)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator(doc.Company, true)
	pdf.SetCreationDate(created)
	pdf.AliasNbPages("")

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 2*marginMM

	pdf.SetFooterFunc(func() {
		pdf.SetY(-marginMM)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(contentW/2, 5, tr(doc.Reference), "", 0, "L", false, 0, "")
		pdf.CellFormat(contentW/2, 5, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})

	pdf.AddPage()

	pdf.SetFont(fontFamily, "B", 10)
	pdf.CellFormat(contentW, lineHeight, tr(doc.Company), "", 1, "R", false, 0, "")
	pdf.SetFont(fontFamily, "B", 16)
	pdf.CellFormat(contentW, 10, tr(doc.Title), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont(fontFamily, "", 9)
	for _, f := range doc.Meta {
		fieldRow(pdf, tr, f, contentW)
	}
	pdf.Ln(4)

	for _, s := range doc.Sections {
		heading(pdf, tr, s.Title, contentW)
		switch s.Kind {
		case SectionFields:
			pdf.SetFont(fontFamily, "", 9)
			for _, f := range s.Fields {
				fieldRow(pdf, tr, f, contentW)
			}
		case SectionTable:
			if s.Table != nil {
				table(pdf, tr, *s.Table, contentW)
			}
		case SectionText:
			pdf.SetFont(fontFamily, "", 9)
			for _, line := range s.Text {
				pdf.MultiCell(contentW, 5, tr(line), "", "L", false)
			}
		case SectionTotals:
			totalsBlock(pdf, tr, s.Fields, contentW)
		case SectionSignature:
			signature(pdf, tr, s.Fields, contentW)
		}
		pdf.Ln(4)
	}

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.Output(w)
}

func heading(pdf *fpdf.Fpdf, tr func(string) string, title string, w float64) {
	pdf.SetFont(fontFamily, "B", 11)
	pdf.SetFillColor(235, 238, 242)
	pdf.CellFormat(w, 7, tr(title), "", 1, "L", true, 0, "")
	pdf.Ln(1)
}

func fieldRow(pdf *fpdf.Fpdf, tr func(string) string, f Field, w float64) {
	pdf.SetFont(fontFamily, "B", 9)
	pdf.CellFormat(labelWidthMM, 5, tr(f.Label), "", 0, "L", false, 0, "")
	pdf.SetFont(fontFamily, "", 9)
	pdf.MultiCell(w-labelWidthMM, 5, tr(f.Value), "", "L", false)
}

func table(pdf *fpdf.Fpdf, tr func(string) string, t Table, w float64) {
	widths := columnWidths(t.Columns, w)

	header := func() {
		pdf.SetFont(fontFamily, "B", 9)
		pdf.SetFillColor(245, 245, 245)
		for i, c := range t.Columns {
			pdf.CellFormat(widths[i], 6, tr(c.Header), "B", 0, string(c.Align), true, 0, "")
		}
		pdf.Ln(-1)
	}
	header()

	if t.RowCount() == 0 {
		pdf.SetFont(fontFamily, "I", 9)
		pdf.CellFormat(w, 6, "No entries", "", 1, "L", false, 0, "")
		return
	}

	_, pageH := pdf.GetPageSize()
	for _, g := range t.Groups {
		if g.Label != "" {
			pdf.SetFont(fontFamily, "BI", 9)
			pdf.CellFormat(w, 6, tr(g.Label), "", 1, "L", false, 0, "")
		}
		pdf.SetFont(fontFamily, "", 9)
		for _, row := range g.Rows {
			if pdf.GetY()+6 > pageH-marginMM-5 {
				pdf.AddPage()
				header()
				pdf.SetFont(fontFamily, "", 9)
			}
			for i, c := range t.Columns {
				cell := ""
				if i < len(row) {
					cell = row[i]
				}
				pdf.CellFormat(widths[i], 6, fit(pdf, tr(cell), widths[i]), "", 0, string(c.Align), false, 0, "")
			}
			pdf.Ln(-1)
		}
	}
}

func totalsBlock(pdf *fpdf.Fpdf, tr func(string) string, fields []Field, w float64) {
	labelW := w * 0.7
	for i, f := range fields {
		style := ""
		if i == len(fields)-1 {
			style = "B"
		}
		pdf.SetFont(fontFamily, style, 10)
		pdf.CellFormat(labelW, 6, tr(f.Label), "", 0, "R", false, 0, "")
		pdf.CellFormat(w-labelW, 6, tr(f.Value), "", 1, "R", false, 0, "")
	}
}

func signature(pdf *fpdf.Fpdf, tr func(string) string, fields []Field, w float64) {
	if len(fields) == 0 {
		return
	}
	boxW := w / float64(len(fields))
	pdf.Ln(14)
	y := pdf.GetY()
	for i, f := range fields {
		x := marginMM + float64(i)*boxW
		pdf.Line(x+2, y, x+boxW-4, y)
		pdf.SetXY(x, y+1)
		pdf.SetFont(fontFamily, "", 8)
		pdf.CellFormat(boxW, 5, tr(f.Label), "", 0, "L", false, 0, "")
	}
	pdf.Ln(6)
}

func columnWidths(cols []Column, w float64) []float64 {
	total := 0.0
	for _, c := range cols {
		total += c.Weight
	}
	out := make([]float64, len(cols))
	for i, c := range cols {
		if total <= 0 {
			out[i] = w / float64(len(cols))
			continue
		}
		out[i] = w * c.Weight / total
	}
	return out
}

// fit truncates an already translated single-byte string so it fits in
// width mm, marking the cut with "...".
func fit(pdf *fpdf.Fpdf, s string, width float64) string {
	const pad = 2
	if pdf.GetStringWidth(s) <= width-pad {
		return s
	}
	b := []byte(s)
	for len(b) > 0 && pdf.GetStringWidth(string(b)+"...") > width-pad {
		b = b[:len(b)-1]
	}
	return string(b) + "..."
}
