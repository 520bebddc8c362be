package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders a task summary table as a one-table PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render lays the table out on A4 portrait with equal column widths.
func (e *PDFExporter) Render(table Table) ([]byte, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("pdf requires at least one column")
	}
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetMargins(10, 15, 10)
	doc.AddPage()

	if table.Title != "" {
		doc.SetFont("Arial", "B", 14)
		doc.CellFormat(0, 10, strings.ToUpper(table.Title), "", 1, "C", false, 0, "")
		doc.Ln(5)
	}

	width := 190.0 / float64(len(table.Columns))
	doc.SetFont("Arial", "B", 10)
	for _, column := range table.Columns {
		doc.CellFormat(width, 8, column, "1", 0, "C", false, 0, "")
	}
	doc.Ln(-1)

	doc.SetFont("Arial", "", 9)
	for _, row := range table.Rows {
		for i := range table.Columns {
			var cell string
			if i < len(row) {
				cell = row[i]
			}
			doc.CellFormat(width, 7, cell, "1", 0, "", false, 0, "")
		}
		doc.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := doc.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
