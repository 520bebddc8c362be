// Package export renders task summary tables into downloadable documents.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Table is one rendered report: a title, ordered columns, and rows whose
// cells line up with the columns.
type Table struct {
	Title   string
	Columns []string
	Rows    [][]string
}

// CSVExporter renders a task summary table as CSV.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render writes the header row followed by the data rows. Short rows are
// padded so every record has the full column count.
func (e *CSVExporter) Render(table Table) ([]byte, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("csv requires at least one column")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(table.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range table.Rows {
		record := make([]string, len(table.Columns))
		copy(record, row)
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
