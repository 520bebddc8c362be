package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRendersOrderedRows(t *testing.T) {
	table := Table{
		Columns: []string{"Date", "Title", "Progress (%)"},
		Rows: [][]string{
			{"2026-08-27", "Restock shelves", "40"},
			{"2026-08-28", "Stage deliveries"},
		},
	}

	out, err := NewCSVExporter().Render(table)
	require.NoError(t, err)
	assert.Equal(t, "Date,Title,Progress (%)\n2026-08-27,Restock shelves,40\n2026-08-28,Stage deliveries,\n", string(out))
}

func TestCSVExporterRequiresColumns(t *testing.T) {
	_, err := NewCSVExporter().Render(Table{})
	require.Error(t, err)
}

func TestPDFExporterRendersDocument(t *testing.T) {
	table := Table{
		Title:   "Task Summary",
		Columns: []string{"Date", "Title"},
		Rows:    [][]string{{"2026-08-28", "Restock shelves"}},
	}

	out, err := NewPDFExporter().Render(table)
	require.NoError(t, err)
	assert.True(t, len(out) > 0)
	assert.Equal(t, "%PDF", string(out[:4]))
}
