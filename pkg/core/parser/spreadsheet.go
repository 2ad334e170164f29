package parser

import (
	"fmt"
	"strconv"
	"strings"

	"deal_intake/pkg/core/excel"
)

const sampleRows = 5

// ParseSpreadsheet summarizes a workbook: one block per sheet with its
// dimensions and first rows.
func ParseSpreadsheet(path string) (*Result, error) {
	if !excel.IsWorkbookPath(path) {
		return nil, fmt.Errorf("file is not an Excel file: %s", path)
	}
	wb, err := excel.Open(path)
	if err != nil {
		return nil, err
	}

	var parts []string
	sheets := make([]map[string]any, 0, len(wb.Sheets))
	for _, s := range wb.Sheets {
		rows, cols := s.Rows(), s.Cols()
		sheets = append(sheets, map[string]any{"name": s.Name, "rows": rows, "cols": cols})

		parts = append(parts, fmt.Sprintf("--- Sheet: %s (%d rows x %d cols) ---", s.Name, rows, cols))
		sample := make([]string, 0, sampleRows)
		for r := 0; r < rows && r < sampleRows; r++ {
			values := make([]string, cols)
			for c := 0; c < cols; c++ {
				values[c] = cellString(s.Cell(r, c))
			}
			sample = append(sample, fmt.Sprintf("Row %d: %s", r+1, strings.Join(values, " | ")))
		}
		parts = append(parts, strings.Join(sample, "\n"))
	}

	return &Result{
		Text: strings.Join(parts, "\n\n"),
		Metadata: map[string]any{
			"sheets":       sheets,
			"total_sheets": len(sheets),
		},
	}, nil
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return t
	}
	return fmt.Sprint(v)
}
