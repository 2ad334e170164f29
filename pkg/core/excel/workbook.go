package excel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

var (
	ErrFileNotFound      = errors.New("file not found")
	ErrUnsupportedFormat = errors.New("not an excel workbook")
	ErrCorruptWorkbook   = errors.New("invalid or corrupted workbook")
)

// Sheet is a loaded worksheet. Cells hold float64 for numeric content,
// string for text and nil for blanks.
type Sheet struct {
	Name  string
	Cells [][]any
}

// Cell returns the value at zero-based row and column, nil when out of range.
func (s *Sheet) Cell(row, col int) any {
	if row < 0 || row >= len(s.Cells) || col < 0 || col >= len(s.Cells[row]) {
		return nil
	}
	return s.Cells[row][col]
}

func (s *Sheet) Rows() int { return len(s.Cells) }

// Cols is the widest row.
func (s *Sheet) Cols() int {
	max := 0
	for _, r := range s.Cells {
		if len(r) > max {
			max = len(r)
		}
	}
	return max
}

// Workbook is an ordered list of sheets.
type Workbook struct {
	Path   string
	Sheets []*Sheet
}

func (w *Workbook) SheetNames() []string {
	names := make([]string, len(w.Sheets))
	for i, s := range w.Sheets {
		names[i] = s.Name
	}
	return names
}

func (w *Workbook) Sheet(name string) *Sheet {
	for _, s := range w.Sheets {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// IsWorkbookPath reports whether the extension is one Open can read.
func IsWorkbookPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xls":
		return true
	}
	return false
}

// Open loads every sheet of an .xlsx/.xlsm (excelize) or .xls (BIFF) workbook.
func Open(path string) (*Workbook, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptWorkbook, path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return openXLSX(path)
	case ".xls":
		return openXLS(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

func openXLSX(path string) (*Workbook, error) {
	// Raw values keep percent-formatted cells as fractions (0.196, not "19.60%").
	opts := excelize.Options{RawCellValue: true}
	f, err := excelize.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptWorkbook, err)
	}
	defer f.Close()

	wb := &Workbook{Path: path}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %q: %v", ErrCorruptWorkbook, name, err)
		}
		sheet := &Sheet{Name: name, Cells: make([][]any, len(rows))}
		for r, row := range rows {
			cells := make([]any, len(row))
			for c, raw := range row {
				cells[c] = typedCell(raw)
			}
			sheet.Cells[r] = cells
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}
	return wb, nil
}

func openXLS(path string) (wb *Workbook, err error) {
	// The BIFF reader panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			wb, err = nil, fmt.Errorf("%w: %v", ErrCorruptWorkbook, r)
		}
	}()

	book, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptWorkbook, err)
	}

	wb = &Workbook{Path: path}
	for i := 0; i < book.NumSheets(); i++ {
		ws := book.GetSheet(i)
		if ws == nil {
			continue
		}
		sheet := &Sheet{Name: ws.Name}
		for r := 0; r <= int(ws.MaxRow); r++ {
			row := ws.Row(r)
			if row == nil {
				sheet.Cells = append(sheet.Cells, nil)
				continue
			}
			cells := make([]any, row.LastCol())
			for c := row.FirstCol(); c < row.LastCol(); c++ {
				cells[c] = typedCell(row.Col(c))
			}
			sheet.Cells = append(sheet.Cells, cells)
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}
	return wb, nil
}

func typedCell(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return raw
}
