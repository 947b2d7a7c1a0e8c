package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX parser.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// ReadXLSX reads one worksheet and returns all rows as string slices.
func ReadXLSX(path string, opts XLSXOptions) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	return sheetRecords(f, opts)
}

// ReadXLSXBytes is ReadXLSX for an in-memory workbook.
func ReadXLSXBytes(data []byte, opts XLSXOptions) ([][]string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open binary")
	}
	return sheetRecords(f, opts)
}

func sheetRecords(f *xlsx.File, opts XLSXOptions) ([][]string, error) {
	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex < 0 || opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		if cell == nil {
			continue
		}
		cells[j] = cell.String()
	}
	return cells
}
