// Package fetcher turns uploaded spreadsheets (CSV or XLSX, local or
// downloaded) into header-keyed rows.
package fetcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealer-sync/internal/model"
)

// ErrUnsupportedFormat is returned for file extensions other than CSV or XLSX.
var ErrUnsupportedFormat = eris.New("fetcher: unsupported spreadsheet format")

// Sheet is one parsed spreadsheet: the header row in column order and every
// non-blank data row keyed by header.
type Sheet struct {
	Headers []string
	Rows    []model.RawRow
}

// SheetOptions configures ReadSheet.
type SheetOptions struct {
	SheetName string // XLSX only; first sheet when empty
	Delimiter rune   // CSV only; detected when zero
}

// ReadSheet parses the spreadsheet at path, choosing the reader by extension.
func ReadSheet(ctx context.Context, path string, opts SheetOptions) (*Sheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", path)
	}
	return ParseSheet(ctx, filepath.Base(path), data, opts)
}

// ParseSheet parses an in-memory spreadsheet. name only selects the format
// by its extension.
func ParseSheet(ctx context.Context, name string, data []byte, opts SheetOptions) (*Sheet, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return ReadCSVSheet(ctx, bytes.NewReader(data), CSVOptions{Delimiter: opts.Delimiter})
	case ".xlsx", ".xlsm":
		records, err := ReadXLSXBytes(data, XLSXOptions{SheetName: opts.SheetName})
		if err != nil {
			return nil, err
		}
		return BuildSheet(records), nil
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "%s", name)
	}
}

// BuildSheet treats the first non-blank record as the header row. Empty
// headers become column_<n> (1-based). When two columns share a header the
// later one only fills cells the earlier one left empty. Blank rows are
// dropped and short rows are padded with empty cells.
func BuildSheet(records [][]string) *Sheet {
	s := &Sheet{}
	start := -1
	for i, rec := range records {
		if !isBlank(rec) {
			start = i
			break
		}
	}
	if start < 0 {
		return s
	}

	s.Headers = make([]string, len(records[start]))
	for i, h := range records[start] {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "column_" + strconv.Itoa(i+1)
		}
		s.Headers[i] = h
	}

	for _, rec := range records[start+1:] {
		if isBlank(rec) {
			continue
		}
		row := make(model.RawRow, len(s.Headers))
		for i, h := range s.Headers {
			var v string
			if i < len(rec) {
				v = rec[i]
			}
			if prev, ok := row[h]; ok && strings.TrimSpace(prev) != "" {
				continue
			}
			row[h] = v
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}

func isBlank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
