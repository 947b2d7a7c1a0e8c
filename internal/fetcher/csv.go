package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// utf8BOM is prepended by spreadsheet exports on Windows.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // detected from the first line when zero
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads CSV records and sends them to a channel. A leading UTF-8
// BOM is dropped. Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		br := bufio.NewReader(r)
		if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
			_, _ = br.Discard(len(utf8BOM))
		}

		delim := opts.Delimiter
		if delim == 0 {
			sample, _ := br.Peek(4096)
			delim = DetectDelimiter(sample)
		}

		reader := csv.NewReader(br)
		reader.Comma = delim
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSVSheet drains StreamCSV into a Sheet.
func ReadCSVSheet(ctx context.Context, r io.Reader, opts CSVOptions) (*Sheet, error) {
	opts.LazyQuotes = true
	rowCh, errCh := StreamCSV(ctx, r, opts)

	var records [][]string
	for rec := range rowCh {
		records = append(records, rec)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return BuildSheet(records), nil
}

// DetectDelimiter picks ';' or ',' from the first non-blank line of sample,
// whichever occurs more often outside quotes. Ties go to ','.
func DetectDelimiter(sample []byte) rune {
	for _, line := range bytes.Split(sample, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			sample = line
			break
		}
	}
	var commas, semis int
	inQuotes := false
	for _, b := range sample {
		switch b {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				commas++
			}
		case ';':
			if !inQuotes {
				semis++
			}
		}
	}
	if semis > commas {
		return ';'
	}
	return ','
}
