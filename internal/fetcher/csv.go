// Package fetcher downloads and parses area reference files. HTTP and
// FTP cover the transports the public mirrors offer; CSV, XLSX, and
// ZIP cover the shapes the files come in.
package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures ScanCSV.
type CSVOptions struct {
	Delimiter  rune // default ','
	LazyQuotes bool
	TrimSpace  bool

	// OnHeader receives the header row before the first data row. A
	// non-nil return stops the scan.
	OnHeader func(header []string) error
}

// ScanCSV reads delimited text with a header row, calling fn for every
// data row. Rows may have varying field counts; census files are
// ragged. A non-nil error from fn stops the scan and is returned.
func ScanCSV(ctx context.Context, r io.Reader, opts CSVOptions, fn func(row []string) error) error {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return eris.New("fetcher: csv: missing header row")
	}
	if err != nil {
		return eris.Wrap(err, "fetcher: csv: read header")
	}
	if len(header) > 0 {
		// Files exported on Windows often lead with a UTF-8 BOM.
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if opts.TrimSpace {
		trimFields(header)
	}
	if opts.OnHeader != nil {
		if err := opts.OnHeader(header); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "fetcher: csv: scan cancelled")
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "fetcher: csv: read row")
		}

		if opts.TrimSpace {
			trimFields(row)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

func trimFields(row []string) {
	for i, field := range row {
		row[i] = strings.TrimSpace(field)
	}
}
