package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures ReadXLSX.
type XLSXOptions struct {
	// Sheet names the worksheet to read; empty means the first one.
	Sheet string

	// SkipRows drops leading rows before the header. Population
	// workbooks often open with title and note rows.
	SkipRows int
}

// ReadXLSX materializes one worksheet as rows of strings. Area
// workbooks are small enough that streaming is not worth the trouble.
func ReadXLSX(path string, opts XLSXOptions) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open workbook %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("fetcher: workbook has no sheets")
	}

	sheet := f.Sheets[0]
	if opts.Sheet != "" {
		var ok bool
		if sheet, ok = f.Sheet[opts.Sheet]; !ok {
			return nil, eris.Errorf("fetcher: sheet %q not in workbook", opts.Sheet)
		}
	}

	var rows [][]string
	for i, row := range sheet.Rows {
		if i < opts.SkipRows {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
