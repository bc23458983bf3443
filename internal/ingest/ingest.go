// Package ingest loads area reference files into the catalog store.
// Sources are census-style tabular files: CSV/TSV with a header row, or
// an XLSX workbook, optionally zipped and fetched over HTTP or FTP.
package ingest

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/fetcher"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

const batchSize = 1000

// Options maps a reference file's columns onto areas.
type Options struct {
	Country    string // stamped on every row when CountryCol is empty
	NameCol    string // default "NAME"
	PopCol     string // default "POPULATION"
	CountryCol string // optional column holding a per-row country code
	FilterCol  string // optional: keep only rows where FilterCol == FilterVal
	FilterVal  string
	Delimiter  rune   // CSV delimiter; .tsv and .txt default to tab
	SheetName  string // XLSX sheet, default first
	SkipRows   int    // XLSX rows to skip before the header
	KeepSuffix bool   // keep census place-type suffixes ("city", "CDP") on names
	Member     string // file to extract when a fetched archive holds several
}

func (o Options) withDefaults() Options {
	if o.Country == "" {
		o.Country = "US"
	}
	if o.NameCol == "" {
		o.NameCol = "NAME"
	}
	if o.PopCol == "" {
		o.PopCol = "POPULATION"
	}
	return o
}

// Result holds the outcome of one area load.
type Result struct {
	RowsRead int64
	Loaded   int64
	Skipped  int64
}

// LoadFile parses a local reference file and upserts its areas.
func LoadFile(ctx context.Context, st store.Store, filePath string, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".xlsx":
		return loadXLSX(ctx, st, filePath, opts)
	case ".csv", ".tsv", ".txt":
		f, err := os.Open(filePath)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: open file")
		}
		defer f.Close() //nolint:errcheck

		delim := opts.Delimiter
		if delim == 0 && (ext == ".tsv" || ext == ".txt") {
			delim = '\t'
		}
		return loadCSV(ctx, st, f, delim, opts)
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", ext)
	}
}

// Fetch downloads a reference file, unpacks it if zipped, and loads it.
// The caller owns tempDir and its cleanup.
func Fetch(ctx context.Context, st store.Store, f fetcher.Fetcher, rawURL string, opts Options, tempDir string) (*Result, error) {
	name := "download"
	if u, err := url.Parse(rawURL); err == nil && path.Base(u.Path) != "/" && path.Base(u.Path) != "." {
		name = path.Base(u.Path)
	}
	dest := filepath.Join(tempDir, name)

	zap.L().Info("fetching area reference file",
		zap.String("url", rawURL),
		zap.String("dest", dest),
	)
	if _, err := f.DownloadToFile(ctx, rawURL, dest); err != nil {
		return nil, eris.Wrapf(err, "ingest: download %s", rawURL)
	}

	if strings.EqualFold(filepath.Ext(dest), ".zip") {
		extracted, err := fetcher.ExtractZIP(dest, opts.Member, tempDir)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: unpack archive")
		}
		dest = extracted
	}

	return LoadFile(ctx, st, dest, opts)
}

func loadCSV(ctx context.Context, st store.Store, r io.Reader, delim rune, opts Options) (*Result, error) {
	res := &Result{}
	b := batcher{st: st, res: res}

	var colIdx map[string]int
	err := fetcher.ScanCSV(ctx, r, fetcher.CSVOptions{
		Delimiter:  delim,
		LazyQuotes: true,
		TrimSpace:  true,
		OnHeader: func(header []string) error {
			colIdx = mapColumns(header)
			if _, found := colIdx[strings.ToLower(opts.NameCol)]; !found {
				return eris.Errorf("ingest: column %q not found in header", opts.NameCol)
			}
			return nil
		},
	}, func(record []string) error {
		res.RowsRead++
		area, keep := rowToArea(record, colIdx, opts)
		if !keep {
			res.Skipped++
			return nil
		}
		return b.add(ctx, area)
	})
	if err != nil {
		return res, err
	}

	return res, b.flush(ctx)
}

func loadXLSX(ctx context.Context, st store.Store, filePath string, opts Options) (*Result, error) {
	rows, err := fetcher.ReadXLSX(filePath, fetcher.XLSXOptions{
		Sheet:    opts.SheetName,
		SkipRows: opts.SkipRows,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.New("ingest: empty sheet")
	}

	colIdx := mapColumns(rows[0])
	if _, found := colIdx[strings.ToLower(opts.NameCol)]; !found {
		return nil, eris.Errorf("ingest: column %q not found in header", opts.NameCol)
	}

	res := &Result{}
	b := batcher{st: st, res: res}
	for _, record := range rows[1:] {
		res.RowsRead++
		area, keep := rowToArea(record, colIdx, opts)
		if !keep {
			res.Skipped++
			continue
		}
		if err := b.add(ctx, area); err != nil {
			return res, err
		}
	}

	return res, b.flush(ctx)
}

// batcher accumulates areas and upserts them in chunks, keeping the
// memory footprint flat for nationwide files.
type batcher struct {
	st    store.Store
	res   *Result
	batch []model.Area
}

func (b *batcher) add(ctx context.Context, area model.Area) error {
	b.batch = append(b.batch, area)
	if len(b.batch) < batchSize {
		return nil
	}
	return b.flushBatch(ctx)
}

func (b *batcher) flush(ctx context.Context) error {
	if len(b.batch) > 0 {
		if err := b.flushBatch(ctx); err != nil {
			return err
		}
	}

	zap.L().Info("area load complete",
		zap.Int64("rows_read", b.res.RowsRead),
		zap.Int64("loaded", b.res.Loaded),
		zap.Int64("skipped", b.res.Skipped),
	)
	return nil
}

func (b *batcher) flushBatch(ctx context.Context) error {
	n, err := b.st.UpsertAreas(ctx, b.batch)
	if err != nil {
		return eris.Wrap(err, "ingest: upsert areas")
	}
	b.res.Loaded += n
	b.batch = b.batch[:0]
	return nil
}

// rowToArea maps one record onto an area. Rows with a blank name, or
// not matching the filter, are dropped.
func rowToArea(record []string, colIdx map[string]int, opts Options) (model.Area, bool) {
	if opts.FilterCol != "" {
		if getCol(record, colIdx, opts.FilterCol) != opts.FilterVal {
			return model.Area{}, false
		}
	}

	name := strings.TrimSpace(getCol(record, colIdx, opts.NameCol))
	if !opts.KeepSuffix {
		name = NormalizePlaceName(name)
	}
	if name == "" {
		return model.Area{}, false
	}

	country := opts.Country
	if opts.CountryCol != "" {
		if c := strings.TrimSpace(getCol(record, colIdx, opts.CountryCol)); c != "" {
			country = c
		}
	}

	area := model.Area{Name: name, Country: country}
	if pop, ok := parsePopulation(getCol(record, colIdx, opts.PopCol)); ok {
		area.Population = &pop
	}
	return area, true
}

// parsePopulation handles the figures as census files write them:
// thousands separators, and letter flags for suppressed values.
func parsePopulation(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// mapColumns builds a case-insensitive column name to index map.
func mapColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		m[strings.ToLower(strings.TrimSpace(col))] = i
	}
	return m
}

// getCol gets a column value by name, returning empty string if not found.
func getCol(record []string, colIdx map[string]int, name string) string {
	idx, ok := colIdx[strings.ToLower(name)]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}
