package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

// csvHeader lists the exported columns in order.
var csvHeader = []string{
	"company_name", "area_name", "address", "phone", "website",
	"rating", "reviews_count", "source_query", "source", "fingerprint", "created_at",
}

// CSVSink writes leads to a local CSV file.
type CSVSink struct {
	f *os.File
	w *csv.Writer
}

// NewCSVSink creates the file (and any missing parent directories) and writes
// the header row.
func NewCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "export: create dir %s", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: create %s", path)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "export: write csv header")
	}
	return &CSVSink{f: f, w: w}, nil
}

func (s *CSVSink) Write(ctx context.Context, leads []model.Lead) (int, error) {
	written := 0
	for i := range leads {
		if err := ctx.Err(); err != nil {
			return written, eris.Wrap(err, "export: csv write cancelled")
		}
		if err := s.w.Write(leadRow(leads[i])); err != nil {
			return written, eris.Wrap(err, "export: write csv row")
		}
		written++
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return written, eris.Wrap(err, "export: flush csv")
	}
	return written, nil
}

func (s *CSVSink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close() //nolint:errcheck
		return eris.Wrap(err, "export: flush csv")
	}
	return eris.Wrap(s.f.Close(), "export: close csv")
}

// leadRow formats one lead as a CSV record in csvHeader order.
func leadRow(l model.Lead) []string {
	rating := ""
	if l.Rating != nil {
		rating = strconv.FormatFloat(*l.Rating, 'f', -1, 64)
	}
	reviews := ""
	if l.ReviewsCount != nil {
		reviews = strconv.Itoa(*l.ReviewsCount)
	}
	return []string{
		l.CompanyName, l.AreaName, l.Address, l.Phone, l.Website,
		rating, reviews, l.SourceQuery, l.Source, l.Fingerprint,
		l.CreatedAt.UTC().Format(time.RFC3339),
	}
}
