// Package export streams stored leads into outbound destinations: CSV files,
// a Notion database, or Salesforce Lead records.
package export

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/cost"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

// defaultPageSize is how many leads are pulled from the store per read.
const defaultPageSize = 500

// Sink receives batches of leads bound for one destination.
//
// Write reports how many records were actually written; a sink may write
// fewer than it was given when the destination already holds a record or
// rejects one. The caller that opens a sink closes it.
type Sink interface {
	Write(ctx context.Context, leads []model.Lead) (int, error)
	Close() error
}

// Options filters which stored leads are exported.
type Options struct {
	ClientID string
	AreaName string
	Query    string
	PageSize int
}

// Summary reports what an export run did.
type Summary struct {
	Read    int     `json:"read"`
	Written int     `json:"written"`
	Skipped int     `json:"skipped"`
	Cost    float64 `json:"cost_usd"`
}

// Run pages through the lead store and feeds every matching lead to the sink.
// The sink is not closed; callers own its lifecycle. A nil calculator skips
// cost accounting.
func Run(ctx context.Context, st store.Store, sink Sink, calc *cost.Calculator, opts Options) (*Summary, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	sum := &Summary{}
	for offset := 0; ; offset += pageSize {
		batch, err := st.ListLeads(ctx, store.LeadFilter{
			ClientID: opts.ClientID,
			AreaName: opts.AreaName,
			Query:    opts.Query,
			Limit:    pageSize,
			Offset:   offset,
		})
		if err != nil {
			return nil, eris.Wrap(err, "export: list leads")
		}
		if len(batch) == 0 {
			break
		}

		sum.Read += len(batch)
		n, err := sink.Write(ctx, batch)
		sum.Written += n
		if err != nil {
			return nil, eris.Wrap(err, "export: write batch")
		}

		if len(batch) < pageSize {
			break
		}
	}

	sum.Skipped = sum.Read - sum.Written
	if calc != nil {
		sum.Cost = calc.ExportRecords(sum.Written)
	}

	zap.L().Info("export complete",
		zap.Int("read", sum.Read),
		zap.Int("written", sum.Written),
		zap.Int("skipped", sum.Skipped),
		zap.Float64("cost_usd", sum.Cost),
	)
	return sum, nil
}
