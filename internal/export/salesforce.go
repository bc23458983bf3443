package export

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/salesforce"
)

// SalesforceSink inserts leads as Lead sObjects through the Collections API.
type SalesforceSink struct {
	client    salesforce.Client
	batchSize int
}

// NewSalesforceSink wraps a Salesforce client. batchSize bounds each
// Collections API request and is clamped to the API limit of 200.
func NewSalesforceSink(client salesforce.Client, batchSize int) *SalesforceSink {
	return &SalesforceSink{client: client, batchSize: batchSize}
}

func (s *SalesforceSink) Write(ctx context.Context, leads []model.Lead) (int, error) {
	records := make([]map[string]any, len(leads))
	for i := range leads {
		records[i] = leadRecord(leads[i])
	}

	results, err := salesforce.BulkInsert(ctx, s.client, "Lead", records, s.batchSize)

	written, rejected := 0, 0
	firstErr := ""
	for _, r := range results {
		if r.Success {
			written++
			continue
		}
		rejected++
		if firstErr == "" && len(r.Errors) > 0 {
			firstErr = r.Errors[0]
		}
	}
	if err != nil {
		return written, eris.Wrap(err, "export: salesforce insert")
	}
	if rejected > 0 {
		zap.L().Warn("salesforce rejected leads",
			zap.Int("rejected", rejected),
			zap.String("first_error", firstErr),
		)
	}
	return written, nil
}

func (s *SalesforceSink) Close() error { return nil }

// leadRecord maps a lead onto standard Lead sObject fields. Salesforce
// requires LastName on every Lead and scraped listings carry no contact
// person, so a placeholder is used. The fingerprint rides in the description
// for traceability back to the store.
func leadRecord(l model.Lead) map[string]any {
	rec := map[string]any{
		"Company":     l.CompanyName,
		"LastName":    "Unknown",
		"LeadSource":  l.Source,
		"Description": fmt.Sprintf("Source query: %s; fingerprint: %s", l.SourceQuery, l.Fingerprint),
	}
	if l.AreaName != "" {
		rec["City"] = l.AreaName
	}
	if l.Phone != "" {
		rec["Phone"] = l.Phone
	}
	if l.Website != "" {
		rec["Website"] = l.Website
	}
	return rec
}
