package salesforce

import (
	"context"

	"github.com/rotisserie/eris"
)

// maxBatchSize is the Salesforce Collections API limit per request.
const maxBatchSize = 200

// BulkInsert splits records into batches and inserts each via InsertCollection.
// batchSize is clamped to the Collections API limit of 200; zero or negative
// values select the limit. On a failed batch the results collected so far are
// returned alongside the error.
func BulkInsert(ctx context.Context, c Client, object string, records []map[string]any, batchSize int) ([]CollectionResult, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if batchSize <= 0 || batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	var allResults []CollectionResult

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))

		results, err := c.InsertCollection(ctx, object, records[start:end])
		if err != nil {
			return allResults, eris.Wrapf(err, "salesforce: bulk insert %s batch %d-%d", object, start, end)
		}
		allResults = append(allResults, results...)
	}

	return allResults, nil
}
