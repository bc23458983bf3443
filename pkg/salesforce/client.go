// Package salesforce pushes exported leads into Salesforce through the
// JWT-authenticated Collections API.
package salesforce

import (
	"context"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client is the slice of the Salesforce API the exporter depends on.
// InsertCollection sends at most one Collections batch; BulkInsert
// handles splitting larger record sets.
type Client interface {
	InsertCollection(ctx context.Context, object string, records []map[string]any) ([]CollectionResult, error)
}

// CollectionResult reports the outcome for one record of a batch.
// Partial failure is normal: Salesforce accepts the rest of the batch
// and flags the offenders here.
type CollectionResult struct {
	ID      string   `json:"id"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

// client wraps *salesforce.Salesforce with a token bucket. The
// underlying library does not take a context, so cancellation only
// covers the throttle wait, not an in-flight call.
type client struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// ClientOption adjusts a client at construction time.
type ClientOption func(*client)

// WithRateLimit throttles API calls to rps. Zero or negative leaves
// the client unthrottled.
func WithRateLimit(rps float64) ClientOption {
	return func(c *client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

// NewClient wraps an authenticated go-salesforce session. Unthrottled
// unless WithRateLimit is given.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &client{
		sf:      sf,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) InsertCollection(ctx context.Context, object string, records []map[string]any) ([]CollectionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "salesforce: throttle")
	}
	res, err := c.sf.InsertCollection(object, records, maxBatchSize)
	if err != nil {
		return nil, eris.Wrapf(err, "salesforce: insert collection %s", object)
	}
	return convertResults(res.Results), nil
}

// convertResults flattens the library's per-record outcomes into
// CollectionResults, keeping only the error messages.
func convertResults(results []salesforce.SalesforceResult) []CollectionResult {
	out := make([]CollectionResult, len(results))
	for i, r := range results {
		cr := CollectionResult{ID: r.Id, Success: r.Success}
		for _, e := range r.Errors {
			cr.Errors = append(cr.Errors, e.Message)
		}
		out[i] = cr
	}
	return out
}
