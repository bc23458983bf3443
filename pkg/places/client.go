// Package places is the client for the paid places-search service. The
// service bills per search request, paginates with an integer page
// parameter, and rate limits aggressively, so callers are expected to
// gate calls behind a shared limiter.
package places

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/resilience"
)

const defaultBaseURL = "https://api.placessearch.io/v2"

// DefaultPageSize is what the service returns per page unless asked
// otherwise; it is also its maximum.
const DefaultPageSize = 20

// Client performs places-search operations.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest scopes one billed search call. Page is 1-based; a page
// past the end of the data returns zero results with HasMore false.
type SearchRequest struct {
	Query    string
	AreaName string
	Country  string
	Page     int
	PageSize int
}

// SearchResponse is one page of listings.
type SearchResponse struct {
	Results []Listing `json:"results"`
	HasMore bool      `json:"has_more"`
}

// Listing is a single business result.
type Listing struct {
	Name         string  `json:"name"`
	Address      string  `json:"address"`
	Phone        string  `json:"phone"`
	Website      string  `json:"website"`
	Rating       float64 `json:"rating"`
	ReviewsCount int     `json:"reviews_count"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a places-search client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, sr SearchRequest) (*SearchResponse, error) {
	page := sr.Page
	if page < 1 {
		page = 1
	}
	size := sr.PageSize
	if size <= 0 || size > DefaultPageSize {
		size = DefaultPageSize
	}

	q := url.Values{}
	q.Set("query", sr.Query)
	q.Set("area", sr.AreaName)
	if sr.Country != "" {
		q.Set("country", sr.Country)
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(size))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "places: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("places: status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode).
				WithRetryAfter(retryAfter(resp.Header))
		}
		// Auth failures and malformed queries are fatal for the job.
		return nil, apiErr
	}

	var result SearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal response")
	}

	return &result, nil
}

// retryAfter parses the delay-seconds form of the Retry-After header.
// The service does not use the HTTP-date form.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
