package fetcher

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher. Reference hosts like the
// census mirrors throttle aggressive clients, so a politeness limiter
// can be attached; transient failures and 429s retry per Retry.
type HTTPOptions struct {
	// UserAgent identifies us to the host. Default: "prospector/1.0".
	UserAgent string

	// Timeout bounds each request attempt. Default: 2m. Reference
	// files run to hundreds of megabytes, so this covers the full
	// body read, not just the headers.
	Timeout time.Duration

	// Retry governs re-attempts of transient failures.
	Retry resilience.RetryConfig

	// Limiter, when set, paces requests to the host.
	Limiter *rate.Limiter
}

// HTTPFetcher downloads reference files over HTTP.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
}

// NewHTTPFetcher creates an HTTP fetcher, filling in defaults for zero
// option fields.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = "prospector/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

// Download fetches the URL and returns the response body. The caller
// must close it.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// DownloadToFile fetches the URL into path, returning the bytes
// written. The body lands in a partial file first and is renamed into
// place only when complete, so an interrupted download never leaves a
// truncated file under the final name.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	partial := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".partial")
	out, err := os.Create(partial)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create partial file")
	}

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && resp.ContentLength > 0 && n != resp.ContentLength {
		err = eris.Errorf("fetcher: short body: %d of %d bytes", n, resp.ContentLength)
	}
	if err != nil {
		_ = os.Remove(partial)
		return 0, eris.Wrapf(err, "fetcher: download %s", rawURL)
	}

	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return 0, eris.Wrap(err, "fetcher: finalize download")
	}

	zap.L().Info("file downloaded",
		zap.String("url", rawURL),
		zap.String("path", path),
		zap.Int64("bytes", n),
	)
	return n, nil
}

// get performs one retried GET, returning a response whose status is
// known to be 200.
func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	return resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) (*http.Response, error) {
		if f.opts.Limiter != nil {
			if err := f.opts.Limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "fetcher: limiter wait")
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: build request for %s", rawURL)
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: get %s", rawURL)
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		_ = resp.Body.Close()
		statusErr := eris.Errorf("fetcher: status %d from %s", resp.StatusCode, rawURL)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode).
				WithRetryAfter(parseRetryAfter(resp.Header))
		}
		return nil, statusErr
	})
}

// parseRetryAfter reads a delay-seconds Retry-After header; HTTP-date
// values and absent headers read as zero.
func parseRetryAfter(h http.Header) time.Duration {
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
