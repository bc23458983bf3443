package fetcher

import (
	"context"
	"io"
)

// Fetcher is the transport half of an area reference load. The HTTP
// and FTP implementations both satisfy it; callers pick one by URL
// scheme.
type Fetcher interface {
	// Download returns the remote file's body for streaming reads.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile writes the remote file to path and returns the
	// bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
