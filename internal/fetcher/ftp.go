package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher. Zero credentials mean
// anonymous login, which is what the public mirrors expect.
type FTPOptions struct {
	Timeout  time.Duration // dial and control timeout, default 30s
	User     string
	Password string
}

// FTPFetcher downloads reference files over FTP. State agencies still
// publish some population workbooks on anonymous FTP mirrors.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates an FTP fetcher, filling in defaults for zero
// option fields.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Password = "anonymous@"
	}
	return &FTPFetcher{opts: opts}
}

// Download retrieves the file behind an ftp:// URL. Closing the
// returned reader also quits the control connection.
func (f *FTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	addr, remotePath, err := splitFTPURL(rawURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("ftp retrieve",
		zap.String("addr", addr),
		zap.String("path", remotePath),
	)

	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(f.opts.Timeout),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: ftp dial %s", addr)
	}
	if err := conn.Login(f.opts.User, f.opts.Password); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "fetcher: ftp login")
	}

	resp, err := conn.Retr(remotePath)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "fetcher: ftp retrieve %s", remotePath)
	}

	return &ftpBody{resp: resp, conn: conn}, nil
}

// DownloadToFile retrieves the URL into path via a partial file, the
// same contract as the HTTP fetcher.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	partial := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".partial")
	out, err := os.Create(partial)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create partial file")
	}

	n, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(partial)
		return 0, eris.Wrapf(err, "fetcher: download %s", rawURL)
	}

	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return 0, eris.Wrap(err, "fetcher: finalize download")
	}
	return n, nil
}

// splitFTPURL returns the dial address (host with port 21 default) and
// the remote file path.
func splitFTPURL(rawURL string) (addr, remotePath string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "fetcher: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" {
		return "", "", eris.New("fetcher: ftp url has no path")
	}

	addr = u.Host
	if _, _, splitErr := net.SplitHostPort(addr); splitErr != nil {
		addr = net.JoinHostPort(addr, "21")
	}
	return addr, u.Path, nil
}

// ftpBody ties the data connection's lifetime to the control
// connection's.
type ftpBody struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (b *ftpBody) Read(p []byte) (int, error) { return b.resp.Read(p) }

func (b *ftpBody) Close() error {
	respErr := b.resp.Close()
	quitErr := b.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "fetcher: close ftp data connection")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "fetcher: quit ftp connection")
	}
	return nil
}
