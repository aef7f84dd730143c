package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
}

// FTPFetcher retrieves files from anonymous FTP servers. The Census Bureau
// mirrors every TIGER/Line archive on ftp2.census.gov, which stays
// reachable from networks that filter the HTTPS hosts.
type FTPFetcher struct {
	timeout time.Duration
}

// NewFTPFetcher creates an FTPFetcher. A zero timeout defaults to 30s.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{timeout: opts.Timeout}
}

// ftpTarget splits an ftp:// URL into a dialable address and a remote path.
// Hosts without an explicit port get the standard FTP control port.
func ftpTarget(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrapf(err, "ftp: parse url %s", rawURL)
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("ftp: url %s is not an ftp url", rawURL)
	}
	if u.Path == "" {
		return "", "", eris.Errorf("ftp: url %s has no file path", rawURL)
	}

	addr := u.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "21")
	}
	return addr, u.Path, nil
}

// ftpFile keeps the control connection open for the life of a transfer.
// Closing it finishes the data stream and quits the session.
type ftpFile struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (f *ftpFile) Close() error {
	err := f.Response.Close()
	if quitErr := f.conn.Quit(); quitErr != nil && err == nil {
		err = eris.Wrap(quitErr, "ftp: quit")
	}
	return err
}

// Download opens the file behind rawURL and returns the transfer stream.
// The caller must close it to release the FTP session.
func (f *FTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	addr, remotePath, err := ftpTarget(rawURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("ftp transfer", zap.String("addr", addr), zap.String("path", remotePath))

	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(f.timeout))
	if err != nil {
		return nil, eris.Wrapf(err, "ftp: dial %s", addr)
	}
	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "ftp: login")
	}
	resp, err := conn.Retr(remotePath)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "ftp: retr %s", remotePath)
	}
	return &ftpFile{Response: resp, conn: conn}, nil
}

// DownloadToFile retrieves rawURL into path, returning bytes written.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	return writeToFile(path, body)
}
