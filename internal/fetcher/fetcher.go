// Package fetcher retrieves source data files over HTTP and FTP and unpacks
// the container formats they arrive in: XLSX workbooks, ZIP archives and
// scraped HTML documents.
package fetcher

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// Downloader streams a remote file to a local path. Both transports
// implement it so callers can pick HTTPS or FTP per URL scheme.
type Downloader interface {
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

var (
	_ Downloader = (*HTTPFetcher)(nil)
	_ Downloader = (*FTPFetcher)(nil)
)

// writeToFile streams r into a newly created file at path, returning bytes
// written.
func writeToFile(path string, r io.Reader) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: create %s", path)
	}
	defer out.Close() //nolint:errcheck

	n, err := io.Copy(out, r)
	if err != nil {
		return n, eris.Wrapf(err, "fetcher: write %s", path)
	}
	return n, nil
}
