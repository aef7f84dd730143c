package tiger

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/atlas-cli/internal/fetcher"
	"github.com/sells-group/atlas-cli/internal/geospatial"
	"github.com/sells-group/atlas-cli/internal/model"
)

// Config configures TIGER/Line archive retrieval.
type Config struct {
	Year      int           // TIGER/Line vintage (default DefaultYear)
	TempDir   string        // download and extract directory
	Transport string        // TransportHTTPS or TransportFTP
	Timeout   time.Duration // per-archive transfer timeout
}

// Downloader fetches state-wide TIGER/Line archives over HTTPS or anonymous
// FTP, caching the ZIP files under the temp dir so every county in a state
// shares one transfer.
type Downloader struct {
	cfg   Config
	http  *fetcher.HTTPFetcher
	ftp   *fetcher.FTPFetcher
	group singleflight.Group
}

// NewDownloader creates a Downloader, filling in defaults for zero fields.
func NewDownloader(cfg Config) *Downloader {
	if cfg.Year == 0 {
		cfg.Year = DefaultYear
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "atlas-tiger")
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportHTTPS
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Downloader{
		cfg: cfg,
		http: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout:      cfg.Timeout,
			MaxRetries:   4,
			RateLimiters: fetcher.DefaultRateLimiters(),
		}),
		ftp: fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: cfg.Timeout}),
	}
}

// CountyUnits downloads (or reuses) the state archive covering the county's
// geography and reads out that county's units as a geographic layer.
func (d *Downloader) CountyUnits(ctx context.Context, county model.County, geography model.Geography) (geospatial.UnitLayer, error) {
	if err := county.Validate(); err != nil {
		return geospatial.UnitLayer{}, err
	}
	product, err := ProductFor(geography)
	if err != nil {
		return geospatial.UnitLayer{}, err
	}
	shpPath, err := d.FetchShapefile(ctx, product, county.StateFIPS())
	if err != nil {
		return geospatial.UnitLayer{}, err
	}
	return ReadCountyUnits(shpPath, product, county)
}

// FetchShapefile ensures the product archive for a state is downloaded and
// extracted, returning the path to the .shp file. Concurrent calls for the
// same state collapse into one transfer.
func (d *Downloader) FetchShapefile(ctx context.Context, product Product, stateFIPS string) (string, error) {
	rawURL := DownloadURL(product, d.cfg.Year, stateFIPS, d.cfg.Transport)
	destDir := filepath.Join(d.cfg.TempDir, stateFIPS, strings.ToLower(product.Name))
	return d.fetchShared(ctx, stateFIPS+"/"+product.Name, rawURL, destDir)
}

// fetchShared deduplicates in-flight fetches of the same archive.
func (d *Downloader) fetchShared(ctx context.Context, key, rawURL, destDir string) (string, error) {
	v, err, _ := d.group.Do(key, func() (any, error) {
		return d.fetch(ctx, rawURL, destDir)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// fetch downloads the archive if it is not already present, extracts it, and
// locates the shapefile inside.
func (d *Downloader) fetch(ctx context.Context, rawURL, destDir string) (string, error) {
	log := zap.L().With(
		zap.String("component", "tiger.download"),
		zap.String("url", rawURL),
	)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create dest dir")
	}

	zipName, err := archiveName(rawURL)
	if err != nil {
		return "", err
	}
	zipPath := filepath.Join(destDir, zipName)

	if info, statErr := os.Stat(zipPath); statErr == nil && info.Size() > 0 {
		log.Debug("archive already downloaded", zap.String("path", zipPath))
	} else {
		log.Info("downloading TIGER/Line archive")
		if err := d.downloadTo(ctx, rawURL, zipPath); err != nil {
			return "", eris.Wrap(err, "tiger: download archive")
		}
	}

	extractDir := filepath.Join(destDir, strings.TrimSuffix(zipName, ".zip"))
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create extract dir")
	}
	if _, err := fetcher.ExtractZIP(zipPath, extractDir); err != nil {
		return "", eris.Wrap(err, "tiger: extract archive")
	}

	shpPath, err := findFileByExt(extractDir, ".shp")
	if err != nil {
		return "", eris.Wrap(err, "tiger: find .shp file")
	}
	return shpPath, nil
}

// downloadTo transfers the archive with the fetcher matching the URL scheme.
// A failed transfer removes the partial file, which would otherwise satisfy
// the reuse check.
func (d *Downloader) downloadTo(ctx context.Context, rawURL, dest string) error {
	var err error
	if strings.HasPrefix(rawURL, "ftp://") {
		_, err = d.ftp.DownloadToFile(ctx, rawURL, dest)
	} else {
		_, err = d.http.DownloadToFile(ctx, rawURL, dest)
	}
	if err != nil {
		_ = os.Remove(dest)
		return err
	}
	return nil
}

// archiveName derives the local ZIP filename from the URL path.
func archiveName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrap(err, "tiger: parse archive url")
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || !strings.HasSuffix(name, ".zip") {
		return "", eris.Errorf("tiger: archive url %q has no zip filename", rawURL)
	}
	return name, nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}
