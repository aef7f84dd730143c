package tiger

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestDownloader(t *testing.T) *Downloader {
	t.Helper()
	return NewDownloader(Config{
		TempDir: t.TempDir(),
		Timeout: 5 * time.Second,
	})
}

func TestFetch_Success(t *testing.T) {
	zipContent := zipBytes(t, map[string]string{
		"tl_2024_53_tract.shp": "fake shapefile data",
		"tl_2024_53_tract.dbf": "fake dbf data",
		"tl_2024_53_tract.shx": "fake shx data",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(zipContent)
	}))
	defer srv.Close()

	d := newTestDownloader(t)
	shpPath, err := d.fetch(context.Background(), srv.URL+"/tl_2024_53_tract.zip", t.TempDir())

	require.NoError(t, err)
	assert.Contains(t, shpPath, ".shp")
	assert.FileExists(t, shpPath)
}

func TestFetch_ReusesArchive(t *testing.T) {
	zipContent := zipBytes(t, map[string]string{
		"tl_2024_53_tract.shp": "fake shapefile data",
	})

	var callCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(zipContent)
	}))
	defer srv.Close()

	d := newTestDownloader(t)
	destDir := t.TempDir()
	url := srv.URL + "/tl_2024_53_tract.zip"

	// First fetch downloads.
	_, err := d.fetch(context.Background(), url, destDir)
	require.NoError(t, err)
	assert.Equal(t, 1, callCount)

	// Second fetch reuses the archive on disk.
	_, err = d.fetch(context.Background(), url, destDir)
	require.NoError(t, err)
	assert.Equal(t, 1, callCount)
}

func TestFetch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := newTestDownloader(t)
	_, err := d.fetch(context.Background(), srv.URL+"/tl_2024_99_tract.zip", t.TempDir())
	assert.Error(t, err)
}

func TestFetch_FailedDownloadLeavesNoPartialArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := newTestDownloader(t)
	destDir := t.TempDir()
	_, err := d.fetch(context.Background(), srv.URL+"/tl_2024_99_tract.zip", destDir)
	require.Error(t, err)

	assert.NoFileExists(t, filepath.Join(destDir, "tl_2024_99_tract.zip"))
}

func TestFetch_NoShapefileInArchive(t *testing.T) {
	zipContent := zipBytes(t, map[string]string{
		"readme.txt": "no shapefile here",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(zipContent)
	}))
	defer srv.Close()

	d := newTestDownloader(t)
	_, err := d.fetch(context.Background(), srv.URL+"/tl_2024_53_tract.zip", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .shp file found")
}

func TestFetch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		select {}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newTestDownloader(t)
	_, err := d.fetch(ctx, srv.URL+"/tl_2024_53_tract.zip", t.TempDir())
	assert.Error(t, err)
}

func TestFetchShared_CollapsesConcurrentTransfers(t *testing.T) {
	zipContent := zipBytes(t, map[string]string{
		"tl_2024_53_tract.shp": "fake shapefile data",
	})

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write(zipContent)
	}))
	defer srv.Close()

	d := newTestDownloader(t)
	destDir := t.TempDir()
	url := srv.URL + "/tl_2024_53_tract.zip"

	var g errgroup.Group
	for range 4 {
		g.Go(func() error {
			_, err := d.fetchShared(context.Background(), "53/TRACT", url, destDir)
			return err
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), calls.Load())
}

func TestArchiveName(t *testing.T) {
	name, err := archiveName("https://www2.census.gov/geo/tiger/TIGER2024/TRACT/tl_2024_53_tract.zip")
	require.NoError(t, err)
	assert.Equal(t, "tl_2024_53_tract.zip", name)

	_, err = archiveName("https://www2.census.gov/geo/tiger/")
	assert.Error(t, err)
}

func TestFindFileByExt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.shp"), []byte("shp"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.dbf"), []byte("dbf"), 0o644))

	shpPath, err := findFileByExt(dir, ".shp")
	require.NoError(t, err)
	assert.Contains(t, shpPath, "data.shp")

	_, err = findFileByExt(dir, ".prj")
	assert.Error(t, err)
}

// zipBytes builds an in-memory archive to serve from test handlers.
func zipBytes(t *testing.T, members map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range members {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}
