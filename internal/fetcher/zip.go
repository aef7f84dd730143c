package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractZIP unpacks an archive into destDir and returns the extracted file
// paths. TIGER/Line archives are flat, but nested entries keep their layout
// relative to destDir. Member names that escape destDir are rejected.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open archive %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	paths := make([]string, 0, len(r.File))
	for _, entry := range r.File {
		dest, err := entryPath(destDir, entry.Name)
		if err != nil {
			return nil, err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return nil, eris.Wrapf(err, "zip: create dir %s", dest)
			}
			continue
		}
		if err := extractEntry(entry, dest); err != nil {
			return nil, err
		}
		paths = append(paths, dest)
	}
	return paths, nil
}

// entryPath joins an archive member name onto destDir, rejecting names that
// would land outside it.
func entryPath(destDir, name string) (string, error) {
	dest := filepath.Join(destDir, name)
	if !strings.HasPrefix(dest, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: member %q escapes extract dir", name)
	}
	return dest, nil
}

func extractEntry(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrapf(err, "zip: create dir for %s", dest)
	}

	rc, err := entry.Open()
	if err != nil {
		return eris.Wrapf(err, "zip: open member %s", entry.Name)
	}
	defer rc.Close() //nolint:errcheck

	if _, err := writeToFile(dest, rc); err != nil {
		return err
	}
	return nil
}
