// Package frame implements the tabular join engine: an ordered, string-valued
// table loaded from CSV/XLSX sources, with the left-join, rename and
// de-duplication operations the fusion pipeline is built on. An empty cell is
// a missing value.
package frame

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/atlas-cli/internal/fetcher"
)

// ErrSchemaMismatch reports a join key or expected column absent from a
// frame. Joins fail fast on it rather than producing all-missing columns.
var ErrSchemaMismatch = eris.New("frame: schema mismatch")

// Frame is an ordered set of named columns over string-valued rows.
type Frame struct {
	cols []string
	idx  map[string]int
	rows [][]string
}

// New creates an empty frame with the given column order. Duplicate names are
// allowed (joins can produce them); name lookups resolve to the first
// occurrence.
func New(cols []string) *Frame {
	f := &Frame{cols: append([]string(nil), cols...)}
	f.reindex()
	return f
}

// FromRows builds a frame from a header and pre-split rows. Short rows are
// padded with empty cells, long rows truncated.
func FromRows(header []string, rows [][]string) *Frame {
	f := New(header)
	for _, r := range rows {
		f.AppendRow(r)
	}
	return f
}

func (f *Frame) reindex() {
	f.idx = make(map[string]int, len(f.cols))
	for i, c := range f.cols {
		if _, seen := f.idx[c]; !seen {
			f.idx[c] = i
		}
	}
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.cols...)
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.rows) }

// Width returns the number of columns.
func (f *Frame) Width() int { return len(f.cols) }

// HasColumn reports whether a column exists.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.idx[name]
	return ok
}

// ColumnIndex returns the position of the first column with the given name.
func (f *Frame) ColumnIndex(name string) (int, bool) {
	i, ok := f.idx[name]
	return i, ok
}

// LastColumn returns the name of the final column. Zillow wide-format tables
// carry the most recent month there, which is why callers care.
func (f *Frame) LastColumn() string {
	if len(f.cols) == 0 {
		return ""
	}
	return f.cols[len(f.cols)-1]
}

// AppendRow adds a row, padded or truncated to the frame width.
func (f *Frame) AppendRow(row []string) {
	r := make([]string, len(f.cols))
	copy(r, row)
	f.rows = append(f.rows, r)
}

// Row returns row i. The slice aliases frame storage; callers must not
// mutate it.
func (f *Frame) Row(i int) []string { return f.rows[i] }

// Rows returns all rows. Aliases frame storage.
func (f *Frame) Rows() [][]string { return f.rows }

// Get returns the cell at row i in the named column, or "" if the column
// does not exist.
func (f *Frame) Get(i int, name string) string {
	c, ok := f.idx[name]
	if !ok {
		return ""
	}
	return f.rows[i][c]
}

// Select returns a new frame with only the named columns, in the given
// order. An absent column is a schema mismatch.
func (f *Frame) Select(names ...string) (*Frame, error) {
	srcIdx := make([]int, len(names))
	for i, n := range names {
		c, ok := f.idx[n]
		if !ok {
			return nil, eris.Wrapf(ErrSchemaMismatch, "select: column %q not found", n)
		}
		srcIdx[i] = c
	}
	out := New(names)
	for _, row := range f.rows {
		r := make([]string, len(names))
		for i, c := range srcIdx {
			r[i] = row[c]
		}
		out.rows = append(out.rows, r)
	}
	return out, nil
}

// Drop returns a new frame without the named columns. Names that do not
// exist are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	dropped := make(map[string]bool, len(names))
	for _, n := range names {
		dropped[n] = true
	}
	var keepIdx []int
	var keepCols []string
	for i, c := range f.cols {
		if !dropped[c] {
			keepIdx = append(keepIdx, i)
			keepCols = append(keepCols, c)
		}
	}
	out := New(keepCols)
	for _, row := range f.rows {
		r := make([]string, len(keepIdx))
		for i, c := range keepIdx {
			r[i] = row[c]
		}
		out.rows = append(out.rows, r)
	}
	return out
}

// Rename renames the first column called old to new, in place.
func (f *Frame) Rename(old, new string) error {
	c, ok := f.idx[old]
	if !ok {
		return eris.Wrapf(ErrSchemaMismatch, "rename: column %q not found", old)
	}
	f.cols[c] = new
	f.reindex()
	return nil
}

// renameAt renames the column at position c, in place.
func (f *Frame) renameAt(c int, name string) {
	f.cols[c] = name
	f.reindex()
}

// DeduplicateBy returns a new frame keeping only the first row for each
// distinct value of the key column.
func (f *Frame) DeduplicateBy(key string) (*Frame, error) {
	c, ok := f.idx[key]
	if !ok {
		return nil, eris.Wrapf(ErrSchemaMismatch, "deduplicate: column %q not found", key)
	}
	out := New(f.cols)
	seen := make(map[string]bool, len(f.rows))
	for _, row := range f.rows {
		k := row[c]
		if seen[k] {
			continue
		}
		seen[k] = true
		out.rows = append(out.rows, append([]string(nil), row...))
	}
	return out, nil
}

// ReadCSV loads a frame from a CSV file. The first row is the header; all
// data rows must match its width.
func ReadCSV(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "frame: open %s", path)
	}
	defer file.Close() //nolint:errcheck

	r := csv.NewReader(file)
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "frame: read %s", path)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("frame: %s has no header row", path)
	}
	return FromRows(records[0], records[1:]), nil
}

// ReadXLSX loads a frame from an XLSX sheet. The first row is the header.
// An empty sheet name selects the first sheet.
func ReadXLSX(path, sheet string) (*Frame, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: sheet})
	if err != nil {
		return nil, eris.Wrapf(err, "frame: read %s", path)
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("frame: %s has no header row", path)
	}
	return FromRows(rows[0], rows[1:]), nil
}

// RecentCSV returns the most recently modified .csv file in dir whose name
// contains identifier. Source directories hold dated exports; the newest one
// wins.
func RecentCSV(dir, identifier string) (string, error) {
	return RecentFile(dir, identifier, ".csv")
}

// RecentFile is RecentCSV for an arbitrary extension, "xlsx" sources
// included.
func RecentFile(dir, identifier, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrapf(err, "frame: read dir %s", dir)
	}

	best := ""
	var bestMod int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) || !strings.Contains(e.Name(), identifier) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); best == "" || mod > bestMod {
			best = filepath.Join(dir, e.Name())
			bestMod = mod
		}
	}
	if best == "" {
		return "", eris.Errorf("frame: no %s matching %q in %s", strings.TrimPrefix(ext, "."), identifier, dir)
	}
	return best, nil
}
