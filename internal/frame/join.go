package frame

import (
	"strings"

	"github.com/rotisserie/eris"
)

// joinKeySep separates key cells when building composite hash keys. Unit
// separator; does not occur in source data.
const joinKeySep = "\x1f"

// JoinOptions configures a left join.
type JoinOptions struct {
	// LeftKeys and RightKeys are the join columns, matched positionally.
	// They must be the same length and non-empty.
	LeftKeys  []string
	RightKeys []string

	// Suffixes disambiguate non-key column-name collisions between the two
	// frames: [0] is appended to the left column, [1] to the right.
	// Defaults to ("_left", "_right").
	Suffixes [2]string

	// ValueColumn names the right-frame column to rename after the join,
	// typically a Zillow month column like "2023-09". If empty and
	// RenameValueTo is set, the last output column is renamed instead.
	ValueColumn   string
	RenameValueTo string

	// DedupeKey, when set, keeps only the first joined row per distinct
	// value of that column. Wide-format index tables repeat a region per
	// size band; the first occurrence is the largest.
	DedupeKey string
}

// LeftJoin joins right onto left, keeping every left row. Unmatched left
// rows get empty cells for the right columns; a left row matching several
// right rows is repeated once per match, in right-row order. The right join
// keys are removed from the output, and any remaining column-name collision
// is resolved by suffixing both sides.
func LeftJoin(left, right *Frame, opts JoinOptions) (*Frame, error) {
	if len(opts.LeftKeys) == 0 || len(opts.LeftKeys) != len(opts.RightKeys) {
		return nil, eris.Errorf("frame: join requires equal-length non-empty key lists (got %d left, %d right)",
			len(opts.LeftKeys), len(opts.RightKeys))
	}
	if opts.Suffixes == [2]string{} {
		opts.Suffixes = [2]string{"_left", "_right"}
	}

	leftKeyIdx, err := resolveKeys(left, opts.LeftKeys, "left")
	if err != nil {
		return nil, err
	}
	rightKeyIdx, err := resolveKeys(right, opts.RightKeys, "right")
	if err != nil {
		return nil, err
	}
	if opts.ValueColumn != "" && !right.HasColumn(opts.ValueColumn) {
		return nil, eris.Wrapf(ErrSchemaMismatch, "join: value column %q not found in right frame", opts.ValueColumn)
	}

	// Right output columns: everything except the join keys.
	rightKeySet := make(map[int]bool, len(rightKeyIdx))
	for _, c := range rightKeyIdx {
		rightKeySet[c] = true
	}
	var rightOutIdx []int
	rightOutNames := make(map[string]bool)
	for c, name := range right.cols {
		if rightKeySet[c] {
			continue
		}
		rightOutIdx = append(rightOutIdx, c)
		rightOutNames[name] = true
	}

	// Collisions between left columns and surviving right columns get both
	// sides suffixed.
	outCols := make([]string, 0, len(left.cols)+len(rightOutIdx))
	leftNames := make(map[string]bool, len(left.cols))
	for _, name := range left.cols {
		leftNames[name] = true
		if rightOutNames[name] {
			name += opts.Suffixes[0]
		}
		outCols = append(outCols, name)
	}
	for _, c := range rightOutIdx {
		name := right.cols[c]
		if leftNames[name] {
			name += opts.Suffixes[1]
		}
		outCols = append(outCols, name)
	}

	// Hash index over the right frame, preserving row order per key.
	index := make(map[string][]int, right.Len())
	for i, row := range right.rows {
		k := compositeKey(row, rightKeyIdx)
		index[k] = append(index[k], i)
	}

	out := New(outCols)
	for _, lrow := range left.rows {
		matches := index[compositeKey(lrow, leftKeyIdx)]
		if len(matches) == 0 {
			out.rows = append(out.rows, gather(lrow, nil, rightOutIdx))
			continue
		}
		for _, ri := range matches {
			out.rows = append(out.rows, gather(lrow, right.rows[ri], rightOutIdx))
		}
	}

	if opts.RenameValueTo != "" {
		if err := renameValue(out, opts, rightOutNames, leftNames); err != nil {
			return nil, err
		}
	}
	if opts.DedupeKey != "" {
		return out.DeduplicateBy(opts.DedupeKey)
	}
	return out, nil
}

func resolveKeys(f *Frame, keys []string, side string) ([]int, error) {
	idx := make([]int, len(keys))
	for i, k := range keys {
		c, ok := f.idx[k]
		if !ok {
			return nil, eris.Wrapf(ErrSchemaMismatch, "join: column %q not found in %s frame", k, side)
		}
		idx[i] = c
	}
	return idx, nil
}

func compositeKey(row []string, keyIdx []int) string {
	if len(keyIdx) == 1 {
		return row[keyIdx[0]]
	}
	var b strings.Builder
	for i, c := range keyIdx {
		if i > 0 {
			b.WriteString(joinKeySep)
		}
		b.WriteString(row[c])
	}
	return b.String()
}

// gather assembles an output row from a left row and an optional right
// match. A nil right row yields empty cells.
func gather(lrow, rrow []string, rightOutIdx []int) []string {
	out := make([]string, len(lrow)+len(rightOutIdx))
	copy(out, lrow)
	if rrow != nil {
		for i, c := range rightOutIdx {
			out[len(lrow)+i] = rrow[c]
		}
	}
	return out
}

// renameValue renames the joined value column, accounting for the suffix it
// may have picked up during collision resolution. With no ValueColumn named,
// the last column is renamed.
func renameValue(out *Frame, opts JoinOptions, rightOutNames, leftNames map[string]bool) error {
	if opts.ValueColumn == "" {
		out.renameAt(len(out.cols)-1, opts.RenameValueTo)
		return nil
	}
	target := opts.ValueColumn
	if leftNames[target] && rightOutNames[target] {
		target += opts.Suffixes[1]
	}
	// Search from the right: the value column came from the right frame.
	for c := len(out.cols) - 1; c >= 0; c-- {
		if out.cols[c] == target {
			out.renameAt(c, opts.RenameValueTo)
			return nil
		}
	}
	return eris.Wrapf(ErrSchemaMismatch, "join: value column %q not found after join", opts.ValueColumn)
}
