package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ReplaceConfig defines the parameters for a scoped bulk replace.
type ReplaceConfig struct {
	Table     string   // target table (e.g., "county_units")
	Columns   []string // all columns being inserted
	ScopeCols []string // columns identifying the snapshot being replaced
}

// BulkReplace swaps one scope's rows for a fresh snapshot in a single
// transaction:
// 1. DELETE FROM target WHERE the scope columns match scopeVals
// 2. COPY the new rows in
// Rows outside the scope are untouched. Passing no rows clears the scope.
// Returns the number of rows copied.
func BulkReplace(ctx context.Context, pool TxPool, cfg ReplaceConfig, scopeVals []any, rows [][]any) (int64, error) {
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}
	if len(cfg.ScopeCols) == 0 {
		return 0, eris.New("db: replace: no scope columns specified")
	}
	if len(cfg.ScopeCols) != len(scopeVals) {
		return 0, eris.Errorf("db: replace: %d scope columns but %d scope values", len(cfg.ScopeCols), len(scopeVals))
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx)

	conds := make([]string, len(cfg.ScopeCols))
	for i, col := range cfg.ScopeCols {
		conds[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), i+1)
	}
	deleteSQL := fmt.Sprintf(
		"DELETE FROM %s WHERE %s",
		sanitizeTable(cfg.Table),
		strings.Join(conds, " AND "),
	)
	if _, err := tx.Exec(ctx, deleteSQL, scopeVals...); err != nil {
		return 0, eris.Wrapf(err, "db: replace: delete scope for %s", cfg.Table)
	}

	var n int64
	if len(rows) > 0 {
		copySource := pgx.CopyFromRows(rows)
		n, err = tx.CopyFrom(ctx, pgx.Identifier{cfg.Table}, cfg.Columns, copySource)
		if err != nil {
			return 0, eris.Wrapf(err, "db: replace: COPY into %s", cfg.Table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}

	return n, nil
}

// sanitizeTable handles schema-qualified table names like "public.county_units".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}
