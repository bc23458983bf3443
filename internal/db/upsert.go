package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes one bulk upsert: where rows land, which
// columns travel, and what counts as the same row.
type UpsertConfig struct {
	Table        string   // target, optionally schema-qualified
	Columns      []string // columns present in every row
	ConflictKeys []string // unique constraint the upsert pivots on
	UpdateCols   []string // overwritten on conflict; nil means every non-key column
}

// InsertIgnoreConfig describes a bulk insert that drops rows whose
// conflict keys are already present instead of failing.
type InsertIgnoreConfig struct {
	Table        string   // target, optionally schema-qualified
	Columns      []string // columns present in every row
	ConflictKeys []string // unique constraint that identifies duplicates
}

// BulkUpsert stages rows in a temp table so the whole batch lands in a
// single INSERT ... ON CONFLICT DO UPDATE statement. The staging step
// also strips intra-batch duplicate keys, keeping the last occurrence;
// without that, ON CONFLICT DO UPDATE raises "cannot affect row a
// second time" whenever one batch repeats a key. The temp table drops
// itself on commit.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := checkShape("upsert", cfg.Columns, cfg.ConflictKeys); err != nil {
		return 0, err
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		for _, c := range cfg.Columns {
			if !slices.Contains(cfg.ConflictKeys, c) {
				updateCols = append(updateCols, c)
			}
		}
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable, err := stageRows(ctx, tx, "_tmp_upsert_", cfg.Table, cfg.Columns, cfg.ConflictKeys, rows)
	if err != nil {
		return 0, err
	}

	colList := quoteAndJoin(cfg.Columns)
	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
		excludedAssignments(updateCols),
	)

	tag, err := tx.Exec(ctx, upsertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	return tag.RowsAffected(), nil
}

// BulkInsertIgnore inserts rows via a temp table and INSERT ... ON CONFLICT DO
// NOTHING, returning the number of rows actually written. Rows whose conflict
// keys already exist in the target, or repeat within the batch, are skipped
// without error, so the count is the net-new rows.
func BulkInsertIgnore(ctx context.Context, pool Pool, cfg InsertIgnoreConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := checkShape("insert ignore", cfg.Columns, cfg.ConflictKeys); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: insert ignore: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable, err := stageRows(ctx, tx, "_tmp_insert_", cfg.Table, cfg.Columns, nil, rows)
	if err != nil {
		return 0, err
	}

	colList := quoteAndJoin(cfg.Columns)
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO NOTHING",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
	)

	tag, err := tx.Exec(ctx, insertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: insert ignore: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: insert ignore: commit tx")
	}

	return tag.RowsAffected(), nil
}

// stageRows creates a temp table mirroring the target, COPYs rows into it,
// and, when dedupKeys is non-empty, deletes intra-batch duplicates keeping the
// last occurrence. Returns the temp table name.
func stageRows(ctx context.Context, tx pgx.Tx, prefix, table string, columns, dedupKeys []string, rows [][]any) (string, error) {
	tempTable := prefix + strings.ReplaceAll(table, ".", "_")

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return "", eris.Wrapf(err, "db: create temp table for %s", table)
	}

	copySource := pgx.CopyFromRows(rows)
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, columns, copySource); err != nil {
		return "", eris.Wrapf(err, "db: COPY into temp table for %s", table)
	}

	if len(dedupKeys) > 0 {
		var conds []string
		for _, k := range dedupKeys {
			id := pgx.Identifier{k}.Sanitize()
			conds = append(conds, fmt.Sprintf("a.%s = b.%s", id, id))
		}
		dedupSQL := fmt.Sprintf(
			"DELETE FROM %s a USING %s b WHERE a.ctid < b.ctid AND %s",
			pgx.Identifier{tempTable}.Sanitize(),
			pgx.Identifier{tempTable}.Sanitize(),
			strings.Join(conds, " AND "),
		)
		if _, err := tx.Exec(ctx, dedupSQL); err != nil {
			return "", eris.Wrapf(err, "db: dedup temp table for %s", table)
		}
	}

	return tempTable, nil
}

// checkShape rejects configs that would build unrunnable SQL.
func checkShape(op string, columns, conflictKeys []string) error {
	if len(columns) == 0 {
		return eris.Errorf("db: %s: no columns specified", op)
	}
	if len(conflictKeys) == 0 {
		return eris.Errorf("db: %s: no conflict keys specified", op)
	}
	return nil
}

// excludedAssignments renders the DO UPDATE SET list, pointing every
// update column at its EXCLUDED counterpart.
func excludedAssignments(cols []string) string {
	assigns := make([]string, len(cols))
	for i, col := range cols {
		id := pgx.Identifier{col}.Sanitize()
		assigns[i] = fmt.Sprintf("%s = EXCLUDED.%s", id, id)
	}
	return strings.Join(assigns, ", ")
}

// sanitizeTable handles schema-qualified table names like "public.leads".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin renders a comma-separated list of quoted identifiers.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
