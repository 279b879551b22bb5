package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// InsertConfig describes a bulk insert that tolerates rows already present.
type InsertConfig struct {
	Table        string   // target table
	Columns      []string // columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns overwritten on conflict; empty skips the row
}

// BulkInsert stages rows in a temp table with COPY and moves them into the
// target with INSERT ... ON CONFLICT, so that row triggers fire once per new
// row. It returns the number of rows written.
func BulkInsert(ctx context.Context, pool Pool, cfg InsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: bulk insert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: bulk insert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: bulk insert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	temp := "_tmp_insert_" + cfg.Table
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{temp}.Sanitize(), pgx.Identifier{cfg.Table}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: bulk insert: create temp table for %s", cfg.Table)
	}

	if _, err := CopyFrom(ctx, tx, temp, cfg.Columns, rows); err != nil {
		return 0, eris.Wrapf(err, "db: bulk insert: stage rows for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, insertSQL(cfg, temp))
	if err != nil {
		return 0, eris.Wrapf(err, "db: bulk insert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: bulk insert: commit tx")
	}
	return tag.RowsAffected(), nil
}

func insertSQL(cfg InsertConfig, temp string) string {
	cols := quoteAndJoin(cfg.Columns)
	action := "DO NOTHING"
	if len(cfg.UpdateCols) > 0 {
		sets := make([]string, len(cfg.UpdateCols))
		for i, c := range cfg.UpdateCols {
			q := pgx.Identifier{c}.Sanitize()
			sets[i] = q + " = EXCLUDED." + q
		}
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		pgx.Identifier{cfg.Table}.Sanitize(), cols, cols,
		pgx.Identifier{temp}.Sanitize(), quoteAndJoin(cfg.ConflictKeys), action,
	)
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
