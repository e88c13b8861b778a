package engine

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/crasbi/crasbi-api/internal/models"
)

// Loader writes a row stream into a warehouse table and returns the row count.
type Loader interface {
	Load(ctx context.Context, targetTable string, src RowSource) (int64, error)
}

type LoaderOptions struct {
	CreateMissingTables bool
	TruncateBeforeLoad  bool
}

// WarehouseLoader COPYs rows into PostgreSQL. Each Load runs in its own
// transaction, so a failed job leaves the target table unchanged.
type WarehouseLoader struct {
	pool *pgxpool.Pool
	opts LoaderOptions
}

func NewWarehouseLoader(ctx context.Context, url string, opts LoaderOptions) (*WarehouseLoader, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "parsing warehouse url")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to warehouse")
	}
	return &WarehouseLoader{pool: pool, opts: opts}, nil
}

func (l *WarehouseLoader) Close() {
	l.pool.Close()
}

func (l *WarehouseLoader) Load(ctx context.Context, targetTable string, src RowSource) (int64, error) {
	table := tableIdentifier(targetTable)
	cols := src.Columns()
	if len(cols) == 0 {
		return 0, nil
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "beginning load transaction")
	}
	defer tx.Rollback(ctx)

	if l.opts.CreateMissingTables {
		if len(table) == 2 {
			if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{table[0]}.Sanitize()); err != nil {
				return 0, errors.Wrapf(err, "creating schema %s", table[0])
			}
		}
		if _, err := tx.Exec(ctx, createTableSQL(table, cols)); err != nil {
			return 0, errors.Wrapf(err, "creating table %s", targetTable)
		}
	}
	if l.opts.TruncateBeforeLoad {
		if _, err := tx.Exec(ctx, "TRUNCATE "+table.Sanitize()); err != nil {
			return 0, errors.Wrapf(err, "truncating %s", targetTable)
		}
	}

	n, err := tx.CopyFrom(ctx, table, columnNames(cols), src)
	if err != nil {
		return 0, errors.Wrapf(err, "copying into %s", targetTable)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "committing load")
	}
	return n, nil
}

func tableIdentifier(name string) pgx.Identifier {
	schema, table := models.SplitTable(name)
	if schema == "" {
		return pgx.Identifier{table}
	}
	return pgx.Identifier{schema, table}
}

func createTableSQL(table pgx.Identifier, cols []Column) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = pgx.Identifier{c.Name}.Sanitize() + " " + c.Type
	}
	return "CREATE TABLE IF NOT EXISTS " + table.Sanitize() + " (" + strings.Join(defs, ", ") + ")"
}
