// Package postgres reads catalog metadata from PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/electwix/db-lens/internal/catalog"
	"github.com/electwix/db-lens/internal/logging"
	"github.com/electwix/db-lens/internal/source"
)

const (
	maxConns = 4

	listSchemasSQL = `
SELECT nspname
FROM pg_catalog.pg_namespace
WHERE nspname NOT LIKE 'pg\_%' AND nspname <> 'information_schema'
ORDER BY nspname`

	listObjectsSQL = `
SELECT CASE WHEN c.relkind IN ('v', 'm') THEN 'VIEW' ELSE 'TABLE' END, c.relname
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE upper(n.nspname) = $1 AND c.relkind IN ('r', 'p', 'v', 'm')
UNION ALL
SELECT CASE p.prokind WHEN 'p' THEN 'PROCEDURE' ELSE 'FUNCTION' END, p.proname
FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
WHERE upper(n.nspname) = $1 AND p.prokind IN ('f', 'p')
UNION ALL
SELECT 'TRIGGER', t.tgname
FROM pg_catalog.pg_trigger t
JOIN pg_catalog.pg_class c ON c.oid = t.tgrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE upper(n.nspname) = $1 AND NOT t.tgisinternal`

	resolveRelationSQL = `
SELECT n.nspname, c.relname
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE upper(n.nspname) = $1 AND upper(c.relname) = $2 AND c.relkind IN ('r', 'p', 'v', 'm')
ORDER BY n.nspname, c.relname
LIMIT 1`

	describeSQL = `
SELECT a.attnum::int8,
       a.attname::text,
       format_type(a.atttypid, NULL)::text,
       information_schema._pg_char_max_length(a.atttypid, a.atttypmod)::int8,
       information_schema._pg_numeric_precision(a.atttypid, a.atttypmod)::int8,
       information_schema._pg_numeric_scale(a.atttypid, a.atttypmod)::int8,
       NOT a.attnotnull,
       pg_get_expr(d.adbin, d.adrelid)::text
FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

	routineSourceSQL = `
SELECT p.proname, pg_get_functiondef(p.oid)
FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
WHERE upper(n.nspname) = $1 AND upper(p.proname) = $2 AND p.prokind = $3
ORDER BY p.oid`

	triggerSourceSQL = `
SELECT t.tgname, pg_get_triggerdef(t.oid, true)
FROM pg_catalog.pg_trigger t
JOIN pg_catalog.pg_class c ON c.oid = t.tgrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE upper(n.nspname) = $1 AND upper(t.tgname) = $2 AND NOT t.tgisinternal
ORDER BY t.oid`
)

// Catalog implements source.Catalog for PostgreSQL.
type Catalog struct {
	pool *pgxpool.Pool
	log  logging.Logger
}

// New is the source.Factory for PostgreSQL.
func New(ctx context.Context, opts source.Options) (source.Catalog, error) {
	return Open(ctx, opts)
}

// Open creates a pool for opts.DSN and pings the server.
func Open(ctx context.Context, opts source.Options) (*Catalog, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > maxConns {
		cfg.MaxConns = maxConns
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "db-lens"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Catalog{pool: pool, log: logging.OrNop(opts.Logger)}, nil
}

func (c *Catalog) ListSchemas(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx, listSchemasSQL)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (c *Catalog) ListObjects(ctx context.Context, schema string) ([]catalog.Object, error) {
	rows, err := c.pool.Query(ctx, listObjectsSQL, strings.ToUpper(schema))
	if err != nil {
		return nil, err
	}
	objs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Object, error) {
		var kind, name string
		err := row.Scan(&kind, &name)
		return catalog.Object{Kind: catalog.Kind(kind), Name: name}, err
	})
	if err != nil {
		return nil, err
	}
	return source.DedupeObjects(objs), nil
}

func (c *Catalog) DescribeTable(ctx context.Context, schema, name string) (catalog.TableStructure, error) {
	nsp, rel, err := c.resolveRelation(ctx, schema, name)
	if err != nil {
		return catalog.TableStructure{}, err
	}

	rows, err := c.pool.Query(ctx, describeSQL, nsp, rel)
	if err != nil {
		return catalog.TableStructure{}, err
	}
	cols, err := pgx.CollectRows(rows, scanColumn)
	if err != nil {
		return catalog.TableStructure{}, err
	}
	return catalog.TableStructure{Schema: nsp, Name: rel, Columns: cols}, nil
}

func scanColumn(row pgx.CollectableRow) (catalog.Column, error) {
	var (
		pos       pgtype.Int8
		name      pgtype.Text
		typ       pgtype.Text
		length    pgtype.Int8
		precision pgtype.Int8
		scale     pgtype.Int8
		nullable  pgtype.Bool
		def       pgtype.Text
	)
	if err := row.Scan(&pos, &name, &typ, &length, &precision, &scale, &nullable, &def); err != nil {
		return catalog.Column{}, err
	}

	col := catalog.Column{
		Position: int(pos.Int64),
		Name:     name.String,
		DataType: strings.ToUpper(typ.String),
		Length:   length.Int64,
		Nullable: nullable.Bool,
	}
	if precision.Valid {
		col.Precision = &precision.Int64
	}
	if scale.Valid {
		col.Scale = &scale.Int64
	}
	if def.Valid {
		col.Default = &def.String
	}
	return col, nil
}

func (c *Catalog) SampleRows(ctx context.Context, schema, name string, limit int) (catalog.SampleData, error) {
	nsp, rel, err := c.resolveRelation(ctx, schema, name)
	if err != nil {
		return catalog.SampleData{}, err
	}

	query := fmt.Sprintf("SELECT * FROM %s LIMIT $1", pgx.Identifier{nsp, rel}.Sanitize())
	rows, err := c.pool.Query(ctx, query, limit)
	if err != nil {
		return catalog.SampleData{}, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	data := catalog.SampleData{Columns: make([]string, len(fields)), Rows: [][]string{}}
	for i, f := range fields {
		data.Columns[i] = f.Name
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return catalog.SampleData{}, err
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		data.Rows = append(data.Rows, row)
	}
	return data, rows.Err()
}

func (c *Catalog) ObjectSource(ctx context.Context, kind catalog.Kind, schema, name string) (catalog.Source, error) {
	var (
		rows pgx.Rows
		err  error
	)
	switch kind {
	case catalog.KindFunction:
		rows, err = c.pool.Query(ctx, routineSourceSQL, strings.ToUpper(schema), strings.ToUpper(name), "f")
	case catalog.KindProcedure:
		rows, err = c.pool.Query(ctx, routineSourceSQL, strings.ToUpper(schema), strings.ToUpper(name), "p")
	case catalog.KindTrigger:
		rows, err = c.pool.Query(ctx, triggerSourceSQL, strings.ToUpper(schema), strings.ToUpper(name))
	default:
		return catalog.Source{}, fmt.Errorf("postgres has no %s objects: %w", kind, source.ErrNotFound)
	}
	if err != nil {
		return catalog.Source{}, err
	}

	type definition struct {
		name string
		text string
	}
	defs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (definition, error) {
		var d definition
		err := row.Scan(&d.name, &d.text)
		return d, err
	})
	if err != nil {
		return catalog.Source{}, err
	}
	if len(defs) == 0 {
		return catalog.Source{}, fmt.Errorf("%s.%s: %w", schema, name, source.ErrNotFound)
	}

	// overloads are listed one after another
	texts := make([]string, len(defs))
	for i, d := range defs {
		texts[i] = strings.TrimSpace(d.text)
	}
	return catalog.Source{Kind: kind, Name: defs[0].name, Text: strings.Join(texts, "\n\n")}, nil
}

func (c *Catalog) Close() error {
	c.pool.Close()
	return nil
}

func (c *Catalog) resolveRelation(ctx context.Context, schema, name string) (string, string, error) {
	var nsp, rel string
	err := c.pool.QueryRow(ctx, resolveRelationSQL, strings.ToUpper(schema), strings.ToUpper(name)).Scan(&nsp, &rel)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", fmt.Errorf("%s.%s: %w", schema, name, source.ErrNotFound)
	}
	if err != nil {
		return "", "", err
	}
	c.log.Debug("resolved relation", "schema", nsp, "name", rel)
	return nsp, rel, nil
}
