// Package sqlite reads catalog metadata from SQLite databases through
// modernc.org/sqlite. Attached databases ("main", "temp", ...) are schemas.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/electwix/db-lens/internal/catalog"
	"github.com/electwix/db-lens/internal/logging"
	"github.com/electwix/db-lens/internal/source"
)

// Catalog implements source.Catalog for SQLite.
type Catalog struct {
	db  *sql.DB
	log logging.Logger
}

// New is the source.Factory for SQLite.
func New(ctx context.Context, opts source.Options) (source.Catalog, error) {
	return Open(ctx, opts)
}

// Open connects to the database file named by opts.DSN and pings it.
func Open(ctx context.Context, opts source.Options) (*Catalog, error) {
	db, err := sql.Open("sqlite", opts.DSN)
	if err != nil {
		return nil, err
	}
	if opts.DSN == ":memory:" {
		// every connection would see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Catalog{db: db, log: logging.OrNop(opts.Logger)}, nil
}

// DB exposes the underlying handle.
func (c *Catalog) DB() *sql.DB {
	return c.db
}

func (c *Catalog) ListSchemas(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM pragma_database_list`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

func (c *Catalog) ListObjects(ctx context.Context, schema string) ([]catalog.Object, error) {
	actual, err := c.resolveSchema(ctx, schema)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT type, name FROM %s.sqlite_master
WHERE type IN ('table', 'view', 'trigger') AND name NOT LIKE 'sqlite\_%%' ESCAPE '\'`, quote(actual))
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objs []catalog.Object
	for rows.Next() {
		var typ, name string
		if err := rows.Scan(&typ, &name); err != nil {
			return nil, err
		}
		objs = append(objs, catalog.Object{Kind: kindOf(typ), Name: name})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return source.DedupeObjects(objs), nil
}

func (c *Catalog) DescribeTable(ctx context.Context, schema, name string) (catalog.TableStructure, error) {
	obj, err := c.resolveObject(ctx, schema, name, "table", "view")
	if err != nil {
		return catalog.TableStructure{}, err
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT cid, name, type, "notnull", dflt_value FROM pragma_table_info(?, ?)`,
		obj.name, obj.schema)
	if err != nil {
		return catalog.TableStructure{}, err
	}
	defer rows.Close()

	ts := catalog.TableStructure{Schema: obj.schema, Name: obj.name}
	for rows.Next() {
		var (
			cid     int
			col     catalog.Column
			decl    string
			notNull int
			def     sql.NullString
		)
		if err := rows.Scan(&cid, &col.Name, &decl, &notNull, &def); err != nil {
			return catalog.TableStructure{}, err
		}
		col.Position = cid + 1
		col.DataType, col.Length, col.Precision, col.Scale = source.ParseTypeName(decl)
		col.Nullable = notNull == 0
		if def.Valid {
			col.Default = &def.String
		}
		ts.Columns = append(ts.Columns, col)
	}
	return ts, rows.Err()
}

func (c *Catalog) SampleRows(ctx context.Context, schema, name string, limit int) (catalog.SampleData, error) {
	obj, err := c.resolveObject(ctx, schema, name, "table", "view")
	if err != nil {
		return catalog.SampleData{}, err
	}

	query := fmt.Sprintf(`SELECT * FROM %s.%s LIMIT ?`, quote(obj.schema), quote(obj.name))
	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return catalog.SampleData{}, err
	}
	return source.ScanSample(rows)
}

func (c *Catalog) ObjectSource(ctx context.Context, kind catalog.Kind, schema, name string) (catalog.Source, error) {
	if kind != catalog.KindTrigger {
		return catalog.Source{}, fmt.Errorf("sqlite has no %s objects: %w", kind, source.ErrNotFound)
	}
	obj, err := c.resolveObject(ctx, schema, name, "trigger")
	if err != nil {
		return catalog.Source{}, err
	}
	return catalog.Source{Kind: kind, Name: obj.name, Text: obj.sql}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

type object struct {
	schema string
	name   string
	sql    string
}

func (c *Catalog) resolveSchema(ctx context.Context, schema string) (string, error) {
	names, err := c.ListSchemas(ctx)
	if err != nil {
		return "", err
	}
	for _, n := range names {
		if strings.EqualFold(n, schema) {
			return n, nil
		}
	}
	return "", fmt.Errorf("schema %s: %w", schema, source.ErrNotFound)
}

func (c *Catalog) resolveObject(ctx context.Context, schema, name string, types ...string) (object, error) {
	actual, err := c.resolveSchema(ctx, schema)
	if err != nil {
		return object{}, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(types)), ", ")
	query := fmt.Sprintf(`SELECT name, COALESCE(sql, '') FROM %s.sqlite_master
WHERE upper(name) = upper(?) AND type IN (%s) ORDER BY name LIMIT 1`, quote(actual), placeholders)

	args := make([]any, 0, len(types)+1)
	args = append(args, name)
	for _, t := range types {
		args = append(args, t)
	}

	obj := object{schema: actual}
	err = c.db.QueryRowContext(ctx, query, args...).Scan(&obj.name, &obj.sql)
	if errors.Is(err, sql.ErrNoRows) {
		return object{}, fmt.Errorf("%s.%s: %w", schema, name, source.ErrNotFound)
	}
	if err != nil {
		return object{}, err
	}
	c.log.Debug("resolved object", "schema", obj.schema, "name", obj.name)
	return obj, nil
}

func kindOf(typ string) catalog.Kind {
	switch typ {
	case "view":
		return catalog.KindView
	case "trigger":
		return catalog.KindTrigger
	}
	return catalog.KindTable
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
