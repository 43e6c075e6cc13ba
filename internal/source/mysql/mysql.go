// Package mysql reads catalog metadata from MySQL and MariaDB through
// go-sql-driver/mysql. Databases are schemas.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/electwix/db-lens/internal/catalog"
	"github.com/electwix/db-lens/internal/logging"
	"github.com/electwix/db-lens/internal/source"
)

const (
	maxOpenConns    = 4
	connMaxLifetime = time.Hour

	listSchemasSQL = `
SELECT schema_name FROM information_schema.schemata
WHERE schema_name NOT IN ('information_schema', 'mysql', 'performance_schema', 'sys')
ORDER BY schema_name`

	listObjectsSQL = `
SELECT CASE table_type WHEN 'VIEW' THEN 'VIEW' ELSE 'TABLE' END, table_name
FROM information_schema.tables WHERE UPPER(table_schema) = ?
UNION ALL
SELECT routine_type, routine_name
FROM information_schema.routines WHERE UPPER(routine_schema) = ?
UNION ALL
SELECT 'TRIGGER', trigger_name
FROM information_schema.triggers WHERE UPPER(trigger_schema) = ?`

	resolveTableSQL = `
SELECT table_schema, table_name FROM information_schema.tables
WHERE UPPER(table_schema) = ? AND UPPER(table_name) = ?
LIMIT 1`

	describeSQL = `
SELECT ordinal_position, column_name, data_type,
       character_maximum_length, numeric_precision, numeric_scale,
       is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
ORDER BY ordinal_position`

	routineSourceSQL = `
SELECT routine_name, COALESCE(routine_definition, '')
FROM information_schema.routines
WHERE UPPER(routine_schema) = ? AND UPPER(routine_name) = ? AND routine_type = ?
LIMIT 1`

	triggerSourceSQL = `
SELECT trigger_name,
       CONCAT(action_timing, ' ', event_manipulation, ' ON ', event_object_table, ' FOR EACH ROW ', action_statement)
FROM information_schema.triggers
WHERE UPPER(trigger_schema) = ? AND UPPER(trigger_name) = ?
LIMIT 1`
)

// Catalog implements source.Catalog for MySQL.
type Catalog struct {
	db  *sql.DB
	log logging.Logger
}

// New is the source.Factory for MySQL.
func New(ctx context.Context, opts source.Options) (source.Catalog, error) {
	return Open(ctx, opts)
}

// Open parses opts.DSN, connects and pings the server.
func Open(ctx context.Context, opts source.Options) (*Catalog, error) {
	cfg, err := ParseDSN(opts.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := driver.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("create connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Catalog{db: db, log: logging.OrNop(opts.Logger)}, nil
}

// ParseDSN parses a go-sql-driver DSN and enables time parsing so that
// DATE and DATETIME cells arrive as time.Time.
func ParseDSN(dsn string) (*driver.Config, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg, nil
}

func (c *Catalog) ListSchemas(ctx context.Context) ([]string, error) {
	return c.queryStrings(ctx, listSchemasSQL)
}

func (c *Catalog) ListObjects(ctx context.Context, schema string) ([]catalog.Object, error) {
	s := strings.ToUpper(schema)
	rows, err := c.db.QueryContext(ctx, listObjectsSQL, s, s, s)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objs []catalog.Object
	for rows.Next() {
		var kind, name string
		if err := rows.Scan(&kind, &name); err != nil {
			return nil, err
		}
		objs = append(objs, catalog.Object{Kind: catalog.Kind(kind), Name: name})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return source.DedupeObjects(objs), nil
}

func (c *Catalog) DescribeTable(ctx context.Context, schema, name string) (catalog.TableStructure, error) {
	db, table, err := c.resolveTable(ctx, schema, name)
	if err != nil {
		return catalog.TableStructure{}, err
	}

	rows, err := c.db.QueryContext(ctx, describeSQL, db, table)
	if err != nil {
		return catalog.TableStructure{}, err
	}
	defer rows.Close()

	ts := catalog.TableStructure{Schema: db, Name: table}
	for rows.Next() {
		var (
			col       catalog.Column
			length    sql.NullInt64
			precision sql.NullInt64
			scale     sql.NullInt64
			nullable  string
			def       sql.NullString
		)
		if err := rows.Scan(&col.Position, &col.Name, &col.DataType, &length, &precision, &scale, &nullable, &def); err != nil {
			return catalog.TableStructure{}, err
		}
		col.DataType = strings.ToUpper(col.DataType)
		col.Length = length.Int64
		col.Nullable = nullable == "YES"
		if precision.Valid {
			col.Precision = &precision.Int64
		}
		if scale.Valid {
			col.Scale = &scale.Int64
		}
		if def.Valid {
			col.Default = &def.String
		}
		ts.Columns = append(ts.Columns, col)
	}
	return ts, rows.Err()
}

func (c *Catalog) SampleRows(ctx context.Context, schema, name string, limit int) (catalog.SampleData, error) {
	db, table, err := c.resolveTable(ctx, schema, name)
	if err != nil {
		return catalog.SampleData{}, err
	}

	query := fmt.Sprintf("SELECT * FROM %s.%s LIMIT ?", quote(db), quote(table))
	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return catalog.SampleData{}, err
	}
	return source.ScanSample(rows)
}

func (c *Catalog) ObjectSource(ctx context.Context, kind catalog.Kind, schema, name string) (catalog.Source, error) {
	var row *sql.Row
	switch kind {
	case catalog.KindFunction, catalog.KindProcedure:
		row = c.db.QueryRowContext(ctx, routineSourceSQL, strings.ToUpper(schema), strings.ToUpper(name), string(kind))
	case catalog.KindTrigger:
		row = c.db.QueryRowContext(ctx, triggerSourceSQL, strings.ToUpper(schema), strings.ToUpper(name))
	default:
		return catalog.Source{}, fmt.Errorf("mysql has no %s objects: %w", kind, source.ErrNotFound)
	}

	src := catalog.Source{Kind: kind}
	err := row.Scan(&src.Name, &src.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Source{}, fmt.Errorf("%s.%s: %w", schema, name, source.ErrNotFound)
	}
	return src, err
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) resolveTable(ctx context.Context, schema, name string) (string, string, error) {
	var db, table string
	err := c.db.QueryRowContext(ctx, resolveTableSQL, strings.ToUpper(schema), strings.ToUpper(name)).Scan(&db, &table)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("%s.%s: %w", schema, name, source.ErrNotFound)
	}
	if err != nil {
		return "", "", err
	}
	c.log.Debug("resolved table", "schema", db, "name", table)
	return db, table, nil
}

func (c *Catalog) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
