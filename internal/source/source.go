// Package source reads catalog metadata from a live database.
//
// Each dialect implements Catalog and registers a Factory under its driver
// name. Names passed to a Catalog are the uppercased identifiers carried by
// catalog keys; implementations resolve them case-insensitively against the
// database so that lower-case objects are still found.
//
// Usage:
//
//	cat, err := source.Open(ctx, "postgres", source.Options{DSN: dsn})
//	if err != nil {
//	    return err
//	}
//	defer cat.Close()
//
//	f := source.NewFetcher(cat, source.FetcherOptions{RowLimit: 50})
//	v, err := f.Fetch(ctx, key)
package source

import (
	"context"
	"errors"

	"github.com/electwix/db-lens/internal/catalog"
	"github.com/electwix/db-lens/internal/logging"
)

// ErrNotFound reports an object that does not exist or has no source text.
var ErrNotFound = errors.New("object not found")

// Catalog reads metadata from one database connection.
type Catalog interface {
	// ListSchemas returns the schemas visible to the connection, sorted.
	ListSchemas(ctx context.Context) ([]string, error)

	// ListObjects returns the browsable objects of schema.
	ListObjects(ctx context.Context, schema string) ([]catalog.Object, error)

	// DescribeTable returns the columns of a table or view.
	DescribeTable(ctx context.Context, schema, name string) (catalog.TableStructure, error)

	// SampleRows returns at most limit rows of a table or view.
	SampleRows(ctx context.Context, schema, name string, limit int) (catalog.SampleData, error)

	// ObjectSource returns the definition text of a routine or trigger.
	ObjectSource(ctx context.Context, kind catalog.Kind, schema, name string) (catalog.Source, error)

	Close() error
}

// Options configures a Catalog.
type Options struct {
	DSN    string
	Logger logging.Logger
}
