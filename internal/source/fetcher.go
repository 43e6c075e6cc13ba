package source

import (
	"context"
	"fmt"
	"time"

	"github.com/electwix/db-lens/internal/catalog"
)

// MaxRowLimit bounds the sample size a Fetcher accepts.
const MaxRowLimit = 10000

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// RowLimit is the sample size for sample-data keys; defaults to 50.
	RowLimit int
	// Timeout bounds each catalog query. Zero means no timeout.
	Timeout time.Duration
}

// Fetcher resolves catalog keys against a Catalog. It satisfies the cache's
// Fetcher interface.
type Fetcher struct {
	cat      Catalog
	rowLimit int
	timeout  time.Duration
}

// NewFetcher creates a Fetcher reading from cat.
func NewFetcher(cat Catalog, opts FetcherOptions) *Fetcher {
	if opts.RowLimit <= 0 {
		opts.RowLimit = 50
	}
	return &Fetcher{cat: cat, rowLimit: opts.RowLimit, timeout: opts.Timeout}
}

// Fetch returns the payload for key:
//
//	CATALOG::schemas        []string
//	SCHEMA:S.S:objects      []catalog.Object
//	T:S.N:structure         catalog.TableStructure
//	T:S.N:sample-data       catalog.SampleData
//	K:S.N:source            catalog.Source
func (f *Fetcher) Fetch(ctx context.Context, key catalog.Key) (any, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if f.rowLimit > MaxRowLimit {
		return nil, fmt.Errorf("row limit %d exceeds %d", f.rowLimit, MaxRowLimit)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	switch key.Selector {
	case catalog.SelectorSchemas:
		return f.cat.ListSchemas(ctx)

	case catalog.SelectorObjects:
		objs, err := f.cat.ListObjects(ctx, key.Schema)
		if err != nil {
			return nil, fmt.Errorf("list objects of %s: %w", key.Schema, err)
		}
		catalog.SortObjects(objs)
		return objs, nil

	case catalog.SelectorStructure:
		ts, err := f.cat.DescribeTable(ctx, key.Schema, key.Name)
		if err != nil {
			return nil, fmt.Errorf("describe %s.%s: %w", key.Schema, key.Name, err)
		}
		if len(ts.Columns) == 0 {
			return nil, fmt.Errorf("describe %s.%s: %w", key.Schema, key.Name, ErrNotFound)
		}
		catalog.SortColumns(ts.Columns)
		return ts, nil

	case catalog.SelectorSampleData:
		data, err := f.cat.SampleRows(ctx, key.Schema, key.Name, f.rowLimit)
		if err != nil {
			return nil, fmt.Errorf("sample %s.%s: %w", key.Schema, key.Name, err)
		}
		return data, nil

	case catalog.SelectorSource:
		src, err := f.cat.ObjectSource(ctx, key.Kind, key.Schema, key.Name)
		if err != nil {
			return nil, fmt.Errorf("source of %s %s.%s: %w", key.Kind, key.Schema, key.Name, err)
		}
		if src.Text == "" {
			return nil, fmt.Errorf("source of %s %s.%s: %w", key.Kind, key.Schema, key.Name, ErrNotFound)
		}
		return src, nil
	}
	return nil, fmt.Errorf("%w: selector %q", catalog.ErrInvalidKey, key.Selector)
}
