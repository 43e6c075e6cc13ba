// Package navigator holds the browsing state of one schema: the object list,
// its filters, a cursor, and the detail of the object under the cursor.
//
// All reads go through a Cache. When the detail of an object is requested the
// navigator hints the objects that lie ahead in the direction the cursor last
// moved, so that stepping through the list finds them already cached.
//
// A Navigator is not safe for concurrent use.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/electwix/db-lens/internal/catalog"
	"github.com/electwix/db-lens/internal/logging"
)

// DefaultDepth is the number of objects hinted ahead of the cursor.
const DefaultDepth = 3

// ErrNoSchema is returned by operations that need an active schema.
var ErrNoSchema = errors.New("no schema selected")

// Cache is the read path used by the navigator. *cache.Facade implements it.
type Cache interface {
	Get(ctx context.Context, key catalog.Key, neighbors ...catalog.Key) (any, error)
	Invalidate(key catalog.Key)
	SetActiveSchema(schema string) bool
}

// Options configures a Navigator.
type Options struct {
	// Depth is how many objects ahead of the cursor are hinted; defaults to 3.
	// Negative disables hinting.
	Depth int
	// Kinds is the initial kind filter; defaults to every object kind.
	Kinds  []catalog.Kind
	Logger logging.Logger
}

// Detail is what the navigator shows for one object. Tables and views carry
// Structure and Sample; other kinds carry Source.
type Detail struct {
	Object    catalog.Object
	Structure *catalog.TableStructure
	Sample    *catalog.SampleData
	Source    *catalog.Source
}

// Navigator browses one schema at a time.
type Navigator struct {
	cache Cache
	depth int
	log   logging.Logger

	schemas []string
	schema  string

	all    []catalog.Object
	items  []catalog.Object
	kinds  []catalog.Kind
	search string

	cursor    int
	direction int
}

// New creates a Navigator reading through c.
func New(c Cache, opts Options) *Navigator {
	depth := opts.Depth
	if depth == 0 {
		depth = DefaultDepth
	}
	if depth < 0 {
		depth = 0
	}
	kinds := slices.Clone(opts.Kinds)
	if len(kinds) == 0 {
		kinds = slices.Clone(catalog.ObjectKinds)
	}
	return &Navigator{
		cache:     c,
		depth:     depth,
		log:       logging.OrNop(opts.Logger).With("component", "navigator"),
		kinds:     kinds,
		direction: 1,
	}
}

// LoadSchemas fetches the schema list. The active schema is listed first when
// the connection does not report it.
func (n *Navigator) LoadSchemas(ctx context.Context) ([]string, error) {
	v, err := n.cache.Get(ctx, catalog.SchemasKey())
	if err != nil {
		return nil, err
	}
	names, ok := v.([]string)
	if !ok {
		return nil, payloadError(catalog.SchemasKey(), v)
	}

	schemas := make([]string, 0, len(names)+1)
	for _, s := range names {
		schemas = append(schemas, catalog.NormalizeName(s))
	}
	if n.schema != "" && !slices.Contains(schemas, n.schema) {
		schemas = slices.Insert(schemas, 0, n.schema)
	}
	n.schemas = schemas
	return slices.Clone(schemas), nil
}

// Schemas returns the list loaded by LoadSchemas.
func (n *Navigator) Schemas() []string {
	return slices.Clone(n.schemas)
}

// Schema returns the active schema.
func (n *Navigator) Schema() string {
	return n.schema
}

// SetSchema switches to schema and loads its object list. Switching clears the
// cache and resets search and cursor; the kind filter is kept.
func (n *Navigator) SetSchema(ctx context.Context, schema string) error {
	schema = catalog.NormalizeName(schema)
	if err := catalog.ValidateIdentifier(schema); err != nil {
		return err
	}
	if schema == n.schema && n.all != nil {
		return nil
	}

	n.schema = schema
	n.all, n.items = nil, nil
	n.search = ""
	n.cursor, n.direction = 0, 1
	if n.cache.SetActiveSchema(schema) {
		n.log.Info("schema selected", "schema", schema)
	}
	return n.Load(ctx)
}

// Load fetches the object list of the active schema and reapplies the filters.
func (n *Navigator) Load(ctx context.Context) error {
	if n.schema == "" {
		return ErrNoSchema
	}
	key := catalog.ObjectsKey(n.schema)
	v, err := n.cache.Get(ctx, key)
	if err != nil {
		return err
	}
	objs, ok := v.([]catalog.Object)
	if !ok {
		return payloadError(key, v)
	}

	n.all = slices.Clone(objs)
	catalog.SortObjects(n.all)
	n.apply()
	n.log.Debug("objects loaded", "schema", n.schema, "total", len(n.all), "shown", len(n.items))
	return nil
}

// Items returns the objects passing the current filters, in list order.
func (n *Navigator) Items() []catalog.Object {
	return slices.Clone(n.items)
}

// Len returns the number of visible objects.
func (n *Navigator) Len() int {
	return len(n.items)
}

// Counts returns how many objects of the unfiltered list are tables and how
// many are something else.
func (n *Navigator) Counts() (tables, others int) {
	for _, o := range n.all {
		if o.Kind == catalog.KindTable {
			tables++
		} else {
			others++
		}
	}
	return tables, others
}

// Search keeps only objects whose name contains term, ignoring case. An empty
// term clears the search. The cursor returns to the first item.
func (n *Navigator) Search(term string) {
	n.search = strings.ToUpper(strings.TrimSpace(term))
	n.apply()
}

// SearchTerm returns the active search term.
func (n *Navigator) SearchTerm() string {
	return n.search
}

// SetKinds replaces the kind filter. The cursor returns to the first item.
func (n *Navigator) SetKinds(kinds ...catalog.Kind) error {
	next := make([]catalog.Kind, 0, len(kinds))
	for _, k := range kinds {
		k = catalog.NormalizeKind(k)
		if !slices.Contains(catalog.ObjectKinds, k) {
			return fmt.Errorf("%w: unknown object kind %q", catalog.ErrInvalidKey, k)
		}
		if !slices.Contains(next, k) {
			next = append(next, k)
		}
	}
	if len(next) == 0 {
		next = slices.Clone(catalog.ObjectKinds)
	}
	n.kinds = next
	n.apply()
	return nil
}

// Kinds returns the kind filter.
func (n *Navigator) Kinds() []catalog.Kind {
	return slices.Clone(n.kinds)
}

// Cursor returns the index of the current item.
func (n *Navigator) Cursor() int {
	return n.cursor
}

// Current returns the object under the cursor.
func (n *Navigator) Current() (catalog.Object, bool) {
	if n.cursor < 0 || n.cursor >= len(n.items) {
		return catalog.Object{}, false
	}
	return n.items[n.cursor], true
}

// Move shifts the cursor by delta, clamped to the list, and records the
// direction of travel. It reports whether the cursor moved.
func (n *Navigator) Move(delta int) bool {
	return n.GoTo(n.cursor + delta)
}

// Down moves to the next item.
func (n *Navigator) Down() bool { return n.Move(1) }

// Up moves to the previous item.
func (n *Navigator) Up() bool { return n.Move(-1) }

// GoTo places the cursor on index i, clamped to the list.
func (n *Navigator) GoTo(i int) bool {
	if len(n.items) == 0 {
		return false
	}
	i = max(0, min(i, len(n.items)-1))
	if i == n.cursor {
		return false
	}
	if i > n.cursor {
		n.direction = 1
	} else {
		n.direction = -1
	}
	n.cursor = i
	return true
}

// Neighbors returns the keys hinted alongside the current item: the detail
// keys of up to Depth items ahead in the direction of travel, nearest first.
func (n *Navigator) Neighbors() []catalog.Key {
	var keys []catalog.Key
	for step := 1; step <= n.depth; step++ {
		i := n.cursor + step*n.direction
		if i < 0 || i >= len(n.items) {
			break
		}
		keys = append(keys, detailKeys(n.schema, n.items[i])...)
	}
	return keys
}

// Detail loads the detail of the current item.
func (n *Navigator) Detail(ctx context.Context) (Detail, error) {
	obj, ok := n.Current()
	if !ok {
		return Detail{}, errors.New("no object selected")
	}
	keys := detailKeys(n.schema, obj)
	neighbors := n.Neighbors()

	d := Detail{Object: obj}
	for i, key := range keys {
		var hints []catalog.Key
		if i == 0 {
			hints = neighbors
		}
		v, err := n.cache.Get(ctx, key, hints...)
		if err != nil {
			return d, err
		}
		switch p := v.(type) {
		case catalog.TableStructure:
			d.Structure = &p
		case catalog.SampleData:
			d.Sample = &p
		case catalog.Source:
			d.Source = &p
		default:
			return d, payloadError(key, v)
		}
	}
	return d, nil
}

// Refresh drops the cached object list and the current item's detail, then
// reloads the list. The cursor stays on the same object when it still exists.
func (n *Navigator) Refresh(ctx context.Context) error {
	if n.schema == "" {
		return ErrNoSchema
	}
	current, hadCurrent := n.Current()
	n.cache.Invalidate(catalog.ObjectsKey(n.schema))
	if hadCurrent {
		for _, key := range detailKeys(n.schema, current) {
			n.cache.Invalidate(key)
		}
	}

	if err := n.Load(ctx); err != nil {
		return err
	}
	if hadCurrent {
		if i := slices.Index(n.items, current); i >= 0 {
			n.cursor = i
		}
	}
	return nil
}

// apply rebuilds the visible list from the full list and resets the cursor.
func (n *Navigator) apply() {
	items := make([]catalog.Object, 0, len(n.all))
	for _, o := range n.all {
		if !slices.Contains(n.kinds, o.Kind) {
			continue
		}
		if n.search != "" && !strings.Contains(strings.ToUpper(o.Name), n.search) {
			continue
		}
		items = append(items, o)
	}
	n.items = items
	n.cursor, n.direction = 0, 1
}

// detailKeys lists the keys fetched to show obj.
func detailKeys(schema string, obj catalog.Object) []catalog.Key {
	if obj.Kind.HasStructure() {
		k := catalog.NewKey(obj.Kind, schema, obj.Name, catalog.SelectorStructure)
		return []catalog.Key{k, k.WithSelector(catalog.SelectorSampleData)}
	}
	return []catalog.Key{catalog.NewKey(obj.Kind, schema, obj.Name, catalog.SelectorSource)}
}

func payloadError(key catalog.Key, v any) error {
	return fmt.Errorf("unexpected payload %T for %s", v, key)
}
