package catalog

import (
	"cmp"
	"slices"
)

// Object is one entry of a schema's object list.
type Object struct {
	Kind Kind
	Name string
}

// Key returns the default key for browsing the object.
func (o Object) Key(schema string) Key {
	return NewKey(o.Kind, schema, o.Name, "")
}

// Column describes one column of a table or view.
type Column struct {
	Position  int
	Name      string
	DataType  string
	Length    int64
	Precision *int64
	Scale     *int64
	Nullable  bool
	Default   *string
}

// TableStructure is the payload of a SelectorStructure key.
type TableStructure struct {
	Schema  string
	Name    string
	Columns []Column
}

// SampleData is the payload of a SelectorSampleData key. Cells are rendered
// as text; NULL cells hold NullCell.
type SampleData struct {
	Columns []string
	Rows    [][]string
}

// NullCell is the rendering of a NULL value in SampleData.
const NullCell = "NULL"

// Source is the payload of a SelectorSource key.
type Source struct {
	Kind Kind
	Name string
	Text string
}

// SortObjects orders objects by name, then kind.
func SortObjects(objs []Object) {
	slices.SortFunc(objs, func(a, b Object) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.Kind, b.Kind)
	})
}

// SortColumns orders columns by ordinal position.
func SortColumns(cols []Column) {
	slices.SortFunc(cols, func(a, b Column) int {
		return cmp.Compare(a.Position, b.Position)
	})
}
