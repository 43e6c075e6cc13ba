// Package catalog defines the identifiers and payload types of browsable
// database objects.
//
// A Key names one fetchable view of one object: the structure of a table, its
// sample rows, the source text of a function, the object list of a schema. Keys
// are comparable values; schema and object names are trimmed and uppercased so
// that lookups do not depend on caller casing.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Kind identifies the type of a database object.
type Kind string

const (
	KindTable       Kind = "TABLE"
	KindView        Kind = "VIEW"
	KindPackage     Kind = "PACKAGE"
	KindPackageBody Kind = "PACKAGE BODY"
	KindProcedure   Kind = "PROCEDURE"
	KindFunction    Kind = "FUNCTION"
	KindTrigger     Kind = "TRIGGER"
	// KindSchema addresses a whole schema; its only selector is SelectorObjects.
	KindSchema Kind = "SCHEMA"
	// KindCatalog addresses the connection itself; its only selector is SelectorSchemas.
	KindCatalog Kind = "CATALOG"
)

// ObjectKinds lists the kinds that appear in an object list, in display order.
var ObjectKinds = []Kind{
	KindTable,
	KindView,
	KindPackage,
	KindPackageBody,
	KindProcedure,
	KindFunction,
	KindTrigger,
}

// Selector chooses which view of an object a Key refers to.
type Selector string

const (
	SelectorStructure  Selector = "structure"
	SelectorSampleData Selector = "sample-data"
	SelectorSource     Selector = "source"
	SelectorObjects    Selector = "objects"
	SelectorSchemas    Selector = "schemas"
)

var (
	// ErrInvalidIdentifier reports a schema or object name that cannot be used in a query.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrInvalidKey reports a key whose kind and selector do not go together.
	ErrInvalidKey = errors.New("invalid key")
)

var (
	identifierRE = regexp.MustCompile(`^[A-Z][A-Z0-9_$#]*$`)
	kindRE       = regexp.MustCompile(`^[A-Z]+( [A-Z]+)*$`)
)

var selectorsByKind = map[Kind][]Selector{
	KindTable:       {SelectorStructure, SelectorSampleData},
	KindView:        {SelectorStructure, SelectorSampleData},
	KindPackage:     {SelectorSource},
	KindPackageBody: {SelectorSource},
	KindProcedure:   {SelectorSource},
	KindFunction:    {SelectorSource},
	KindTrigger:     {SelectorSource},
	KindSchema:      {SelectorObjects},
	KindCatalog:     {SelectorSchemas},
}

// Key identifies one fetchable view of a database object.
// Two keys are equal iff all four fields are equal after normalization.
type Key struct {
	Kind     Kind
	Schema   string
	Name     string
	Selector Selector
}

// NewKey builds a normalized key. An empty selector is replaced by the
// default selector for the kind.
func NewKey(kind Kind, schema, name string, sel Selector) Key {
	k := Key{Kind: kind, Schema: schema, Name: name, Selector: sel}.Normalize()
	if k.Selector == "" {
		k.Selector = DefaultSelector(k.Kind)
	}
	return k
}

// ObjectsKey addresses the object list of a schema.
func ObjectsKey(schema string) Key {
	return NewKey(KindSchema, schema, schema, SelectorObjects)
}

// SchemasKey addresses the list of schemas visible to the connection.
func SchemasKey() Key {
	return Key{Kind: KindCatalog, Selector: SelectorSchemas}
}

// NormalizeName trims and uppercases a schema or object name.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// NormalizeKind uppercases a kind and collapses inner whitespace.
func NormalizeKind(kind Kind) Kind {
	return Kind(strings.Join(strings.Fields(strings.ToUpper(string(kind))), " "))
}

// Normalize returns the canonical form of k.
func (k Key) Normalize() Key {
	return Key{
		Kind:     NormalizeKind(k.Kind),
		Schema:   NormalizeName(k.Schema),
		Name:     NormalizeName(k.Name),
		Selector: Selector(strings.ToLower(strings.TrimSpace(string(k.Selector)))),
	}
}

// WithSelector returns a copy of k addressing another view of the same object.
func (k Key) WithSelector(sel Selector) Key {
	k.Selector = sel
	return k
}

// String renders the key as KIND:SCHEMA.NAME:selector.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(string(k.Kind))
	b.WriteByte(':')
	if k.Schema != "" || k.Name != "" {
		b.WriteString(k.Schema)
		b.WriteByte('.')
		b.WriteString(k.Name)
	}
	if k.Selector != "" {
		b.WriteByte(':')
		b.WriteString(string(k.Selector))
	}
	return b.String()
}

// Validate reports whether k can be handed to a fetcher.
func (k Key) Validate() error {
	allowed, ok := selectorsByKind[k.Kind]
	if !ok {
		if !kindRE.MatchString(string(k.Kind)) {
			return fmt.Errorf("%w: unsupported object kind %q", ErrInvalidKey, k.Kind)
		}
		return fmt.Errorf("%w: unknown object kind %q", ErrInvalidKey, k.Kind)
	}
	if !slices.Contains(allowed, k.Selector) {
		return fmt.Errorf("%w: selector %q is not valid for %s", ErrInvalidKey, k.Selector, k.Kind)
	}
	if k.Kind == KindCatalog {
		if k.Schema != "" || k.Name != "" {
			return fmt.Errorf("%w: %s keys take no schema or name", ErrInvalidKey, k.Kind)
		}
		return nil
	}
	if err := ValidateIdentifier(k.Schema); err != nil {
		return err
	}
	return ValidateIdentifier(k.Name)
}

// ValidateIdentifier checks that name, once normalized, is a plain SQL identifier.
func ValidateIdentifier(name string) error {
	if !identifierRE.MatchString(NormalizeName(name)) {
		return fmt.Errorf("%w: %q must contain only letters, digits, _, $, # and start with a letter", ErrInvalidIdentifier, name)
	}
	return nil
}

// DefaultSelector returns the selector used when a key names only an object.
func DefaultSelector(kind Kind) Selector {
	switch kind {
	case KindTable, KindView:
		return SelectorStructure
	case KindSchema:
		return SelectorObjects
	case KindCatalog:
		return SelectorSchemas
	default:
		return SelectorSource
	}
}

// HasStructure reports whether objects of this kind have columns.
func (k Kind) HasStructure() bool {
	return k == KindTable || k == KindView
}
