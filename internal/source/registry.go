package source

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Factory opens a Catalog for one dialect.
type Factory func(ctx context.Context, opts Options) (Catalog, error)

var registry = &Registry{
	dialects: make(map[string]Factory),
}

// Registry maps driver names to Catalog factories.
type Registry struct {
	mu       sync.RWMutex
	dialects map[string]Factory
}

// Register adds a factory. Panics if the dialect is already registered.
func (r *Registry) Register(dialect string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dialect = strings.ToLower(dialect)
	if _, exists := r.dialects[dialect]; exists {
		panic(fmt.Sprintf("source: dialect %q already registered", dialect))
	}
	r.dialects[dialect] = factory
}

// Open connects a Catalog for dialect.
func (r *Registry) Open(ctx context.Context, dialect string, opts Options) (Catalog, error) {
	r.mu.RLock()
	factory, exists := r.dialects[strings.ToLower(dialect)]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported database dialect: %s", dialect)
	}
	return factory(ctx, opts)
}

// List returns the registered dialect names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dialects := make([]string, 0, len(r.dialects))
	for dialect := range r.dialects {
		dialects = append(dialects, dialect)
	}
	slices.Sort(dialects)
	return dialects
}

// IsRegistered reports whether a dialect is registered.
func (r *Registry) IsRegistered(dialect string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.dialects[strings.ToLower(dialect)]
	return exists
}

// Register adds a factory to the default registry.
func Register(dialect string, factory Factory) {
	registry.Register(dialect, factory)
}

// Open connects a Catalog through the default registry.
func Open(ctx context.Context, dialect string, opts Options) (Catalog, error) {
	return registry.Open(ctx, dialect, opts)
}

// ListRegistered returns the dialects of the default registry.
func ListRegistered() []string {
	return registry.List()
}

// IsDialectSupported reports whether the default registry knows dialect.
func IsDialectSupported(dialect string) bool {
	return registry.IsRegistered(dialect)
}
