// Package browser assembles a browsing session: a catalog source, the cache in
// front of it, and a navigator over the cache.
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/electwix/db-lens/internal/cache"
	"github.com/electwix/db-lens/internal/catalog"
	"github.com/electwix/db-lens/internal/config"
	"github.com/electwix/db-lens/internal/logging"
	"github.com/electwix/db-lens/internal/navigator"
	"github.com/electwix/db-lens/internal/source"
)

// Environment captures external dependencies of a session.
type Environment struct {
	Logger logging.Logger
	// Open connects a catalog; defaults to source.Open.
	Open  func(ctx context.Context, dialect string, opts source.Options) (source.Catalog, error)
	Clock clock.Clock
}

// ConnectError wraps a failure to reach the database.
type ConnectError struct {
	Driver config.Driver
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Driver, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ErrNoSchemas is returned by Start when the connection lists no schema and
// none is configured.
var ErrNoSchemas = errors.New("no schemas visible to this connection")

// Session owns the catalog connection, the cache and the navigator.
type Session struct {
	id      uuid.UUID
	plan    config.Plan
	log     logging.Logger
	catalog source.Catalog
	cache   *cache.Facade
	nav     *navigator.Navigator
}

// Open connects to the database described by plan and builds the cache and
// navigator. Close must be called to release them.
func Open(ctx context.Context, plan config.Plan, env Environment) (*Session, error) {
	id := uuid.New()
	log := logging.OrNop(env.Logger).With("session", id.String())

	open := env.Open
	if open == nil {
		open = source.Open
	}
	cat, err := open(ctx, string(plan.Driver), source.Options{
		DSN:    plan.DSN,
		Logger: log.With("component", "source"),
	})
	if err != nil {
		return nil, &ConnectError{Driver: plan.Driver, Err: err}
	}

	fetcher := source.NewFetcher(cat, source.FetcherOptions{
		RowLimit: plan.RowLimit,
		Timeout:  plan.QueryTimeout,
	})
	facade := cache.New(fetcher, cache.Options{
		TTL: cache.TTLPolicy{
			Default:    plan.TTL,
			BySelector: plan.TTLBySelector,
		},
		PrefetchWorkers: plan.PrefetchWorkers,
		QueueCapacity:   plan.QueueCapacity,
		PrefetchRate:    plan.PrefetchRate,
		PrefetchBurst:   plan.PrefetchBurst,
		SweepInterval:   plan.SweepInterval,
		Clock:           env.Clock,
		Logger:          log,
	})
	nav := navigator.New(facade, navigator.Options{
		Depth:  plan.PrefetchDepth,
		Kinds:  plan.Kinds,
		Logger: log,
	})

	log.Debug("session opened", "driver", plan.Driver)
	return &Session{
		id:      id,
		plan:    plan,
		log:     log,
		catalog: cat,
		cache:   facade,
		nav:     nav,
	}, nil
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Navigator returns the session navigator.
func (s *Session) Navigator() *navigator.Navigator {
	return s.nav
}

// Cache returns the session cache.
func (s *Session) Cache() *cache.Facade {
	return s.cache
}

// Start loads the schema list and selects the configured schema, or the first
// listed one when none is configured.
func (s *Session) Start(ctx context.Context) error {
	if s.plan.Schema != "" {
		if err := s.nav.SetSchema(ctx, s.plan.Schema); err != nil {
			return err
		}
		_, err := s.nav.LoadSchemas(ctx)
		return err
	}

	schemas, err := s.nav.LoadSchemas(ctx)
	if err != nil {
		return err
	}
	if len(schemas) == 0 {
		return ErrNoSchemas
	}
	return s.nav.SetSchema(ctx, schemas[0])
}

// Schemas returns the schema names visible to the connection.
func (s *Session) Schemas(ctx context.Context) ([]string, error) {
	return s.nav.LoadSchemas(ctx)
}

// Show fetches one key through the cache.
func (s *Session) Show(ctx context.Context, key catalog.Key) (any, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.cache.Get(ctx, key)
}

// Reload drops everything cached for the active schema, then reloads its
// object list keeping the cursor on the same object.
func (s *Session) Reload(ctx context.Context) error {
	schema := s.nav.Schema()
	if schema == "" {
		return navigator.ErrNoSchema
	}
	removed := s.cache.InvalidateSchema(schema)
	s.log.Debug("schema reloaded", "schema", schema, "removed", removed)
	return s.nav.Refresh(ctx)
}

// Stats returns the cache counters.
func (s *Session) Stats() cache.Stats {
	return s.cache.Stats()
}

// Close stops the cache workers and closes the connection. Every failure is
// reported.
func (s *Session) Close() error {
	var result *multierror.Error
	if err := s.cache.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close cache: %w", err))
	}
	if err := s.catalog.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close catalog: %w", err))
	}
	s.log.Debug("session closed")
	return result.ErrorOrNil()
}
