package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/electwix/db-lens/internal/catalog"
	"github.com/electwix/db-lens/internal/logging"
)

// Options configures a Facade.
type Options struct {
	TTL TTLPolicy

	// PrefetchWorkers is the background pool size; defaults to 2.
	PrefetchWorkers int
	// QueueCapacity bounds the prefetch queue; defaults to 16.
	QueueCapacity int
	// PrefetchRate limits background fetches per second; zero means unlimited.
	PrefetchRate  float64
	PrefetchBurst int

	// SweepInterval enables periodic removal of expired entries when positive.
	SweepInterval time.Duration

	Clock  clock.Clock
	Logger logging.Logger
}

// DefaultOptions returns the process defaults: 5 minute TTL, two prefetch
// workers and a queue of 16.
func DefaultOptions() Options {
	return Options{
		TTL:             TTLPolicy{Default: DefaultTTL},
		PrefetchWorkers: defaultWorkers,
		QueueCapacity:   defaultQueueCapacity,
	}
}

// Stats is a snapshot of Facade counters.
type Stats struct {
	Hits             int64
	Misses           int64
	Joins            int64
	Failures         int64
	Prefetched       int64
	PrefetchFailures int64
	Discarded        int64
	Dropped          int64
	Entries          int
	Queued           int
}

// HitRate returns hits / (hits + misses), or 0 before any request.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Facade is the entry point used by navigators. It is safe for concurrent use.
type Facade struct {
	fetcher   Fetcher
	store     *Store
	coalescer *Coalescer
	scheduler *Scheduler
	ttl       TTLPolicy
	clock     clock.Clock
	log       logging.Logger

	mu     sync.RWMutex
	active string

	// genMu orders invalidations against guarded stores.
	genMu      sync.Mutex
	epoch      atomic.Uint64
	schemaGens map[string]uint64
	keyGens    map[catalog.Key]uint64
	closed     atomic.Bool

	stopSweep chan struct{}
	sweepers  sync.WaitGroup

	hits             atomic.Int64
	misses           atomic.Int64
	failures         atomic.Int64
	prefetched       atomic.Int64
	prefetchFailures atomic.Int64
	discarded        atomic.Int64
}

// New creates a Facade backed by fetcher and starts its prefetch workers.
// Close must be called to stop them.
func New(fetcher Fetcher, opts Options) *Facade {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := logging.OrNop(opts.Logger).With("component", "cache")

	f := &Facade{
		fetcher:   fetcher,
		store:     NewStore(clk, opts.TTL.Default),
		coalescer: NewCoalescer(),
		ttl:       opts.TTL,
		clock:     clk,
		log:        log,
		schemaGens: make(map[string]uint64),
		keyGens:    make(map[catalog.Key]uint64),
		stopSweep:  make(chan struct{}),
	}
	f.scheduler = NewScheduler(SchedulerOptions{
		Workers:  opts.PrefetchWorkers,
		Capacity: opts.QueueCapacity,
		Rate:     opts.PrefetchRate,
		Burst:    opts.PrefetchBurst,
		Admit:    f.admit,
		Epoch:    f.epoch.Load,
		Logger:   log.With("component", "prefetch"),
	}, f.warm)

	if opts.SweepInterval > 0 {
		f.sweepers.Add(1)
		go f.sweep(opts.SweepInterval)
	}
	return f
}

// Get is Request with the Facade's own Fetcher.
func (f *Facade) Get(ctx context.Context, key catalog.Key, neighbors ...catalog.Key) (any, error) {
	return f.Request(ctx, key, nil, neighbors)
}

// Request returns the value for key. A cached value is returned without
// blocking. Otherwise fetch (or the Facade's Fetcher when fetch is nil) is
// called through the coalescer and a successful result is stored. Either way
// the neighbors are hinted for background warming. Failures are returned as
// *FetchError and are not cached.
func (f *Facade) Request(ctx context.Context, key catalog.Key, fetch FetchFunc, neighbors []catalog.Key) (any, error) {
	if f.closed.Load() {
		return nil, ErrClosed
	}
	key = key.Normalize()
	if fetch == nil {
		fetch = f.fetcher.Fetch
	}

	if v, ok := f.store.Get(key); ok {
		f.hits.Add(1)
		f.hint(key, neighbors)
		return v, nil
	}

	f.misses.Add(1)
	st := f.stampOf(key)
	v, err := f.coalescer.Do(ctx, key, func(ctx context.Context) (any, error) {
		return f.fetchAndStore(ctx, key, fetch, st)
	})
	f.hint(key, neighbors)
	if err != nil {
		f.failures.Add(1)
		f.log.Debug("fetch failed", "key", key.String(), "err", err)
		return nil, err
	}
	return v, nil
}

// Invalidate drops key from the cache and removes queued prefetches for keys
// of the same schema. A fetch of key already running is not stored, and the
// next request for key starts a new fetch.
func (f *Facade) Invalidate(key catalog.Key) {
	key = key.Normalize()

	f.genMu.Lock()
	f.keyGens[key]++
	f.store.Invalidate(key)
	f.coalescer.Forget(key)
	f.genMu.Unlock()

	drained := f.scheduler.Drain(func(k catalog.Key) bool {
		return k.Schema == key.Schema
	})
	f.log.Debug("invalidated", "key", key.String(), "drained", drained)
}

// InvalidateSchema drops every entry, queued prefetch and running fetch of
// schema. Entries of other schemas and catalog-wide keys are kept.
func (f *Facade) InvalidateSchema(schema string) int {
	schema = catalog.NormalizeName(schema)
	inSchema := func(k catalog.Key) bool {
		return k.Kind != catalog.KindCatalog && k.Schema == schema
	}

	f.genMu.Lock()
	f.schemaGens[schema]++
	removed := f.store.InvalidateFunc(inSchema)
	f.coalescer.ForgetFunc(inSchema)
	f.genMu.Unlock()

	drained := f.scheduler.Drain(inSchema)
	f.log.Debug("invalidated schema", "schema", schema, "removed", removed, "drained", drained)
	return removed
}

// InvalidateAll empties the cache and the prefetch queue. Background fetches
// that started before the call still complete, but their results are not stored.
func (f *Facade) InvalidateAll() {
	f.genMu.Lock()
	f.epoch.Add(1)
	f.store.Clear()
	clear(f.schemaGens)
	clear(f.keyGens)
	f.coalescer.ForgetFunc(func(catalog.Key) bool { return true })
	f.genMu.Unlock()

	drained := f.scheduler.Clear()
	f.log.Debug("invalidated all", "drained", drained)
}

// SetActiveSchema records the schema being browsed. Changing it invalidates
// everything, and results for keys of other schemas are no longer stored.
// It reports whether the schema changed.
func (f *Facade) SetActiveSchema(schema string) bool {
	schema = catalog.NormalizeName(schema)

	f.mu.Lock()
	if schema == f.active {
		f.mu.Unlock()
		return false
	}
	previous := f.active
	f.active = schema
	f.mu.Unlock()

	f.InvalidateAll()
	f.log.Info("active schema changed", "from", previous, "to", schema)
	return true
}

// ActiveSchema returns the schema set by SetActiveSchema.
func (f *Facade) ActiveSchema() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}

// Cached reports whether key holds a valid entry.
func (f *Facade) Cached(key catalog.Key) bool {
	return f.store.Contains(key.Normalize())
}

// Stats returns a snapshot of the cache counters.
func (f *Facade) Stats() Stats {
	return Stats{
		Hits:             f.hits.Load(),
		Misses:           f.misses.Load(),
		Joins:            f.coalescer.Stats().Joins(),
		Failures:         f.failures.Load(),
		Prefetched:       f.prefetched.Load(),
		PrefetchFailures: f.prefetchFailures.Load(),
		Discarded:        f.discarded.Load(),
		Dropped:          f.scheduler.Dropped(),
		Entries:          f.store.Stats().Entries,
		Queued:           f.scheduler.Len(),
	}
}

// Close stops the prefetch workers and the sweeper. Later requests fail with
// ErrClosed.
func (f *Facade) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	close(f.stopSweep)
	f.sweepers.Wait()
	return f.scheduler.Close()
}

func (f *Facade) fetchAndStore(ctx context.Context, key catalog.Key, fetch FetchFunc, st stamp) (any, error) {
	v, err := fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	f.genMu.Lock()
	stored := f.valid(key, st)
	if stored {
		f.store.Put(key, v, f.ttl.For(key))
	}
	f.genMu.Unlock()

	if !stored {
		f.discarded.Add(1)
		f.log.Debug("discarding stale result", "key", key.String())
	}
	return v, nil
}

func (f *Facade) warm(ctx context.Context, job Job) {
	st := f.stampOf(job.Key)
	if st.epoch != job.Epoch || !f.inSchema(job.Key) {
		f.discarded.Add(1)
		return
	}
	if f.store.Contains(job.Key) {
		return
	}
	_, err := f.coalescer.Do(ctx, job.Key, func(ctx context.Context) (any, error) {
		return f.fetchAndStore(ctx, job.Key, f.fetcher.Fetch, st)
	})
	if err != nil {
		f.prefetchFailures.Add(1)
		f.log.Debug("prefetch failed", "key", job.Key.String(), "err", err)
		return
	}
	f.prefetched.Add(1)
}

func (f *Facade) hint(key catalog.Key, neighbors []catalog.Key) {
	if len(neighbors) == 0 {
		return
	}
	candidates := make([]catalog.Key, len(neighbors))
	for i, n := range neighbors {
		candidates[i] = n.Normalize()
	}
	f.scheduler.Hint(key, candidates)
}

// admit rejects hints that are cached, in flight or outside the active schema.
func (f *Facade) admit(key catalog.Key) bool {
	return f.inSchema(key) && !f.store.Contains(key) && !f.coalescer.InFlight(key)
}

// stamp records the invalidation generations a fetch started under.
type stamp struct {
	epoch  uint64
	schema uint64
	key    uint64
}

func (f *Facade) stampOf(key catalog.Key) stamp {
	f.genMu.Lock()
	defer f.genMu.Unlock()
	return stamp{
		epoch:  f.epoch.Load(),
		schema: f.schemaGens[key.Schema],
		key:    f.keyGens[key],
	}
}

// valid reports whether a result fetched under st may still be stored.
// genMu must be held.
func (f *Facade) valid(key catalog.Key, st stamp) bool {
	if st.epoch != f.epoch.Load() || !f.inSchema(key) {
		return false
	}
	if key.Kind != catalog.KindCatalog && st.schema != f.schemaGens[key.Schema] {
		return false
	}
	return st.key == f.keyGens[key]
}

func (f *Facade) inSchema(key catalog.Key) bool {
	active := f.ActiveSchema()
	return active == "" || key.Kind == catalog.KindCatalog || key.Schema == active
}

func (f *Facade) sweep(interval time.Duration) {
	defer f.sweepers.Done()

	ticker := f.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := f.store.Sweep(); n > 0 {
				f.log.Debug("swept expired entries", "count", n)
			}
		case <-f.stopSweep:
			return
		}
	}
}
