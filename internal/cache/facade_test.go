package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/electwix/db-lens/internal/catalog"
)

func newTestFacade(t *testing.T, fetcher Fetcher, opts Options) *Facade {
	t.Helper()
	f := New(fetcher, opts)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFacade_NeighborIsWarmedInBackground(t *testing.T) {
	fetcher := newFakeFetcher()
	f := newTestFacade(t, fetcher, DefaultOptions())
	ctx := context.Background()

	employees := catalog.NewKey(catalog.KindTable, "HR", "EMPLOYEES", catalog.SelectorStructure)
	departments := catalog.NewKey(catalog.KindTable, "HR", "DEPARTMENTS", catalog.SelectorStructure)

	v, err := f.Get(ctx, employees, departments)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != valueOf(employees) {
		t.Fatalf("Get() = %v, want %v", v, valueOf(employees))
	}
	waitFor(t, "departments prefetched", func() bool { return f.Cached(departments) })

	if _, err := f.Get(ctx, employees); err != nil {
		t.Fatal(err)
	}
	v, err = f.Get(ctx, departments)
	if err != nil || v != valueOf(departments) {
		t.Fatalf("Get(departments) = %v, %v", v, err)
	}

	if fetcher.count(employees) != 1 || fetcher.count(departments) != 1 {
		t.Fatalf("fetch counts = %d, %d; want 1, 1", fetcher.count(employees), fetcher.count(departments))
	}
	stats := f.Stats()
	if stats.Hits != 2 || stats.Misses != 1 || stats.Prefetched != 1 {
		t.Errorf("Stats() = %+v, want 2 hits, 1 miss, 1 prefetched", stats)
	}
}

func TestFacade_KeysAreNormalized(t *testing.T) {
	fetcher := newFakeFetcher()
	f := newTestFacade(t, fetcher, DefaultOptions())
	ctx := context.Background()

	lower := catalog.Key{Kind: catalog.KindTable, Schema: "hr", Name: "emp", Selector: catalog.SelectorStructure}
	if _, err := f.Get(ctx, lower); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Get(ctx, tableKey("HR", "EMP")); err != nil {
		t.Fatal(err)
	}
	if n := fetcher.count(tableKey("HR", "EMP")); n != 1 {
		t.Fatalf("fetch count = %d, want 1", n)
	}
}

func TestFacade_ExpiryRefetches(t *testing.T) {
	mock := clock.NewMock()
	fetcher := newFakeFetcher()
	opts := DefaultOptions()
	opts.Clock = mock
	f := newTestFacade(t, fetcher, opts)
	key := tableKey("hr", "emp")

	f.Get(context.Background(), key)
	mock.Add(DefaultTTL - time.Second)
	f.Get(context.Background(), key)
	if n := fetcher.count(key); n != 1 {
		t.Fatalf("fetch count inside ttl = %d, want 1", n)
	}

	mock.Add(time.Second)
	f.Get(context.Background(), key)
	if n := fetcher.count(key); n != 2 {
		t.Fatalf("fetch count after ttl = %d, want 2", n)
	}
}

func TestFacade_SelectorTTL(t *testing.T) {
	mock := clock.NewMock()
	fetcher := newFakeFetcher()
	opts := DefaultOptions()
	opts.Clock = mock
	opts.TTL.BySelector = map[catalog.Selector]time.Duration{catalog.SelectorSampleData: 10 * time.Second}
	f := newTestFacade(t, fetcher, opts)

	structure := tableKey("hr", "emp")
	sample := structure.WithSelector(catalog.SelectorSampleData)
	f.Get(context.Background(), structure)
	f.Get(context.Background(), sample)

	mock.Add(10 * time.Second)
	if !f.Cached(structure) {
		t.Error("structure expired with the sample-data ttl")
	}
	if f.Cached(sample) {
		t.Error("sample data outlived its ttl")
	}
}

func TestFacade_Sweeper(t *testing.T) {
	mock := clock.NewMock()
	opts := DefaultOptions()
	opts.Clock = mock
	opts.SweepInterval = time.Minute
	f := newTestFacade(t, newFakeFetcher(), opts)

	f.Get(context.Background(), tableKey("hr", "emp"))
	if f.Stats().Entries != 1 {
		t.Fatal("expected one entry")
	}

	waitFor(t, "expired entry swept", func() bool {
		mock.Add(time.Minute)
		return f.Stats().Entries == 0
	})
}

func TestFacade_FailuresAreNotCached(t *testing.T) {
	fetcher := newFakeFetcher()
	f := newTestFacade(t, fetcher, DefaultOptions())
	key := tableKey("hr", "emp")
	cause := errors.New("ORA-03113")
	fetcher.failNext(key, cause)

	_, err := f.Get(context.Background(), key)
	var fe *FetchError
	if !errors.As(err, &fe) || !errors.Is(err, cause) {
		t.Fatalf("Get() error = %v, want FetchError wrapping cause", err)
	}
	if f.Cached(key) {
		t.Fatal("failure was cached")
	}

	v, err := f.Get(context.Background(), key)
	if err != nil || v != valueOf(key) {
		t.Fatalf("retry = %v, %v", v, err)
	}
	if fetcher.count(key) != 2 {
		t.Fatalf("fetch count = %d, want 2", fetcher.count(key))
	}
	if s := f.Stats(); s.Failures != 1 {
		t.Errorf("Failures = %d, want 1", s.Failures)
	}
}

func TestFacade_ForegroundJoinsBackgroundFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	f := newTestFacade(t, fetcher, DefaultOptions())
	a, b := tableKey("hr", "a"), tableKey("hr", "b")
	gate := fetcher.gate(b)

	if _, err := f.Get(context.Background(), a, b); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "background fetch of b", func() bool { return f.coalescer.InFlight(b) })

	// b is in flight, so hinting it again queues nothing.
	f.Get(context.Background(), a, b)
	if q := f.Stats().Queued; q != 0 {
		t.Fatalf("Queued = %d, want 0", q)
	}

	done := make(chan any, 1)
	go func() {
		v, _ := f.Get(context.Background(), b)
		done <- v
	}()
	waitFor(t, "foreground join", func() bool { return f.Stats().Joins == 1 })
	close(gate)

	if v := <-done; v != valueOf(b) {
		t.Fatalf("foreground got %v", v)
	}
	if n := fetcher.count(b); n != 1 {
		t.Fatalf("fetch count = %d, want 1", n)
	}
}

func TestFacade_CachedNeighborIsNotRefetched(t *testing.T) {
	fetcher := newFakeFetcher()
	f := newTestFacade(t, fetcher, DefaultOptions())
	a, b := tableKey("hr", "a"), tableKey("hr", "b")

	f.Get(context.Background(), a)
	f.Get(context.Background(), b, a)
	time.Sleep(20 * time.Millisecond)

	if n := fetcher.count(a); n != 1 {
		t.Fatalf("fetch count = %d, want 1", n)
	}
}

func TestFacade_SchemaChangeDiscardsStaleResults(t *testing.T) {
	fetcher := newFakeFetcher()
	f := newTestFacade(t, fetcher, DefaultOptions())
	ctx := context.Background()

	if !f.SetActiveSchema("hr") {
		t.Fatal("SetActiveSchema() reported no change")
	}
	if f.SetActiveSchema("HR") {
		t.Fatal("same schema reported as a change")
	}

	a, b := tableKey("hr", "a"), tableKey("hr", "b")
	gate := fetcher.gate(b)
	f.Get(ctx, a, b)
	waitFor(t, "background fetch of b", func() bool { return f.coalescer.InFlight(b) })

	f.SetActiveSchema("sales")
	if f.Cached(a) {
		t.Fatal("entry survived schema change")
	}

	close(gate)
	waitFor(t, "background fetch finished", func() bool { return !f.coalescer.InFlight(b) })
	if f.Cached(b) {
		t.Fatal("stale background result was stored")
	}
	if f.Stats().Discarded == 0 {
		t.Error("expected discarded count")
	}

	// Hints outside the active schema are not admitted.
	f.Get(ctx, tableKey("sales", "orders"), tableKey("hr", "c"))
	time.Sleep(20 * time.Millisecond)
	if fetcher.count(tableKey("hr", "c")) != 0 {
		t.Fatal("key outside the active schema was prefetched")
	}

	// Catalog-wide keys are always storable.
	f.Get(ctx, catalog.SchemasKey())
	if !f.Cached(catalog.SchemasKey()) {
		t.Fatal("schema list was not cached")
	}
}

func TestFacade_ForegroundResultOutsideSchemaIsReturnedNotStored(t *testing.T) {
	f := newTestFacade(t, newFakeFetcher(), DefaultOptions())
	f.SetActiveSchema("sales")
	key := tableKey("hr", "emp")

	v, err := f.Get(context.Background(), key)
	if err != nil || v != valueOf(key) {
		t.Fatalf("Get() = %v, %v", v, err)
	}
	if f.Cached(key) {
		t.Fatal("result outside the active schema was stored")
	}
}

func TestFacade_InvalidateDrainsSchemaHints(t *testing.T) {
	fetcher := newFakeFetcher()
	opts := DefaultOptions()
	opts.PrefetchWorkers = 1
	f := newTestFacade(t, fetcher, opts)
	ctx := context.Background()

	a, b, c := tableKey("hr", "a"), tableKey("hr", "b"), tableKey("hr", "c")
	gate := fetcher.gate(b)
	t.Cleanup(func() { close(gate) })

	f.Get(ctx, a, b, c)
	waitFor(t, "worker busy with b", func() bool { return f.coalescer.InFlight(b) })
	if q := f.Stats().Queued; q != 1 {
		t.Fatalf("Queued = %d, want 1", q)
	}

	f.Invalidate(a)
	if f.Cached(a) {
		t.Fatal("invalidated key still cached")
	}
	if q := f.Stats().Queued; q != 0 {
		t.Fatalf("Queued after Invalidate = %d, want 0", q)
	}
}

func TestFacade_KeysWithSameTextAreFetchedSeparately(t *testing.T) {
	f := newTestFacade(t, newFakeFetcher(), DefaultOptions())
	ctx := context.Background()
	k1 := catalog.Key{Kind: catalog.KindTable, Schema: "A.B", Name: "C", Selector: catalog.SelectorStructure}
	k2 := catalog.Key{Kind: catalog.KindTable, Schema: "A", Name: "B.C", Selector: catalog.SelectorStructure}

	release := make(chan struct{})
	done := make(chan any, 1)
	go func() {
		v, _ := f.Request(ctx, k1, func(context.Context, catalog.Key) (any, error) {
			<-release
			return "one", nil
		}, nil)
		done <- v
	}()
	waitFor(t, "k1 in flight", func() bool { return f.coalescer.InFlight(k1) })

	v, err := f.Request(ctx, k2, func(context.Context, catalog.Key) (any, error) {
		return "two", nil
	}, nil)
	if err != nil || v != "two" {
		t.Fatalf("Request(k2) = %v, %v, want two", v, err)
	}
	if !f.Cached(k2) {
		t.Fatal("k2 was not cached")
	}
	close(release)
	if v := <-done; v != "one" {
		t.Fatalf("Request(k1) = %v, want one", v)
	}
}

func TestFacade_InvalidateDuringBackgroundFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	f := newTestFacade(t, fetcher, DefaultOptions())
	ctx := context.Background()
	a, b := tableKey("hr", "a"), tableKey("hr", "b")
	gate := fetcher.gate(b)

	f.Get(ctx, a, b)
	waitFor(t, "background fetch of b", func() bool { return f.coalescer.InFlight(b) })

	f.Invalidate(b)
	close(gate)
	waitFor(t, "background fetch finished", func() bool { return !f.coalescer.InFlight(b) })
	if f.Cached(b) {
		t.Fatal("result read before Invalidate was stored")
	}
	if f.Stats().Discarded != 1 {
		t.Fatalf("Discarded = %d, want 1", f.Stats().Discarded)
	}

	if _, err := f.Get(ctx, b); err != nil {
		t.Fatal(err)
	}
	if n := fetcher.count(b); n != 2 {
		t.Fatalf("fetch count = %d, want 2", n)
	}
	if !f.Cached(b) {
		t.Fatal("fresh result was not cached")
	}
}

func TestFacade_RequestAfterInvalidateDoesNotJoinOldFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	f := newTestFacade(t, fetcher, DefaultOptions())
	ctx := context.Background()
	b := tableKey("hr", "b")
	gate := fetcher.gate(b)

	done := make(chan any, 1)
	go func() {
		v, _ := f.Get(ctx, b)
		done <- v
	}()
	waitFor(t, "first fetch of b", func() bool { return fetcher.count(b) == 1 })

	f.Invalidate(b)
	v, err := f.Request(ctx, b, func(context.Context, catalog.Key) (any, error) {
		return "fresh", nil
	}, nil)
	if err != nil || v != "fresh" {
		t.Fatalf("Request after Invalidate = %v, %v, want fresh", v, err)
	}

	close(gate)
	if v := <-done; v != valueOf(b) {
		t.Fatalf("first caller got %v", v)
	}
	if v, _ := f.Get(ctx, b); v != "fresh" {
		t.Fatalf("cached value = %v, want fresh", v)
	}
	if n := fetcher.count(b); n != 1 {
		t.Fatalf("fetch count = %d, want 1", n)
	}
}

func TestFacade_InvalidateSchema(t *testing.T) {
	fetcher := newFakeFetcher()
	f := newTestFacade(t, fetcher, DefaultOptions())
	ctx := context.Background()
	a, b, orders := tableKey("hr", "a"), tableKey("hr", "b"), tableKey("sales", "orders")

	for _, key := range []catalog.Key{a, orders, catalog.SchemasKey()} {
		if _, err := f.Get(ctx, key); err != nil {
			t.Fatal(err)
		}
	}
	gate := fetcher.gate(b)
	go f.Get(ctx, b)
	waitFor(t, "fetch of b", func() bool { return f.coalescer.InFlight(b) })

	if n := f.InvalidateSchema("HR"); n != 1 {
		t.Fatalf("InvalidateSchema() = %d, want 1", n)
	}
	if f.Cached(a) {
		t.Fatal("entry of the invalidated schema is still cached")
	}
	if !f.Cached(orders) || !f.Cached(catalog.SchemasKey()) {
		t.Fatal("entries outside the schema were dropped")
	}

	close(gate)
	waitFor(t, "fetch of b finished", func() bool { return !f.coalescer.InFlight(b) })
	if f.Cached(b) {
		t.Fatal("fetch started before InvalidateSchema was stored")
	}
	f.Get(ctx, b)
	if !f.Cached(b) {
		t.Fatal("fetch after InvalidateSchema was not stored")
	}
}

func TestFacade_CustomFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	f := newTestFacade(t, fetcher, DefaultOptions())
	key := tableKey("hr", "emp")

	v, err := f.Request(context.Background(), key, func(context.Context, catalog.Key) (any, error) {
		return 42, nil
	}, nil)
	if err != nil || v != 42 {
		t.Fatalf("Request() = %v, %v", v, err)
	}
	if fetcher.count(key) != 0 {
		t.Fatal("default fetcher was called")
	}
	if got, _ := f.Get(context.Background(), key); got != 42 {
		t.Fatalf("cached value = %v, want 42", got)
	}
}

func TestFacade_Close(t *testing.T) {
	f := New(newFakeFetcher(), DefaultOptions())
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := f.Get(context.Background(), tableKey("hr", "emp")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get() after Close error = %v, want ErrClosed", err)
	}
}

func TestStats_HitRate(t *testing.T) {
	if got := (Stats{}).HitRate(); got != 0 {
		t.Errorf("empty HitRate() = %v", got)
	}
	if got := (Stats{Hits: 3, Misses: 1}).HitRate(); got != 0.75 {
		t.Errorf("HitRate() = %v, want 0.75", got)
	}
}
