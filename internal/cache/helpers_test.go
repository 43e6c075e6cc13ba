package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/electwix/db-lens/internal/catalog"
)

// waitFor polls cond until it holds or a deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func tableKey(schema, name string) catalog.Key {
	return catalog.NewKey(catalog.KindTable, schema, name, catalog.SelectorStructure)
}

// fakeFetcher counts calls per key. Keys with a gate block until the gate is
// closed; queued errors are returned one per call.
type fakeFetcher struct {
	mu    sync.Mutex
	calls map[catalog.Key]int
	gates map[catalog.Key]chan struct{}
	errs  map[catalog.Key][]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls: make(map[catalog.Key]int),
		gates: make(map[catalog.Key]chan struct{}),
		errs:  make(map[catalog.Key][]error),
	}
}

func (f *fakeFetcher) gate(key catalog.Key) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[key] = ch
	return ch
}

func (f *fakeFetcher) failNext(key catalog.Key, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key] = append(f.errs[key], err)
}

func (f *fakeFetcher) count(key catalog.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeFetcher) Fetch(ctx context.Context, key catalog.Key) (any, error) {
	f.mu.Lock()
	f.calls[key]++
	gate := f.gates[key]
	var err error
	if q := f.errs[key]; len(q) > 0 {
		err, f.errs[key] = q[0], q[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return valueOf(key), nil
}

func valueOf(key catalog.Key) string {
	return "value of " + key.String()
}
