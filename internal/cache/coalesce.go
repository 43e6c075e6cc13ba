package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/electwix/db-lens/internal/catalog"
)

// Coalescer merges concurrent fetches of the same key into one call.
type Coalescer struct {
	group singleflight.Group

	mu       sync.Mutex
	inflight map[catalog.Key]int

	calls   atomic.Int64
	flights atomic.Int64
}

// CoalescerStats counts Do calls and the underlying fetches they caused.
type CoalescerStats struct {
	Calls   int64
	Flights int64
}

// Joins returns how many calls were served by another caller's fetch.
func (s CoalescerStats) Joins() int64 {
	return s.Calls - s.Flights
}

// NewCoalescer creates an idle coalescer.
func NewCoalescer() *Coalescer {
	return &Coalescer{inflight: make(map[catalog.Key]int)}
}

// Do runs fn for key unless a call for key is already running, in which case
// it waits for that call and returns its outcome. Errors are returned as
// *FetchError and are not remembered: the next Do for key calls fn again.
//
// fn runs detached from ctx cancellation so that one caller giving up does
// not fail the others. A caller whose ctx ends stops waiting and receives
// ctx.Err().
func (c *Coalescer) Do(ctx context.Context, key catalog.Key, fn func(context.Context) (any, error)) (any, error) {
	c.calls.Add(1)
	flightCtx := context.WithoutCancel(ctx)

	ch := c.group.DoChan(flightKey(key), func() (any, error) {
		c.begin(key)
		defer c.end(key)

		v, err := fn(flightCtx)
		if err != nil {
			return nil, wrapFetchError(key, err)
		}
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight reports whether a fetch for key is running.
func (c *Coalescer) InFlight(key catalog.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inflight[key] > 0
}

// Forget makes the next Do for key start a new fetch instead of joining the
// running one. Callers already waiting keep waiting for the old fetch.
func (c *Coalescer) Forget(key catalog.Key) {
	c.group.Forget(flightKey(key))
}

// ForgetFunc calls Forget for every in-flight key matching pred.
func (c *Coalescer) ForgetFunc(pred func(catalog.Key) bool) int {
	c.mu.Lock()
	var keys []catalog.Key
	for key := range c.inflight {
		if pred(key) {
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.Forget(key)
	}
	return len(keys)
}

// Stats returns call and fetch counters.
func (c *Coalescer) Stats() CoalescerStats {
	return CoalescerStats{
		Calls:   c.calls.Load(),
		Flights: c.flights.Load(),
	}
}

func (c *Coalescer) begin(key catalog.Key) {
	c.flights.Add(1)
	c.mu.Lock()
	c.inflight[key]++
	c.mu.Unlock()
}

func (c *Coalescer) end(key catalog.Key) {
	c.mu.Lock()
	if c.inflight[key]--; c.inflight[key] <= 0 {
		delete(c.inflight, key)
	}
	c.mu.Unlock()
}

// flightKey quotes every field so that distinct keys never share a flight,
// even when names contain separators.
func flightKey(key catalog.Key) string {
	return fmt.Sprintf("%q|%q|%q|%q", key.Kind, key.Schema, key.Name, key.Selector)
}
