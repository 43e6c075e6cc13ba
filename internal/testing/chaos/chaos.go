// Package chaos provides a fault-injecting fetcher for exercising the cache
// and navigator against an unreliable catalog.
//
// Faults are drawn from a seeded generator so failing runs can be replayed.
package chaos

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/electwix/db-lens/internal/catalog"
)

// ErrInjected is returned by Fetch when it injects a failure.
var ErrInjected = errors.New("chaos: injected failure")

// Fault is the kind of misbehavior applied to one Fetch call.
type Fault int

const (
	FaultNone Fault = iota
	FaultError
	FaultDelay
)

// Options tunes fault probabilities.
type Options struct {
	// FailureRate is the probability in [0,1] that a call fails.
	FailureRate float64
	// DelayRate is the probability in [0,1] that a call is delayed.
	DelayRate float64
	// MaxDelay bounds injected delays.
	MaxDelay time.Duration
}

// Fetcher wraps a fetch function and injects faults into its calls.
type Fetcher struct {
	inner func(context.Context, catalog.Key) (any, error)
	opts  Options

	mu       sync.Mutex
	rng      *rand.Rand
	calls    map[catalog.Key]int
	failures int
}

// NewFetcher creates a Fetcher with the given seed. inner produces the value
// of calls that are not failed.
func NewFetcher(seed int64, inner func(context.Context, catalog.Key) (any, error), opts Options) *Fetcher {
	return &Fetcher{
		inner: inner,
		opts:  opts,
		rng:   rand.New(rand.NewSource(seed)),
		calls: make(map[catalog.Key]int),
	}
}

// Fetch applies a random fault, then delegates to the wrapped function.
func (f *Fetcher) Fetch(ctx context.Context, key catalog.Key) (any, error) {
	fault, delay := f.roll(key)

	switch fault {
	case FaultError:
		return nil, ErrInjected
	case FaultDelay:
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.inner(ctx, key)
}

// Calls returns how many times key was fetched.
func (f *Fetcher) Calls(key catalog.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// TotalCalls returns the number of Fetch calls across all keys.
func (f *Fetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// Failures returns how many calls were failed.
func (f *Fetcher) Failures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}

func (f *Fetcher) roll(key catalog.Key) (Fault, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[key]++
	if f.rng.Float64() < f.opts.FailureRate {
		f.failures++
		return FaultError, 0
	}
	if f.opts.MaxDelay > 0 && f.rng.Float64() < f.opts.DelayRate {
		return FaultDelay, time.Duration(f.rng.Int63n(int64(f.opts.MaxDelay)) + 1)
	}
	return FaultNone, 0
}
