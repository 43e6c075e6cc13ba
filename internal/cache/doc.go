// Package cache hides catalog latency from an interactive browser.
//
// Facade is the single entry point. It combines a TTL Store, a Coalescer that
// allows at most one outstanding fetch per key, and a Scheduler whose workers
// warm the keys a user is likely to visit next.
//
// Usage:
//
//	f := cache.New(fetcher, cache.DefaultOptions())
//	defer f.Close()
//
//	v, err := f.Get(ctx, key, next1, next2)
//	if err != nil {
//	    // *cache.FetchError, never cached
//	}
package cache
