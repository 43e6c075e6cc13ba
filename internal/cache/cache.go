package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/electwix/db-lens/internal/catalog"
)

// DefaultTTL is the lifetime of an entry when no other TTL applies.
const DefaultTTL = 5 * time.Minute

// ErrClosed is returned by a Facade after Close.
var ErrClosed = errors.New("cache closed")

// Fetcher retrieves the payload for a key from the backing catalog.
// Fetch may block; it is responsible for its own timeout.
type Fetcher interface {
	Fetch(ctx context.Context, key catalog.Key) (any, error)
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc func(ctx context.Context, key catalog.Key) (any, error)

// Fetch calls f(ctx, key).
func (f FetchFunc) Fetch(ctx context.Context, key catalog.Key) (any, error) {
	return f(ctx, key)
}

// FetchError reports a failed retrieval. Failed retrievals are never cached.
type FetchError struct {
	Key catalog.Key
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func wrapFetchError(key catalog.Key, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Key: key, Err: err}
}

// Entry is a cached value with its creation time and lifetime.
type Entry struct {
	Key       catalog.Key
	Value     any
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the entry is no longer valid at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// TTLPolicy picks the lifetime of an entry from its selector.
type TTLPolicy struct {
	Default    time.Duration
	BySelector map[catalog.Selector]time.Duration
}

// For returns the TTL for key, falling back to Default and then DefaultTTL.
func (p TTLPolicy) For(key catalog.Key) time.Duration {
	if ttl, ok := p.BySelector[key.Selector]; ok && ttl > 0 {
		return ttl
	}
	if p.Default > 0 {
		return p.Default
	}
	return DefaultTTL
}
