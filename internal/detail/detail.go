// Package detail performs the per-record detail look-ups that enrich a
// subset of primary records, in sequential waves of concurrent requests.
package detail

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/eduops/internal/record"
)

// DefaultBatchSize is the number of look-ups in flight per wave.
const DefaultBatchSize = 10

// Cache holds the detail results of one dataset epoch. A key, once claimed,
// is never fetched again for the lifetime of the cache; a refresh replaces
// the cache with a new empty one instead of pruning it.
type Cache struct {
	mu      sync.RWMutex
	claimed map[string]struct{}
	results map[string]record.Raw
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		claimed: map[string]struct{}{},
		results: map[string]record.Raw{},
	}
}

// Claim marks keys as fetched and returns those not claimed before, in
// input order and without duplicates. Empty keys are dropped.
func (c *Cache) Claim(keys []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := c.claimed[k]; ok {
			continue
		}
		c.claimed[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Claimed reports whether key has been claimed.
func (c *Cache) Claimed(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.claimed[key]
	return ok
}

// Store records the result for key. A nil record marks a miss or failure.
func (c *Cache) Store(key string, r record.Raw) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = r
}

// Get returns the stored detail for key. Misses, failures and look-ups still
// in flight all yield nil.
func (c *Cache) Get(key string) record.Raw {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.results[key]
}

// Snapshot returns a copy of the resolved details.
func (c *Cache) Snapshot() map[string]record.Raw {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]record.Raw, len(c.results))
	for k, v := range c.results {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// Getter fetches the detail for one key. It returns nil, nil on a miss.
type Getter func(ctx context.Context, key string) (record.Raw, error)

// Result summarises one Fetch call.
type Result struct {
	Requested int
	Found     int
	Missed    int
	Failed    int
	Skipped   int
}

// Options tune Fetch.
type Options struct {
	// BatchSize is the wave width; DefaultBatchSize when <= 0.
	BatchSize int
	// Alive is checked before each wave; once it returns false the remaining
	// waves are skipped. Nil means always alive.
	Alive func() bool
	// OnError is called for every failed look-up.
	OnError func(key string, err error)
}

// Fetch looks up every key not yet claimed in cache. Waves run one after
// another; the look-ups of a wave run concurrently and the wave completes
// when all of them have. A failed look-up leaves a nil entry for its key and
// never aborts its siblings or later waves.
func Fetch(ctx context.Context, cache *Cache, keys []string, get Getter, opts Options) Result {
	width := opts.BatchSize
	if width <= 0 {
		width = DefaultBatchSize
	}
	pending := cache.Claim(keys)
	res := Result{Requested: len(pending)}

	var mu sync.Mutex
	for start := 0; start < len(pending); start += width {
		if (opts.Alive != nil && !opts.Alive()) || ctx.Err() != nil {
			res.Skipped = len(pending) - start
			break
		}
		wave := pending[start:min(start+width, len(pending))]

		var g errgroup.Group
		for _, key := range wave {
			g.Go(func() error {
				r, err := get(ctx, key)
				cache.Store(key, r)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					res.Failed++
					if opts.OnError != nil {
						opts.OnError(key, err)
					}
				case r == nil:
					res.Missed++
				default:
					res.Found++
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	return res
}
