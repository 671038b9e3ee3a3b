package refcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/refcache/internal/kvstore"
	"github.com/dshills/refcache/internal/logging"
	"github.com/dshills/refcache/internal/metrics"
	"github.com/dshills/refcache/pkg/types"
)

// DefaultTTL is used when Options.TTL is zero
const DefaultTTL = 5 * time.Minute

// ErrNoFetch is returned by New without a fetch function
var ErrNoFetch = errors.New("fetch function is required")

// State is the lifecycle state of a cache
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateFiltered      State = "filtered"
)

// Entry is the cached list with its fetch time
type Entry[T any] struct {
	Data            []T
	FetchedAtMillis int64
	TTLMillis       int64
}

// Snapshot is a consistent copy of the observable cache state
type Snapshot[T any] struct {
	State   State
	Data    []T
	AllData []T
	Loading bool
	Err     error
	Entry   Entry[T]
}

// Options configures a Cache
type Options[T any] struct {
	Fetch func(ctx context.Context) ([]T, error)
	TTL   time.Duration

	// Key names the persisted entry and labels metrics
	Key string
	// Store is the optional persisted slot
	Store kvstore.Store

	Clock  func() time.Time
	Logger *logging.Logger
}

// persisted is the stored form of an entry
type persisted[T any] struct {
	Data      []T   `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// Cache is a TTL cache around one list-fetch function
type Cache[T any] struct {
	fetch func(ctx context.Context) ([]T, error)
	ttl   time.Duration
	key   string
	store kvstore.Store
	now   func() time.Time
	log   *logging.Logger

	group singleflight.Group

	mu          sync.Mutex
	state       State
	all         []T
	data        []T
	filters     map[string]interface{}
	err         error
	loading     bool
	lastSuccess time.Time // zero until the first successful fetch
}

// New creates a cache. A fresh persisted entry, if any, is loaded before New
// returns.
func New[T any](opts Options[T]) (*Cache[T], error) {
	if opts.Fetch == nil {
		return nil, ErrNoFetch
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Key == "" {
		opts.Key = "refcache"
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}

	c := &Cache[T]{
		fetch: opts.Fetch,
		ttl:   opts.TTL,
		key:   opts.Key,
		store: opts.Store,
		now:   opts.Clock,
		log:   opts.Logger.WithComponent("refcache").With("key", opts.Key),
		state: StateUninitialized,
	}
	c.seed()
	return c, nil
}

// seed loads a persisted entry that is still within TTL
func (c *Cache[T]) seed() {
	if c.store == nil {
		return
	}
	raw, err := c.store.Get(c.key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			c.log.Warn("failed to read persisted entry", "error", err)
		}
		return
	}

	var p persisted[T]
	if err := json.Unmarshal(raw, &p); err != nil {
		c.log.Warn("dropping corrupt persisted entry", "error", err)
		_ = c.store.Delete(c.key)
		return
	}

	fetchedAt := time.UnixMilli(p.Timestamp)
	if c.now().Sub(fetchedAt) >= c.ttl {
		c.log.Debug("persisted entry expired", "fetched_at", fetchedAt)
		return
	}

	if p.Data == nil {
		p.Data = []T{}
	}
	c.all = p.Data
	c.data = p.Data
	c.lastSuccess = fetchedAt
	c.state = StateReady
	c.log.Debug("seeded from persisted entry", "items", len(p.Data))
}

// Load fetches on first use and whenever the TTL has expired
func (c *Cache[T]) Load(ctx context.Context) error {
	return c.Refresh(ctx, false)
}

// Refresh fetches unless the last success is younger than the TTL. force
// skips the TTL check. Concurrent calls share one underlying fetch.
func (c *Cache[T]) Refresh(ctx context.Context, force bool) error {
	if !force && c.fresh() {
		metrics.CacheFetches.WithLabelValues(c.key, "skipped").Inc()
		return nil
	}

	_, err, _ := c.group.Do(c.key, func() (interface{}, error) {
		return nil, c.doFetch(ctx)
	})
	return err
}

// InvalidateCache drops the persisted entry and the fetch timestamp, then
// fetches
func (c *Cache[T]) InvalidateCache(ctx context.Context) error {
	if c.store != nil {
		if err := c.store.Delete(c.key); err != nil {
			c.log.WarnContext(ctx, "failed to drop persisted entry", "error", err)
		}
	}

	c.mu.Lock()
	c.lastSuccess = time.Time{}
	c.mu.Unlock()

	return c.Refresh(ctx, true)
}

// ApplyFilters sets the filter map and recomputes Data from AllData. An
// empty or nil map clears the filters.
func (c *Cache[T]) ApplyFilters(filters map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(filters) == 0 {
		c.filters = nil
	} else {
		c.filters = make(map[string]interface{}, len(filters))
		for k, v := range filters {
			c.filters[k] = v
		}
	}
	c.applyLocked()
}

// Filters returns a copy of the active filters
func (c *Cache[T]) Filters() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]interface{}, len(c.filters))
	for k, v := range c.filters {
		out[k] = v
	}
	return out
}

// State returns the lifecycle state
func (c *Cache[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Data returns the filtered view
func (c *Cache[T]) Data() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSlice(c.data)
}

// AllData returns every cached item
func (c *Cache[T]) AllData() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSlice(c.all)
}

// Loading reports whether a fetch is running
func (c *Cache[T]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the error of the last fetch, nil after a success
func (c *Cache[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Snapshot returns the whole observable state at once
func (c *Cache[T]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	var fetchedAt int64
	if !c.lastSuccess.IsZero() {
		fetchedAt = c.lastSuccess.UnixMilli()
	}
	all := cloneSlice(c.all)
	return Snapshot[T]{
		State:   c.state,
		Data:    cloneSlice(c.data),
		AllData: all,
		Loading: c.loading,
		Err:     c.err,
		Entry: Entry[T]{
			Data:            all,
			FetchedAtMillis: fetchedAt,
			TTLMillis:       c.ttl.Milliseconds(),
		},
	}
}

func (c *Cache[T]) fresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastSuccess.IsZero() && c.now().Sub(c.lastSuccess) < c.ttl
}

func (c *Cache[T]) doFetch(ctx context.Context) error {
	c.mu.Lock()
	c.loading = true
	c.state = StateLoading
	c.mu.Unlock()

	items, err := c.fetch(ctx)

	c.mu.Lock()
	c.loading = false
	if err != nil {
		c.err = err
		c.applyLocked()
		c.mu.Unlock()

		metrics.CacheFetches.WithLabelValues(c.key, "error").Inc()
		c.log.LogCache(ctx, c.key, 0, err)
		return fmt.Errorf("fetch %s: %w", c.key, err)
	}

	if items == nil {
		items = []T{}
	}
	c.all = items
	c.err = nil
	c.lastSuccess = c.now()
	c.applyLocked()
	entry := persisted[T]{Data: items, Timestamp: c.lastSuccess.UnixMilli()}
	c.mu.Unlock()

	metrics.CacheFetches.WithLabelValues(c.key, "success").Inc()
	c.log.LogCache(ctx, c.key, len(items), nil)

	c.persist(ctx, entry)
	return nil
}

// applyLocked recomputes data and state from all and filters. The state is
// left alone while a fetch runs.
func (c *Cache[T]) applyLocked() {
	if len(c.filters) == 0 {
		c.data = c.all
	} else {
		c.data = Apply(c.all, c.filters)
	}
	if c.loading {
		return
	}
	switch {
	case c.all == nil:
		c.state = StateUninitialized
	case len(c.filters) == 0:
		c.state = StateReady
	default:
		c.state = StateFiltered
	}
}

// persist writes entry to the store. Any failure removes the persisted key.
func (c *Cache[T]) persist(ctx context.Context, entry persisted[T]) {
	if c.store == nil {
		return
	}

	raw, err := json.Marshal(entry)
	if err == nil {
		err = c.store.Put(c.key, raw)
	}
	if err == nil {
		return
	}

	if errors.Is(err, types.ErrQuotaExceeded) {
		c.log.WarnContext(ctx, "QuotaExceeded: persisted entry dropped, continuing in memory", "error", err)
	} else {
		c.log.WarnContext(ctx, "failed to persist entry, continuing in memory", "error", err)
	}
	if derr := c.store.Delete(c.key); derr != nil {
		c.log.WarnContext(ctx, "failed to drop persisted entry", "error", derr)
	}
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
