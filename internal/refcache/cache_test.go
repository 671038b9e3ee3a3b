package refcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/refcache/internal/kvstore"
	"github.com/dshills/refcache/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// countingFetch returns a fetch function serving items and counting calls
type countingFetch[T any] struct {
	items []T
	err   error
	calls atomic.Int32
	mu    sync.Mutex
}

func (f *countingFetch[T]) Fetch(ctx context.Context) ([]T, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items, f.err
}

func (f *countingFetch[T]) set(items []T, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
	f.err = err
}

// mockStore implements kvstore.Store with injectable failures
type mockStore struct {
	mu      sync.Mutex
	values  map[string][]byte
	putErr  error
	deletes []string
}

func newMockStore() *mockStore {
	return &mockStore{values: make(map[string][]byte)}
}

func (m *mockStore) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, kvstore.ErrNotFound
	}
	return v, nil
}

func (m *mockStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.values[key] = value
	return nil
}

func (m *mockStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, key)
	delete(m.values, key)
	return nil
}

func (m *mockStore) Close() error { return nil }

func works(n int) []types.WorkItem {
	out := make([]types.WorkItem, n)
	for i := range out {
		out[i] = types.WorkItem{
			ID:       fmt.Sprintf("w-%d", i),
			Name:     fmt.Sprintf("Работа %d", i),
			Unit:     "м2",
			Price:    float64(100 + i),
			IsGlobal: i%5 < 2, // 40%
		}
	}
	return out
}

func TestNew_RequiresFetch(t *testing.T) {
	_, err := New(Options[types.WorkItem]{})
	assert.ErrorIs(t, err, ErrNoFetch)
}

func TestLoad(t *testing.T) {
	f := &countingFetch[types.WorkItem]{items: works(3)}
	c, err := New(Options[types.WorkItem]{Fetch: f.Fetch})
	require.NoError(t, err)

	assert.Equal(t, StateUninitialized, c.State())
	assert.Nil(t, c.Data())

	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, StateReady, c.State())
	assert.Len(t, c.Data(), 3)
	assert.False(t, c.Loading())
	assert.NoError(t, c.Err())

	// Re-entry inside TTL does not fetch
	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, int32(1), f.calls.Load())
}

// ttl=5000ms: refresh at t0+2000 fetches nothing, at t0+6000 exactly once
func TestRefresh_TTLGating(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000)
	clock := &fakeClock{now: t0}
	f := &countingFetch[types.WorkItem]{items: works(2)}

	c, err := New(Options[types.WorkItem]{Fetch: f.Fetch, TTL: 5000 * time.Millisecond, Clock: clock.Now})
	require.NoError(t, err)

	require.NoError(t, c.Refresh(context.Background(), false))
	require.Equal(t, int32(1), f.calls.Load())

	clock.Set(t0.Add(2000 * time.Millisecond))
	require.NoError(t, c.Refresh(context.Background(), false))
	assert.Equal(t, int32(1), f.calls.Load())

	clock.Set(t0.Add(6000 * time.Millisecond))
	require.NoError(t, c.Refresh(context.Background(), false))
	assert.Equal(t, int32(2), f.calls.Load())

	// Forced refresh ignores the TTL
	require.NoError(t, c.Refresh(context.Background(), true))
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestRefresh_CoalescesConcurrentFetches(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	fetch := func(ctx context.Context) ([]types.WorkItem, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return works(4), nil
	}
	c, err := New(Options[types.WorkItem]{Fetch: fetch})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Refresh(context.Background(), true))
	}()
	<-started
	assert.True(t, c.Loading())
	assert.Equal(t, StateLoading, c.State())

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Refresh(context.Background(), true))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, c.Data(), 4)
}

func TestRefresh_FailureKeepsData(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	f := &countingFetch[types.WorkItem]{items: works(3)}
	c, err := New(Options[types.WorkItem]{Fetch: f.Fetch, TTL: time.Second, Clock: clock.Now})
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background()))

	f.set(nil, errors.New("503"))
	clock.Set(time.UnixMilli(5000))

	err = c.Refresh(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, StateReady, c.State())
	assert.Len(t, c.Data(), 3)
	assert.EqualError(t, c.Err(), "503")

	// Next success clears the error
	f.set(works(1), nil)
	require.NoError(t, c.Refresh(context.Background(), false))
	assert.NoError(t, c.Err())
	assert.Len(t, c.Data(), 1)
}

func TestRefresh_FirstFailureStaysUninitialized(t *testing.T) {
	f := &countingFetch[types.WorkItem]{err: errors.New("offline")}
	c, err := New(Options[types.WorkItem]{Fetch: f.Fetch})
	require.NoError(t, err)

	assert.Error(t, c.Load(context.Background()))
	assert.Equal(t, StateUninitialized, c.State())
	assert.Error(t, c.Err())

	// A failed fetch does not count as a success for TTL purposes
	assert.Error(t, c.Load(context.Background()))
	assert.Equal(t, int32(2), f.calls.Load())
}

// Filtering never touches AllData and combines keys with AND
func TestApplyFilters_Purity(t *testing.T) {
	f := &countingFetch[types.WorkItem]{items: works(100)}
	c, err := New(Options[types.WorkItem]{Fetch: f.Fetch})
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background()))

	before := c.AllData()

	c.ApplyFilters(map[string]interface{}{"is_global": true})
	assert.Equal(t, StateFiltered, c.State())
	assert.Len(t, c.Data(), 40)
	for _, w := range c.Data() {
		assert.True(t, w.IsGlobal)
	}
	assert.Equal(t, before, c.AllData())

	c.ApplyFilters(map[string]interface{}{"is_global": true, "name": "работа 1"})
	for _, w := range c.Data() {
		assert.True(t, w.IsGlobal)
		assert.Contains(t, w.Name, "Работа 1")
	}
	assert.NotEmpty(t, c.Data())

	c.ApplyFilters(map[string]interface{}{})
	assert.Equal(t, StateReady, c.State())
	assert.Len(t, c.Data(), 100)
	assert.Equal(t, before, c.AllData())
	assert.Empty(t, c.Filters())
}

func TestApplyFilters_ReappliedAfterRefresh(t *testing.T) {
	f := &countingFetch[types.WorkItem]{items: works(10)}
	c, err := New(Options[types.WorkItem]{Fetch: f.Fetch})
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background()))

	c.ApplyFilters(map[string]interface{}{"is_global": false})
	assert.Len(t, c.Data(), 6)

	f.set(works(20), nil)
	require.NoError(t, c.Refresh(context.Background(), true))
	assert.Equal(t, StateFiltered, c.State())
	assert.Len(t, c.Data(), 12)
	assert.Len(t, c.AllData(), 20)
}

func TestApplyFilters_BeforeLoad(t *testing.T) {
	f := &countingFetch[types.WorkItem]{items: works(10)}
	c, err := New(Options[types.WorkItem]{Fetch: f.Fetch})
	require.NoError(t, err)

	c.ApplyFilters(map[string]interface{}{"is_global": true})
	assert.Equal(t, StateUninitialized, c.State())

	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, StateFiltered, c.State())
	assert.Len(t, c.Data(), 4)
}

func TestPersistence_WritesAndSeeds(t *testing.T) {
	store, err := kvstore.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	f := &countingFetch[types.WorkItem]{items: works(5)}
	opts := Options[types.WorkItem]{Fetch: f.Fetch, TTL: 5 * time.Second, Key: "works", Store: store, Clock: clock.Now}

	c, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background()))

	raw, err := store.Get("works")
	require.NoError(t, err)
	var p struct {
		Data      []types.WorkItem `json:"data"`
		Timestamp int64            `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Len(t, p.Data, 5)
	assert.Equal(t, int64(1_700_000_000_000), p.Timestamp)

	// A second cache is READY straight out of New, with no fetch
	clock.Set(clock.Now().Add(2 * time.Second))
	seeded, err := New(opts)
	require.NoError(t, err)
	assert.Equal(t, StateReady, seeded.State())
	assert.Len(t, seeded.Data(), 5)
	require.NoError(t, seeded.Load(context.Background()))
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, int64(1_700_000_000_000), seeded.Snapshot().Entry.FetchedAtMillis)
}

func TestPersistence_ExpiredEntryIgnored(t *testing.T) {
	store := newMockStore()
	raw, err := json.Marshal(map[string]interface{}{
		"data":      works(2),
		"timestamp": int64(1000),
	})
	require.NoError(t, err)
	store.values["works"] = raw

	clock := &fakeClock{now: time.UnixMilli(1000 + 6000)}
	f := &countingFetch[types.WorkItem]{items: works(7)}
	c, err := New(Options[types.WorkItem]{Fetch: f.Fetch, TTL: 5 * time.Second, Key: "works", Store: store, Clock: clock.Now})
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, c.State())

	require.NoError(t, c.Load(context.Background()))
	assert.Len(t, c.Data(), 7)
}

func TestPersistence_CorruptEntryDropped(t *testing.T) {
	store := newMockStore()
	store.values["works"] = []byte("{not json")

	f := &countingFetch[types.WorkItem]{items: works(1)}
	c, err := New(Options[types.WorkItem]{Fetch: f.Fetch, Key: "works", Store: store})
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, c.State())
	assert.Contains(t, store.deletes, "works")
}

// A quota failure drops the persisted key and the cache keeps serving
func TestPersistence_QuotaExceeded(t *testing.T) {
	store := newMockStore()
	store.values["works"] = []byte(`{"data":[],"timestamp":0}`)
	store.putErr = fmt.Errorf("%w: works is 9000000 bytes", kvstore.ErrQuotaExceeded)

	f := &countingFetch[types.WorkItem]{items: works(3)}
	c, err := New(Options[types.WorkItem]{Fetch: f.Fetch, Key: "works", Store: store})
	require.NoError(t, err)

	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, StateReady, c.State())
	assert.Len(t, c.Data(), 3)

	_, err = store.Get("works")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
	assert.Contains(t, store.deletes, "works")
}

func TestPersistence_RealQuota(t *testing.T) {
	store, err := kvstore.Open("", kvstore.Options{InMemory: true, MaxValueBytes: 8})
	require.NoError(t, err)
	defer store.Close()

	f := &countingFetch[types.WorkItem]{items: works(50)}
	c, err := New(Options[types.WorkItem]{Fetch: f.Fetch, Key: "works", Store: store})
	require.NoError(t, err)

	require.NoError(t, c.Load(context.Background()))
	assert.Len(t, c.Data(), 50)

	_, err = store.Get("works")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestInvalidateCache(t *testing.T) {
	store := newMockStore()
	f := &countingFetch[types.WorkItem]{items: works(2)}
	c, err := New(Options[types.WorkItem]{Fetch: f.Fetch, TTL: time.Hour, Key: "works", Store: store})
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background()))

	f.set(works(9), nil)
	require.NoError(t, c.InvalidateCache(context.Background()))

	assert.Equal(t, int32(2), f.calls.Load())
	assert.Len(t, c.Data(), 9)
	assert.Contains(t, store.deletes, "works")

	// Rewritten after the forced fetch
	_, err = store.Get("works")
	assert.NoError(t, err)
}

func TestSnapshot(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(42_000)}
	f := &countingFetch[types.WorkItem]{items: works(10)}
	c, err := New(Options[types.WorkItem]{Fetch: f.Fetch, TTL: 3 * time.Second, Clock: clock.Now})
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background()))
	c.ApplyFilters(map[string]interface{}{"is_global": true})

	snap := c.Snapshot()
	assert.Equal(t, StateFiltered, snap.State)
	assert.Len(t, snap.Data, 4)
	assert.Len(t, snap.AllData, 10)
	assert.Equal(t, int64(42_000), snap.Entry.FetchedAtMillis)
	assert.Equal(t, int64(3000), snap.Entry.TTLMillis)

	// Copies are detached from the cache
	snap.AllData[0].Name = "changed"
	assert.NotEqual(t, "changed", c.AllData()[0].Name)
}
