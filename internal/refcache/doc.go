// Package refcache wraps any list-fetch function in a TTL cache with
// in-flight coalescing, optional persistence and client-side filters.
//
//	works, err := refcache.New(refcache.Options[types.WorkItem]{
//	    Fetch: catalog.ListWorks,
//	    TTL:   5 * time.Minute,
//	    Key:   "works",
//	    Store: kv,
//	})
//	_ = works.Load(ctx)            // fetches unless a fresh copy exists
//	works.ApplyFilters(map[string]any{"is_global": true})
//	visible := works.Data()        // filtered view
//	everything := works.AllData()  // never filtered
//
// State moves UNINITIALIZED -> LOADING -> READY, back to LOADING on a
// refresh, and READY -> FILTERED while filters are applied. A failed fetch
// keeps the previous data and records the error.
//
// Persistence is best effort. A persisted entry younger than the TTL seeds
// the cache synchronously in New. A failed write drops the persisted entry
// and the cache keeps working from memory.
package refcache
