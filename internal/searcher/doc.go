// Package searcher serves local queries over the replica.
//
// Two retrieval paths exist:
//   - Browse (empty query): ordered pages straight from the store plus an
//     exact count
//   - Filter (non-empty query): matching over an in-memory snapshot of the
//     whole replica
//
// # Basic Usage
//
//	e := searcher.New(store, searcher.WithLogger(log))
//
//	page, err := e.Query(ctx, "демонтаж стяжки", 1, 50)
//	for _, r := range page.Items {
//	    fmt.Println(r.ID, r.Name)
//	}
//
// # Snapshot
//
// The snapshot is built lazily on the first filter query and kept until
// Invalidate is called, normally from the sync manager after a replace.
// Every page request re-runs the filter against the snapshot; nothing is
// cached per query, so TotalCount is always the exact match count.
//
// A query that started against a snapshot finishes against it even if the
// snapshot is invalidated in the meantime.
//
// # Ranked Paths
//
// Suggest and Keyword return capped lists in ranked-topk mode. They carry no
// stable cursor and must not be paged.
package searcher
