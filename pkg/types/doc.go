// Package types provides shared type definitions for the refcache module.
//
// This package defines the domain types used across the replica store, the
// sync manager, the query engine and the hybrid search orchestrator.
//
// # Core Types
//
// ReferenceRecord is one catalog entry (a material, a work) as held by the
// local replica:
//
//	rec := types.ReferenceRecord{
//	    ID:       "m-1042",
//	    Name:     "Цемент М500",
//	    SKU:      "CEM-500",
//	    Unit:     "кг",
//	    Category: "Цемент",
//	}
//	rec.BuildSearchBlob()
//
// SearchResultPage is what every query path returns. Its Mode tells callers
// whether page-based pagination is meaningful:
//
//	page.Mode == types.ModePaginated  // browse or filtered local results
//	page.Mode == types.ModeRankedTopK // semantic or fallback top-K, no cursor
//
// # Errors
//
// The error taxonomy (ErrStoreInit, ErrSync, ErrSearch, ErrQuotaExceeded) is
// converted to status fields and log entries at the boundary where it occurs.
// Only ErrStoreInit is expected to reach the host, which then switches to
// remote-only mode.
package types
