// Package hybrid orchestrates catalog search across the semantic service,
// a keyword fallback and the paginated browse path.
//
// A non-empty query goes to the semantic backend first. If that fails, times
// out or returns nothing, the keyword path runs exactly once. Both produce
// capped ranked-topk lists that must not be paged. An empty query fetches
// browse pages which LoadMore appends for infinite scroll, de-duplicated by
// id.
//
// State is kept per surface, one surface per independent search box. Every
// dispatch takes a sequence number for its surface and a response whose
// number is no longer the latest is dropped with ErrStale, so a slow answer
// to an old query never overwrites a newer one.
//
//	o := hybrid.New(semantic, engine, engine, hybrid.DefaultConfig())
//	st, err := o.Search(ctx, "materials", "штукатурка гипсовая")
//	if errors.Is(err, hybrid.ErrStale) {
//	    return // a newer query owns the surface
//	}
package hybrid
