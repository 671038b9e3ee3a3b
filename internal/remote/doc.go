// Package remote provides HTTP clients for the catalog API and the semantic
// search service.
//
// All clients share one rate limiter and set a timeout on every call.
// Non-200 responses are reported as errors wrapping ErrRemote:
//
//	clients, err := remote.New(remote.Config{BaseURL: "https://api.example.com"})
//	page, err := clients.Catalog.ListMaterials(ctx, remote.ListRequest{Page: 1, PageSize: 50})
//	if errors.Is(err, remote.ErrRemote) {
//	    // server answered with an error status
//	}
//
// Only the keyword search is retried with backoff. The bulk catalog fetch is
// never retried: a failed sync waits for the next explicit trigger.
package remote
