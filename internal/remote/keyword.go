package remote

import (
	"context"
	"fmt"

	"github.com/dshills/refcache/pkg/types"
)

// KeywordClient runs literal searches on the catalog listing endpoint
type KeywordClient struct {
	catalog *CatalogClient
	retry   RetryConfig
}

// Keyword returns up to limit records matching q. The request is an
// idempotent read and is retried with backoff.
func (k *KeywordClient) Keyword(ctx context.Context, q string, limit int) ([]types.ReferenceRecord, error) {
	resp, err := retryWithBackoff(ctx, k.retry, func() (*ListResponse, error) {
		return k.catalog.ListMaterials(ctx, ListRequest{Page: 1, PageSize: limit, Search: q})
	})
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	items := resp.Data
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
