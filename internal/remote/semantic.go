package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SemanticResponse is the payload of the semantic search endpoint. Result
// field names differ between backends, so results stay loosely typed.
type SemanticResponse struct {
	Success          bool                     `json:"success"`
	Results          []map[string]interface{} `json:"results"`
	ExpandedKeywords []string                 `json:"expandedKeywords,omitempty"`
}

type semanticRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// SemanticClient calls the semantic search service. Successful non-empty
// answers are cached for a short time; cached responses are shared and must
// not be modified.
type SemanticClient struct {
	c     *client
	cache *expirable.LRU[string, *SemanticResponse]
}

func newSemanticClient(c *client, cacheSize int, ttl time.Duration) *SemanticClient {
	sc := &SemanticClient{c: c}
	if cacheSize > 0 {
		sc.cache = expirable.NewLRU[string, *SemanticResponse](cacheSize, nil, ttl)
	}
	return sc
}

// Search asks the service for up to limit results for query
func (sc *SemanticClient) Search(ctx context.Context, query string, limit int) (*SemanticResponse, error) {
	key := cacheKey(query, limit)
	if sc.cache != nil {
		if resp, ok := sc.cache.Get(key); ok {
			return resp, nil
		}
	}

	var resp SemanticResponse
	err := sc.c.doJSON(ctx, http.MethodPost, "/search/semantic", nil, semanticRequest{Query: query, Limit: limit}, &resp)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	if sc.cache != nil && resp.Success && len(resp.Results) > 0 {
		sc.cache.Add(key, &resp)
	}
	return &resp, nil
}

// Purge drops every cached answer
func (sc *SemanticClient) Purge() {
	if sc.cache != nil {
		sc.cache.Purge()
	}
}

func cacheKey(query string, limit int) string {
	return fmt.Sprintf("%d|%s", limit, strings.ToLower(strings.TrimSpace(query)))
}
