package remote

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Config holds remote client configuration
type Config struct {
	BaseURL     string        // Catalog API root
	SemanticURL string        // Semantic service root (default: BaseURL)
	Token       string        // Bearer token, optional
	Timeout     time.Duration // Per-request timeout (default: 30s)

	RatePerSecond float64 // Shared request rate (default: 10)
	Burst         int     // Limiter burst (default: 5)

	SemanticCacheSize int           // Cached semantic answers (default: 256, negative disables)
	SemanticCacheTTL  time.Duration // Lifetime of a cached answer (default: 5m)

	Retry RetryConfig // Keyword retry policy (default: DefaultRetryConfig)
}

// Clients bundles the endpoint clients sharing one limiter
type Clients struct {
	Catalog  *CatalogClient
	Semantic *SemanticClient
	Keyword  *KeywordClient
}

// New creates the remote clients. BaseURL is required.
func New(cfg Config) (*Clients, error) {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.SemanticCacheSize == 0 {
		cfg.SemanticCacheSize = 256
	}
	if cfg.SemanticCacheTTL <= 0 {
		cfg.SemanticCacheTTL = 5 * time.Minute
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.SemanticURL == "" {
		cfg.SemanticURL = cfg.BaseURL
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)

	base, err := newClient(cfg.BaseURL, cfg.Token, cfg.Timeout, limiter)
	if err != nil {
		return nil, fmt.Errorf("catalog client: %w", err)
	}
	catalog := &CatalogClient{c: base}

	semanticBase, err := newClient(cfg.SemanticURL, cfg.Token, cfg.Timeout, limiter)
	if err != nil {
		return nil, fmt.Errorf("semantic client: %w", err)
	}

	return &Clients{
		Catalog:  catalog,
		Semantic: newSemanticClient(semanticBase, cfg.SemanticCacheSize, cfg.SemanticCacheTTL),
		Keyword:  &KeywordClient{catalog: catalog, retry: cfg.Retry},
	}, nil
}
