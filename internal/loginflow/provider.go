package loginflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/patrickmn/go-cache"
)

// ProviderCache keeps discovered providers so that the discovery document
// is not fetched on every request.
type ProviderCache struct {
	cache *cache.Cache
}

func NewProviderCache(ttl time.Duration) *ProviderCache {
	return &ProviderCache{
		cache: cache.New(ttl, 2*ttl),
	}
}

// Get returns the provider of issuerURL, running discovery with client on a
// cache miss.
func (c *ProviderCache) Get(ctx context.Context, client *http.Client, issuerURL string) (*oidc.Provider, error) {
	const cachePrefix = "wkoc_"

	cacheKey := cachePrefix + issuerURL
	if cached, ok := c.cache.Get(cacheKey); ok {
		//nolint:forcetypeassert
		return cached.(*oidc.Provider), nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, client), issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering provider %s: %w", issuerURL, err)
	}
	c.cache.SetDefault(cacheKey, provider)

	return provider, nil
}
