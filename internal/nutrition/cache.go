package nutrition

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/smartbite/smartbite/internal/metrics"
	"github.com/smartbite/smartbite/internal/storage"
)

// Cache is the subset of storage used for caching lookups.
type Cache interface {
	GetNutrition(label string) (*storage.NutritionEntry, error)
	SetNutrition(label string, entry *storage.NutritionEntry) error
}

// CachedClient wraps a Source with a persistent cache keyed by label.
// Only complete records are cached so a later lookup can still improve on
// a sentinel result.
type CachedClient struct {
	inner Source
	cache Cache
}

// NewCachedClient creates a cached source.
func NewCachedClient(inner Source, cache Cache) *CachedClient {
	return &CachedClient{inner: inner, cache: cache}
}

func cacheKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Lookup implements Source with caching.
func (c *CachedClient) Lookup(ctx context.Context, label string) (*Info, error) {
	key := cacheKey(label)

	// Check cache
	if c.cache != nil {
		cached, err := c.cache.GetNutrition(key)
		if err != nil {
			log.Warn().Err(err).Msg("failed to check nutrition cache")
		} else if cached != nil {
			log.Debug().Str("label", label).Msg("nutrition cache hit")
			metrics.NutritionLookupsTotal.WithLabelValues("cache_hit").Inc()
			return fromEntry(cached), nil
		}
	}

	info, err := c.inner.Lookup(ctx, label)
	if err != nil {
		return nil, err
	}

	if c.cache != nil && info.Complete() {
		if err := c.cache.SetNutrition(key, toEntry(info)); err != nil {
			log.Warn().Err(err).Msg("failed to cache nutrition")
		} else {
			log.Debug().Str("label", label).Msg("cached nutrition")
		}
	}

	return info, nil
}

func toEntry(info *Info) *storage.NutritionEntry {
	entry := &storage.NutritionEntry{
		ServingSize:   info.ServingSize,
		Calories:      info.Calories,
		Protein:       info.Protein,
		Carbohydrates: info.Carbohydrates,
		Fat:           info.Fat,
	}
	if info.FoodURL != nil {
		entry.FoodURL = *info.FoodURL
	}
	return entry
}

func fromEntry(entry *storage.NutritionEntry) *Info {
	return newInfo(Facts{
		Calories:      entry.Calories,
		Fat:           entry.Fat,
		Carbohydrates: entry.Carbohydrates,
		Protein:       entry.Protein,
	}, entry.FoodURL)
}
