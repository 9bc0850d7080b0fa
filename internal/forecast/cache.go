package forecast

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/citygrid/weather-aggregator/internal/common"
)

type cacheEntry struct {
	forecast  Forecast
	expiresAt time.Time
}

// Cache serves freshness-bounded forecasts. Expired lookups refresh via
// a single in-flight provider call per key; refresh failures degrade to
// a stale-flagged copy or, with nothing cached, to a placeholder. Get
// never returns an error.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	group    singleflight.Group
	provider Provider
	ttl      time.Duration
	timeout  time.Duration
	logger   *log.Logger
	now      func() time.Time
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides the cache clock, used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithFetchTimeout bounds each provider refresh call.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewCache constructs a forecast cache. A nil provider always serves
// placeholders.
func NewCache(provider Provider, ttl time.Duration, logger *log.Logger, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	c := &Cache{
		entries:  make(map[string]cacheEntry),
		provider: provider,
		ttl:      ttl,
		timeout:  10 * time.Second,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key maps a city and coordinates to one cache slot. Coordinates are
// rounded so minor jitter between requests hits the same entry.
func Key(cityID string, lat, lon float64) string {
	return fmt.Sprintf("%s|%.2f|%.2f", cityID, common.RoundCoord(lat, 2), common.RoundCoord(lon, 2))
}

// Get returns the freshest forecast available for the city. A live
// cached entry is served as-is; otherwise one refresh runs per key and
// concurrent callers share its result.
func (c *Cache) Get(ctx context.Context, cityID string, lat, lon float64) Forecast {
	if c.provider == nil {
		return Placeholder(cityID, c.now())
	}

	key := Key(cityID, lat, lon)

	if forecast, ok := c.live(key); ok {
		return forecast
	}

	result, _, _ := c.group.Do(key, func() (interface{}, error) {
		// Another caller may have refreshed while this one queued.
		if forecast, ok := c.live(key); ok {
			return forecast, nil
		}

		// The refresh is shared by every queued caller; it runs on its
		// own bounded context, not the first caller's.
		fetchCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		forecast, err := c.provider.Fetch(fetchCtx, cityID, lat, lon)
		if err != nil {
			c.logger.Printf("forecast cache: refresh for %s failed: %v", cityID, err)
			return c.fallback(key, cityID), nil
		}

		c.mu.Lock()
		c.entries[key] = cacheEntry{forecast: forecast, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return forecast, nil
	})

	forecast, ok := result.(Forecast)
	if !ok {
		return Placeholder(cityID, c.now())
	}
	return forecast
}

func (c *Cache) live(key string) (Forecast, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return Forecast{}, false
	}
	return entry.forecast, true
}

// fallback serves the expired entry flagged stale, or a placeholder when
// nothing was ever cached. The stored entry is left untouched.
func (c *Cache) fallback(key, cityID string) Forecast {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Placeholder(cityID, c.now())
	}
	stale := entry.forecast
	stale.Stale = true
	return stale
}
