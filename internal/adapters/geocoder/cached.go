package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/samirrijal/fieldtrack/internal/core/domain"
	"github.com/samirrijal/fieldtrack/internal/core/ports"
	"github.com/samirrijal/fieldtrack/internal/pkg/metrics"
)

// Cached decorates a ReverseGeocoder with a shared cache. Coordinates are
// rounded to 4 decimals (about 11 m) to form the key, and concurrent misses
// for the same key share one upstream lookup. Failed lookups are not cached.
//
// The shared lookup is detached from the caller that started it and bounded
// by timeout instead, so one caller giving up does not fail the others.
type Cached struct {
	inner   ports.ReverseGeocoder
	cache   ports.CacheService
	ttl     int
	timeout time.Duration
	group   singleflight.Group
}

func NewCached(inner ports.ReverseGeocoder, cache ports.CacheService, ttlSeconds int, timeout time.Duration) *Cached {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Cached{inner: inner, cache: cache, ttl: ttlSeconds, timeout: timeout}
}

func cacheKey(lat, lon float64) string {
	r := func(v float64) float64 { return math.Round(v*1e4) / 1e4 }
	return fmt.Sprintf("geocode:%.4f,%.4f", r(lat), r(lon))
}

func (c *Cached) Lookup(ctx context.Context, lat, lon float64) *domain.Place {
	key := cacheKey(lat, lon)

	if p := c.cached(ctx, key); p != nil {
		metrics.CacheHits.WithLabelValues("geocode").Inc()
		return p
	}
	metrics.CacheMisses.WithLabelValues("geocode").Inc()

	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		// a concurrent flight may have filled the key since the miss
		if p := c.cached(fctx, key); p != nil {
			return p, nil
		}
		p := c.inner.Lookup(fctx, lat, lon)
		if p != nil && c.cache != nil {
			if raw, err := json.Marshal(p); err == nil {
				_ = c.cache.Set(fctx, key, raw, c.ttl)
			}
		}
		return p, nil
	})
	select {
	case res := <-ch:
		p, _ := res.Val.(*domain.Place)
		return p
	case <-ctx.Done():
		return nil
	}
}

func (c *Cached) cached(ctx context.Context, key string) *domain.Place {
	if c.cache == nil {
		return nil
	}
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		return nil
	}
	var p domain.Place
	if json.Unmarshal(raw, &p) != nil {
		return nil
	}
	return &p
}
