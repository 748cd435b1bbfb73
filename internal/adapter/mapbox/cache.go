package mapbox

import (
	"container/list"
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/couchcryptid/crop-diagnosis/internal/domain"
	"github.com/couchcryptid/crop-diagnosis/internal/observability"
	"golang.org/x/sync/singleflight"
)

// reversePrecision is the number of decimals reverse lookups are keyed on.
// Four decimals is roughly 11 m at the equator, so farmers standing in the
// same field share an entry.
const reversePrecision = 4

// CachedGeocoder wraps a Geocoder with an in-memory LRU cache. Concurrent
// misses for the same key share one upstream call.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lruCache
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.Geocoder, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	return &CachedGeocoder{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) ForwardGeocode(ctx context.Context, name, area string) (domain.GeocodingResult, error) {
	return c.resolve(ctx, "forward", forwardKey(name, area), func(ctx context.Context) (domain.GeocodingResult, error) {
		return c.inner.ForwardGeocode(ctx, name, area)
	})
}

func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	return c.resolve(ctx, "reverse", reverseKey(lat, lon), func(ctx context.Context) (domain.GeocodingResult, error) {
		return c.inner.ReverseGeocode(ctx, lat, lon)
	})
}

// resolve serves key from the cache or calls fetch once for all waiting
// callers. Empty results are not cached so a later lookup can retry.
//
// The shared call runs on a context detached from any one caller's
// cancellation, bounded by the client timeout. A caller whose ctx ends stops
// waiting without failing the others.
func (c *CachedGeocoder) resolve(ctx context.Context, method, key string, fetch func(context.Context) (domain.GeocodingResult, error)) (domain.GeocodingResult, error) {
	if result, ok := c.cache.get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues(method, "hit").Inc()
		return result, nil
	}
	c.metrics.GeocodeCache.WithLabelValues(method, "miss").Inc()

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		result, err := fetch(shared)
		if err == nil && result.FormattedAddress != "" {
			c.cache.put(key, result)
		}
		return result, err
	})

	select {
	case <-ctx.Done():
		return domain.GeocodingResult{}, ctx.Err()
	case r := <-ch:
		return r.Val.(domain.GeocodingResult), r.Err
	}
}

func forwardKey(name, area string) string {
	norm := func(s string) string { return strings.ToLower(strings.Join(strings.Fields(s), " ")) }
	return "fwd:" + norm(name) + "|" + norm(area)
}

func reverseKey(lat, lon float64) string {
	return "rev:" + strconv.FormatFloat(lat, 'f', reversePrecision, 64) + "," + strconv.FormatFloat(lon, 'f', reversePrecision, 64)
}

// lruCache is a mutex-guarded LRU over container/list; the front is the most
// recently used entry.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	order      *list.List
	items      map[string]*list.Element
}

type cacheEntry struct {
	key    string
	result domain.GeocodingResult
}

func newLRUCache(maxEntries int) *lruCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &lruCache{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

func (c *lruCache) get(key string) (domain.GeocodingResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return domain.GeocodingResult{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).result, true
}

func (c *lruCache) put(key string, result domain.GeocodingResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).result = result
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, result: result})

	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
