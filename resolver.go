package ratelimit

import (
	"time"

	"github.com/driftbucket/ratelimit/internal/lru"
)

// overridesCacheCapacity and skipCacheCapacity are the bounded LRU sizes
// mandated by spec.md §4.3 and §4.4.
const (
	overridesCacheCapacity = 50
	skipCacheCapacity      = 50
)

type lruOverrideCache = lru.Cache[string, BucketDescriptor]

func newLRUOverrideCache(capacity int) *lruOverrideCache {
	return lru.New[string, BucketDescriptor](capacity)
}

// resolve picks the effective BucketDescriptor for a request, in the order
// defined by spec.md §4.3 "Key Resolver":
//  1. caller-supplied configOverride, normalized but never cached
//  2. literal override for key
//  3. cached regex match
//  4. first regex match in definition order, cached on hit
//  5. the type's own base descriptor
func (t *TypeDescriptor) resolve(key string, configOverride *BucketDef, globalTTL time.Duration) BucketDescriptor {
	if configOverride != nil {
		return Normalize(*configOverride, globalTTL)
	}

	if desc, ok := t.LiteralOverrides[key]; ok {
		return desc
	}

	if t.cache != nil {
		if desc, ok := t.cache.Get(key); ok {
			return desc
		}
	}

	for _, ro := range t.RegexOverrides {
		if ro.pattern.MatchString(key) {
			if t.cache != nil {
				t.cache.Put(key, ro.desc)
			}
			return ro.desc
		}
	}

	return t.Base
}
