package cache

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"golang.org/x/sync/singleflight"
)

// NullCacheValue marks a key whose backing row does not exist, so repeated
// lookups for unknown ids stop at Redis.
const NullCacheValue = "$NULL$"

// loads collapses concurrent misses on the same key into one backing fetch.
// Every contestant opens the same problem when a contest starts.
var loads singleflight.Group

// sharedLoadTimeout bounds a backing fetch that no longer follows any single caller.
const sharedLoadTimeout = 5 * time.Second

// GetWithCached reads key through the cache. On a miss it calls fn once per
// key across concurrent callers, stores the result for ttl, or stores
// NullCacheValue for emptyTTL when isEmpty reports the result as absent.
// The shared fetch is detached from the caller that started it, so one caller
// going away does not fail the others; each caller still returns early on its
// own ctx. Cache read and write failures degrade to fn; fn errors are returned
// and never cached.
func GetWithCached[T any](
	ctx context.Context,
	cache Cache,
	key string,
	ttl time.Duration,
	emptyTTL time.Duration,
	isEmpty func(T) bool,
	marshal func(T) string,
	unmarshal func(string) (T, error),
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T
	if hit, ok := readCached(ctx, cache, key, unmarshal); ok {
		return hit, nil
	}

	ch := loads.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		data, err := fn(loadCtx)
		if err != nil {
			return nil, err
		}
		if isEmpty(data) {
			_ = cache.Set(loadCtx, key, NullCacheValue, emptyTTL)
		} else {
			_ = cache.Set(loadCtx, key, marshal(data), ttl)
		}
		return data, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		data, _ := res.Val.(T)
		if isEmpty(data) {
			return zero, nil
		}
		return data, nil
	}
}

// readCached reports a hit for a decodable value or the null marker.
func readCached[T any](ctx context.Context, cache Cache, key string, unmarshal func(string) (T, error)) (T, bool) {
	var zero T
	raw, err := cache.Get(ctx, key)
	if err != nil || raw == "" {
		return zero, false
	}
	if raw == NullCacheValue {
		return zero, true
	}
	v, err := unmarshal(raw)
	if err != nil {
		return zero, false
	}
	return v, true
}

// JitterTTL shortens ttl by up to 10% so entries written together do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
