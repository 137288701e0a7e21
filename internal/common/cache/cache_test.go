package cache

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c, mr
}

func TestGetWithCachedStoresAndReuses(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	load := func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	}
	for i := 0; i < 2; i++ {
		got, err := GetWithCached(ctx, c, "k", time.Minute, time.Second,
			func(v int) bool { return v == 0 },
			strconv.Itoa,
			strconv.Atoi,
			load,
		)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != 42 {
			t.Fatalf("unexpected value %d", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load, got %d", calls)
	}
}

func TestGetWithCachedCachesEmpty(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	calls := 0
	load := func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	}
	for i := 0; i < 2; i++ {
		if _, err := GetWithCached(ctx, c, "empty", time.Minute, time.Second,
			func(v int) bool { return v == 0 }, strconv.Itoa, strconv.Atoi, load); err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected empty value to be cached, loads=%d", calls)
	}
	raw, _ := mr.Get("empty")
	if raw != NullCacheValue {
		t.Fatalf("expected null marker, got %q", raw)
	}
}

func TestGetWithCachedPropagatesLoadError(t *testing.T) {
	c, mr := newTestCache(t)
	boom := errors.New("db down")
	_, err := GetWithCached(context.Background(), c, "err", time.Minute, time.Second,
		func(v int) bool { return v == 0 }, strconv.Itoa, strconv.Atoi,
		func(ctx context.Context) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if mr.Exists("err") {
		t.Fatalf("errors must not be cached")
	}
}

func TestEvalRunsScript(t *testing.T) {
	c, _ := newTestCache(t)
	res, err := c.Eval(context.Background(), "return redis.call('INCRBY', KEYS[1], ARGV[1])", []string{"n"}, 5)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if n, ok := res.(int64); !ok || n != 5 {
		t.Fatalf("unexpected eval result %#v", res)
	}
}

func TestJitterTTL(t *testing.T) {
	ttl := 10 * time.Second
	for i := 0; i < 20; i++ {
		got := JitterTTL(ttl)
		if got > ttl || got < ttl-ttl/10 {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
	if JitterTTL(0) != 0 {
		t.Fatalf("zero ttl must stay zero")
	}
}

func TestGetWithCachedSharedLoadOutlivesCanceledCaller(t *testing.T) {
	c, mr := newTestCache(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	var loadErr atomic.Value
	load := func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		if err := ctx.Err(); err != nil {
			loadErr.Store(err)
			return 0, err
		}
		return 42, nil
	}
	get := func(ctx context.Context) (int, error) {
		return GetWithCached(ctx, c, "hot", time.Minute, time.Second,
			func(v int) bool { return v == 0 }, strconv.Itoa, strconv.Atoi, load)
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := get(leaderCtx)
		leaderErr <- err
	}()
	<-started

	type result struct {
		v   int
		err error
	}
	follower := make(chan result, 1)
	go func() {
		v, err := get(context.Background())
		follower <- result{v, err}
	}()

	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled caller should return its own error, got %v", err)
	}
	close(release)

	got := <-follower
	if got.err != nil || got.v != 42 {
		t.Fatalf("follower must get the shared value, got %d %v", got.v, got.err)
	}
	if err, _ := loadErr.Load().(error); err != nil {
		t.Fatalf("shared load saw the leader's cancellation: %v", err)
	}
	if raw, _ := mr.Get("hot"); raw != "42" {
		t.Fatalf("shared load must still fill the cache, got %q", raw)
	}
}
