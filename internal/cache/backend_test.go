package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryBackendExpiresEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewMemoryBackend()
	b.now = func() time.Time { return now }

	b.Set(ctx, "k", []byte("v"), time.Minute)
	if got, ok := b.Get(ctx, "k"); !ok || string(got) != "v" {
		t.Fatalf("expected hit, got %q ok=%v", got, ok)
	}

	now = now.Add(time.Minute)
	if _, ok := b.Get(ctx, "k"); ok {
		t.Fatalf("expected entry to expire")
	}
	if b.Len() != 0 {
		t.Fatalf("expected expired entry to be evicted, len=%d", b.Len())
	}
}

func TestMemoryBackendZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	b := NewMemoryBackend()
	b.now = func() time.Time { return now }

	b.Set(ctx, "k", []byte("v"), 0)
	now = now.Add(365 * 24 * time.Hour)
	if _, ok := b.Get(ctx, "k"); !ok {
		t.Fatalf("expected entry without ttl to persist")
	}
}

func TestMemoryBackendCopiesValues(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	val := []byte("abc")
	b.Set(ctx, "k", val, time.Minute)
	val[0] = 'z'

	got, _ := b.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value mutated: %q", got)
	}
	got[1] = 'z'
	again, _ := b.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("returned value aliases storage: %q", again)
	}
}

func TestMemoryBackendDelete(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	b.Set(ctx, "k", []byte("v"), time.Minute)
	b.Delete(ctx, "k")
	if _, ok := b.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestNoopBackendAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var b Backend = NoopBackend{}
	b.Set(ctx, "k", []byte("v"), time.Minute)
	if _, ok := b.Get(ctx, "k"); ok {
		t.Fatalf("noop backend should never hit")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, NewRedisBackendFromClient(client)
}

func TestRedisBackendRoundTripAndTTL(t *testing.T) {
	ctx := context.Background()
	srv, b := newTestRedis(t)

	b.Set(ctx, "active_resume:u1", []byte(`{"id":"r1"}`), time.Hour)
	got, ok := b.Get(ctx, "active_resume:u1")
	if !ok || string(got) != `{"id":"r1"}` {
		t.Fatalf("unexpected get: %q ok=%v", got, ok)
	}
	if ttl := srv.TTL("active_resume:u1"); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %s", ttl)
	}

	srv.FastForward(time.Hour)
	if _, ok := b.Get(ctx, "active_resume:u1"); ok {
		t.Fatalf("expected expiry after fast forward")
	}
}

func TestRedisBackendDelete(t *testing.T) {
	ctx := context.Background()
	srv, b := newTestRedis(t)

	b.Set(ctx, "k", []byte("v"), time.Minute)
	b.Delete(ctx, "k")
	if srv.Exists("k") {
		t.Fatalf("expected key deleted")
	}
}

func TestRedisBackendUnavailableDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	srv, b := newTestRedis(t)
	srv.Close()

	b.Set(ctx, "k", []byte("v"), time.Minute)
	if _, ok := b.Get(ctx, "k"); ok {
		t.Fatalf("expected miss when redis is down")
	}
	b.Delete(ctx, "k")
}

func TestNewRedisBackendRejectsBadURL(t *testing.T) {
	if _, err := NewRedisBackend(context.Background(), "not a url"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNewRedisBackendPings(t *testing.T) {
	srv := miniredis.RunT(t)
	b, err := NewRedisBackend(context.Background(), "redis://"+srv.Addr()+"/0")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Close()
	b.Set(context.Background(), "k", []byte("v"), time.Minute)
	if v, _ := srv.Get("k"); v != "v" {
		t.Fatalf("expected value stored in redis, got %q", v)
	}
}
