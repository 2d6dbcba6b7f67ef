package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("expected v, got %s", got)
	}
}

func TestMemoryCache_MissIsTyped(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	_, err := c.Get(context.Background(), "absent")
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryCache_TTLExpires(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected expiry, got %v", err)
	}
}

func TestMemoryCache_SetNX(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "lock", []byte("a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX should win: ok=%v err=%v", ok, err)
	}

	ok, err = c.SetNX(ctx, "lock", []byte("b"), time.Minute)
	if err != nil {
		t.Fatalf("second SetNX errored: %v", err)
	}
	if ok {
		t.Error("second SetNX must lose while the key exists")
	}

	if err := c.Delete(ctx, "lock"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	ok, _ = c.SetNX(ctx, "lock", []byte("c"), time.Minute)
	if !ok {
		t.Error("SetNX should win after delete")
	}
}

func TestMemoryCache_IncrAndExpire(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := c.Incr(ctx, "counter")
		if err != nil {
			t.Fatalf("incr failed: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}

	if err := c.Expire(ctx, "counter", 20*time.Millisecond); err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	got, err := c.Incr(ctx, "counter")
	if err != nil {
		t.Fatalf("incr after expiry failed: %v", err)
	}
	if got != 1 {
		t.Errorf("counter should restart after expiry, got %d", got)
	}
}

func TestMemoryCache_Exists(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	ok, err := c.Exists(ctx, "k")
	if err != nil || ok {
		t.Fatalf("expected absent: ok=%v err=%v", ok, err)
	}

	c.Set(ctx, "k", []byte("v"), 0)
	ok, err = c.Exists(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected present: ok=%v err=%v", ok, err)
	}
}
