package cache

import (
	"testing"
	"time"
)

func TestGoCacheSetGetInvalidate(t *testing.T) {
	c := NewGoCache(time.Minute)

	c.Set("k", "v", time.Minute)
	v, ok := c.Get("k")
	if !ok || v.(string) != "v" {
		t.Fatalf("expected hit, got ok=%v v=%v", ok, v)
	}

	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected miss after invalidate")
	}
}

func TestGoCacheExpires(t *testing.T) {
	c := NewGoCache(time.Minute)

	c.Set("k", 1, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expiry")
	}
}
