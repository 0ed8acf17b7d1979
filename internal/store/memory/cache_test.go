package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestCache_TTL(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := New(fc)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v1"), time.Minute)
	if b, ok, _ := c.Get(ctx, "k"); !ok || string(b) != "v1" {
		t.Fatalf("Get = %q, %v", b, ok)
	}

	fc.Advance(59 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("entry expired early")
	}
	fc.Advance(time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("entry should have expired at ttl")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not evicted, len = %d", c.Len())
	}
}

func TestCache_NoExpiry(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := New(fc)
	c.Set(context.Background(), "k", []byte("v"), 0)
	fc.Advance(24 * time.Hour)
	if _, ok, _ := c.Get(context.Background(), "k"); !ok {
		t.Fatal("ttl 0 must not expire")
	}
}

func TestCache_ReturnsCopies(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	src := []byte("abc")
	c.Set(ctx, "k", src, 0)
	src[0] = 'x'

	b, _, _ := c.Get(ctx, "k")
	b[1] = 'y'
	again, _, _ := c.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored body mutated: %q", again)
	}
}
