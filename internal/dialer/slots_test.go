package dialer

import (
	"context"
	"testing"
)

func TestMemorySlotsCap(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySlots()

	for i := 0; i < 3; i++ {
		ok, err := s.Acquire(ctx, "camp-1", 3)
		if err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := s.Acquire(ctx, "camp-1", 3); ok {
		t.Fatal("acquired past the cap")
	}
	if n, _ := s.InFlight(ctx, "camp-1"); n != 3 {
		t.Fatalf("InFlight = %d, want 3", n)
	}

	// Other campaigns are independent.
	if ok, _ := s.Acquire(ctx, "camp-2", 1); !ok {
		t.Fatal("other campaign should not be capped")
	}

	if err := s.Release(ctx, "camp-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := s.Acquire(ctx, "camp-1", 3); !ok {
		t.Fatal("release did not free a slot")
	}
}

func TestMemorySlotsReleaseClampsAtZero(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySlots()

	if err := s.Release(ctx, "camp-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if n, _ := s.InFlight(ctx, "camp-1"); n != 0 {
		t.Fatalf("InFlight = %d, want 0", n)
	}
	if ok, _ := s.Acquire(ctx, "camp-1", 1); !ok {
		t.Fatal("acquire after spurious release")
	}
	if ok, _ := s.Acquire(ctx, "camp-1", 1); ok {
		t.Fatal("spurious release widened the cap")
	}
}

func TestMemorySlotsZeroLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySlots()
	if ok, _ := s.Acquire(ctx, "camp-1", 0); ok {
		t.Fatal("acquired with zero limit")
	}
}
