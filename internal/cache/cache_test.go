package cache

import (
	"errors"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	c, err := New[string](16, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if !c.Set("a", "alpha") {
		t.Fatalf("Set failed: entry rejected")
	}
	value, ok := c.Get("a")
	if !ok || value != "alpha" {
		t.Errorf("Get failed: expected alpha, got %q (ok=%v)", value, ok)
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Errorf("Delete failed: entry still present")
	}
}

func TestTTLExpiry(t *testing.T) {
	c, err := New[int](16, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	c.Set("k", 1)
	time.Sleep(120 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Errorf("Get failed: expected entry to expire")
	}
}

func TestGetOrLoad(t *testing.T) {
	c, err := New[int](16, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	calls := 0
	load := func() (int, error) {
		calls++
		return 42, nil
	}
	for i := 0; i < 3; i++ {
		value, err := c.GetOrLoad("answer", load)
		if err != nil || value != 42 {
			t.Fatalf("GetOrLoad failed: expected 42, got %d (%v)", value, err)
		}
	}
	if calls != 1 {
		t.Errorf("GetOrLoad failed: expected 1 load, got %d", calls)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrLoad("bad", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Errorf("GetOrLoad failed: expected load error, got %v", err)
	}
	if _, ok := c.Get("bad"); ok {
		t.Errorf("GetOrLoad failed: error result was cached")
	}
}

func TestNewRejectsEmpty(t *testing.T) {
	if _, err := New[int](0, 0); err == nil {
		t.Errorf("New failed: expected error for zero size")
	}
}
