// Package cachetest provides a compliance suite shared by cache adapters.
package cachetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Strob0t/TicketForge/internal/port/cache"
)

// Run runs the standard compliance suite against any Cache implementation.
// Keys are fixed, so each call needs a fresh cache.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "compliance-key", []byte("compliance-val"), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "compliance-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != "compliance-val" {
			t.Fatalf("expected compliance-val, got %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "nonexistent-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "del-key", []byte("del-val"), time.Minute)
		if err := c.Delete(ctx, "del-key"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "del-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "never-existed"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "ow-key", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "ow-key", []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, "ow-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after overwrite")
		}
		if string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s", val)
		}
	})

	t.Run("AddAbsent", func(t *testing.T) {
		added, err := c.Add(ctx, "add-key", []byte("first"), time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if !added {
			t.Fatal("expected Add to store an absent key")
		}
	})

	t.Run("AddPresent", func(t *testing.T) {
		_, _ = c.Add(ctx, "dup-key", []byte("first"), time.Minute)
		added, err := c.Add(ctx, "dup-key", []byte("second"), time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if added {
			t.Fatal("expected Add to refuse an existing key")
		}
		val, found, err := c.Get(ctx, "dup-key")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "first" {
			t.Fatalf("expected first value to survive, got %q (found=%v)", val, found)
		}
	})
	t.Run("AddNeverAcceptsTwice", func(t *testing.T) {
		for i := range 200 {
			key := fmt.Sprintf("once-%d", i)
			added, err := c.Add(ctx, key, []byte{1}, time.Minute)
			if errors.Is(err, cache.ErrNotStored) {
				continue
			}
			if err != nil {
				t.Fatal(err)
			}
			if !added {
				t.Fatalf("fresh key %s reported as present", key)
			}

			again, err := c.Add(ctx, key, []byte{1}, time.Minute)
			if err != nil && !errors.Is(err, cache.ErrNotStored) {
				t.Fatal(err)
			}
			if again {
				t.Fatalf("key %s accepted twice", key)
			}
		}
	})
}
