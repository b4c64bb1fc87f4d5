package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/tutorgate/pkg/store/file"
	"github.com/pario-ai/tutorgate/pkg/store/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T) (*Cache, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)}
	return New(memory.New(), time.Hour, WithClock(clk.now)), clk
}

func TestStoreLookup(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	if _, ok := c.Lookup(ctx, "prompt", "gpt-5-nano", 0.7); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := c.Store(ctx, "prompt", "gpt-5-nano", 0.7, "raspuns"); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Lookup(ctx, "prompt", "gpt-5-nano", 0.7)
	if !ok || got != "raspuns" {
		t.Fatalf("expected hit with raspuns, got %q ok=%v", got, ok)
	}

	// Any component of the key changing is a miss.
	if _, ok := c.Lookup(ctx, "prompt", "gpt-4.1-nano", 0.7); ok {
		t.Error("different model should miss")
	}
	if _, ok := c.Lookup(ctx, "prompt", "gpt-5-nano", 0.2); ok {
		t.Error("different temperature should miss")
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 || stats.Hits != 1 || stats.Misses != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestTTL(t *testing.T) {
	c, clk := setup(t)
	ctx := context.Background()

	if err := c.Store(ctx, "p", "m", 0.7, "a"); err != nil {
		t.Fatal(err)
	}
	clk.t = clk.t.Add(59 * time.Minute)
	if _, ok := c.Lookup(ctx, "p", "m", 0.7); !ok {
		t.Error("entry should still be fresh")
	}
	clk.t = clk.t.Add(2 * time.Minute)
	if _, ok := c.Lookup(ctx, "p", "m", 0.7); ok {
		t.Error("entry should have expired")
	}

	// Lookup never evicts.
	stats, _ := c.Stats(ctx)
	if stats.Entries != 1 {
		t.Errorf("expected expired entry to remain stored, got %d entries", stats.Entries)
	}
}

func TestOverwrite(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	_ = c.Store(ctx, "p", "m", 0.7, "first")
	_ = c.Store(ctx, "p", "m", 0.7, "second")
	got, ok := c.Lookup(ctx, "p", "m", 0.7)
	if !ok || got != "second" {
		t.Errorf("expected second, got %q", got)
	}
}

func TestClearExpiredOnly(t *testing.T) {
	c, clk := setup(t)
	ctx := context.Background()

	_ = c.Store(ctx, "old", "m", 0.7, "a")
	clk.t = clk.t.Add(2 * time.Hour)
	_ = c.Store(ctx, "new", "m", 0.7, "b")

	n, err := c.Clear(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired entry removed, got %d", n)
	}
	if _, ok := c.Lookup(ctx, "new", "m", 0.7); !ok {
		t.Error("fresh entry should survive")
	}

	n, err = c.Clear(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 entry removed, got %d", n)
	}
}

func TestPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache_responses.json")
	ctx := context.Background()

	s, err := file.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := New(s, time.Hour).Store(ctx, "p", "m", 0.7, "kept"); err != nil {
		t.Fatal(err)
	}

	reopened, err := file.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := New(reopened, time.Hour).Lookup(ctx, "p", "m", 0.7)
	if !ok || got != "kept" {
		t.Errorf("expected persisted entry, got %q ok=%v", got, ok)
	}
}

func TestKeyFormat(t *testing.T) {
	a := Key("p", "m", 0.7)
	if len(a) != 64 {
		t.Errorf("expected sha256 hex, got %q", a)
	}
	if a == Key("p", "m", 0.70000001) {
		t.Error("temperature must be part of the key")
	}
}
