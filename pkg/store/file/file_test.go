package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDocumentReadsTopLevelObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token_usage.json")
	legacy := `{
  "daily_tokens": 120,
  "last_reset": "2025-03-10T08:15:00",
  "users": {"u1": 4990},
  "total_requests": 3
}`
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := OpenDocument(path, "usage")
	if err != nil {
		t.Fatal(err)
	}
	v, found, err := s.Get(context.Background(), "usage")
	if err != nil || !found {
		t.Fatalf("expected the document, found=%v err=%v", found, err)
	}
	want := `{"daily_tokens":120,"last_reset":"2025-03-10T08:15:00","users":{"u1":4990},"total_requests":3}`
	if string(v) != want {
		t.Errorf("got %s", v)
	}
	keys, _ := s.Keys(context.Background())
	if len(keys) != 1 || keys[0] != "usage" {
		t.Errorf("expected [usage], got %v", keys)
	}
}

func TestDocumentWritesTopLevelObject(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "doc.json")
	s, err := OpenDocument(path, "usage")
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.CompareAndSwap(ctx, "usage", nil, []byte(`{"users":{}}`))
	if err != nil || !ok {
		t.Fatalf("insert: ok=%v err=%v", ok, err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "{\n  \"users\": {}\n}" {
		t.Errorf("unexpected file contents: %q", raw)
	}

	if _, err := s.CompareAndSwap(ctx, "other", nil, []byte(`1`)); !errors.Is(err, ErrForeignKey) {
		t.Errorf("expected ErrForeignKey, got %v", err)
	}

	if err := s.Delete(ctx, "usage"); err != nil {
		t.Fatal(err)
	}
	reopened, err := OpenDocument(path, "usage")
	if err != nil {
		t.Fatal(err)
	}
	if _, found, _ := reopened.Get(ctx, "usage"); found {
		t.Error("deleted document should read as absent")
	}
}

func TestOpenKeepsKeyedDocument(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "a", []byte(`{"x": 1}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "b", []byte(`2`)); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	v, found, _ := reopened.Get(ctx, "a")
	if !found || string(v) != `{"x":1}` {
		t.Errorf("got %s found=%v", v, found)
	}
}

func TestOpenRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"a":`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("expected parse error")
	}
	if _, err := OpenDocument(path, "usage"); err == nil {
		t.Error("expected parse error")
	}
}
