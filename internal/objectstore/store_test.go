package objectstore

import (
	"context"
	"strings"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Put(ctx, "db/threats/d1-c1.jsonl", []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := store.Get(ctx, "db/threats/d1-c1.jsonl")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("Get = %q, want %q", data, "payload")
	}
}

func TestListReturnsSortedKeysUnderPrefix(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()
	for _, key := range []string{"examples/b.png", "examples/a.png", "other/c.png"} {
		if err := store.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}
	keys, err := store.List(ctx, "examples")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"examples/a.png", "examples/b.png"}
	if len(keys) != len(want) {
		t.Fatalf("List = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("List[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestListMissingPrefixIsEmpty(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	keys, err := store.List(context.Background(), "nope")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("List = %v, want empty", keys)
	}
}

func TestTraversalKeyRejected(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	if _, err := store.Get(context.Background(), "../outside"); err == nil {
		t.Fatal("expected traversal key to be rejected")
	} else if !strings.Contains(err.Error(), "escapes store root") {
		t.Fatalf("unexpected error: %v", err)
	}
}
