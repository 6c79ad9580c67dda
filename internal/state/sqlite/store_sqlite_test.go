package sqlite

import (
	"bytes"
	"context"
	"path/filepath"
	"sort"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSetGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "a", []byte("one")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, found, err := store.Get(ctx, "a")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if !bytes.Equal(value, []byte("one")) {
		t.Fatalf("value = %q", value)
	}

	// Overwrite.
	if err := store.Set(ctx, "a", []byte("two")); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	value, _, _ = store.Get(ctx, "a")
	if !bytes.Equal(value, []byte("two")) {
		t.Fatalf("value after overwrite = %q", value)
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := store.Get(ctx, "a"); found {
		t.Fatalf("key survived delete")
	}
}

func TestGetMissingKey(t *testing.T) {
	store := newTestStore(t)
	_, found, err := store.Get(context.Background(), "nope")
	if err != nil || found {
		t.Fatalf("found=%v err=%v, want clean miss", found, err)
	}
}

func TestKeysFiltersByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, key := range []string{"hedge:snapshot:a", "hedge:snapshot:b", "other:c"} {
		if err := store.Set(ctx, key, []byte("x")); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}
	keys, err := store.Keys(ctx, "hedge:snapshot:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "hedge:snapshot:a" || keys[1] != "hedge:snapshot:b" {
		t.Fatalf("keys = %v", keys)
	}
}
