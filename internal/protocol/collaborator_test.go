package protocol

import (
	"context"
	"testing"

	"github.com/10yihang/autocache/internal/cluster/hash"
	"github.com/10yihang/autocache/internal/engine/memory"
)

func TestClusterCollaboratorAdapter_GetKeysInSlot(t *testing.T) {
	store := memory.NewStore(memory.DefaultConfig())
	defer store.Close()

	ctx := context.Background()
	store.Set(ctx, "foo", "v", 0)
	store.Set(ctx, "bar", "v", 0)
	store.Set(ctx, "baz", "v", 0)

	adapter := NewClusterCollaboratorAdapter(store)
	slot := hash.KeySlot("foo")

	keys, err := adapter.GetKeysInSlot(slot, 0)
	if err != nil {
		t.Fatalf("GetKeysInSlot failed: %v", err)
	}
	found := false
	for _, k := range keys {
		if k == "foo" {
			found = true
		}
		if hash.KeySlot(k) != slot {
			t.Errorf("GetKeysInSlot returned key %q outside slot %d", k, slot)
		}
	}
	if !found {
		t.Errorf("GetKeysInSlot(%d) missing key %q", slot, "foo")
	}
}

func TestClusterCollaboratorAdapter_GetKeysInSlot_Capped(t *testing.T) {
	store := memory.NewStore(memory.DefaultConfig())
	defer store.Close()

	ctx := context.Background()
	slot := hash.KeySlot("{same}.a")
	store.Set(ctx, "{same}.a", "v", 0)
	store.Set(ctx, "{same}.b", "v", 0)
	store.Set(ctx, "{same}.c", "v", 0)

	adapter := NewClusterCollaboratorAdapter(store)

	keys, err := adapter.GetKeysInSlot(slot, 2)
	if err != nil {
		t.Fatalf("GetKeysInSlot failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("GetKeysInSlot capped at 2: got %d keys", len(keys))
	}
}

func TestClusterCollaboratorAdapter_FlushDB(t *testing.T) {
	store := memory.NewStore(memory.DefaultConfig())
	defer store.Close()

	ctx := context.Background()
	store.Set(ctx, "foo", "v", 0)

	adapter := NewClusterCollaboratorAdapter(store)
	if err := adapter.FlushDB(); err != nil {
		t.Fatalf("FlushDB failed: %v", err)
	}

	n, err := store.DBSize(ctx)
	if err != nil {
		t.Fatalf("DBSize failed: %v", err)
	}
	if n != 0 {
		t.Errorf("DBSize after FlushDB = %d, want 0", n)
	}
}
