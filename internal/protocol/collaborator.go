package protocol

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/10yihang/autocache/internal/cluster"
	"github.com/10yihang/autocache/internal/cluster/hash"
	"github.com/10yihang/autocache/internal/engine/memory"
)

var _ cluster.DataCollaborator = (*ClusterCollaboratorAdapter)(nil)

// ClusterCollaboratorAdapter implements cluster.DataCollaborator over the
// in-memory storage engine, bridging the coordination core to the actual
// key space for slot eviction and manual-failover handoff.
type ClusterCollaboratorAdapter struct {
	store *memory.Store

	replicaOf atomic.Value // string
	pausedAt  atomic.Int64 // unix nano deadline, 0 == not paused
}

func NewClusterCollaboratorAdapter(store *memory.Store) *ClusterCollaboratorAdapter {
	a := &ClusterCollaboratorAdapter{store: store}
	a.replicaOf.Store("")
	return a
}

// CountKeysInSlot reports how many locally held keys hash to slot.
func (a *ClusterCollaboratorAdapter) CountKeysInSlot(slot uint16) int {
	return len(a.keysInSlot(slot))
}

// GetKeysInSlot returns up to max locally held keys that hash to slot, or
// every matching key when max <= 0.
func (a *ClusterCollaboratorAdapter) GetKeysInSlot(slot uint16, max int) ([]string, error) {
	keys := a.keysInSlot(slot)
	if max > 0 && len(keys) > max {
		keys = keys[:max]
	}
	return keys, nil
}

// FlushDB discards every key this node holds, independent of slot
// ownership, used by CLUSTER RESET HARD.
func (a *ClusterCollaboratorAdapter) FlushDB() error {
	return a.store.FlushDB(context.Background())
}

// DelKeysInSlot deletes every locally held key for slot.
func (a *ClusterCollaboratorAdapter) DelKeysInSlot(slot uint16) int {
	keys := a.keysInSlot(slot)
	if len(keys) == 0 {
		return 0
	}
	n, _ := a.store.Del(context.Background(), keys...)
	return int(n)
}

func (a *ClusterCollaboratorAdapter) keysInSlot(slot uint16) []string {
	all, err := a.store.Keys(context.Background(), "*")
	if err != nil {
		return nil
	}
	var out []string
	for _, k := range all {
		if hash.KeySlot(k) == slot {
			out = append(out, k)
		}
	}
	return out
}

// SetReplicaOf records this node's replication target. The in-memory engine
// has no replication stream of its own, so there is nothing to repoint —
// this just keeps the value available for CLUSTER NODES/INFO reporting.
func (a *ClusterCollaboratorAdapter) SetReplicaOf(addr string) error {
	a.replicaOf.Store(addr)
	return nil
}

// ReplicaOf returns the address last set by SetReplicaOf, or "" if this
// node is a master.
func (a *ClusterCollaboratorAdapter) ReplicaOf() string {
	return a.replicaOf.Load().(string)
}

// PauseClients records a deadline until which writes should be considered
// paused. With no replication stream to protect, nothing in this engine
// actually blocks on it; the deadline is tracked for completeness and for
// anything inspecting IsPaused (e.g. future CLIENT PAUSE support).
func (a *ClusterCollaboratorAdapter) PauseClients(d time.Duration) {
	a.pausedAt.Store(time.Now().Add(d).UnixNano())
}

func (a *ClusterCollaboratorAdapter) IsPaused() bool {
	deadline := a.pausedAt.Load()
	return deadline != 0 && time.Now().UnixNano() < deadline
}

// ReplicationOffset always reports 0. The in-memory engine has no
// replication stream between a master and its replicas, so a replica's
// local mutation count has no relationship to its master's — comparing
// the two (as handlePausedPong does for manual failover) would either be
// meaningless or could wedge mfCanStart forever. Reporting 0 on both ends
// keeps that comparison trivially satisfied, matching force-mode behavior
// for every failover on this engine.
func (a *ClusterCollaboratorAdapter) ReplicationOffset() int64 {
	return 0
}
