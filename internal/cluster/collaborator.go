package cluster

import "time"

// DataCollaborator is the minimal interface the cluster-coordination core
// needs from the embedded key-value engine it sits in front of: looking up
// and clearing keys that fall out of a slot during reconciliation, pointing
// replication at a new master, pausing client writes ahead of a manual
// failover, and reporting how far replication has progressed. The core
// never touches keys directly — DUMP/RESTORE/MIGRATE and the storage engine
// itself are external collaborators.
type DataCollaborator interface {
	// CountKeysInSlot reports how many keys this node currently holds for slot.
	CountKeysInSlot(slot uint16) int
	// GetKeysInSlot returns up to max keys this node currently holds for
	// slot, used by CLUSTER GETKEYSINSLOT and by migration tooling deciding
	// what to move.
	GetKeysInSlot(slot uint16, max int) ([]string, error)
	// DelKeysInSlot deletes every key this node holds for slot and returns
	// the number removed, used to restore the key/slot invariant after a
	// gossip-driven slot reassignment takes slot away from us.
	DelKeysInSlot(slot uint16) int
	// SetReplicaOf points local replication at addr, or clears it when addr == "".
	SetReplicaOf(addr string) error
	// FlushDB drops every key this node holds, used by CLUSTER RESET HARD.
	FlushDB() error
	// PauseClients blocks new client writes for up to d, used by manual
	// failover to let a target replica catch up.
	PauseClients(d time.Duration)
	// ReplicationOffset reports how far this node's replication stream has
	// progressed, used for the manual-failover handoff (MFSTART and the
	// paused PONG). Election rank does not read it.
	ReplicationOffset() int64
}

// nullCollaborator is the default when no real engine has been wired in;
// every operation is a safe no-op so the coordination core still runs (e.g.
// under the integration tests that never call SetDataCollaborator).
type nullCollaborator struct{}

func (nullCollaborator) CountKeysInSlot(slot uint16) int { return 0 }
func (nullCollaborator) GetKeysInSlot(slot uint16, max int) ([]string, error) {
	return nil, nil
}
func (nullCollaborator) DelKeysInSlot(slot uint16) int  { return 0 }
func (nullCollaborator) SetReplicaOf(addr string) error { return nil }
func (nullCollaborator) FlushDB() error                 { return nil }
func (nullCollaborator) PauseClients(d time.Duration)   {}
func (nullCollaborator) ReplicationOffset() int64       { return 0 }
