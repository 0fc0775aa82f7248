package state

import "fmt"

// PersistentState is the in-memory shape of the node-view snapshot described
// by the line-oriented file format: one descriptor per known node plus a
// trailing vars line for the epoch counters.
type PersistentState struct {
	NodeID         string
	Nodes          []NodeInfo
	SlotMap        [16384]string
	MigratingSlots map[uint16]MigrationState
	CurrentEpoch   uint64
	MyEpoch        uint64
	LastVoteEpoch  uint64
}

// NodeInfo is one node's descriptor line: identity, address, role/health
// flags, master link, gossip timestamps, configEpoch, and owned slots.
type NodeInfo struct {
	ID          string
	IP          string
	Port        int
	ClusterPort int
	Flags       []string // e.g. "myself", "master", "slave", "fail", "pfail", "handshake"
	MasterID    string    // empty if none
	PingSent    int64
	PongRecv    int64
	ConfigEpoch uint64
	Connected   bool
	Slots       []uint16
}

func (n NodeInfo) Addr() string {
	return fmt.Sprintf("%s:%d", n.IP, n.Port)
}

// MigrationState tracks one slot's migration progress, reported only for the
// local node's own perspective (MIGRATING/IMPORTING are per-owner state).
type MigrationState struct {
	SourceNodeID string
	TargetNodeID string
	State        string // "importing" or "exporting"
}
