package cluster

import (
	"log"
	"sync"

	"github.com/10yihang/autocache/internal/cluster/gossip"
)

// ReplicaMigrator rebalances replicas onto orphaned masters: a
// master that used to have replicas but lost all of them stays without
// protection until some other master's "spare" replica notices and moves.
type ReplicaMigrator struct {
	c  *Cluster
	mu sync.Mutex

	// everHadReplica remembers which masters have been seen with at least
	// one replica, so a master that never had one (e.g. still initializing)
	// isn't mistaken for "orphaned".
	everHadReplica map[string]bool
}

func newReplicaMigrator(c *Cluster) *ReplicaMigrator {
	return &ReplicaMigrator{c: c, everHadReplica: make(map[string]bool)}
}

// tick evaluates the three migration conditions and moves this
// node's replication target if all hold. Runs only when the calling node is
// a replica and the cluster is currently OK.
func (m *ReplicaMigrator) tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.c.getState() != ClusterStateOK {
		return
	}

	self := m.c.GetSelf()
	if !self.IsReplica() || self.MasterID == "" {
		return
	}

	nodes := m.c.gossip.GetNodes()
	for _, n := range nodes {
		if n.Role == gossip.NodeRoleReplica && n.MasterID != "" {
			m.everHadReplica[n.MasterID] = true
		}
	}

	okslaves := make(map[string]int)
	replicasOf := make(map[string][]*gossip.GossipNode)
	mastersWithSlots := make(map[string]bool)

	for _, n := range nodes {
		switch n.Role {
		case gossip.NodeRoleMaster:
			if m.c.slots.CountAssignedTo(n.ID) > 0 {
				mastersWithSlots[n.ID] = true
			}
		case gossip.NodeRoleReplica:
			if n.MasterID == "" {
				continue
			}
			replicasOf[n.MasterID] = append(replicasOf[n.MasterID], n)
			if n.State != gossip.NodeStateFail {
				okslaves[n.MasterID]++
			}
		}
	}

	maxSlaves := 0
	for masterID := range mastersWithSlots {
		if okslaves[masterID] > maxSlaves {
			maxSlaves = okslaves[masterID]
		}
	}

	target := m.findOrphan(nodes, okslaves)
	if target == nil {
		return
	}

	myMasterOK := okslaves[self.MasterID]
	if myMasterOK <= m.c.cfg.MigrationBarrier+1 {
		return
	}
	if myMasterOK != maxSlaves {
		return
	}

	smallest := self.ID
	for masterID, count := range okslaves {
		if count != maxSlaves {
			continue
		}
		for _, r := range replicasOf[masterID] {
			if r.ID < smallest {
				smallest = r.ID
			}
		}
	}
	if smallest != self.ID {
		return
	}

	log.Printf("migration: moving from %s to orphaned master %s", self.MasterID[:8], target.ID[:8])
	m.c.migrateTo(target.ID)
}

func (m *ReplicaMigrator) findOrphan(nodes []*gossip.GossipNode, okslaves map[string]int) *gossip.GossipNode {
	for _, n := range nodes {
		if n.Role != gossip.NodeRoleMaster {
			continue
		}
		if m.c.slots.CountAssignedTo(n.ID) == 0 {
			continue
		}
		if okslaves[n.ID] > 0 {
			continue
		}
		if !m.everHadReplica[n.ID] {
			continue
		}
		return n
	}
	return nil
}

// migrateTo repoints replication at a new master outside of the
// slot-loss/election paths — the replica-migration rebalance.
func (c *Cluster) migrateTo(masterID string) {
	master := c.gossip.GetNode(masterID)
	if master == nil {
		return
	}

	c.self.SetRole(NodeRoleReplica, masterID)
	c.gossip.SetSelfReplicaOf(masterID)
	if err := c.dataCollaborator().SetReplicaOf(master.Addr()); err != nil {
		log.Printf("Failed to point replication at %s during migration: %v", masterID[:8], err)
	}
	if c.stateManager != nil {
		c.stateManager.MarkDirty()
	}
}
