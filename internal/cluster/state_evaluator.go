package cluster

import (
	"log"
	"time"

	"github.com/10yihang/autocache/internal/cluster/gossip"
	"github.com/10yihang/autocache/internal/cluster/hash"
)

const (
	minRejoinDelay = 500 * time.Millisecond
	maxRejoinDelay = 5000 * time.Millisecond
)

// rejoinDelay clamps NodeTimeout into [500ms, 5000ms] — how
// long a master that regained majority must wait before accepting writes
// again, giving it time to be reconfigured rather than serving stale data.
func (c *Cluster) rejoinDelay() time.Duration {
	d := c.cfg.NodeTimeout
	if d < minRejoinDelay {
		return minRejoinDelay
	}
	if d > maxRejoinDelay {
		return maxRejoinDelay
	}
	return d
}

// evaluateState recomputes the aggregate cluster state. Called
// once per tick (10Hz) from tickLoop, which satisfies the "at most ten times
// per second" debounce by construction.
func (c *Cluster) evaluateState() {
	majority := c.gossip.HealthyMasterCount() >= c.gossip.ClusterSize()/2+1

	covered := true
	if c.cfg.RequireFullCoverage {
		covered = c.slotsFullyCovered()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !majority || !covered {
		if c.state != ClusterStateFail {
			log.Printf("Cluster state -> FAIL (majority=%v, full_coverage=%v)", majority, covered)
		}
		c.state = ClusterStateFail
		c.pendingOK = time.Time{}
		return
	}

	if c.state == ClusterStateOK {
		return
	}

	now := time.Now()
	if c.pendingOK.IsZero() {
		c.pendingOK = now.Add(c.rejoinDelay())
		return
	}
	if !now.Before(c.pendingOK) {
		c.state = ClusterStateOK
		c.pendingOK = time.Time{}
		log.Printf("Cluster state -> OK")
	}
}

// slotsFullyCovered reports whether every slot has an owner that isn't FAIL.
func (c *Cluster) slotsFullyCovered() bool {
	for slot := uint16(0); slot < hash.SlotCount; slot++ {
		ownerID := c.slots.GetSlotNode(slot)
		if ownerID == "" {
			return false
		}
		if ownerID == c.self.ID {
			continue
		}
		owner := c.gossip.GetNode(ownerID)
		if owner == nil || owner.State == gossip.NodeStateFail {
			return false
		}
	}
	return true
}
