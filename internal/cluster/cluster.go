package cluster

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/10yihang/autocache/internal/cluster/gossip"
	"github.com/10yihang/autocache/internal/cluster/hash"
	"github.com/10yihang/autocache/internal/cluster/state"
)

type ClusterState int

const (
	ClusterStateDown ClusterState = iota
	ClusterStateOK
	ClusterStateFail
)

func (s ClusterState) String() string {
	switch s {
	case ClusterStateDown:
		return "fail"
	case ClusterStateOK:
		return "ok"
	case ClusterStateFail:
		return "fail"
	default:
		return "unknown"
	}
}

type Cluster struct {
	self         *Node
	slots        *SlotManager
	gossip       *gossip.Gossip
	election     *Election
	migrator     *ReplicaMigrator
	state        ClusterState
	stateManager *state.StateManager
	collaborator DataCollaborator
	cfg          *Config
	pendingOK    time.Time
	mu           sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Config struct {
	NodeID      string
	BindAddr    string
	Port        int
	ClusterPort int
	Seeds       []string
	// NodeTimeout drives PFAIL/FAIL detection and gossip pacing.
	// Zero falls back to gossip.ClusterNodeTimeout.
	NodeTimeout time.Duration
	// RequireFullCoverage mirrors cluster-require-full-coverage: if set, the
	// cluster reports FAIL state whenever any slot has no reachable owner.
	RequireFullCoverage bool
	// MigrationBarrier mirrors cluster-migration-barrier: a
	// replica only migrates to an orphaned master if doing so would still
	// leave its own master with more than this many replicas. Zero falls
	// back to 1, matching the conservative default of the system this was
	// modeled on.
	MigrationBarrier int
}

func NewCluster(cfg *Config, stateManager *state.StateManager) (*Cluster, error) {
	self := &Node{
		ID:          cfg.NodeID,
		IP:          cfg.BindAddr,
		Port:        cfg.Port,
		ClusterPort: cfg.ClusterPort,
		Role:        NodeRoleMaster,
		State:       NodeStateConnected,
		FailReports: make(map[string]int64),
	}

	if self.ID == "" {
		self.ID = generateNodeID()
	}
	if cfg.MigrationBarrier <= 0 {
		cfg.MigrationBarrier = 1
	}

	slots := NewSlotManager()

	c := &Cluster{
		self:         self,
		slots:        slots,
		state:        ClusterStateDown,
		stateManager: stateManager,
		cfg:          cfg,
	}

	if stateManager != nil {
		stateManager.SetProvider(c)
		slots.SetStateManager(stateManager)
	}

	gossipNode := &gossip.GossipNode{
		ID:          self.ID,
		IP:          self.IP,
		Port:        self.Port,
		ClusterPort: self.ClusterPort,
		Role:        gossip.NodeRoleMaster,
		State:       gossip.NodeStateConnected,
		FailReports: make(map[string]int64),
	}

	c.gossip = gossip.NewGossip(gossipNode, slots, cfg.NodeTimeout)
	c.gossip.SetEventHandlers(c.onNodeJoin, c.onNodeLeave, c.onNodeFail, c.onSlotChange)
	c.gossip.SetConfigEpochHandler(c.onConfigEpochChange)

	c.collaborator = nullCollaborator{}
	c.election = newElection(c)
	c.gossip.SetElectionHandler(c.election.handleMessage)
	c.migrator = newReplicaMigrator(c)

	return c, nil
}

func (c *Cluster) getState() ClusterState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// GetState reports the aggregate cluster health computed by evaluateState
// — OK or FAIL — for callers outside this package (the client
// router's CLUSTERDOWN decision).
func (c *Cluster) GetState() ClusterState {
	return c.getState()
}

// SetDataCollaborator wires the external key-value engine this core
// delegates to for slot-local key operations, replication target control,
// client pausing, and replication-offset reporting. Unset, the core runs with a harmless no-op collaborator.
func (c *Cluster) SetDataCollaborator(dc DataCollaborator) {
	c.mu.Lock()
	c.collaborator = dc
	c.mu.Unlock()
}

func (c *Cluster) dataCollaborator() DataCollaborator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collaborator
}

// CountKeysInSlot reports how many keys this node currently holds for slot,
// for CLUSTER COUNTKEYSINSLOT.
func (c *Cluster) CountKeysInSlot(slot uint16) int {
	return c.dataCollaborator().CountKeysInSlot(slot)
}

// GetKeysInSlot returns up to max keys this node currently holds for slot,
// for CLUSTER GETKEYSINSLOT.
func (c *Cluster) GetKeysInSlot(slot uint16, max int) ([]string, error) {
	return c.dataCollaborator().GetKeysInSlot(slot, max)
}

func (c *Cluster) Start(seeds []string) error {
	if err := c.gossip.Start(); err != nil {
		return err
	}

	for _, seed := range seeds {
		if err := c.gossip.Meet(seed); err != nil {
			log.Printf("Failed to meet seed %s: %v", seed, err)
		}
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.tickLoop()

	c.state = ClusterStateOK
	return nil
}

func (c *Cluster) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.gossip.Stop()
}

// tickLoop drives election and manual-failover progress, cluster-state
// evaluation and replica migration at 10Hz.
func (c *Cluster) tickLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.election.tick()
			c.evaluateState()
			c.migrator.tick()
		}
	}
}

func (c *Cluster) GetSelf() *Node {
	return c.self.Clone()
}

func (c *Cluster) GetNodes() []*Node {
	gossipNodes := c.gossip.GetNodes()
	nodes := make([]*Node, len(gossipNodes))
	for i, gn := range gossipNodes {
		nodes[i] = gossipNodeToNode(gn)
	}
	return nodes
}

func (c *Cluster) GetSlotNode(slot uint16) *Node {
	nodeID := c.slots.GetSlotNode(slot)
	if nodeID == "" {
		return nil
	}
	gn := c.gossip.GetNode(nodeID)
	if gn == nil {
		return nil
	}
	return gossipNodeToNode(gn)
}

func (c *Cluster) GetKeyNode(key string) *Node {
	slot := hash.KeySlot(key)
	return c.GetSlotNode(slot)
}

func (c *Cluster) IsLocalKey(key string) bool {
	slot := hash.KeySlot(key)
	nodeID := c.slots.GetSlotNode(slot)
	return nodeID == c.self.ID
}

func (c *Cluster) GetKeySlot(key string) uint16 {
	return hash.KeySlot(key)
}

func (c *Cluster) RouteKey(key string) (*Node, error) {
	slot := hash.KeySlot(key)
	slotInfo := c.slots.GetSlotInfo(slot)

	if slotInfo == nil || slotInfo.NodeID == "" {
		return nil, fmt.Errorf("slot %d not assigned", slot)
	}

	if slotInfo.NodeID == c.self.ID {
		if slotInfo.State == SlotStateExporting {
			gn := c.gossip.GetNode(slotInfo.Exporting)
			if gn != nil {
				return gossipNodeToNode(gn), ErrAsk
			}
		}
		return nil, nil
	}

	gn := c.gossip.GetNode(slotInfo.NodeID)
	if gn != nil {
		return gossipNodeToNode(gn), ErrMoved
	}
	return nil, ErrMoved
}

func (c *Cluster) AssignSlots(slots []uint16) error {
	for _, slot := range slots {
		if err := c.slots.AssignSlot(slot, c.self.ID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cluster) AssignSlotRange(start, end uint16) error {
	return c.slots.AssignSlotRange(start, end, c.self.ID)
}

func (c *Cluster) Meet(addr string) error {
	return c.gossip.Meet(addr)
}

// Failover triggers CLUSTER FAILOVER on a
// replica: force skips waiting to replicate up to the master's offset,
// takeover skips voting entirely.
func (c *Cluster) Failover(force, takeover bool) error {
	return c.election.RequestManualFailover(force, takeover)
}

// Forget removes a node from the local table and blacklists its ID so a
// stray gossip packet doesn't immediately re-add it (CLUSTER FORGET).
func (c *Cluster) Forget(nodeID string) error {
	if nodeID == c.self.ID {
		return fmt.Errorf("I tried hard but I can't forget myself...")
	}
	if !c.gossip.RemoveNode(nodeID) {
		return fmt.Errorf("unknown node %s", nodeID)
	}
	c.gossip.Blacklist(nodeID)
	if c.stateManager != nil {
		c.stateManager.MarkDirty()
	}
	return nil
}

// ReplicateOf makes this node a replica of masterID (CLUSTER REPLICATE). As
// in the system this mirrors, a node that currently owns hash slots can't
// become a replica without giving them up first.
func (c *Cluster) ReplicateOf(masterID string) error {
	if masterID == c.self.ID {
		return fmt.Errorf("can't replicate myself")
	}
	master := c.gossip.GetNode(masterID)
	if master == nil {
		return fmt.Errorf("unknown node %s", masterID)
	}
	if master.Role != gossip.NodeRoleMaster {
		return fmt.Errorf("I can only replicate a master, not a replica")
	}
	if c.slots.CountAssignedTo(c.self.ID) > 0 {
		return fmt.Errorf("to set a replica for a node without slots you can just set the replica's master")
	}

	c.migrateTo(masterID)
	return nil
}

// GetReplicasOf returns the replicas currently pointed at masterID (CLUSTER
// SLAVES / CLUSTER REPLICAS).
func (c *Cluster) GetReplicasOf(masterID string) []*Node {
	var out []*Node
	for _, gn := range c.gossip.GetNodes() {
		if gn.Role == gossip.NodeRoleReplica && gn.MasterID == masterID {
			out = append(out, gossipNodeToNode(gn))
		}
	}
	return out
}

// CountFailReports reports how many masters currently have an unexpired
// PFAIL/FAIL report on file for nodeID (CLUSTER COUNT-FAILURE-REPORTS).
func (c *Cluster) CountFailReports(nodeID string) int {
	return c.gossip.FailReportCount(nodeID)
}

// SetConfigEpoch stamps this node's configEpoch directly (CLUSTER
// SET-CONFIG-EPOCH), only allowed while the node table holds no node but
// this one and our configEpoch is still 0 — it's for bootstrapping a fresh
// cluster with pre-assigned, non-colliding epochs rather than for resolving
// a live collision.
func (c *Cluster) SetConfigEpoch(epoch uint64) error {
	if len(c.gossip.GetNodes()) > 1 {
		return fmt.Errorf("node config epoch can be set only if the node does not know any other node")
	}
	if c.GetMyEpoch() != 0 {
		return fmt.Errorf("node config epoch is already non-zero")
	}
	c.gossip.SetSelfConfigEpoch(epoch)
	if epoch > c.GetCurrentEpoch() {
		c.gossip.SetCurrentEpoch(epoch)
	}
	if c.stateManager != nil {
		c.stateManager.MarkDirty()
	}
	return nil
}

// ResetCluster reverts this node to a fresh, unjoined state (CLUSTER RESET):
// every known peer is forgotten and every locally owned slot is released. A
// hard reset also flushes the local key space through the data collaborator
// and zeroes both epochs, matching a brand-new node that has never taken
// part in a vote.
func (c *Cluster) ResetCluster(hard bool) error {
	if hard {
		if err := c.dataCollaborator().FlushDB(); err != nil {
			return fmt.Errorf("flush data: %w", err)
		}
	}
	for _, slot := range c.slots.GetNodeSlots(c.self.ID) {
		c.slots.DelSlot(slot, c.self.ID)
	}
	c.gossip.ResetNodes()
	c.self.SetRole(NodeRoleMaster, "")

	if hard {
		c.gossip.SetCurrentEpoch(0)
		c.gossip.SetSelfConfigEpoch(0)
		c.election.SetLastVoteEpoch(0)
	}

	if c.stateManager != nil {
		c.stateManager.MarkDirty()
	}
	return nil
}

func (c *Cluster) GetClusterInfo() map[string]interface{} {
	nodes := c.gossip.GetNodes()

	pfailCount, failCount := 0, 0
	for _, node := range nodes {
		switch node.State {
		case gossip.NodeStatePFail:
			pfailCount++
		case gossip.NodeStateFail:
			failCount++
		}
	}

	c.mu.RLock()
	stateStr := c.state.String()
	c.mu.RUnlock()

	return map[string]interface{}{
		"cluster_state":          stateStr,
		"cluster_slots_assigned": c.slots.CountAssigned(),
		"cluster_slots_ok":       c.slots.CountAssigned(),
		"cluster_known_nodes":    len(nodes),
		"cluster_size":           c.gossip.ClusterSize(),
		"cluster_current_epoch":  c.GetCurrentEpoch(),
		"cluster_my_epoch":       c.GetMyEpoch(),
		"cluster_pfail_nodes":    pfailCount,
		"cluster_fail_nodes":     failCount,
	}
}

func (c *Cluster) GetClusterSlots() []SlotRange {
	return c.slots.GetClusterSlots()
}

func (c *Cluster) GetSlotManager() *SlotManager {
	return c.slots
}

func (c *Cluster) GetNodeID() string {
	return c.self.ID
}

func (c *Cluster) GetNodeInfos() []state.NodeInfo {
	gossipNodes := c.gossip.GetNodes()
	nodes := make([]state.NodeInfo, len(gossipNodes))
	for i, gn := range gossipNodes {
		var flags []string
		if gn.ID == c.self.ID {
			flags = append(flags, "myself")
		}
		if gn.Role == gossip.NodeRoleReplica {
			flags = append(flags, "slave")
		} else {
			flags = append(flags, "master")
		}
		switch gn.State {
		case gossip.NodeStateFail:
			flags = append(flags, "fail")
		case gossip.NodeStatePFail:
			flags = append(flags, "pfail")
		case gossip.NodeStateHandshake:
			flags = append(flags, "handshake")
		}

		nodes[i] = state.NodeInfo{
			ID:          gn.ID,
			IP:          gn.IP,
			Port:        gn.Port,
			ClusterPort: gn.ClusterPort,
			Flags:       flags,
			MasterID:    gn.MasterID,
			PingSent:    gn.PingSent,
			PongRecv:    gn.PongReceived,
			ConfigEpoch: c.gossip.ConfigEpochOf(gn.ID),
			Connected:   gn.State != gossip.NodeStateFail && gn.State != gossip.NodeStateHandshake,
			Slots:       c.slots.GetNodeSlots(gn.ID),
		}
	}
	return nodes
}

func (c *Cluster) GetSlotMap() [16384]string {
	return c.slots.GetSlotMapSnapshot()
}

func (c *Cluster) GetMigratingSlots() map[uint16]state.MigrationState {
	return c.slots.GetMigratingSlots()
}

// GetCurrentEpoch returns the cluster-wide logical clock, tracked by the
// gossip layer so every bus message both observes and can bump it.
func (c *Cluster) GetCurrentEpoch() uint64 {
	return c.gossip.CurrentEpoch()
}

// GetMyEpoch returns this node's own configEpoch, the version stamped on the
// slots it owns. The gossip layer is the single source of truth for it,
// since it's also what gets compared/bumped during collision resolution
// on every inbound PING/PONG/MEET.
func (c *Cluster) GetMyEpoch() uint64 {
	return c.gossip.SelfConfigEpoch()
}

// IncrementEpoch performs the "unilateral bump": our configEpoch
// becomes the new currentEpoch. Used by CLUSTER SETSLOT ... MIGRATING,
// IMPORTING and NODE to win a slot-ownership collision outright.
func (c *Cluster) IncrementEpoch() uint64 {
	epoch := c.gossip.IncrementEpoch()
	c.gossip.SetSelfConfigEpoch(epoch)

	if c.stateManager != nil {
		c.stateManager.MarkDirty()
	}
	return epoch
}

// onConfigEpochChange keeps persistence in sync when our configEpoch moves
// out from under us via gossip-driven collision resolution rather than an
// explicit IncrementEpoch call.
func (c *Cluster) onConfigEpochChange(epoch uint64) {
	if c.stateManager != nil {
		c.stateManager.MarkDirty()
	}
}

func (c *Cluster) RestoreState(ps *state.PersistentState) error {
	c.gossip.SetSelfConfigEpoch(ps.MyEpoch)
	c.gossip.SetCurrentEpoch(ps.CurrentEpoch)
	c.slots.RestoreFromState(ps.SlotMap, ps.MigratingSlots)
	c.election.SetLastVoteEpoch(ps.LastVoteEpoch)
	return nil
}

// GetLastVoteEpoch returns the epoch this node last cast a FAILOVER_AUTH
// vote in, persisted so a
// restart can't replay a vote already cast before the crash.
func (c *Cluster) GetLastVoteEpoch() uint64 {
	return c.election.LastVoteEpoch()
}

func (c *Cluster) onNodeJoin(node *gossip.GossipNode) {
	log.Printf("Node joined: %s (%s)", node.ID[:8], node.Addr())
}

func (c *Cluster) onNodeLeave(node *gossip.GossipNode) {
	log.Printf("Node left: %s (%s)", node.ID[:8], node.Addr())
}

// onNodeFail fires once per genuine PFAIL->FAIL or FAIL-broadcast transition
// (gossip.GossipNode.MarkFail only reports success the first time). It only
// logs the transition; election and replica migration react to FAIL from
// tickLoop.
func (c *Cluster) onNodeFail(node *gossip.GossipNode) {
	log.Printf("Node FAIL: %s (%s)", node.ID[:8], node.Addr())
}

// onSlotChange fires whenever gossip reconciliation moves a slot
// away from us to nodeID. It restores the key/slot invariant by dropping any
// keys we still hold for the slot, and demotes us to a replica of the new
// owner if that reassignment took our last slot (or our master's last slot).
func (c *Cluster) onSlotChange(slot uint16, nodeID string) {
	log.Printf("Slot %d assigned to %s", slot, nodeID[:8])

	if nodeID == c.self.ID {
		return
	}

	if deleted := c.dataCollaborator().DelKeysInSlot(slot); deleted > 0 {
		log.Printf("Dropped %d stale keys for slot %d after losing it to %s", deleted, slot, nodeID[:8])
	}

	if c.slots.CountAssignedTo(c.self.ID) == 0 {
		c.demoteToReplicaOf(nodeID)
		return
	}

	if self := c.GetSelf(); self.IsReplica() {
		if master := c.gossip.GetNode(self.MasterID); master != nil && c.slots.CountAssignedTo(master.ID) == 0 {
			c.demoteToReplicaOf(nodeID)
		}
	}
}

// demoteToReplicaOf is the graceful-yield path:
// a master that just lost its last slot (or a replica whose master did)
// follows the winning claimant instead of sitting idle.
func (c *Cluster) demoteToReplicaOf(masterID string) {
	master := c.gossip.GetNode(masterID)
	if master == nil {
		return
	}

	c.self.SetRole(NodeRoleReplica, masterID)
	c.gossip.SetSelfReplicaOf(masterID)
	if err := c.dataCollaborator().SetReplicaOf(master.Addr()); err != nil {
		log.Printf("Failed to point replication at %s: %v", masterID[:8], err)
	}
	log.Printf("Became replica of %s after losing all owned slots", masterID[:8])
	if c.stateManager != nil {
		c.stateManager.MarkDirty()
	}
}

// promoteToMaster is the election-win / takeover path:
// reclaim every slot our former master held and start serving as MASTER.
func (c *Cluster) promoteToMaster(formerMasterID string, epoch uint64) {
	c.self.SetRole(NodeRoleMaster, "")
	c.gossip.PromoteSelfToMaster()
	c.gossip.SetSelfConfigEpoch(epoch)

	for _, slot := range c.slots.GetNodeSlots(formerMasterID) {
		c.slots.AssignSlot(slot, c.self.ID)
	}

	if err := c.dataCollaborator().SetReplicaOf(""); err != nil {
		log.Printf("Failed to clear replication target on promotion: %v", err)
	}
	log.Printf("Promoted to master at configEpoch %d, reclaimed former master %s's slots", epoch, formerMasterID[:8])
	if c.stateManager != nil {
		c.stateManager.MarkDirty()
	}
}

func gossipNodeToNode(gn *gossip.GossipNode) *Node {
	var role NodeRole
	if gn.Role == gossip.NodeRoleMaster {
		role = NodeRoleMaster
	} else {
		role = NodeRoleReplica
	}

	var state NodeState
	switch gn.State {
	case gossip.NodeStateConnected:
		state = NodeStateConnected
	case gossip.NodeStatePFail:
		state = NodeStatePFail
	case gossip.NodeStateFail:
		state = NodeStateFail
	default:
		state = NodeStateUnknown
	}

	return &Node{
		ID:           gn.ID,
		IP:           gn.IP,
		Port:         gn.Port,
		ClusterPort:  gn.ClusterPort,
		Role:         role,
		MasterID:     gn.MasterID,
		State:        state,
		PingSent:     gn.PingSent,
		PongReceived: gn.PongReceived,
		FailReports:  gn.FailReports,
	}
}

type ClusterError struct {
	Type string
	Slot uint16
	Addr string
}

func (e *ClusterError) Error() string {
	return fmt.Sprintf("%s %d %s", e.Type, e.Slot, e.Addr)
}

var (
	ErrMoved = &ClusterError{Type: "MOVED"}
	ErrAsk   = &ClusterError{Type: "ASK"}
)
