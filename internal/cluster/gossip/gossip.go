package gossip

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ClusterNodeTimeout is the default node-timeout; overridable via NewGossip's
	// nodeTimeout argument (wired from cluster.Config in the caller).
	ClusterNodeTimeout  = 15 * time.Second
	ClusterPingInterval = time.Second

	// FailReportValidityMult bounds how long a failure report from a peer stays
	// usable towards quorum: node_timeout * FailReportValidityMult.
	FailReportValidityMult = 2
	// FailUndoTimeMult bounds how long a master-with-slots may stay FAIL before
	// it is force-cleared on reachability even without an explicit CLUSTER FORGET.
	FailUndoTimeMult = 2

	blacklistTTL = 60 * time.Second
)

type NodeState int

const (
	NodeStateUnknown NodeState = iota
	NodeStateHandshake
	NodeStateConnected
	NodeStatePFail
	NodeStateFail
)

type NodeRole int

const (
	NodeRoleMaster NodeRole = iota
	NodeRoleReplica
)

type GossipNode struct {
	ID           string
	IP           string
	Port         int
	ClusterPort  int
	Role         NodeRole
	MasterID     string
	State        NodeState
	NoAddr       bool
	PingSent     int64
	PongReceived int64
	FailTime     int64
	FailReports  map[string]int64
	// ConfigEpoch is the highest configEpoch we've observed this node claim,
	// learned from its own gossiped NodeInfo.
	ConfigEpoch uint64
	mu          sync.RWMutex
}

func (n *GossipNode) Addr() string {
	return fmt.Sprintf("%s:%d", n.IP, n.Port)
}

func (n *GossipNode) ClusterAddr() string {
	return fmt.Sprintf("%s:%d", n.IP, n.ClusterPort)
}

func (n *GossipNode) UpdatePong() {
	n.mu.Lock()
	n.PongReceived = time.Now().UnixMilli()
	if n.State == NodeStatePFail || n.State == NodeStateFail || n.State == NodeStateHandshake {
		n.State = NodeStateConnected
	}
	n.mu.Unlock()
}

func (n *GossipNode) MarkPFail() {
	n.mu.Lock()
	if n.State == NodeStateConnected {
		n.State = NodeStatePFail
	}
	n.mu.Unlock()
}

// MarkFail transitions the node to FAIL and stamps FailTime for the
// FAIL-undo timer. Returns false if the node was already FAIL, so callers
// only broadcast/react to a genuine transition.
func (n *GossipNode) MarkFail() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.State == NodeStateFail {
		return false
	}
	n.State = NodeStateFail
	n.FailTime = time.Now().UnixMilli()
	return true
}

// ClearFail transitions a FAIL node back to CONNECTED. Used both on contact
// and on FAIL-undo timeout.
func (n *GossipNode) ClearFail() {
	n.mu.Lock()
	n.State = NodeStateConnected
	n.FailTime = 0
	n.mu.Unlock()
}

func (n *GossipNode) AddFailReport(reporter string) {
	n.mu.Lock()
	if n.FailReports == nil {
		n.FailReports = make(map[string]int64)
	}
	n.FailReports[reporter] = time.Now().UnixMilli()
	n.mu.Unlock()
}

func (n *GossipNode) RemoveFailReport(reporter string) {
	n.mu.Lock()
	delete(n.FailReports, reporter)
	n.mu.Unlock()
}

func (n *GossipNode) CountFailReports(validDuration time.Duration) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	now := time.Now().UnixMilli()
	count := 0
	for _, ts := range n.FailReports {
		if now-ts < validDuration.Milliseconds() {
			count++
		}
	}
	return count
}

func (n *GossipNode) Clone() *GossipNode {
	n.mu.RLock()
	defer n.mu.RUnlock()

	failReports := make(map[string]int64, len(n.FailReports))
	for k, v := range n.FailReports {
		failReports[k] = v
	}

	return &GossipNode{
		ID:           n.ID,
		IP:           n.IP,
		Port:         n.Port,
		ClusterPort:  n.ClusterPort,
		Role:         n.Role,
		MasterID:     n.MasterID,
		State:        n.State,
		NoAddr:       n.NoAddr,
		PingSent:     n.PingSent,
		PongReceived: n.PongReceived,
		FailTime:     n.FailTime,
		FailReports:  failReports,
		ConfigEpoch:  n.ConfigEpoch,
	}
}

func (n *GossipNode) snapshotState() (state NodeState, pingSent, pongRecv, failTime int64, role NodeRole, isMaster bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.State, n.PingSent, n.PongReceived, n.FailTime, n.Role, n.Role == NodeRoleMaster
}

type SlotAssigner interface {
	GetNodeSlots(nodeID string) []uint16
	GetSlotNode(slot uint16) string
	AssignSlot(slot uint16, nodeID string) error
	CountAssignedTo(nodeID string) int
	UpdateSlotsConfigWith(slot uint16, claimantID string, claimantEpoch, ourEpoch uint64)
}

type Gossip struct {
	self        *GossipNode
	slots       SlotAssigner
	nodeTimeout time.Duration

	nodes   map[string]*GossipNode
	nodesMu sync.RWMutex

	blacklist   map[string]time.Time
	blacklistMu sync.Mutex

	currentEpoch    atomic.Uint64
	selfConfigEpoch atomic.Uint64
	listener        net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onNodeJoin         func(node *GossipNode)
	onNodeLeave        func(node *GossipNode)
	onNodeFail         func(node *GossipNode)
	onSlotChange       func(slot uint16, nodeID string)
	onElectionMsg      func(msg *Message)
	onConfigEpochChange func(epoch uint64)
}

// NewGossip constructs a bus engine. A zero nodeTimeout falls back to
// ClusterNodeTimeout.
func NewGossip(self *GossipNode, slots SlotAssigner, nodeTimeout time.Duration) *Gossip {
	ctx, cancel := context.WithCancel(context.Background())

	if nodeTimeout <= 0 {
		nodeTimeout = ClusterNodeTimeout
	}

	g := &Gossip{
		self:        self,
		nodes:       make(map[string]*GossipNode),
		slots:       slots,
		nodeTimeout: nodeTimeout,
		blacklist:   make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}

	g.nodes[self.ID] = self
	return g
}

func (g *Gossip) Start() error {
	addr := g.self.ClusterAddr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	g.listener = listener

	log.Printf("Gossip listening on %s", addr)

	g.wg.Add(1)
	go g.acceptLoop()

	g.wg.Add(1)
	go g.pingLoop()

	g.wg.Add(1)
	go g.failureDetectionLoop()

	return nil
}

func (g *Gossip) Stop() error {
	g.cancel()
	if g.listener != nil {
		g.listener.Close()
	}
	g.wg.Wait()
	return nil
}

func (g *Gossip) Meet(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}

	msg := NewMeetMessage(g.self.ID, g.selfNodeInfo())
	msg.CurrentEpoch = g.currentEpoch.Load()
	data, err := msg.Encode()
	if err != nil {
		conn.Close()
		return err
	}

	if err := g.writeMessage(conn, data); err != nil {
		conn.Close()
		return err
	}

	respData, err := g.readMessage(conn)
	if err != nil {
		conn.Close()
		return err
	}

	resp, err := Decode(respData)
	if err != nil {
		conn.Close()
		return err
	}

	if resp.Type == MsgPong && resp.NodeInfo != nil {
		g.processNodeInfo(resp.NodeInfo, "")
	}

	conn.Close()
	log.Printf("Successfully met node at %s", addr)
	return nil
}

func (g *Gossip) acceptLoop() {
	defer g.wg.Done()

	for {
		conn, err := g.listener.Accept()
		if err != nil {
			select {
			case <-g.ctx.Done():
				return
			default:
				log.Printf("Accept error: %v", err)
				continue
			}
		}
		go g.handleConnection(conn)
	}
}

func (g *Gossip) handleConnection(conn net.Conn) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(g.nodeTimeout))

	data, err := g.readMessage(conn)
	if err != nil {
		return
	}

	msg, err := Decode(data)
	if err != nil {
		return
	}

	g.observeEpoch(msg.CurrentEpoch)

	switch msg.Type {
	case MsgPing, MsgMeet:
		g.handlePing(conn, msg)
	case MsgPong:
		g.handlePong(msg)
		if msg.MsgFlags&MsgFlagPaused != 0 && g.onElectionMsg != nil {
			go g.onElectionMsg(msg)
		}
	case MsgFail:
		g.handleFail(msg)
	case MsgFailoverAuthRequest, MsgFailoverAuthAck, MsgMFStart:
		if g.onElectionMsg != nil {
			g.onElectionMsg(msg)
		}
	}
}

func (g *Gossip) handlePing(conn net.Conn, msg *Message) {
	if msg.NodeInfo != nil {
		g.processNodeInfo(msg.NodeInfo, "")
	}

	for _, info := range msg.GossipNodes {
		g.processNodeInfo(info, msg.Sender)
	}

	pong := NewPongMessage(g.self.ID, g.selfNodeInfo(), g.randomGossipNodes())
	pong.CurrentEpoch = g.currentEpoch.Load()
	data, err := pong.Encode()
	if err != nil {
		return
	}

	g.writeMessage(conn, data)
}

func (g *Gossip) handlePong(msg *Message) {
	g.nodesMu.Lock()
	if node, ok := g.nodes[msg.Sender]; ok {
		node.UpdatePong()
	}
	g.nodesMu.Unlock()

	if msg.NodeInfo != nil {
		g.processNodeInfo(msg.NodeInfo, "")
	}

	for _, info := range msg.GossipNodes {
		g.processNodeInfo(info, msg.Sender)
	}
}

func (g *Gossip) handleFail(msg *Message) {
	g.nodesMu.Lock()
	node, ok := g.nodes[msg.FailNodeID]
	g.nodesMu.Unlock()

	if !ok {
		return
	}
	if node.MarkFail() {
		log.Printf("Node %s marked as FAIL by %s", msg.FailNodeID, msg.Sender)
		if g.onNodeLeave != nil {
			go g.onNodeLeave(node)
		}
		if g.onNodeFail != nil {
			go g.onNodeFail(node)
		}
	}
}

// observeEpoch unilaterally bumps currentEpoch on seeing a higher epoch from
// any peer.
func (g *Gossip) observeEpoch(remote uint64) {
	for {
		cur := g.currentEpoch.Load()
		if remote <= cur {
			return
		}
		if g.currentEpoch.CompareAndSwap(cur, remote) {
			return
		}
	}
}

func (g *Gossip) isBlacklisted(id string) bool {
	g.blacklistMu.Lock()
	defer g.blacklistMu.Unlock()

	now := time.Now()
	for k, exp := range g.blacklist {
		if now.After(exp) {
			delete(g.blacklist, k)
		}
	}
	_, found := g.blacklist[id]
	return found
}

func (g *Gossip) Blacklist(id string) {
	g.blacklistMu.Lock()
	g.blacklist[id] = time.Now().Add(blacklistTTL)
	g.blacklistMu.Unlock()
}

// RemoveNode deletes a node from the local table (CLUSTER FORGET). Callers
// combine this with Blacklist so a stray gossip packet about the removed
// node doesn't immediately re-add it.
func (g *Gossip) RemoveNode(id string) bool {
	g.nodesMu.Lock()
	defer g.nodesMu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return false
	}
	delete(g.nodes, id)
	return true
}

// FailReportCount returns how many masters currently have an unexpired
// PFAIL/FAIL report on file for id (CLUSTER COUNT-FAILURE-REPORTS).
func (g *Gossip) FailReportCount(id string) int {
	node := g.GetNode(id)
	if node == nil {
		return 0
	}
	return node.CountFailReports(g.nodeTimeout * FailReportValidityMult)
}

// ResetNodes drops every known node except self, for CLUSTER RESET.
func (g *Gossip) ResetNodes() {
	g.nodesMu.Lock()
	defer g.nodesMu.Unlock()

	for id := range g.nodes {
		if id != g.self.ID {
			delete(g.nodes, id)
		}
	}
}

// processNodeInfo folds a gossiped NodeInfo into the local node table.
// reporterID is the bus peer that sent this entry (empty for the sender's
// own embedded NodeInfo); it drives the failure-report bookkeeping: a
// master's report of FAIL/PFAIL on a known node refreshes our failure
// report from that reporter, any other flags clear it.
func (g *Gossip) processNodeInfo(info *NodeInfo, reporterID string) {
	if reporterID == "" {
		g.maybeResolveEpochCollision(info)
	}

	g.nodesMu.Lock()
	node, exists := g.nodes[info.ID]
	if !exists {
		if g.isBlacklisted(info.ID) || info.Flags&NodeFlagNoAddr != 0 {
			g.nodesMu.Unlock()
			return
		}

		node = &GossipNode{
			ID:          info.ID,
			IP:          info.IP,
			Port:        info.Port,
			ClusterPort: info.ClusterPort,
			State:       NodeStateHandshake,
			FailReports: make(map[string]int64),
		}
		g.nodes[info.ID] = node
		g.nodesMu.Unlock()

		log.Printf("Discovered new node: %s (%s:%d)", info.ID[:8], info.IP, info.Port)

		if reporterID != "" {
			go g.handshake(node)
		}

		if g.onNodeJoin != nil {
			go g.onNodeJoin(node)
		}
	} else {
		g.nodesMu.Unlock()
	}

	node.mu.Lock()
	if info.Flags&NodeFlagMaster != 0 {
		node.Role = NodeRoleMaster
	} else if info.Flags&NodeFlagReplica != 0 {
		node.Role = NodeRoleReplica
		node.MasterID = info.MasterID
	}
	if info.ConfigEpoch > node.ConfigEpoch {
		node.ConfigEpoch = info.ConfigEpoch
	}
	isMaster := node.Role == NodeRoleMaster
	reportedDown := info.Flags&(NodeFlagFail|NodeFlagPFail) != 0
	node.mu.Unlock()

	if reporterID != "" {
		g.nodesMu.RLock()
		reporter, ok := g.nodes[reporterID]
		g.nodesMu.RUnlock()
		reporterIsMaster := ok && reporter.Role == NodeRoleMaster
		if reporterIsMaster {
			if reportedDown {
				node.AddFailReport(reporterID)
			} else {
				node.RemoveFailReport(reporterID)
			}
		}
	}

	if len(info.Slots) > 0 && isMaster {
		slots := BytesToSlots(info.Slots)
		for _, slot := range slots {
			ownerID := g.slots.GetSlotNode(slot)
			if ownerID == node.ID {
				continue
			}
			ownerEpoch := g.nodeConfigEpoch(ownerID)
			g.slots.UpdateSlotsConfigWith(slot, node.ID, info.ConfigEpoch, ownerEpoch)
			if newOwner := g.slots.GetSlotNode(slot); newOwner != ownerID && g.onSlotChange != nil {
				go g.onSlotChange(slot, newOwner)
			}
		}
	}
}

// nodeConfigEpoch returns the highest configEpoch we've recorded for id, or
// 0 if id is empty/unknown (treated as "no owner" by UpdateSlotsConfigWith).
func (g *Gossip) nodeConfigEpoch(id string) uint64 {
	if id == "" {
		return 0
	}
	if id == g.self.ID {
		return g.selfConfigEpoch.Load()
	}
	g.nodesMu.RLock()
	node, ok := g.nodes[id]
	g.nodesMu.RUnlock()
	if !ok {
		return 0
	}
	node.mu.RLock()
	defer node.mu.RUnlock()
	return node.ConfigEpoch
}

// maybeResolveEpochCollision applies the collision rule: on
// seeing another master's own gossiped identity claim the same configEpoch
// as ours, the lexicographically greater node id yields by unilaterally
// bumping its own configEpoch.
func (g *Gossip) maybeResolveEpochCollision(info *NodeInfo) {
	if info == nil || info.ID == g.self.ID || info.Flags&NodeFlagMaster == 0 {
		return
	}
	if g.self.Role != NodeRoleMaster {
		return
	}

	mine := g.selfConfigEpoch.Load()
	if info.ConfigEpoch != mine {
		return
	}
	if g.self.ID <= info.ID {
		return
	}

	newEpoch := g.IncrementEpoch()
	g.selfConfigEpoch.Store(newEpoch)
	log.Printf("configEpoch collision with %s at epoch %d, yielding to %d", info.ID[:8], mine, newEpoch)
	if g.onConfigEpochChange != nil {
		go g.onConfigEpochChange(newEpoch)
	}
}

func (g *Gossip) handshake(node *GossipNode) {
	if err := g.pingNode(node); err != nil {
		log.Printf("handshake with %s failed: %v", node.ID[:8], err)
	}
}

func (g *Gossip) pingLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(ClusterPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.pingOldestNode()
			g.pingStaleNodes()
		}
	}
}

// pingOldestNode implements "select five random nodes and ping the one with
// the oldest pong_received".
func (g *Gossip) pingOldestNode() {
	g.nodesMu.RLock()
	var candidates []*GossipNode
	for _, node := range g.nodes {
		if node.ID == g.self.ID {
			continue
		}
		candidates = append(candidates, node)
	}
	g.nodesMu.RUnlock()

	if len(candidates) == 0 {
		return
	}

	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}

	oldest := candidates[0]
	_, _, oldestPong, _, _, _ := oldest.snapshotState()
	for _, c := range candidates[1:] {
		_, _, pong, _, _, _ := c.snapshotState()
		if pong < oldestPong {
			oldest, oldestPong = c, pong
		}
	}

	go g.pingNode(oldest)
}

// pingStaleNodes implements "additionally, ping any node whose pong_received
// is older than half the node-timeout".
func (g *Gossip) pingStaleNodes() {
	g.nodesMu.RLock()
	var stale []*GossipNode
	now := time.Now().UnixMilli()
	halfTimeout := g.nodeTimeout.Milliseconds() / 2
	for _, node := range g.nodes {
		if node.ID == g.self.ID {
			continue
		}
		_, pingSent, pongRecv, _, _, _ := node.snapshotState()
		if now-pongRecv > halfTimeout && now-pingSent > ClusterPingInterval.Milliseconds() {
			stale = append(stale, node)
		}
	}
	g.nodesMu.RUnlock()

	for _, node := range stale {
		go g.pingNode(node)
	}
}

func (g *Gossip) pingNode(node *GossipNode) error {
	conn, err := net.DialTimeout("tcp", node.ClusterAddr(), 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	node.mu.Lock()
	node.PingSent = time.Now().UnixMilli()
	node.mu.Unlock()

	msg := NewPingMessage(g.self.ID, g.selfNodeInfo(), g.randomGossipNodes())
	msg.CurrentEpoch = g.currentEpoch.Load()
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	if err := g.writeMessage(conn, data); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	respData, err := g.readMessage(conn)
	if err != nil {
		return err
	}

	resp, err := Decode(respData)
	if err != nil {
		return err
	}

	g.observeEpoch(resp.CurrentEpoch)

	if resp.Type == MsgPong {
		g.handlePong(resp)
	}
	return nil
}

func (g *Gossip) failureDetectionLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.checkNodeFailures()
		}
	}
}

// checkNodeFailures runs the HEALTHY -> PFAIL -> FAIL -> HEALTHY state
// machine.
func (g *Gossip) checkNodeFailures() {
	timeout := g.nodeTimeout.Milliseconds()
	now := time.Now().UnixMilli()

	g.nodesMu.RLock()
	nodes := make([]*GossipNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		if node.ID != g.self.ID {
			nodes = append(nodes, node)
		}
	}
	g.nodesMu.RUnlock()

	for _, node := range nodes {
		state, _, pongRecv, failTime, _, isMaster := node.snapshotState()

		switch state {
		case NodeStateConnected:
			if now-pongRecv > timeout {
				node.MarkPFail()
				log.Printf("Node %s marked as PFAIL", node.ID[:8])
			}

		case NodeStatePFail:
			masterCount := g.countMasters()
			validity := time.Duration(timeout*FailReportValidityMult) * time.Millisecond
			failReports := node.CountFailReports(validity)
			if g.self.Role == NodeRoleMaster {
				failReports++
			}

			quorum := masterCount/2 + 1
			if failReports >= quorum {
				if node.MarkFail() {
					log.Printf("Node %s marked as FAIL (reports: %d/%d)", node.ID[:8], failReports, quorum)
					go g.broadcastFail(node.ID)
					if g.onNodeLeave != nil {
						go g.onNodeLeave(node)
					}
					if g.onNodeFail != nil {
						go g.onNodeFail(node)
					}
				}
			}

		case NodeStateFail:
			reachable := now-pongRecv < timeout
			hasSlots := isMaster && g.slots.CountAssignedTo(node.ID) > 0
			undoElapsed := failTime > 0 && now-failTime > timeout*FailUndoTimeMult

			if reachable && (!isMaster || !hasSlots || undoElapsed) {
				node.ClearFail()
				log.Printf("Node %s FAIL cleared", node.ID[:8])
				if g.onNodeJoin != nil {
					go g.onNodeJoin(node)
				}
			}
		}
	}
}

func (g *Gossip) broadcastFail(failNodeID string) {
	g.nodesMu.RLock()
	nodes := make([]*GossipNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		if node.ID != g.self.ID {
			state, _, _, _, _, _ := node.snapshotState()
			if state == NodeStateConnected {
				nodes = append(nodes, node)
			}
		}
	}
	g.nodesMu.RUnlock()

	msg := NewFailMessage(g.self.ID, failNodeID)
	msg.CurrentEpoch = g.currentEpoch.Load()
	data, _ := msg.Encode()

	for _, node := range nodes {
		go func(n *GossipNode) {
			conn, err := net.DialTimeout("tcp", n.ClusterAddr(), 2*time.Second)
			if err != nil {
				return
			}
			defer conn.Close()
			g.writeMessage(conn, data)
		}(node)
	}
}

// ConfigEpochOf exposes the highest configEpoch we've recorded for id
// (0 if unknown), used by the election voter check: a
// slot claimed by a candidate must have no owner, or an owner no newer than
// the candidate's own claimed configEpoch.
func (g *Gossip) ConfigEpochOf(id string) uint64 {
	return g.nodeConfigEpoch(id)
}

// SendPausedAck replies to a manual-failover MFSTART with this node's
// current replication offset, piggybacked on a PONG carrying the PAUSED
// flag. Uses selfNodeInfo so the reply carries
// this node's real identity rather than a blank one SendToNode could leave a
// receiver to misinterpret as a NodeInfo update.
func (g *Gossip) SendPausedAck(to *GossipNode, offset int64) error {
	msg := NewPongMessage(g.self.ID, g.selfNodeInfo(), nil)
	msg.CurrentEpoch = g.currentEpoch.Load()
	msg.MsgFlags |= MsgFlagPaused
	msg.Offset = offset
	return g.SendToNode(to, msg)
}

// SendToNode dials node directly and writes a single encoded message,
// fire-and-forget (the bus is connectionless at the protocol level: replies,
// if any, arrive as independent inbound connections). Used by the election
// and manual-failover components to unicast FAILOVER_AUTH_ACK and MFSTART.
func (g *Gossip) SendToNode(node *GossipNode, msg *Message) error {
	conn, err := net.DialTimeout("tcp", node.ClusterAddr(), 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return g.writeMessage(conn, data)
}

// BroadcastToMasters fans msg out to every known node currently holding the
// MASTER role, regardless of reachability state — used for
// FAILOVER_AUTH_REQUEST, which must reach every voter.
func (g *Gossip) BroadcastToMasters(msg *Message) {
	g.nodesMu.RLock()
	nodes := make([]*GossipNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		if node.ID == g.self.ID {
			continue
		}
		if _, _, _, _, _, isMaster := node.snapshotState(); isMaster {
			nodes = append(nodes, node)
		}
	}
	g.nodesMu.RUnlock()

	data, err := msg.Encode()
	if err != nil {
		return
	}
	for _, node := range nodes {
		go func(n *GossipNode) {
			conn, err := net.DialTimeout("tcp", n.ClusterAddr(), 2*time.Second)
			if err != nil {
				return
			}
			defer conn.Close()
			g.writeMessage(conn, data)
		}(node)
	}
}

// GetSelf returns a snapshot of this node's own gossip-visible identity.
func (g *Gossip) GetSelf() *GossipNode {
	return g.self.Clone()
}

// PromoteSelfToMaster flips this node's role to MASTER and clears its
// master-id, the terminal step of a won election or a
// takeover manual failover.
func (g *Gossip) PromoteSelfToMaster() {
	g.self.mu.Lock()
	g.self.Role = NodeRoleMaster
	g.self.MasterID = ""
	g.self.mu.Unlock()
}

// SetSelfReplicaOf flips this node's role to SLAVE of masterID.
func (g *Gossip) SetSelfReplicaOf(masterID string) {
	g.self.mu.Lock()
	g.self.Role = NodeRoleReplica
	g.self.MasterID = masterID
	g.self.mu.Unlock()
}

// ClusterSize reports the number of masters serving at least one slot,
// regardless of reachability (at least 1) — the denominator for both the FAIL quorum
// and the election-win quorum.
func (g *Gossip) ClusterSize() int {
	return g.countMasters()
}

// SetElectionHandler installs the callback invoked for inbound
// FAILOVER_AUTH_REQUEST, FAILOVER_AUTH_ACK, and MFSTART messages. The gossip
// engine only transports these; the election state machine lives in the
// owning cluster package.
func (g *Gossip) SetElectionHandler(handler func(msg *Message)) {
	g.onElectionMsg = handler
}

func (g *Gossip) selfNodeInfo() *NodeInfo {
	var flags uint16
	if g.self.Role == NodeRoleMaster {
		flags |= NodeFlagMaster
	} else {
		flags |= NodeFlagReplica
	}

	slots := g.slots.GetNodeSlots(g.self.ID)

	return &NodeInfo{
		ID:          g.self.ID,
		IP:          g.self.IP,
		Port:        g.self.Port,
		ClusterPort: g.self.ClusterPort,
		Flags:       flags,
		MasterID:    g.self.MasterID,
		ConfigEpoch: g.selfConfigEpoch.Load(),
		Slots:       SlotsToBytes(slots),
	}
}

// randomGossipNodes builds the gossip section of an outgoing PING/PONG:
// between 3 and floor(N/10) entries, capped at N-2, biased toward
// PFAIL/FAIL candidates for the first third of the sampling, excluding
// HANDSHAKE/NOADDR/disconnected-and-slotless candidates.
func (g *Gossip) randomGossipNodes() []*NodeInfo {
	g.nodesMu.RLock()
	var candidates []*GossipNode
	total := len(g.nodes)
	for _, node := range g.nodes {
		if node.ID == g.self.ID {
			continue
		}
		node.mu.RLock()
		state := node.State
		noAddr := node.NoAddr
		node.mu.RUnlock()

		excluded := state == NodeStateHandshake || noAddr ||
			(state != NodeStateConnected && state != NodeStatePFail && state != NodeStateFail &&
				g.slots.CountAssignedTo(node.ID) == 0)
		if !excluded {
			candidates = append(candidates, node)
		}
	}
	g.nodesMu.RUnlock()

	wanted := total / 10
	if wanted < 3 {
		wanted = 3
	}
	if capAt := total - 2; capAt >= 0 && wanted > capAt {
		wanted = capAt
	}
	if wanted > len(candidates) {
		wanted = len(candidates)
	}
	if wanted <= 0 {
		return nil
	}

	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

	var suspect, healthy []*GossipNode
	for _, c := range candidates {
		state, _, _, _, _, _ := c.snapshotState()
		if state == NodeStatePFail || state == NodeStateFail {
			suspect = append(suspect, c)
		} else {
			healthy = append(healthy, c)
		}
	}

	biasedSlots := wanted / 3
	var picked []*GossipNode
	for len(picked) < biasedSlots && len(suspect) > 0 {
		picked = append(picked, suspect[0])
		suspect = suspect[1:]
	}
	rest := append(suspect, healthy...)
	for len(picked) < wanted && len(rest) > 0 {
		picked = append(picked, rest[0])
		rest = rest[1:]
	}

	nodes := make([]*NodeInfo, 0, len(picked))
	for _, node := range picked {
		node.mu.RLock()
		var flags uint16
		if node.Role == NodeRoleMaster {
			flags |= NodeFlagMaster
		} else {
			flags |= NodeFlagReplica
		}
		if node.State == NodeStatePFail {
			flags |= NodeFlagPFail
		}
		if node.State == NodeStateFail {
			flags |= NodeFlagFail
		}
		if node.NoAddr {
			flags |= NodeFlagNoAddr
		}

		nodes = append(nodes, &NodeInfo{
			ID:          node.ID,
			IP:          node.IP,
			Port:        node.Port,
			ClusterPort: node.ClusterPort,
			Flags:       flags,
			MasterID:    node.MasterID,
			PingSent:    node.PingSent,
			PongRecv:    node.PongReceived,
		})
		node.mu.RUnlock()
	}

	return nodes
}

// countMasters is the cluster-wide "cluster_size": masters serving at least
// one slot, regardless of current reachability. This is the correct quorum
// denominator for both FAIL promotion and election wins (spec
// §4.8 step 5) — a shrinking-denominator count (reachable masters only)
// would undermine the safety property by making quorum easier to reach as
// more masters go down.
func (g *Gossip) countMasters() int {
	g.nodesMu.RLock()
	defer g.nodesMu.RUnlock()

	count := 0
	for _, node := range g.nodes {
		_, _, _, _, _, isMaster := node.snapshotState()
		if isMaster && g.slots.CountAssignedTo(node.ID) > 0 {
			count++
		}
	}
	if count == 0 {
		count = 1
	}
	return count
}

// HealthyMasterCount counts masters serving at least one slot that are
// currently reachable (CONNECTED, or self) — the numerator for the state
// evaluator's majority check.
func (g *Gossip) HealthyMasterCount() int {
	g.nodesMu.RLock()
	defer g.nodesMu.RUnlock()

	count := 0
	for _, node := range g.nodes {
		state, _, _, _, _, isMaster := node.snapshotState()
		healthy := state == NodeStateConnected || node.ID == g.self.ID
		if isMaster && healthy && g.slots.CountAssignedTo(node.ID) > 0 {
			count++
		}
	}
	return count
}

func (g *Gossip) GetNodes() []*GossipNode {
	g.nodesMu.RLock()
	defer g.nodesMu.RUnlock()

	nodes := make([]*GossipNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, node.Clone())
	}
	return nodes
}

func (g *Gossip) GetNode(id string) *GossipNode {
	g.nodesMu.RLock()
	defer g.nodesMu.RUnlock()

	if node, ok := g.nodes[id]; ok {
		return node.Clone()
	}
	return nil
}

func (g *Gossip) CurrentEpoch() uint64 {
	return g.currentEpoch.Load()
}

func (g *Gossip) SetCurrentEpoch(epoch uint64) {
	g.observeEpoch(epoch)
}

// IncrementEpoch performs the unilateral epoch bump used by CLUSTER SETSLOT
// and by election/failover: currentEpoch is incremented and the new value
// returned, atomically with respect to observeEpoch's CAS loop.
func (g *Gossip) IncrementEpoch() uint64 {
	return g.currentEpoch.Add(1)
}

// SelfID exposes the local node identity to sibling components (epoch/election).
func (g *Gossip) SelfID() string {
	return g.self.ID
}

// SelfConfigEpoch returns this node's own configEpoch, the version stamped
// on the slots it claims, distinct from the cluster-wide
// currentEpoch logical clock.
func (g *Gossip) SelfConfigEpoch() uint64 {
	return g.selfConfigEpoch.Load()
}

// SetSelfConfigEpoch sets this node's own configEpoch directly — used on
// startup restore and after winning an election or a manual-failover
// takeover.
func (g *Gossip) SetSelfConfigEpoch(epoch uint64) {
	g.selfConfigEpoch.Store(epoch)
}

// SetConfigEpochHandler installs the callback invoked whenever an epoch
// collision changes our own configEpoch out from under the
// caller, so it can keep its own cached copy (and persistence) in sync.
func (g *Gossip) SetConfigEpochHandler(handler func(epoch uint64)) {
	g.onConfigEpochChange = handler
}

func (g *Gossip) SetEventHandlers(onJoin, onLeave, onFail func(*GossipNode), onSlotChange func(uint16, string)) {
	g.onNodeJoin = onJoin
	g.onNodeLeave = onLeave
	g.onNodeFail = onFail
	g.onSlotChange = onSlotChange
}

func (g *Gossip) writeMessage(conn net.Conn, data []byte) error {
	length := uint32(len(data))
	buf := make([]byte, 4+len(data))
	buf[0] = byte(length >> 24)
	buf[1] = byte(length >> 16)
	buf[2] = byte(length >> 8)
	buf[3] = byte(length)
	copy(buf[4:], data)

	_, err := conn.Write(buf)
	return err
}

func (g *Gossip) readMessage(conn net.Conn) ([]byte, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lengthBuf); err != nil {
		return nil, err
	}

	length := uint32(lengthBuf[0])<<24 | uint32(lengthBuf[1])<<16 |
		uint32(lengthBuf[2])<<8 | uint32(lengthBuf[3])

	if length > 1024*1024 {
		return nil, fmt.Errorf("message too large: %d", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(conn, data); err != nil {
		return nil, err
	}

	return data, nil
}
