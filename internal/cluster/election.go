package cluster

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/10yihang/autocache/internal/cluster/gossip"
)

const (
	// authDelayBase/authDelayJitter/authDelayPerRank build failover_auth_time
	//: now + 500ms + random(0..500ms) + rank * 1s.
	authDelayBase    = 500 * time.Millisecond
	authDelayJitter  = 500 * time.Millisecond
	authDelayPerRank = time.Second

	// coReplicaVoteWindowMult bounds how long a vote for a slave of a given
	// master stays "used" for the purposes of the one-vote-per-window rule
	//: node_timeout * 2.
	coReplicaVoteWindowMult = 2

	// manualFailoverTimeout is MF_TIMEOUT: how
	// long a master pauses client writes waiting for the requesting replica
	// to catch up and start its election.
	manualFailoverTimeout = 5 * time.Second
)

// authRequestTimeout is the AUTH_REQUEST retry window: max(node_timeout*2, 2s).
func authRequestTimeout(nodeTimeout time.Duration) time.Duration {
	if t := nodeTimeout * coReplicaVoteWindowMult; t > 2*time.Second {
		return t
	}
	return 2 * time.Second
}

// Election drives both sides of slot-master promotion: initiating a vote
// when this node is a replica of a FAILed master, and granting or refusing votes when this node is a master
// asked to weigh in on someone else's. It also carries the manual-failover
// handshake (MFSTART / PAUSED PONG) that lets an operator trigger the same
// machinery on demand instead of waiting for a real failure.
type Election struct {
	c *Cluster

	mu sync.Mutex

	// candidate-side: this node pursuing promotion after its master failed.
	authPending  bool
	authTime     time.Time // failover_auth_time — don't request votes before this
	authEpoch    uint64    // failover_auth_epoch, 0 until the first request is sent
	authDeadline time.Time // retry window for the current request
	forceAck     bool
	formerMaster string
	claimedSlots []uint16
	votes        map[string]bool

	// voter-side: this node granting votes to others' candidacies.
	lastVoteEpoch uint64
	votedFor      map[string]time.Time // masterID -> last time we voted for one of its slaves

	// manual failover, replica side.
	mfRequested    bool
	mfForce        bool
	mfMasterOffset int64
	mfCanStart     bool
}

func newElection(c *Cluster) *Election {
	return &Election{
		c:        c,
		votedFor: make(map[string]time.Time),
	}
}

// LastVoteEpoch returns the epoch this node last cast a vote in, for
// persistence.
func (e *Election) LastVoteEpoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastVoteEpoch
}

// SetLastVoteEpoch restores the vote epoch from a reloaded snapshot so a
// restart can't replay a vote already cast before the crash.
func (e *Election) SetLastVoteEpoch(epoch uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastVoteEpoch = epoch
}

// tick advances the election/manual-failover state machine; called once per
// tickLoop iteration (10Hz).
func (e *Election) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.maybeAbort()
	e.maybeScheduleElection()
	e.maybeRequestVotes()
}

// maybeAbort drops an in-flight candidacy if the master it was raised
// against has since recovered and this isn't a manual failover in progress.
func (e *Election) maybeAbort() {
	if !e.authPending {
		return
	}
	manual := e.mfRequested && e.mfCanStart
	if manual {
		return
	}
	master := e.c.gossip.GetNode(e.formerMaster)
	if master != nil && master.State != gossip.NodeStateFail {
		log.Printf("election: aborting candidacy, master %s recovered", e.formerMaster[:8])
		e.resetCandidacy()
	}
}

func (e *Election) resetCandidacy() {
	e.authPending = false
	e.authEpoch = 0
	e.votes = nil
	e.mfRequested = false
	e.mfCanStart = false
	e.mfForce = false
}

// maybeScheduleElection is the Delay step: a replica whose master is FAIL,
// or whose manual failover has caught up, arms a candidacy with a
// rank-weighted delay before it's allowed to request votes.
func (e *Election) maybeScheduleElection() {
	if e.authPending {
		return
	}

	self := e.c.GetSelf()
	if !self.IsReplica() || self.MasterID == "" {
		return
	}

	master := e.c.gossip.GetNode(self.MasterID)
	if master == nil {
		return
	}

	manual := e.mfRequested && e.mfCanStart
	if master.State != gossip.NodeStateFail && !manual {
		return
	}
	if e.c.slots.CountAssignedTo(master.ID) == 0 {
		return
	}

	delay := time.Duration(0)
	if !manual {
		rank := e.computeRank(master.ID)
		delay = authDelayBase + time.Duration(rand.Int63n(int64(authDelayJitter))) + time.Duration(rank)*authDelayPerRank
	}

	e.authPending = true
	e.authTime = time.Now().Add(delay)
	e.authEpoch = 0
	e.forceAck = manual
	e.formerMaster = master.ID
	e.claimedSlots = e.c.slots.GetNodeSlots(master.ID)
	e.votes = nil

	log.Printf("election: arming candidacy for master %s (delay=%s, force=%v)", master.ID[:8], delay, manual)
}

// computeRank counts co-replicas of the same master with a strictly greater
// replication offset than ours. Replication offset isn't exchanged over the
// gossip bus in this implementation, so every co-replica ties with us and
// rank is always 0 — a deliberate simplification (see DESIGN.md) that keeps
// the delay formula's shape intact without inventing a new wire field.
func (e *Election) computeRank(masterID string) int {
	return 0
}

// maybeRequestVotes is the Request step: once
// failover_auth_time has passed, bump currentEpoch, broadcast
// FAILOVER_AUTH_REQUEST, and retry with a fresh epoch if the request window
// expires without a majority.
func (e *Election) maybeRequestVotes() {
	if !e.authPending || time.Now().Before(e.authTime) {
		return
	}
	if e.authEpoch != 0 && time.Now().Before(e.authDeadline) {
		return
	}
	if e.authEpoch != 0 {
		log.Printf("election: vote request for epoch %d timed out, retrying", e.authEpoch)
	}

	e.authEpoch = e.c.gossip.IncrementEpoch()
	e.votes = map[string]bool{e.c.self.ID: true}
	e.authDeadline = time.Now().Add(authRequestTimeout(e.c.cfg.NodeTimeout))

	info := &gossip.NodeInfo{
		ID:          e.c.self.ID,
		ConfigEpoch: e.authEpoch,
		Slots:       gossip.SlotsToBytes(e.claimedSlots),
	}
	req := gossip.NewFailoverAuthRequestMessage(e.c.self.ID, info, e.forceAck)
	req.CurrentEpoch = e.authEpoch
	e.c.gossip.BroadcastToMasters(req)

	log.Printf("election: requesting votes for epoch %d (former master %s)", e.authEpoch, e.formerMaster[:8])
}

func (e *Election) hasMajority() bool {
	return len(e.votes) >= e.c.gossip.ClusterSize()/2+1
}

// winElection claims configEpoch, reclaims the former master's slots, and
// starts serving as MASTER.
func (e *Election) winElection() {
	epoch := e.authEpoch
	former := e.formerMaster
	e.resetCandidacy()

	log.Printf("election: won with epoch %d, promoting to master", epoch)
	e.c.promoteToMaster(former, epoch)
}

// handleMessage dispatches an inbound election-bus message. Installed as the
// gossip layer's election handler; it only forwards FAILOVER_AUTH_REQUEST,
// FAILOVER_AUTH_ACK, MFSTART, and PAUSED-flagged PONGs, so no other message
// type needs a case here.
func (e *Election) handleMessage(msg *gossip.Message) {
	switch msg.Type {
	case gossip.MsgFailoverAuthRequest:
		e.handleAuthRequest(msg)
	case gossip.MsgFailoverAuthAck:
		e.handleAuthAck(msg)
	case gossip.MsgMFStart:
		e.handleMFStart(msg)
	case gossip.MsgPong:
		if msg.MsgFlags&gossip.MsgFlagPaused != 0 {
			e.handlePausedPong(msg)
		}
	}
}

// handleAuthRequest is the voter side of the Grant rules.
func (e *Election) handleAuthRequest(msg *gossip.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	self := e.c.GetSelf()
	if !self.IsMaster() || e.c.slots.CountAssignedTo(self.ID) == 0 {
		return
	}

	// The bus layer already folded msg.CurrentEpoch into our own currentEpoch
	// before dispatch, so ours is at least the request's; a request whose
	// epoch is still below ours is stale and gets no vote.
	currentEpoch := e.c.gossip.CurrentEpoch()
	if msg.CurrentEpoch < currentEpoch {
		return
	}
	if e.lastVoteEpoch == currentEpoch {
		return
	}

	candidate := e.c.gossip.GetNode(msg.Sender)
	if candidate == nil || candidate.MasterID == "" {
		return
	}

	master := e.c.gossip.GetNode(candidate.MasterID)
	forceAck := msg.MsgFlags&gossip.MsgFlagForceAck != 0
	if master != nil && master.State != gossip.NodeStateFail && !forceAck {
		return
	}

	if last, ok := e.votedFor[candidate.MasterID]; ok {
		if time.Since(last) < e.c.cfg.NodeTimeout*coReplicaVoteWindowMult {
			return
		}
	}

	if msg.NodeInfo != nil {
		for _, slot := range gossip.BytesToSlots(msg.NodeInfo.Slots) {
			ownerID := e.c.slots.GetSlotNode(slot)
			if ownerID == "" || ownerID == candidate.MasterID {
				continue
			}
			if e.c.gossip.ConfigEpochOf(ownerID) > msg.ConfigEpoch {
				return
			}
		}
	}

	e.lastVoteEpoch = currentEpoch
	e.votedFor[candidate.MasterID] = time.Now()
	if e.c.stateManager != nil {
		e.c.stateManager.MarkDirty()
	}

	ack := gossip.NewFailoverAuthAckMessage(e.c.self.ID, &gossip.NodeInfo{
		ID:          e.c.self.ID,
		ConfigEpoch: e.c.gossip.SelfConfigEpoch(),
	})
	ack.CurrentEpoch = currentEpoch
	if err := e.c.gossip.SendToNode(candidate, ack); err != nil {
		log.Printf("election: failed to send AUTH_ACK to %s: %v", candidate.ID[:8], err)
		return
	}
	log.Printf("election: granted vote to %s for epoch %d", candidate.ID[:8], currentEpoch)
}

// handleAuthAck is the candidate side of the Grant/Win steps: count grants
// toward (cluster_size/2)+1 and win once reached.
func (e *Election) handleAuthAck(msg *gossip.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.authPending || e.authEpoch == 0 || msg.CurrentEpoch != e.authEpoch {
		return
	}
	if e.votes == nil {
		e.votes = make(map[string]bool)
	}
	e.votes[msg.Sender] = true

	log.Printf("election: AUTH_ACK from %s (%d/%d)", msg.Sender[:8], len(e.votes), e.c.gossip.ClusterSize()/2+1)

	if e.hasMajority() {
		e.winElection()
	}
}

// handleMFStart is the master side of manual failover: a replica asked to
// take over, so pause client writes and echo our replication offset back so
// the replica knows when it's caught up.
func (e *Election) handleMFStart(msg *gossip.Message) {
	self := e.c.GetSelf()
	if !self.IsMaster() {
		return
	}

	e.c.dataCollaborator().PauseClients(manualFailoverTimeout)

	sender := e.c.gossip.GetNode(msg.Sender)
	if sender == nil {
		return
	}
	offset := e.c.dataCollaborator().ReplicationOffset()
	if err := e.c.gossip.SendPausedAck(sender, offset); err != nil {
		log.Printf("election: failed to ack MFSTART from %s: %v", msg.Sender[:8], err)
	}
}

// handlePausedPong is the replica side of manual failover: our master has
// paused and told us its offset, so mf_can_start flips once we've replicated
// up to it.
func (e *Election) handlePausedPong(msg *gossip.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	self := e.c.GetSelf()
	if !self.IsReplica() || self.MasterID != msg.Sender || !e.mfRequested {
		return
	}

	e.mfMasterOffset = msg.Offset
	if e.c.dataCollaborator().ReplicationOffset() >= e.mfMasterOffset {
		e.mfCanStart = true
		log.Printf("election: caught up to master offset %d, ready for manual failover", e.mfMasterOffset)
	}
}

// RequestManualFailover starts the manual-failover handshake for a replica
//. force skips waiting to catch up with the
// master's offset; takeover skips voting entirely and unilaterally bumps the
// epoch, going straight to promotion.
func (e *Election) RequestManualFailover(force, takeover bool) error {
	e.mu.Lock()

	self := e.c.GetSelf()
	if !self.IsReplica() || self.MasterID == "" {
		e.mu.Unlock()
		return fmt.Errorf("not a replica")
	}
	master := e.c.gossip.GetNode(self.MasterID)
	if master == nil {
		e.mu.Unlock()
		return fmt.Errorf("master %s not known", self.MasterID)
	}

	if takeover {
		e.mu.Unlock()
		epoch := e.c.gossip.IncrementEpoch()
		e.c.promoteToMaster(master.ID, epoch)
		return nil
	}

	e.mfRequested = true
	e.mfForce = force
	e.mfCanStart = force
	e.mfMasterOffset = 0
	e.mu.Unlock()

	req := gossip.NewMFStartMessage(e.c.self.ID, &gossip.NodeInfo{ID: e.c.self.ID})
	req.CurrentEpoch = e.c.gossip.CurrentEpoch()
	return e.c.gossip.SendToNode(master, req)
}
