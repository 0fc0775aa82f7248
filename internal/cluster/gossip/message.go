package gossip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log"
)

type MessageType uint8

const (
	MsgPing MessageType = iota
	MsgPong
	MsgMeet
	MsgFail
	MsgPublish
	MsgFailoverAuthRequest
	MsgFailoverAuthAck
	MsgMFStart
	MsgUpdate
)

func (t MessageType) String() string {
	switch t {
	case MsgPing:
		return "PING"
	case MsgPong:
		return "PONG"
	case MsgMeet:
		return "MEET"
	case MsgFail:
		return "FAIL"
	case MsgPublish:
		return "PUBLISH"
	case MsgFailoverAuthRequest:
		return "FAILOVER_AUTH_REQUEST"
	case MsgFailoverAuthAck:
		return "FAILOVER_AUTH_ACK"
	case MsgMFStart:
		return "MFSTART"
	case MsgUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

type Message struct {
	Type         MessageType
	Sender       string
	CurrentEpoch uint64
	ConfigEpoch  uint64
	NodeInfo     *NodeInfo
	GossipNodes  []*NodeInfo
	FailNodeID   string
	Data         []byte

	// ClusterState and MsgFlags round-trip the header bytes that don't have
	// a dedicated Go field elsewhere on Message; 0 is a valid "unknown/ok" value.
	ClusterState byte
	MsgFlags     byte
	Offset       int64
}

type NodeInfo struct {
	ID          string
	IP          string
	Port        int
	ClusterPort int
	Flags       uint16
	MasterID    string
	PingSent    int64
	PongRecv    int64
	ConfigEpoch uint64
	Slots       []byte
}

const (
	NodeFlagMaster    uint16 = 1 << 0
	NodeFlagReplica   uint16 = 1 << 1
	NodeFlagPFail     uint16 = 1 << 2
	NodeFlagFail      uint16 = 1 << 3
	NodeFlagHandshake uint16 = 1 << 4
	NodeFlagNoAddr    uint16 = 1 << 5
	NodeFlagMeet      uint16 = 1 << 6
)

var ErrInvalidMessage = errors.New("invalid message")

// Wire layout (RCmb bus protocol). All multi-byte integers are big-endian.
//
// signature   [4]byte  "RCmb"
// version     uint8
// totlen      uint32   total encoded size, header included
// count       uint16   number of gossip entries (PING/PONG/MEET only)
// msgtype     uint8
// sender      [idLen]byte   hex node id, zero-padded
// senderIP    [ipFieldLen]byte   sender's own address, zero-padded
// slots       [slotsBitmapLen]byte   sender's own slot bitmap
// master      [idLen]byte   sender's master id, zero if none (or a master itself)
// port        uint16
// cport       uint16
// flags       uint16
// state       uint8
// msgflags    uint8
// currentEpoch uint64
// configEpoch uint64
// offset      int64
// ... discriminated payload, see encodePayload/decodePayload.
const (
	rcmbSignature  = "RCmb"
	rcmbVersion    = 1
	idLen          = 40
	slotsBitmapLen = 16384 / 8
	ipFieldLen     = 46 // fits a max-length IPv6 text representation
	gossipEntryLen = idLen + ipFieldLen + 2 + 2 + 2 + idLen + 8 + 8 + 8
	headerFixedLen = 4 + 1 + 4 + 2 + 1 + idLen + ipFieldLen + slotsBitmapLen + idLen + 2 + 2 + 2 + 1 + 1 + 8 + 8 + 8
)

func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getFixedString(src []byte) string {
	i := bytes.IndexByte(src, 0)
	if i < 0 {
		return string(src)
	}
	return string(src[:i])
}

func (m *Message) Encode() ([]byte, error) {
	payload, count, err := m.encodePayload()
	if err != nil {
		return nil, err
	}

	totlen := headerFixedLen + len(payload)
	buf := make([]byte, totlen)

	copy(buf[0:4], rcmbSignature)
	buf[4] = rcmbVersion
	binary.BigEndian.PutUint32(buf[5:9], uint32(totlen))
	binary.BigEndian.PutUint16(buf[9:11], count)
	buf[11] = byte(m.Type)

	off := 12
	putFixedString(buf[off:off+idLen], m.Sender)
	off += idLen

	var slots []byte
	var port, cport, flags uint16
	var master, senderIP string
	if m.NodeInfo != nil {
		slots = m.NodeInfo.Slots
		port = uint16(m.NodeInfo.Port)
		cport = uint16(m.NodeInfo.ClusterPort)
		flags = m.NodeInfo.Flags
		master = m.NodeInfo.MasterID
		senderIP = m.NodeInfo.IP
	}

	putFixedString(buf[off:off+ipFieldLen], senderIP)
	off += ipFieldLen

	if len(slots) > slotsBitmapLen {
		slots = slots[:slotsBitmapLen]
	}
	copy(buf[off:off+slotsBitmapLen], slots)
	off += slotsBitmapLen

	putFixedString(buf[off:off+idLen], master)
	off += idLen

	binary.BigEndian.PutUint16(buf[off:off+2], port)
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], cport)
	off += 2
	binary.BigEndian.PutUint16(buf[off:off+2], flags)
	off += 2

	buf[off] = m.ClusterState
	off++
	buf[off] = m.MsgFlags
	off++

	binary.BigEndian.PutUint64(buf[off:off+8], m.CurrentEpoch)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], m.ConfigEpoch)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], uint64(m.Offset))
	off += 8

	copy(buf[off:], payload)

	return buf, nil
}

func (m *Message) encodePayload() ([]byte, uint16, error) {
	switch m.Type {
	case MsgPing, MsgPong, MsgMeet:
		buf := make([]byte, len(m.GossipNodes)*gossipEntryLen)
		for i, n := range m.GossipNodes {
			encodeGossipEntry(buf[i*gossipEntryLen:(i+1)*gossipEntryLen], n)
		}
		return buf, uint16(len(m.GossipNodes)), nil
	case MsgFail:
		buf := make([]byte, idLen)
		putFixedString(buf, m.FailNodeID)
		return buf, 0, nil
	case MsgPublish, MsgUpdate:
		buf := make([]byte, 4+len(m.Data))
		binary.BigEndian.PutUint32(buf[0:4], uint32(len(m.Data)))
		copy(buf[4:], m.Data)
		return buf, 0, nil
	case MsgFailoverAuthRequest, MsgFailoverAuthAck, MsgMFStart:
		return nil, 0, nil
	default:
		return nil, 0, ErrInvalidMessage
	}
}

func encodeGossipEntry(dst []byte, n *NodeInfo) {
	off := 0
	putFixedString(dst[off:off+idLen], n.ID)
	off += idLen
	putFixedString(dst[off:off+ipFieldLen], n.IP)
	off += ipFieldLen
	binary.BigEndian.PutUint16(dst[off:off+2], uint16(n.Port))
	off += 2
	binary.BigEndian.PutUint16(dst[off:off+2], uint16(n.ClusterPort))
	off += 2
	binary.BigEndian.PutUint16(dst[off:off+2], n.Flags)
	off += 2
	putFixedString(dst[off:off+idLen], n.MasterID)
	off += idLen
	binary.BigEndian.PutUint64(dst[off:off+8], uint64(n.PingSent))
	off += 8
	binary.BigEndian.PutUint64(dst[off:off+8], uint64(n.PongRecv))
	off += 8
	binary.BigEndian.PutUint64(dst[off:off+8], n.ConfigEpoch)
}

func decodeGossipEntry(src []byte) *NodeInfo {
	off := 0
	id := getFixedString(src[off : off+idLen])
	off += idLen
	ip := getFixedString(src[off : off+ipFieldLen])
	off += ipFieldLen
	port := binary.BigEndian.Uint16(src[off : off+2])
	off += 2
	clusterPort := binary.BigEndian.Uint16(src[off : off+2])
	off += 2
	flags := binary.BigEndian.Uint16(src[off : off+2])
	off += 2
	masterID := getFixedString(src[off : off+idLen])
	off += idLen
	pingSent := int64(binary.BigEndian.Uint64(src[off : off+8]))
	off += 8
	pongRecv := int64(binary.BigEndian.Uint64(src[off : off+8]))
	off += 8
	configEpoch := binary.BigEndian.Uint64(src[off : off+8])

	return &NodeInfo{
		ID:          id,
		IP:          ip,
		Port:        int(port),
		ClusterPort: int(clusterPort),
		Flags:       flags,
		MasterID:    masterID,
		PingSent:    pingSent,
		PongRecv:    pongRecv,
		ConfigEpoch: configEpoch,
	}
}

// Decode parses a raw RCmb bus message. Any framing or length mismatch drops
// the packet by returning ErrInvalidMessage rather than panicking — a peer on
// a stale or corrupt wire format must never take down the reader goroutine.
func Decode(data []byte) (*Message, error) {
	if len(data) < headerFixedLen {
		log.Printf("gossip: short message (%d bytes, want at least %d)", len(data), headerFixedLen)
		return nil, ErrInvalidMessage
	}

	if string(data[0:4]) != rcmbSignature {
		log.Printf("gossip: bad signature %q", data[0:4])
		return nil, ErrInvalidMessage
	}
	if data[4] != rcmbVersion {
		log.Printf("gossip: unsupported protocol version %d", data[4])
		return nil, ErrInvalidMessage
	}

	totlen := binary.BigEndian.Uint32(data[5:9])
	if int(totlen) != len(data) {
		log.Printf("gossip: totlen mismatch: header says %d, got %d bytes", totlen, len(data))
		return nil, ErrInvalidMessage
	}

	count := binary.BigEndian.Uint16(data[9:11])
	msgType := MessageType(data[11])

	off := 12
	sender := getFixedString(data[off : off+idLen])
	off += idLen

	senderIP := getFixedString(data[off : off+ipFieldLen])
	off += ipFieldLen

	slots := make([]byte, slotsBitmapLen)
	copy(slots, data[off:off+slotsBitmapLen])
	off += slotsBitmapLen

	master := getFixedString(data[off : off+idLen])
	off += idLen

	port := binary.BigEndian.Uint16(data[off : off+2])
	off += 2
	cport := binary.BigEndian.Uint16(data[off : off+2])
	off += 2
	flags := binary.BigEndian.Uint16(data[off : off+2])
	off += 2

	state := data[off]
	off++
	msgFlags := data[off]
	off++

	currentEpoch := binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	configEpoch := binary.BigEndian.Uint64(data[off : off+8])
	off += 8
	offset := int64(binary.BigEndian.Uint64(data[off : off+8]))
	off += 8

	payload := data[off:]

	m := &Message{
		Type:         msgType,
		Sender:       sender,
		CurrentEpoch: currentEpoch,
		ConfigEpoch:  configEpoch,
		ClusterState: state,
		MsgFlags:     msgFlags,
		Offset:       offset,
	}

	if hasOwnNodeInfo(msgType) {
		m.NodeInfo = &NodeInfo{
			ID:          sender,
			IP:          senderIP,
			Port:        int(port),
			ClusterPort: int(cport),
			Flags:       flags,
			MasterID:    master,
			ConfigEpoch: configEpoch,
			Slots:       slots,
		}
	}

	switch msgType {
	case MsgPing, MsgPong, MsgMeet:
		want := int(count) * gossipEntryLen
		if len(payload) != want {
			log.Printf("gossip: gossip payload size mismatch for %s: want %d, got %d", msgType, want, len(payload))
			return nil, ErrInvalidMessage
		}
		nodes := make([]*NodeInfo, count)
		for i := 0; i < int(count); i++ {
			nodes[i] = decodeGossipEntry(payload[i*gossipEntryLen : (i+1)*gossipEntryLen])
		}
		m.GossipNodes = nodes
	case MsgFail:
		if len(payload) != idLen {
			log.Printf("gossip: FAIL payload size mismatch: want %d, got %d", idLen, len(payload))
			return nil, ErrInvalidMessage
		}
		m.FailNodeID = getFixedString(payload)
	case MsgPublish, MsgUpdate:
		if len(payload) < 4 {
			log.Printf("gossip: %s payload too short for length prefix", msgType)
			return nil, ErrInvalidMessage
		}
		dataLen := binary.BigEndian.Uint32(payload[0:4])
		if int(dataLen) != len(payload)-4 {
			log.Printf("gossip: %s data length mismatch: want %d, got %d", msgType, dataLen, len(payload)-4)
			return nil, ErrInvalidMessage
		}
		m.Data = append([]byte(nil), payload[4:]...)
	case MsgFailoverAuthRequest, MsgFailoverAuthAck, MsgMFStart:
		if len(payload) != 0 {
			log.Printf("gossip: %s carries unexpected payload (%d bytes)", msgType, len(payload))
			return nil, ErrInvalidMessage
		}
	default:
		log.Printf("gossip: unknown message type %d", msgType)
		return nil, ErrInvalidMessage
	}

	return m, nil
}

// hasOwnNodeInfo reports whether a decoded message should populate NodeInfo
// from the header's own-identity fields. True for the gossip messages and for
// the election messages, which reuse the header's slot bitmap to carry the
// candidate's claimed slots instead of a dedicated payload.
func hasOwnNodeInfo(t MessageType) bool {
	switch t {
	case MsgPing, MsgPong, MsgMeet, MsgFailoverAuthRequest, MsgFailoverAuthAck, MsgMFStart:
		return true
	default:
		return false
	}
}

func NewPingMessage(senderID string, nodeInfo *NodeInfo, gossipNodes []*NodeInfo) *Message {
	return msgWithNodeInfo(MsgPing, senderID, nodeInfo, gossipNodes)
}

func NewPongMessage(senderID string, nodeInfo *NodeInfo, gossipNodes []*NodeInfo) *Message {
	return msgWithNodeInfo(MsgPong, senderID, nodeInfo, gossipNodes)
}

func NewMeetMessage(senderID string, nodeInfo *NodeInfo) *Message {
	return msgWithNodeInfo(MsgMeet, senderID, nodeInfo, nil)
}

func msgWithNodeInfo(t MessageType, senderID string, nodeInfo *NodeInfo, gossipNodes []*NodeInfo) *Message {
	m := &Message{
		Type:        t,
		Sender:      senderID,
		NodeInfo:    nodeInfo,
		GossipNodes: gossipNodes,
	}
	if nodeInfo != nil {
		m.ConfigEpoch = nodeInfo.ConfigEpoch
	}
	return m
}

func NewFailMessage(senderID string, failNodeID string) *Message {
	return &Message{
		Type:       MsgFail,
		Sender:     senderID,
		FailNodeID: failNodeID,
	}
}

// Message flag bits (the MsgFlags header byte).
const (
	MsgFlagPaused   byte = 1 << 0
	MsgFlagForceAck byte = 1 << 1
)

// NewFailoverAuthRequestMessage is a candidate's broadcast soliciting votes
//. nodeInfo.Slots carries the candidate's claimed slot
// bitmap (its former master's slots); nodeInfo.ConfigEpoch is echoed into
// m.ConfigEpoch so voters can compare it against their own slot owners.
func NewFailoverAuthRequestMessage(senderID string, nodeInfo *NodeInfo, forceAck bool) *Message {
	m := msgWithNodeInfo(MsgFailoverAuthRequest, senderID, nodeInfo, nil)
	if forceAck {
		m.MsgFlags |= MsgFlagForceAck
	}
	return m
}

// NewFailoverAuthAckMessage is a voter's grant.
func NewFailoverAuthAckMessage(senderID string, nodeInfo *NodeInfo) *Message {
	return msgWithNodeInfo(MsgFailoverAuthAck, senderID, nodeInfo, nil)
}

// NewMFStartMessage is a slave's request that its master pause client writes
// ahead of a manual failover.
func NewMFStartMessage(senderID string, nodeInfo *NodeInfo) *Message {
	return msgWithNodeInfo(MsgMFStart, senderID, nodeInfo, nil)
}

func SlotsToBytes(slots []uint16) []byte {
	bitmap := make([]byte, 16384/8)
	for _, slot := range slots {
		bitmap[slot/8] |= 1 << (slot % 8)
	}
	return bitmap
}

func BytesToSlots(bitmap []byte) []uint16 {
	var slots []uint16
	for i := 0; i < len(bitmap)*8 && i < 16384; i++ {
		if bitmap[i/8]&(1<<(i%8)) != 0 {
			slots = append(slots, uint16(i))
		}
	}
	return slots
}
