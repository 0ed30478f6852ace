// Package protocol defines the packet format exchanged between two peers and
// the codec that frames it on a byte stream.
//
// Wire layout (all integers big-endian):
//
//	offset  size  field
//	0       1     flags          bit 0 = connection-oriented, bits 1..7 reserved
//	1       1     kind
//	2       4     payload length
//	6       2     MAC length
//	8       n     payload
//	8+n     4     timeout (milliseconds)
//	12+n    m     MAC
package protocol

// Packet kind constants.
const (
	KindKeyExchange uint8 = 0x01 // ephemeral public key
	KindAuthRequest uint8 = 0x02 // initiator identity
	KindChallenge   uint8 = 0x03 // responder nonce + credential parameters
	KindResponse    uint8 = 0x04 // initiator proof for the outstanding nonce
	KindAuthResult  uint8 = 0x05 // accept / reject (+ server signature)
	KindData        uint8 = 0x06 // application payload
	KindClose       uint8 = 0x07 // orderly shutdown
)

// Flag bits.
const (
	FlagConnected uint8 = 0x01
	flagReserved  uint8 = ^FlagConnected
)

// Layout sizes and limits.
const (
	HeaderSize     = 8                // Flags(1) + Kind(1) + PayloadLen(4) + MACLen(2)
	TimeoutSize    = 4                // trailing timeout field
	MACSize        = 32               // HMAC-SHA256
	MaxMACSize     = 64               // largest MAC accepted on decode
	MaxPayloadSize = 1 << 20          // 1 MiB
	MinPacketSize  = HeaderSize + TimeoutSize
)

// Packet is the unit of wire transfer.
type Packet struct {
	Kind      uint8
	Connected bool   // connection-oriented (session-bound) vs connectionless framing
	Timeout   uint32 // peer-requested response budget in milliseconds; advisory
	Payload   []byte
	MAC       []byte // empty until a session key exists
}

// KindName returns a printable name for a packet kind.
func KindName(kind uint8) string {
	switch kind {
	case KindKeyExchange:
		return "key-exchange"
	case KindAuthRequest:
		return "auth-request"
	case KindChallenge:
		return "challenge"
	case KindResponse:
		return "response"
	case KindAuthResult:
		return "auth-result"
	case KindData:
		return "data"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// EncodedSize returns the number of bytes Encode produces for pkt.
func (p *Packet) EncodedSize() int {
	return MinPacketSize + len(p.Payload) + len(p.MAC)
}
