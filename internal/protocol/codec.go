package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/mowzhja/harpocrates/internal/fault"
)

// Encode serializes a Packet into a byte slice for stream transmission.
// Packets Decode would reject for their size are refused with Malformed.
//
// The wire does not tell a nil payload or MAC from an empty one; Decode
// returns nil for both.
func Encode(pkt *Packet) ([]byte, error) {
	if len(pkt.Payload) > MaxPayloadSize {
		return nil, fault.New(fault.Malformed,
			fmt.Sprintf("payload length %d exceeds %d", len(pkt.Payload), MaxPayloadSize))
	}
	if len(pkt.MAC) > MaxMACSize {
		return nil, fault.New(fault.Malformed,
			fmt.Sprintf("mac length %d exceeds %d", len(pkt.MAC), MaxMACSize))
	}
	buf := make([]byte, pkt.EncodedSize())
	n := putHeader(buf, pkt, len(pkt.MAC))
	copy(buf[n:], pkt.MAC)
	return buf, nil
}

// putHeader writes everything except the MAC bytes and returns the offset at
// which the MAC starts. macLen is written into the header as given.
func putHeader(buf []byte, pkt *Packet, macLen int) int {
	if pkt.Connected {
		buf[0] = FlagConnected
	}
	buf[1] = pkt.Kind
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(pkt.Payload)))
	binary.BigEndian.PutUint16(buf[6:8], uint16(macLen))
	copy(buf[HeaderSize:], pkt.Payload)
	off := HeaderSize + len(pkt.Payload)
	binary.BigEndian.PutUint32(buf[off:off+TimeoutSize], pkt.Timeout)
	return off + TimeoutSize
}

// Decode deserializes the first packet held in data. It returns the packet
// and the number of bytes it occupied, so the caller can keep any trailing
// bytes for the next call. Payload and MAC never alias data.
func Decode(data []byte) (*Packet, int, error) {
	if len(data) < HeaderSize {
		return nil, 0, fault.New(fault.Truncated,
			fmt.Sprintf("header needs %d bytes, have %d", HeaderSize, len(data)))
	}

	flags := data[0]
	if flags&flagReserved != 0 {
		return nil, 0, fault.New(fault.Malformed, fmt.Sprintf("reserved flag bits set: %#02x", flags))
	}

	payloadLen := binary.BigEndian.Uint32(data[2:6])
	if payloadLen > MaxPayloadSize {
		return nil, 0, fault.New(fault.Malformed,
			fmt.Sprintf("payload length %d exceeds %d", payloadLen, MaxPayloadSize))
	}
	macLen := int(binary.BigEndian.Uint16(data[6:8]))
	if macLen > MaxMACSize {
		return nil, 0, fault.New(fault.Malformed,
			fmt.Sprintf("mac length %d exceeds %d", macLen, MaxMACSize))
	}

	total := MinPacketSize + int(payloadLen) + macLen
	if len(data) < total {
		return nil, 0, fault.New(fault.Truncated,
			fmt.Sprintf("packet needs %d bytes, have %d", total, len(data)))
	}

	pkt := &Packet{
		Kind:      data[1],
		Connected: flags&FlagConnected != 0,
	}
	off := HeaderSize
	if payloadLen > 0 {
		pkt.Payload = make([]byte, payloadLen)
		copy(pkt.Payload, data[off:off+int(payloadLen)])
	}
	off += int(payloadLen)
	pkt.Timeout = binary.BigEndian.Uint32(data[off : off+TimeoutSize])
	off += TimeoutSize
	if macLen > 0 {
		pkt.MAC = make([]byte, macLen)
		copy(pkt.MAC, data[off:off+macLen])
	}

	return pkt, total, nil
}
