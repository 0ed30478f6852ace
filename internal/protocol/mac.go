package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Seal computes the packet MAC under key and stores it in pkt.MAC.
// The MAC covers every encoded byte except the tag itself, so flags, kind,
// lengths, payload and timeout are all authenticated.
func Seal(pkt *Packet, key []byte) {
	pkt.MAC = computeMAC(pkt, key)
}

// Verify reports whether pkt carries a valid MAC under key.
func Verify(pkt *Packet, key []byte) bool {
	if len(pkt.MAC) != MACSize || len(key) == 0 {
		return false
	}
	return hmac.Equal(pkt.MAC, computeMAC(pkt, key))
}

func computeMAC(pkt *Packet, key []byte) []byte {
	buf := make([]byte, MinPacketSize+len(pkt.Payload))
	putHeader(buf, pkt, MACSize)

	mac := hmac.New(sha256.New, key)
	mac.Write(buf)
	return mac.Sum(nil)
}
