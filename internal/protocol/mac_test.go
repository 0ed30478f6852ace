package protocol

import (
	"bytes"
	"testing"
)

var testKey = bytes.Repeat([]byte{0x5A}, 32)

func sealedDataPacket() *Packet {
	pkt := &Packet{
		Kind:      KindData,
		Connected: true,
		Timeout:   3000,
		Payload:   []byte("ping over an authenticated stream"),
	}
	Seal(pkt, testKey)
	return pkt
}

func TestSealThenVerify(t *testing.T) {
	pkt := sealedDataPacket()
	if len(pkt.MAC) != MACSize {
		t.Fatalf("MAC length %d, want %d", len(pkt.MAC), MACSize)
	}
	if !Verify(pkt, testKey) {
		t.Fatal("freshly sealed packet does not verify")
	}

	// Verification must survive the wire.
	decoded, _, err := Decode(mustEncode(t, pkt))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !Verify(decoded, testKey) {
		t.Fatal("decoded packet does not verify")
	}
}

func TestVerifyWrongKey(t *testing.T) {
	pkt := sealedDataPacket()
	other := bytes.Repeat([]byte{0xA5}, 32)
	if Verify(pkt, other) {
		t.Fatal("packet verified under the wrong key")
	}
	if Verify(pkt, nil) {
		t.Fatal("packet verified under an empty key")
	}
}

func TestVerifyMissingMAC(t *testing.T) {
	pkt := &Packet{Kind: KindData, Connected: true, Payload: []byte("no tag")}
	if Verify(pkt, testKey) {
		t.Fatal("packet without MAC verified")
	}
}

// TestSingleBitFlipsFailVerification flips every bit of the encoded payload
// and MAC regions, one at a time.
func TestSingleBitFlipsFailVerification(t *testing.T) {
	encoded := mustEncode(t, sealedDataPacket())
	payloadStart := HeaderSize
	payloadEnd := payloadStart + len(sealedDataPacket().Payload)
	macStart := payloadEnd + TimeoutSize

	regions := []struct {
		name       string
		start, end int
	}{
		{"header", 0, HeaderSize},
		{"payload", payloadStart, payloadEnd},
		{"timeout", payloadEnd, macStart},
		{"mac", macStart, len(encoded)},
	}

	for _, r := range regions {
		t.Run(r.name, func(t *testing.T) {
			for i := r.start; i < r.end; i++ {
				for bit := 0; bit < 8; bit++ {
					mutated := append([]byte(nil), encoded...)
					mutated[i] ^= 1 << bit

					pkt, _, err := Decode(mutated)
					if err != nil {
						// A flipped length or flag bit that no longer decodes
						// is rejected before verification.
						continue
					}
					if Verify(pkt, testKey) {
						t.Fatalf("byte %d bit %d flipped but packet still verifies", i, bit)
					}
				}
			}
		})
	}
}
