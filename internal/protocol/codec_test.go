package protocol

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/mowzhja/harpocrates/internal/fault"
)

func samplePackets() []struct {
	name string
	pkt  *Packet
} {
	return []struct {
		name string
		pkt  *Packet
	}{
		{
			name: "KindKeyExchange without MAC",
			pkt: &Packet{
				Kind:      KindKeyExchange,
				Connected: true,
				Timeout:   5000,
				Payload:   bytes.Repeat([]byte{0xAB}, 32),
			},
		},
		{
			name: "KindData with MAC",
			pkt: &Packet{
				Kind:      KindData,
				Connected: true,
				Timeout:   1,
				Payload:   []byte("hello world"),
				MAC:       bytes.Repeat([]byte{0x42}, MACSize),
			},
		},
		{
			name: "connectionless with no payload",
			pkt: &Packet{
				Kind:    KindData,
				Timeout: 0xFFFFFFFF,
			},
		},
		{
			name: "KindClose with empty payload and MAC",
			pkt: &Packet{
				Kind:      KindClose,
				Connected: true,
				MAC:       bytes.Repeat([]byte{0x01}, MACSize),
			},
		},
		{
			name: "large payload (64KB)",
			pkt: &Packet{
				Kind:      KindData,
				Connected: true,
				Payload:   make([]byte, 64*1024),
				MAC:       make([]byte, MACSize),
			},
		},
	}
}

func mustEncode(t *testing.T, pkt *Packet) []byte {
	t.Helper()
	b, err := Encode(pkt)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return b
}

func assertSamePacket(t *testing.T, got, want *Packet) {
	t.Helper()
	if got.Kind != want.Kind {
		t.Errorf("Kind mismatch: got %d, want %d", got.Kind, want.Kind)
	}
	if got.Connected != want.Connected {
		t.Errorf("Connected mismatch: got %v, want %v", got.Connected, want.Connected)
	}
	if got.Timeout != want.Timeout {
		t.Errorf("Timeout mismatch: got %d, want %d", got.Timeout, want.Timeout)
	}
	if !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("Payload mismatch: got %d bytes, want %d bytes", len(got.Payload), len(want.Payload))
	}
	if !bytes.Equal(got.MAC, want.MAC) {
		t.Errorf("MAC mismatch: got %x, want %x", got.MAC, want.MAC)
	}
}

// TestEncodeDecodeRoundTrip verifies that encoding and decoding are inverse operations.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, tc := range samplePackets() {
		t.Run(tc.name, func(t *testing.T) {
			encoded := mustEncode(t, tc.pkt)
			if len(encoded) != tc.pkt.EncodedSize() {
				t.Fatalf("encoded size %d, EncodedSize() %d", len(encoded), tc.pkt.EncodedSize())
			}

			decoded, n, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if n != len(encoded) {
				t.Errorf("consumed %d bytes, want %d", n, len(encoded))
			}
			assertSamePacket(t, decoded, tc.pkt)
		})
	}
}

// TestDecodeStrictPrefixIsTruncated checks every strict prefix of a valid
// encoding: each must fail with Truncated and yield no packet.
func TestDecodeStrictPrefixIsTruncated(t *testing.T) {
	for _, tc := range samplePackets() {
		if len(tc.pkt.Payload) > 1024 {
			continue
		}
		t.Run(tc.name, func(t *testing.T) {
			encoded := mustEncode(t, tc.pkt)
			for i := 0; i < len(encoded); i++ {
				pkt, n, err := Decode(encoded[:i])
				if !fault.Is(err, fault.Truncated) {
					t.Fatalf("prefix %d/%d: expected Truncated, got %v", i, len(encoded), err)
				}
				if pkt != nil || n != 0 {
					t.Fatalf("prefix %d/%d: partial result returned", i, len(encoded))
				}
			}
		})
	}
}

// TestDecodeMalformed verifies the length and flag checks.
func TestDecodeMalformed(t *testing.T) {
	valid := mustEncode(t, &Packet{Kind: KindData, Connected: true, Payload: []byte("x")})

	testCases := []struct {
		name   string
		mutate func([]byte)
	}{
		{"reserved flag bit", func(b []byte) { b[0] |= 0x80 }},
		{"payload length over limit", func(b []byte) { b[2] = 0xFF }},
		{"mac length over limit", func(b []byte) { b[6], b[7] = 0x00, MaxMACSize + 1 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := append([]byte(nil), valid...)
			tc.mutate(data)
			_, _, err := Decode(data)
			if !fault.Is(err, fault.Malformed) {
				t.Fatalf("expected Malformed, got %v", err)
			}
		})
	}
}

// TestDecodeLeavesTrailingBytes verifies that two packets sharing one buffer
// are decoded one at a time.
func TestDecodeLeavesTrailingBytes(t *testing.T) {
	first := &Packet{Kind: KindData, Connected: true, Payload: []byte("first")}
	second := &Packet{Kind: KindClose, Connected: true, Timeout: 9}
	buf := append(mustEncode(t, first), mustEncode(t, second)...)

	got1, n1, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode first failed: %v", err)
	}
	assertSamePacket(t, got1, first)

	got2, n2, err := Decode(buf[n1:])
	if err != nil {
		t.Fatalf("Decode second failed: %v", err)
	}
	assertSamePacket(t, got2, second)

	if n1+n2 != len(buf) {
		t.Errorf("consumed %d bytes of %d", n1+n2, len(buf))
	}
}

// TestDecodePreservesPayload verifies that the payload is copied, not aliased.
func TestDecodePreservesPayload(t *testing.T) {
	encoded := mustEncode(t, &Packet{Kind: KindData, Payload: []byte("original")})
	decoded, _, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	encoded[HeaderSize] = 0xFF

	if !bytes.Equal(decoded.Payload, []byte("original")) {
		t.Errorf("Payload was incorrectly aliased: got %v", decoded.Payload)
	}
}

// TestEncodeLargePayload verifies payloads up to the limit.
func TestEncodeLargePayload(t *testing.T) {
	sizes := []int{1024, 16 * 1024, 256 * 1024, MaxPayloadSize}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i % 256)
			}

			decoded, _, err := Decode(mustEncode(t, &Packet{Kind: KindData, Payload: payload}))
			if err != nil {
				t.Fatalf("Decode failed for size %d: %v", size, err)
			}
			if !bytes.Equal(decoded.Payload, payload) {
				t.Errorf("Payload mismatch for size %d", size)
			}
		})
	}
}

// TestEncodeWritesMAC checks the tag lands in the trailing bytes of the
// encoding and survives a decode.
func TestEncodeWritesMAC(t *testing.T) {
	pkt := &Packet{Kind: KindData, Connected: true, Timeout: 2000, Payload: []byte("ping")}
	Seal(pkt, bytes.Repeat([]byte{0x11}, 32))

	encoded := mustEncode(t, pkt)
	if tail := encoded[len(encoded)-MACSize:]; !bytes.Equal(tail, pkt.MAC) {
		t.Fatalf("trailing bytes %x, want MAC %x", tail, pkt.MAC)
	}

	decoded, _, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded.MAC, pkt.MAC) {
		t.Fatalf("decoded MAC %x, want %x", decoded.MAC, pkt.MAC)
	}
}

// TestEncodeRejectsOversize verifies Encode refuses what Decode would.
func TestEncodeRejectsOversize(t *testing.T) {
	testCases := []struct {
		name string
		pkt  *Packet
	}{
		{"payload over limit", &Packet{Kind: KindData, Payload: make([]byte, MaxPayloadSize+1)}},
		{"mac over limit", &Packet{Kind: KindData, MAC: make([]byte, MaxMACSize+1)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode(tc.pkt)
			if !fault.Is(err, fault.Malformed) {
				t.Fatalf("expected Malformed, got %v", err)
			}
			if b != nil {
				t.Fatal("bytes returned with the error")
			}
		})
	}
}

// TestDecodeEmptyPayloadIsNil pins the one lossy corner of the round trip:
// an empty payload comes back nil.
func TestDecodeEmptyPayloadIsNil(t *testing.T) {
	decoded, _, err := Decode(mustEncode(t, &Packet{Kind: KindData, Connected: true, Payload: []byte{}}))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Payload != nil {
		t.Fatalf("got %#v, want nil", decoded.Payload)
	}
}
