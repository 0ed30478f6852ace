// Package kex implements the ephemeral X25519 key agreement and the HKDF
// derivation of session keys. It performs no I/O: callers hand it the bytes
// they received and send the bytes it returns.
package kex

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/mowzhja/harpocrates/internal/fault"
)

const (
	PublicKeySize  = curve25519.PointSize
	SharedKeySize  = 32
	SessionKeySize = 32

	sessionInfo      = "harpocrates session key"
	initiatorMACInfo = "harpocrates mac initiator->responder"
	responderMACInfo = "harpocrates mac responder->initiator"
)

// ErrKeyConsumed is returned when a key pair is used for a second derivation.
var ErrKeyConsumed = fault.New(fault.Internal, "ephemeral key already used")

// KeyPair is a single-use ephemeral X25519 key pair.
type KeyPair struct {
	scalar [curve25519.ScalarSize]byte
	public [PublicKeySize]byte
	used   bool
}

// Generate creates a fresh ephemeral key pair from crypto/rand.
func Generate() (*KeyPair, error) {
	return generate(rand.Reader)
}

func generate(r io.Reader) (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := io.ReadFull(r, kp.scalar[:]); err != nil {
		return nil, fault.Wrap(fault.Internal, "read ephemeral scalar", err)
	}
	pub, err := curve25519.X25519(kp.scalar[:], curve25519.Basepoint)
	if err != nil {
		kp.Wipe()
		return nil, fault.Wrap(fault.Internal, "compute public key", err)
	}
	copy(kp.public[:], pub)
	return kp, nil
}

// Public returns a copy of the public key bytes.
func (kp *KeyPair) Public() []byte {
	out := make([]byte, PublicKeySize)
	copy(out, kp.public[:])
	return out
}

// Derive performs the Diffie-Hellman computation with the peer's public key.
// The private scalar is wiped afterwards whether or not the derivation
// succeeds, so a KeyPair serves exactly one Derive call.
func (kp *KeyPair) Derive(peerPublic []byte) (*Secret, error) {
	if kp.used {
		return nil, ErrKeyConsumed
	}
	defer kp.Wipe()

	if len(peerPublic) != PublicKeySize {
		return nil, fault.New(fault.InvalidPublicKey, "peer public key must be 32 bytes")
	}
	shared, err := curve25519.X25519(kp.scalar[:], peerPublic)
	if err != nil {
		// low-order point: the output would be all zeros
		return nil, fault.Wrap(fault.InvalidPublicKey, "peer public key rejected", err)
	}

	s := &Secret{}
	copy(s.b[:], shared)
	clear(shared)
	return s, nil
}

// Wipe zeroes the private scalar and marks the key pair as used.
func (kp *KeyPair) Wipe() {
	clear(kp.scalar[:])
	kp.used = true
}

// Secret holds raw Diffie-Hellman output. It must never be used as a key
// directly; pass it through SessionKeys.
type Secret struct {
	b [SharedKeySize]byte
}

// Bytes exposes the shared secret. The slice aliases the Secret and is
// zeroed by Wipe.
func (s *Secret) Bytes() []byte { return s.b[:] }

// Wipe zeroes the shared secret.
func (s *Secret) Wipe() { clear(s.b[:]) }

// Keys is the key material derived for one session.
type Keys struct {
	Session      [SessionKeySize]byte // binds the authentication proof
	InitiatorMAC [SessionKeySize]byte // MACs packets sent by the initiator
	ResponderMAC [SessionKeySize]byte // MACs packets sent by the responder
}

// Wipe zeroes all derived keys.
func (k *Keys) Wipe() {
	clear(k.Session[:])
	clear(k.InitiatorMAC[:])
	clear(k.ResponderMAC[:])
}

// Transcript returns the HKDF salt for a session: the initiator's public key
// followed by the responder's.
func Transcript(initiatorPub, responderPub []byte) []byte {
	t := make([]byte, 0, len(initiatorPub)+len(responderPub))
	t = append(t, initiatorPub...)
	return append(t, responderPub...)
}

// SessionKeys derives the session key and the two directional MAC keys from
// the shared secret using HKDF-SHA256, salted with the handshake transcript.
func SessionKeys(shared *Secret, transcript []byte) (*Keys, error) {
	k := &Keys{}
	labels := []struct {
		info string
		out  []byte
	}{
		{sessionInfo, k.Session[:]},
		{initiatorMACInfo, k.InitiatorMAC[:]},
		{responderMACInfo, k.ResponderMAC[:]},
	}
	for _, l := range labels {
		r := hkdf.New(sha256.New, shared.b[:], transcript, []byte(l.info))
		if _, err := io.ReadFull(r, l.out); err != nil {
			k.Wipe()
			return nil, fault.Wrap(fault.Internal, "hkdf derive "+l.info, err)
		}
	}
	return k, nil
}
