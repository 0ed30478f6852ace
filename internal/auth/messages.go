package auth

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/mowzhja/harpocrates/internal/fault"
)

// Limits on challenge parameters an initiator is willing to honour.
const (
	MinSaltSize = 8
	MaxSaltSize = 64
	MaxTime     = 16
	MaxMemory   = 1 << 20 // KiB, i.e. 1 GiB
	MaxThreads  = 64

	challengeFixedSize = NonceSize + 4 + 4 + 1 + 1
	responseSize       = NonceSize + ProofSize
	resultFixedSize    = 2
)

// Challenge is sent by the responder: a fresh nonce and the parameters the
// initiator needs to stretch its password.
type Challenge struct {
	Nonce  [NonceSize]byte
	Params Params
}

// Response answers the challenge carrying Nonce.
type Response struct {
	Nonce [NonceSize]byte
	Proof [ProofSize]byte
}

// Result tells the initiator how its response was judged.
type Result struct {
	Accepted  bool
	Remaining uint8  // attempts left after a rejection
	Signature []byte // server signature, only on acceptance
}

// ValidateIdentity checks an identity hint before it is looked up or sent.
func ValidateIdentity(identity string) error {
	if len(identity) == 0 || len(identity) > MaxIdentitySize {
		return fault.New(fault.Malformed, fmt.Sprintf("identity must be 1..%d bytes", MaxIdentitySize))
	}
	if !utf8.ValidString(identity) {
		return fault.New(fault.Malformed, "identity is not valid UTF-8")
	}
	return nil
}

// Validate checks that the parameters are within what an initiator accepts.
func (p Params) Validate() error {
	switch {
	case len(p.Salt) < MinSaltSize || len(p.Salt) > MaxSaltSize:
		return fault.New(fault.Malformed, fmt.Sprintf("salt must be %d..%d bytes", MinSaltSize, MaxSaltSize))
	case p.Time == 0 || p.Time > MaxTime:
		return fault.New(fault.Malformed, fmt.Sprintf("argon2 time %d out of range", p.Time))
	case p.Memory == 0 || p.Memory > MaxMemory:
		return fault.New(fault.Malformed, fmt.Sprintf("argon2 memory %d KiB out of range", p.Memory))
	case p.Threads == 0 || p.Threads > MaxThreads:
		return fault.New(fault.Malformed, fmt.Sprintf("argon2 threads %d out of range", p.Threads))
	}
	return nil
}

// Marshal encodes the challenge:
// nonce(16) | time(4) | memory(4) | threads(1) | saltLen(1) | salt.
func (c *Challenge) Marshal() []byte {
	buf := make([]byte, challengeFixedSize+len(c.Params.Salt))
	copy(buf[:NonceSize], c.Nonce[:])
	off := NonceSize
	binary.BigEndian.PutUint32(buf[off:off+4], c.Params.Time)
	binary.BigEndian.PutUint32(buf[off+4:off+8], c.Params.Memory)
	buf[off+8] = c.Params.Threads
	buf[off+9] = byte(len(c.Params.Salt))
	copy(buf[challengeFixedSize:], c.Params.Salt)
	return buf
}

// ParseChallenge decodes and validates a challenge payload.
func ParseChallenge(b []byte) (*Challenge, error) {
	if len(b) < challengeFixedSize {
		return nil, fault.New(fault.Malformed, "challenge too short")
	}
	c := &Challenge{}
	copy(c.Nonce[:], b[:NonceSize])
	off := NonceSize
	c.Params.Time = binary.BigEndian.Uint32(b[off : off+4])
	c.Params.Memory = binary.BigEndian.Uint32(b[off+4 : off+8])
	c.Params.Threads = b[off+8]
	saltLen := int(b[off+9])
	if len(b) != challengeFixedSize+saltLen {
		return nil, fault.New(fault.Malformed, "challenge salt length mismatch")
	}
	c.Params.Salt = append([]byte(nil), b[challengeFixedSize:]...)
	if err := c.Params.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Marshal encodes the response: nonce(16) | proof(32).
func (r *Response) Marshal() []byte {
	buf := make([]byte, responseSize)
	copy(buf[:NonceSize], r.Nonce[:])
	copy(buf[NonceSize:], r.Proof[:])
	return buf
}

// ParseResponse decodes a response payload.
func ParseResponse(b []byte) (*Response, error) {
	if len(b) != responseSize {
		return nil, fault.New(fault.Malformed, fmt.Sprintf("response must be %d bytes", responseSize))
	}
	r := &Response{}
	copy(r.Nonce[:], b[:NonceSize])
	copy(r.Proof[:], b[NonceSize:])
	return r, nil
}

// Marshal encodes the result: status(1) | remaining(1) | signature.
func (r *Result) Marshal() []byte {
	buf := make([]byte, resultFixedSize+len(r.Signature))
	if r.Accepted {
		buf[0] = 1
	}
	buf[1] = r.Remaining
	copy(buf[resultFixedSize:], r.Signature)
	return buf
}

// ParseResult decodes a result payload.
func ParseResult(b []byte) (*Result, error) {
	if len(b) < resultFixedSize {
		return nil, fault.New(fault.Malformed, "result too short")
	}
	r := &Result{Remaining: b[1]}
	switch b[0] {
	case 0:
	case 1:
		r.Accepted = true
	default:
		return nil, fault.New(fault.Malformed, fmt.Sprintf("unknown result status %d", b[0]))
	}
	sig := b[resultFixedSize:]
	if len(sig) != 0 && len(sig) != ProofSize {
		return nil, fault.New(fault.Malformed, "server signature has the wrong size")
	}
	if !r.Accepted && len(sig) != 0 {
		return nil, fault.New(fault.Malformed, "rejection carries a signature")
	}
	if len(sig) > 0 {
		r.Signature = append([]byte(nil), sig...)
	}
	return r, nil
}
