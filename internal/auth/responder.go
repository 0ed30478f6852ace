package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/mowzhja/harpocrates/internal/fault"
)

// DefaultMaxAttempts bounds consecutive failed responses per session.
const DefaultMaxAttempts = 3

// Verifier is the credential capability the responder consumes. It must be
// safe for concurrent use by many sessions.
type Verifier interface {
	// Params returns the stretching parameters for identity. Stores should
	// answer unknown identities with plausible decoy parameters.
	Params(identity string) (Params, error)
	// VerifyChallengeResponse reports whether proof answers authMessage for identity.
	VerifyChallengeResponse(identity string, authMessage, proof []byte) bool
}

// Signer is optionally implemented by a Verifier that can prove the
// responder's own knowledge of the credential back to the initiator.
type Signer interface {
	ServerSignature(identity string, authMessage, proof []byte) ([]byte, error)
}

// Responder runs the verifying side of the handshake for one session.
type Responder struct {
	verifier    Verifier
	sessionKey  []byte
	maxAttempts int
	rand        io.Reader

	identity    string
	outstanding *[NonceSize]byte
	failures    int
}

// NewResponder creates a responder bound to sessionKey. maxAttempts <= 0
// selects DefaultMaxAttempts.
func NewResponder(v Verifier, sessionKey []byte, maxAttempts int) *Responder {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Responder{
		verifier:    v,
		sessionKey:  append([]byte(nil), sessionKey...),
		maxAttempts: maxAttempts,
		rand:        rand.Reader,
	}
}

// Identity returns the identity hint the initiator presented.
func (r *Responder) Identity() string { return r.identity }

// Exhausted reports whether the failure budget is spent.
func (r *Responder) Exhausted() bool { return r.failures >= r.maxAttempts }

// Begin records the initiator's identity and issues the first challenge.
func (r *Responder) Begin(identity string) (*Challenge, error) {
	if r.identity != "" {
		return nil, fault.New(fault.ProtocolViolation, "identity already presented")
	}
	if err := ValidateIdentity(identity); err != nil {
		return nil, err
	}
	r.identity = identity
	return r.issue()
}

func (r *Responder) issue() (*Challenge, error) {
	params, err := r.verifier.Params(r.identity)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "credential parameters", err)
	}
	c := &Challenge{Params: params}
	if _, err := io.ReadFull(r.rand, c.Nonce[:]); err != nil {
		return nil, fault.Wrap(fault.Internal, "read challenge nonce", err)
	}
	nonce := c.Nonce
	r.outstanding = &nonce
	return c, nil
}

// Verify judges a response. On success it returns an accepting Result.
// On failure it returns a rejecting Result together with a ChallengeMismatch
// error, plus a fresh Challenge when attempts remain; next is nil once the
// budget is exhausted, and every later call fails even with a correct proof.
func (r *Responder) Verify(resp *Response) (res *Result, next *Challenge, err error) {
	if r.identity == "" {
		return nil, nil, fault.New(fault.ProtocolViolation, "response before identity")
	}
	if r.Exhausted() {
		return &Result{}, nil, fault.New(fault.ChallengeMismatch, "attempts exhausted")
	}

	outstanding := r.outstanding
	r.outstanding = nil

	var reason string
	switch {
	case outstanding == nil:
		reason = "no challenge outstanding"
	case subtle.ConstantTimeCompare(outstanding[:], resp.Nonce[:]) != 1:
		reason = "stale or unknown nonce"
	default:
		am := AuthMessage(r.sessionKey, resp.Nonce[:])
		if r.verifier.VerifyChallengeResponse(r.identity, am, resp.Proof[:]) {
			r.failures = 0
			res := &Result{Accepted: true}
			if s, ok := r.verifier.(Signer); ok {
				sig, err := s.ServerSignature(r.identity, am, resp.Proof[:])
				if err != nil {
					return nil, nil, fault.Wrap(fault.Internal, "server signature", err)
				}
				res.Signature = sig
			}
			return res, nil, nil
		}
		reason = "proof does not verify"
	}

	r.failures++
	remaining := r.maxAttempts - r.failures
	mismatch := fault.New(fault.ChallengeMismatch,
		fmt.Sprintf("%s (%d attempts left)", reason, remaining))
	if remaining <= 0 {
		return &Result{}, nil, mismatch
	}

	next, err = r.issue()
	if err != nil {
		return nil, nil, err
	}
	return &Result{Remaining: uint8(min(remaining, 255))}, next, mismatch
}

// Close wipes the responder's copy of the session key.
func (r *Responder) Close() {
	clear(r.sessionKey)
	r.outstanding = nil
}
