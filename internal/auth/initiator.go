package auth

import (
	"crypto/hmac"
	"fmt"

	"github.com/mowzhja/harpocrates/internal/fault"
)

// PasswordFunc supplies the password for the given attempt (1-based). The
// returned slice is wiped after use.
type PasswordFunc func(attempt int) ([]byte, error)

// StaticPassword returns a PasswordFunc that always yields a copy of password.
func StaticPassword(password []byte) PasswordFunc {
	return func(int) ([]byte, error) {
		return append([]byte(nil), password...), nil
	}
}

// Initiator runs the proving side of the handshake for one session.
type Initiator struct {
	identity     string
	password     PasswordFunc
	sessionKey   []byte
	requireProof bool

	attempt     int
	authMessage []byte
	proof       []byte
	serverKey   []byte
}

// NewInitiator creates an initiator bound to sessionKey. When requireProof is
// set, an acceptance without a valid server signature fails.
func NewInitiator(identity string, password PasswordFunc, sessionKey []byte, requireProof bool) (*Initiator, error) {
	if err := ValidateIdentity(identity); err != nil {
		return nil, err
	}
	if password == nil {
		return nil, fault.New(fault.Internal, "no password source")
	}
	return &Initiator{
		identity:     identity,
		password:     password,
		sessionKey:   append([]byte(nil), sessionKey...),
		requireProof: requireProof,
	}, nil
}

// Request returns the identity payload that opens the handshake.
func (i *Initiator) Request() []byte {
	return []byte(i.identity)
}

// Attempt returns the number of responses produced so far.
func (i *Initiator) Attempt() int { return i.attempt }

// Respond computes the proof for a challenge.
func (i *Initiator) Respond(c *Challenge) (*Response, error) {
	if err := c.Params.Validate(); err != nil {
		return nil, err
	}
	i.attempt++
	password, err := i.password(i.attempt)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "read password", err)
	}
	defer clear(password)

	salted := SaltedPassword(password, c.Params)
	defer clear(salted)
	clientKey := ClientKey(salted)
	defer clear(clientKey)

	i.wipePending()
	i.authMessage = AuthMessage(i.sessionKey, c.Nonce[:])
	i.proof = ClientProof(clientKey, i.authMessage)
	i.serverKey = ServerKey(salted)

	resp := &Response{Nonce: c.Nonce}
	copy(resp.Proof[:], i.proof)
	return resp, nil
}

// Finish checks an accepting Result. A present signature must verify; an
// absent one is an error only when a server proof is required.
func (i *Initiator) Finish(res *Result) error {
	defer i.wipePending()
	if !res.Accepted {
		return fault.New(fault.AuthenticationFailed, fmt.Sprintf("rejected (%d attempts left)", res.Remaining))
	}
	if i.proof == nil {
		return fault.New(fault.ProtocolViolation, "result without a response")
	}
	if len(res.Signature) == 0 {
		if i.requireProof {
			return fault.New(fault.AuthenticationFailed, "responder did not prove the credential")
		}
		return nil
	}
	expected := ServerSignature(i.serverKey, i.authMessage, i.proof)
	if !hmac.Equal(expected, res.Signature) {
		return fault.New(fault.AuthenticationFailed, "server signature does not verify")
	}
	return nil
}

func (i *Initiator) wipePending() {
	clear(i.proof)
	clear(i.serverKey)
	clear(i.authMessage)
	i.proof, i.serverKey, i.authMessage = nil, nil, nil
}

// Close wipes all key material held by the initiator.
func (i *Initiator) Close() {
	i.wipePending()
	clear(i.sessionKey)
}
