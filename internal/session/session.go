// Package session sequences key exchange, authentication and authenticated
// messaging for one connection. It is a pure state machine: Handle takes a
// decoded packet and returns the packets to send back. All I/O belongs to
// the caller.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/mowzhja/harpocrates/internal/auth"
	"github.com/mowzhja/harpocrates/internal/fault"
	"github.com/mowzhja/harpocrates/internal/kex"
	"github.com/mowzhja/harpocrates/internal/protocol"
)

// Role selects which side of the handshake a session plays.
type Role uint8

const (
	Initiator Role = iota // dials, sends its key first, proves a credential
	Responder             // accepts, issues challenges, verifies
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// State is a node of the session state machine.
type State uint8

const (
	StateNew State = iota
	StateKeyExchanged
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateKeyExchanged:
		return "key-exchanged"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Config carries per-session policy and the credential side of each role.
type Config struct {
	// ResponseTimeout is advertised in every outbound packet.
	ResponseTimeout time.Duration

	// Initiator side.
	Identity           string
	Password           auth.PasswordFunc
	RequireServerProof bool

	// Responder side.
	Verifier    auth.Verifier
	MaxAttempts int
}

// Output is what Handle produces for one inbound packet.
type Output struct {
	Replies []*protocol.Packet // to be encoded and written in order
	Message []byte             // application payload of a data packet, non-nil when one arrived
}

// Session holds the negotiated state of one connection. It is not safe for
// concurrent use; the connection driver owns it exclusively.
type Session struct {
	role    Role
	cfg     Config
	state   State
	started bool
	timeout uint32

	kp          *kex.KeyPair
	localPublic []byte
	peerPublic  []byte
	keys        *kex.Keys
	sendKey     []byte
	recvKey     []byte

	initiator   *auth.Initiator
	responder   *auth.Responder
	awaitResult bool
	identity    string
	peerTimeout time.Duration
	closeCause  error
}

// New creates a session and its single-use ephemeral key pair.
func New(role Role, cfg Config) (*Session, error) {
	switch role {
	case Initiator:
		if err := auth.ValidateIdentity(cfg.Identity); err != nil {
			return nil, fmt.Errorf("initiator identity: %w", err)
		}
		if cfg.Password == nil {
			return nil, errors.New("initiator needs a password source")
		}
	case Responder:
		if cfg.Verifier == nil {
			return nil, errors.New("responder needs a credential verifier")
		}
	default:
		return nil, fmt.Errorf("unknown role %d", role)
	}

	kp, err := kex.Generate()
	if err != nil {
		return nil, err
	}
	return &Session{
		role:        role,
		cfg:         cfg,
		state:       StateNew,
		timeout:     uint32(cfg.ResponseTimeout.Milliseconds()),
		kp:          kp,
		localPublic: kp.Public(),
	}, nil
}

func (s *Session) Role() Role   { return s.role }
func (s *Session) State() State { return s.state }

// Identity returns the authenticated initiator identity once the session has
// reached StateAuthenticated, on both sides.
func (s *Session) Identity() string {
	if s.state == StateAuthenticated || s.state == StateActive {
		return s.identity
	}
	return ""
}

// PeerTimeout returns the response budget the peer last advertised.
func (s *Session) PeerTimeout() time.Duration { return s.peerTimeout }

// Err returns the error that closed the session, or nil after a clean close.
func (s *Session) Err() error { return s.closeCause }

// Start emits the initiator's key-exchange packet.
func (s *Session) Start() ([]*protocol.Packet, error) {
	if s.state == StateClosed {
		return nil, fault.New(fault.SessionClosed, "start")
	}
	if s.role != Initiator {
		return nil, fault.New(fault.ProtocolViolation, "only the initiator starts a session")
	}
	if s.started {
		return nil, fault.New(fault.ProtocolViolation, "session already started")
	}
	s.started = true
	return []*protocol.Packet{s.packet(protocol.KindKeyExchange, s.localPublic)}, nil
}

// Handle processes one inbound packet. Packets must be handed over in the
// order they were received.
//
// A non-nil error with the session still open is recoverable (a rejected
// authentication attempt); any replies must still be sent. Once State()
// reports StateClosed the error is terminal.
func (s *Session) Handle(pkt *protocol.Packet) (*Output, error) {
	if s.state == StateClosed {
		return nil, fault.New(fault.SessionClosed, "handle "+protocol.KindName(pkt.Kind))
	}
	if !pkt.Connected {
		return nil, s.fail(fault.New(fault.ProtocolViolation, "connectionless packet on a session"))
	}
	if !s.expects(pkt.Kind) {
		return nil, s.fail(fault.New(fault.ProtocolViolation,
			fmt.Sprintf("unexpected %s in state %s", protocol.KindName(pkt.Kind), s.state)))
	}
	if s.state != StateNew && !protocol.Verify(pkt, s.recvKey) {
		return nil, s.fail(fault.New(fault.IntegrityViolation, protocol.KindName(pkt.Kind)+" MAC does not verify"))
	}
	s.peerTimeout = time.Duration(pkt.Timeout) * time.Millisecond

	switch pkt.Kind {
	case protocol.KindKeyExchange:
		return s.handleKeyExchange(pkt.Payload)
	case protocol.KindAuthRequest:
		return s.handleAuthRequest(pkt.Payload)
	case protocol.KindChallenge:
		return s.handleChallenge(pkt.Payload)
	case protocol.KindResponse:
		return s.handleResponse(pkt.Payload)
	case protocol.KindAuthResult:
		return s.handleAuthResult(pkt.Payload)
	case protocol.KindData:
		if s.state == StateAuthenticated {
			s.state = StateActive
		}
		msg := pkt.Payload
		if msg == nil {
			// empty data messages are delivered too
			msg = []byte{}
		}
		return &Output{Message: msg}, nil
	case protocol.KindClose:
		s.Close()
		return &Output{}, nil
	}
	return nil, s.fail(fault.New(fault.Internal, "unhandled packet kind"))
}

// expects reports whether kind is legal for the current state and role.
func (s *Session) expects(kind uint8) bool {
	switch s.state {
	case StateNew:
		return kind == protocol.KindKeyExchange && (s.role == Responder || s.started)
	case StateKeyExchanged:
		if kind == protocol.KindClose {
			return true
		}
		if s.role == Responder {
			return kind == protocol.KindAuthRequest || kind == protocol.KindResponse
		}
		return kind == protocol.KindChallenge || kind == protocol.KindAuthResult
	case StateAuthenticated, StateActive:
		return kind == protocol.KindData || kind == protocol.KindClose
	}
	return false
}

func (s *Session) handleKeyExchange(peerPublic []byte) (*Output, error) {
	secret, err := s.kp.Derive(peerPublic)
	if err != nil {
		return nil, s.fail(err)
	}
	defer secret.Wipe()

	s.peerPublic = append([]byte(nil), peerPublic...)
	var transcript []byte
	if s.role == Initiator {
		transcript = kex.Transcript(s.localPublic, s.peerPublic)
	} else {
		transcript = kex.Transcript(s.peerPublic, s.localPublic)
	}
	keys, err := kex.SessionKeys(secret, transcript)
	if err != nil {
		return nil, s.fail(err)
	}
	s.keys = keys
	if s.role == Initiator {
		s.sendKey, s.recvKey = keys.InitiatorMAC[:], keys.ResponderMAC[:]
	} else {
		s.sendKey, s.recvKey = keys.ResponderMAC[:], keys.InitiatorMAC[:]
	}
	s.state = StateKeyExchanged

	if s.role == Responder {
		s.responder = auth.NewResponder(s.cfg.Verifier, keys.Session[:], s.cfg.MaxAttempts)
		// The responder's public key goes out unsealed; the initiator cannot
		// verify anything before it has derived the keys itself.
		reply := &protocol.Packet{
			Kind:      protocol.KindKeyExchange,
			Connected: true,
			Timeout:   s.timeout,
			Payload:   s.localPublic,
		}
		return &Output{Replies: []*protocol.Packet{reply}}, nil
	}

	s.initiator, err = auth.NewInitiator(s.cfg.Identity, s.cfg.Password, keys.Session[:], s.cfg.RequireServerProof)
	if err != nil {
		return nil, s.fail(err)
	}
	return s.reply(s.packet(protocol.KindAuthRequest, s.initiator.Request())), nil
}

func (s *Session) handleAuthRequest(payload []byte) (*Output, error) {
	ch, err := s.responder.Begin(string(payload))
	if err != nil {
		return nil, s.fail(err)
	}
	return s.reply(s.packet(protocol.KindChallenge, ch.Marshal())), nil
}

func (s *Session) handleResponse(payload []byte) (*Output, error) {
	resp, err := auth.ParseResponse(payload)
	if err != nil {
		return nil, s.fail(err)
	}
	res, next, verr := s.responder.Verify(resp)
	if verr != nil && !fault.Is(verr, fault.ChallengeMismatch) {
		return nil, s.fail(verr)
	}

	out := s.reply(s.packet(protocol.KindAuthResult, res.Marshal()))
	switch {
	case res.Accepted:
		s.identity = s.responder.Identity()
		s.state = StateAuthenticated
		s.responder.Close()
		return out, nil
	case next != nil:
		out.Replies = append(out.Replies, s.packet(protocol.KindChallenge, next.Marshal()))
		return out, verr
	default:
		// The rejection is sealed before the keys are wiped.
		return out, s.fail(verr)
	}
}

func (s *Session) handleChallenge(payload []byte) (*Output, error) {
	if s.awaitResult {
		return nil, s.fail(fault.New(fault.ProtocolViolation, "challenge while a response is pending"))
	}
	ch, err := auth.ParseChallenge(payload)
	if err != nil {
		return nil, s.fail(err)
	}
	resp, err := s.initiator.Respond(ch)
	if err != nil {
		return nil, s.fail(err)
	}
	s.awaitResult = true
	return s.reply(s.packet(protocol.KindResponse, resp.Marshal())), nil
}

func (s *Session) handleAuthResult(payload []byte) (*Output, error) {
	if !s.awaitResult {
		return nil, s.fail(fault.New(fault.ProtocolViolation, "result without a pending response"))
	}
	s.awaitResult = false
	res, err := auth.ParseResult(payload)
	if err != nil {
		return nil, s.fail(err)
	}
	ferr := s.initiator.Finish(res)
	switch {
	case ferr == nil:
		s.identity = s.cfg.Identity
		s.state = StateAuthenticated
		s.initiator.Close()
		return &Output{}, nil
	case !res.Accepted && res.Remaining > 0:
		return &Output{}, fault.New(fault.ChallengeMismatch,
			fmt.Sprintf("credential rejected, %d attempts left", res.Remaining))
	default:
		return nil, s.fail(ferr)
	}
}

// Seal wraps application data for sending. It is allowed only once the
// session is authenticated.
func (s *Session) Seal(payload []byte) (*protocol.Packet, error) {
	switch s.state {
	case StateClosed:
		return nil, fault.New(fault.SessionClosed, "seal")
	case StateAuthenticated, StateActive:
	default:
		return nil, fault.New(fault.ProtocolViolation, "data before authentication")
	}
	if len(payload) > protocol.MaxPayloadSize {
		return nil, fault.New(fault.Malformed, fmt.Sprintf("payload of %d bytes exceeds the limit", len(payload)))
	}
	return s.packet(protocol.KindData, payload), nil
}

// Shutdown returns a sealed close packet for the peer and closes the session.
// It returns nil if no keys exist yet.
func (s *Session) Shutdown() *protocol.Packet {
	if s.state == StateClosed || s.state == StateNew {
		s.Close()
		return nil
	}
	pkt := s.packet(protocol.KindClose, nil)
	s.Close()
	return pkt
}

// Close wipes all secret material and moves the session to StateClosed. It is
// idempotent.
func (s *Session) Close() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.kp.Wipe()
	if s.keys != nil {
		s.keys.Wipe()
	}
	if s.initiator != nil {
		s.initiator.Close()
	}
	if s.responder != nil {
		s.responder.Close()
	}
	s.sendKey, s.recvKey = nil, nil
}

func (s *Session) fail(err error) error {
	if s.closeCause == nil {
		s.closeCause = err
	}
	s.Close()
	return err
}

func (s *Session) packet(kind uint8, payload []byte) *protocol.Packet {
	pkt := &protocol.Packet{Kind: kind, Connected: true, Timeout: s.timeout, Payload: payload}
	if s.sendKey != nil {
		protocol.Seal(pkt, s.sendKey)
	}
	return pkt
}

func (s *Session) reply(pkts ...*protocol.Packet) *Output {
	return &Output{Replies: pkts}
}
