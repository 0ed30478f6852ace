package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mowzhja/harpocrates/internal/util"
)

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this

	dcMaxMessage = 16 * 1024
	dcInboxSize  = 64
)

// STUN servers for ICE candidate gathering. No TURN: peers must reach each
// other directly.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Peer wraps a PeerConnection and one pre-negotiated DataChannel. Signaling
// drives it through the SDP/ICE methods; once Ready is closed, Stream gives
// the byte stream a session runs over.
//
// The channel is ordered and reliable. The packet codec relies on bytes
// arriving in order, so an unordered channel cannot carry a session.
type Peer struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	openSignal chan struct{}
	inbox      chan []byte
	drain      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// NewPeer creates a PeerConnection configured with the STUN servers and the
// negotiated DataChannel (ID 0), so both sides create it independently.
// The peer stays alive while the channel is open and ctx is not cancelled.
func NewPeer(ctx context.Context) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	})
	if err != nil {
		return nil, err
	}

	ordered := true
	negotiated := true
	id := uint16(0)
	dc, err := pc.CreateDataChannel("harpocrates", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		pc.Close()
		return nil, err
	}

	pCtx, pCancel := context.WithCancel(ctx)
	p := &Peer{
		pc:         pc,
		dc:         dc,
		openSignal: make(chan struct{}),
		inbox:      make(chan []byte, dcInboxSize),
		drain:      make(chan struct{}, 1),
		ctx:        pCtx,
		cancel:     pCancel,
		pcState:    webrtc.PeerConnectionStateNew,
	}

	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(p.openSignal) })
	})
	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		pCancel()
	})

	// The channel is ordered, so callbacks arrive in order. A full inbox
	// blocks the SCTP reader, which pushes back on the remote sender.
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case p.inbox <- msg.Data:
		case <-pCtx.Done():
		}
	})

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case p.drain <- struct{}{}:
		default:
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		p.mu.Lock()
		p.pcState = state
		p.mu.Unlock()
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			pCancel()
		}
	})

	return p, nil
}

// Ready is closed when the DataChannel opens.
func (p *Peer) Ready() <-chan struct{} {
	return p.openSignal
}

// Done is closed when the peer shuts down.
func (p *Peer) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Close shuts down the DataChannel and PeerConnection.
func (p *Peer) Close() error {
	p.cancel()
	return errors.Join(p.dc.Close(), p.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pcState
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback for gathered local candidates. A nil
// candidate signals the end of gathering.
func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// Stream returns the DataChannel as a byte stream. Closing it closes the
// peer. It should only be used after Ready.
func (p *Peer) Stream() io.ReadWriteCloser {
	return newMessageStream(p, dcMaxMessage)
}

func (p *Peer) readMessage() ([]byte, error) {
	select {
	case msg := <-p.inbox:
		return msg, nil
	case <-p.ctx.Done():
		// drain what arrived before the close
		select {
		case msg := <-p.inbox:
			return msg, nil
		default:
			return nil, io.EOF
		}
	}
}

func (p *Peer) writeMessage(msg []byte) error {
	if p.dc.BufferedAmount() > uint64(highWaterMark) {
		select {
		case <-p.drain:
		case <-p.ctx.Done():
			return io.ErrClosedPipe
		}
	}
	return p.dc.Send(msg)
}
