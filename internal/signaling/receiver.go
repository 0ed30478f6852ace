package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// answerer is the part of a peer the receiver drives.
type answerer interface {
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
}

// receiver applies incoming signaling messages to the peer. An offer is
// answered through the sender.
type receiver struct {
	peer   answerer
	conn   *websocket.Conn
	sender *sender
}

// watch reads until the WebSocket fails or closes.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read signaling message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := r.peer.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeOffer, SDP: msg.SDP,
			}); err != nil {
				return err
			}
			if err := r.sender.sendAnswer(); err != nil {
				return err
			}

		case msgTypeAnswer:
			if err := r.peer.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer, SDP: msg.SDP,
			}); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("failed to parse ICE candidate: %w", err)
			}
			if err := r.peer.AddICECandidate(init); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unexpected signaling message %q", msg.Type)
		}
	}
}
