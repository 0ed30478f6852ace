// Package signaling runs the WebSocket phase that exchanges SDP and ICE
// candidates between two peers. Callers receive a Peer whose DataChannel is
// open; the WebSocket is closed before they see it.
package signaling

type messageType string

const (
	msgTypeOffer     messageType = "offer"
	msgTypeAnswer    messageType = "answer"
	msgTypeCandidate messageType = "candidate"
)

// message is the JSON structure exchanged over the WebSocket.
type message struct {
	Type      messageType `json:"type"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}
