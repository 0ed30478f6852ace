package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/mowzhja/harpocrates/internal/transport"
	"github.com/mowzhja/harpocrates/internal/util"
)

// EstablishAsHost runs the host side of signaling:
//  1. Start a WebSocket listener on wsAddr, guarded by a fresh PIN
//  2. Print the port and PIN
//  3. Wait for the joiner to connect
//  4. Send the offer and trade ICE candidates
//  5. Return the Peer once its DataChannel is open
func EstablishAsHost(ctx context.Context, wsAddr string) (*transport.Peer, error) {
	pin, err := generatePIN(pinLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PIN: %w", err)
	}

	l, err := transport.ListenWebSocket(wsAddr, pin)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(
		fmt.Sprintf("Port : %d\nPIN  : %s\nJoin : ws://<host>:%d%s?pin=%s",
			l.Port(), pin, l.Port(), transport.WebSocketPath, pin))
	pterm.Println()
	util.LogInfo("waiting for the joiner to connect...")

	wsConn, err := l.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for joiner: %w", err)
	}
	defer wsConn.Close()
	util.LogInfo("joiner connected from %s", wsConn.RemoteAddr())

	return exchange(ctx, wsConn, true)
}

// EstablishAsJoiner runs the joiner side of signaling against wsURL, which
// must carry the host's PIN as the "pin" query parameter.
func EstablishAsJoiner(ctx context.Context, wsURL string) (*transport.Peer, error) {
	util.LogInfo("connecting to host...")
	wsConn, err := transport.DialWebSocket(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogDebug("signaling connected: %s", redactPIN(wsURL))

	return exchange(ctx, wsConn, false)
}

// exchange trades SDP and ICE over wsConn until the DataChannel opens. The
// host makes the offer.
func exchange(ctx context.Context, wsConn *websocket.Conn, offer bool) (*transport.Peer, error) {
	peer, err := transport.NewPeer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer: %w", err)
	}

	s := &sender{peer: peer, conn: wsConn}
	r := &receiver{peer: peer, conn: wsConn, sender: s}

	peer.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		// best effort, the WebSocket may already be gone
		if err := s.sendCandidate(string(data)); err != nil {
			util.LogDebug("failed to send ICE candidate: %v", err)
		}
	})

	// watch exits when wsConn is closed by the caller.
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	if offer {
		if err := s.sendOffer(); err != nil {
			peer.Close()
			return nil, fmt.Errorf("failed to send offer: %w", err)
		}
	}

	select {
	case <-peer.Ready():
		util.LogDebug("DataChannel open, closing signaling connection")
		return peer, nil

	case err := <-errCh:
		peer.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		peer.Close()
		return nil, ctx.Err()
	}
}

// redactPIN hides the PIN in a URL before it is logged.
func redactPIN(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("pin") {
		q.Set("pin", "redacted")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
