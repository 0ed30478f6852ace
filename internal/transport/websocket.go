package transport

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// WebSocketPath is where the listener upgrades connections.
	WebSocketPath = "/ws"

	wsMaxMessage   = 64 * 1024
	wsCloseTimeout = time.Second
	wsAcceptQueue  = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn carries binary WebSocket messages.
type wsConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (c *wsConn) readMessage() ([]byte, error) {
	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if typ == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (c *wsConn) writeMessage(msg []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, msg)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsCloseTimeout))
		err = c.conn.Close()
	})
	return err
}

// NewWebSocketStream adapts a WebSocket connection to a byte stream.
func NewWebSocketStream(conn *websocket.Conn) io.ReadWriteCloser {
	conn.SetReadLimit(wsMaxMessage)
	return newMessageStream(&wsConn{conn: conn}, wsMaxMessage)
}

// DialWebSocket connects to a WebSocket URL such as ws://host:port/ws.
func DialWebSocket(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("websocket listener closed")

// WebSocketListener accepts WebSocket connections on WebSocketPath. When a
// PIN is set, requests must carry it as the "pin" query parameter.
type WebSocketListener struct {
	pin      string
	listener net.Listener
	server   *http.Server
	connCh   chan *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// ListenWebSocket starts serving on addr; ":0" picks a random port.
func ListenWebSocket(addr, pin string) (*WebSocketListener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}

	l := &WebSocketListener{
		pin:      pin,
		listener: listener,
		connCh:   make(chan *websocket.Conn, wsAcceptQueue),
		closed:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, l.handleWS)
	l.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		_ = l.server.Serve(listener)
	}()

	return l, nil
}

func (l *WebSocketListener) handleWS(w http.ResponseWriter, r *http.Request) {
	if l.pin != "" && subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("pin")), []byte(l.pin)) != 1 {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	select {
	case l.connCh <- conn:
	case <-l.closed:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "listener closed"))
		conn.Close()
	}
}

// Addr returns the bound address.
func (l *WebSocketListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Port returns the bound TCP port.
func (l *WebSocketListener) Port() int {
	return l.listener.Addr().(*net.TCPAddr).Port
}

// Accept blocks until a client connects, ctx is cancelled or the listener
// is closed.
func (l *WebSocketListener) Accept(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case <-l.closed:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new connections. Connections already returned by
// Accept stay open; queued ones are dropped.
func (l *WebSocketListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.server.Close()
		for {
			select {
			case conn := <-l.connCh:
				conn.Close()
			default:
				return
			}
		}
	})
	return err
}
