// Package transport provides the ordered byte streams a session runs over:
// plain TCP, WebSocket and a WebRTC DataChannel. Message-oriented carriers
// are adapted to io.ReadWriteCloser; packet framing stays in the protocol
// codec and never relies on message boundaries.
package transport

import (
	"sync"
	"time"
)

// messageConn is a carrier that moves whole messages.
type messageConn interface {
	readMessage() ([]byte, error)
	writeMessage(msg []byte) error
	Close() error
}

// messageStream turns a messageConn into a byte stream. Reads drain one
// message before fetching the next; writes are split into chunks of at most
// maxMessage bytes.
type messageStream struct {
	conn       messageConn
	maxMessage int

	rmu     sync.Mutex
	pending []byte

	wmu sync.Mutex
}

func newMessageStream(conn messageConn, maxMessage int) *messageStream {
	return &messageStream{conn: conn, maxMessage: maxMessage}
}

func (s *messageStream) Read(p []byte) (int, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	for len(s.pending) == 0 {
		msg, err := s.conn.readMessage()
		if err != nil {
			return 0, err
		}
		s.pending = msg
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *messageStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	written := 0
	for written < len(p) {
		end := min(written+s.maxMessage, len(p))
		if err := s.conn.writeMessage(p[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

func (s *messageStream) Close() error {
	return s.conn.Close()
}

// SetWriteDeadline forwards to the carrier when it supports deadlines.
func (s *messageStream) SetWriteDeadline(t time.Time) error {
	if d, ok := s.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		return d.SetWriteDeadline(t)
	}
	return nil
}
