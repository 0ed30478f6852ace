package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"
)

// fakeConn hands out queued messages and records written ones.
type fakeConn struct {
	in      [][]byte
	written [][]byte
}

func (c *fakeConn) readMessage() ([]byte, error) {
	if len(c.in) == 0 {
		return nil, io.EOF
	}
	msg := c.in[0]
	c.in = c.in[1:]
	return msg, nil
}

func (c *fakeConn) writeMessage(msg []byte) error {
	c.written = append(c.written, append([]byte(nil), msg...))
	return nil
}

func (c *fakeConn) Close() error { return nil }

func TestMessageStream(t *testing.T) {
	t.Run("writes are chunked", func(t *testing.T) {
		conn := &fakeConn{}
		s := newMessageStream(conn, 4)
		n, err := s.Write([]byte("0123456789"))
		if err != nil || n != 10 {
			t.Fatalf("Write = %d, %v", n, err)
		}
		want := []string{"0123", "4567", "89"}
		if len(conn.written) != len(want) {
			t.Fatalf("got %d messages", len(conn.written))
		}
		for i, w := range want {
			if string(conn.written[i]) != w {
				t.Errorf("message %d = %q, want %q", i, conn.written[i], w)
			}
		}
	})

	t.Run("reads span messages", func(t *testing.T) {
		conn := &fakeConn{in: [][]byte{[]byte("hel"), {}, []byte("lo")}}
		s := newMessageStream(conn, 4)
		got, err := io.ReadAll(&smallReader{s})
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "hello" {
			t.Fatalf("got %q", got)
		}
	})
}

// smallReader reads at most two bytes at a time.
type smallReader struct{ r io.Reader }

func (s *smallReader) Read(p []byte) (int, error) {
	return s.r.Read(p[:min(len(p), 2)])
}

func TestWebSocketListener(t *testing.T) {
	l, err := ListenWebSocket("127.0.0.1:0", "1234")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	base := fmt.Sprintf("ws://%s%s", l.Addr(), WebSocketPath)
	if conn, err := DialWebSocket(ctx, base+"?pin=0000"); err == nil {
		conn.Close()
		t.Fatal("wrong PIN accepted")
	}

	clientConn, err := DialWebSocket(ctx, base+"?pin=1234")
	if err != nil {
		t.Fatal(err)
	}
	serverConn, err := l.Accept(ctx)
	if err != nil {
		t.Fatal(err)
	}

	client := NewWebSocketStream(clientConn)
	server := NewWebSocketStream(serverConn)
	defer server.Close()

	payload := bytes.Repeat([]byte{0xab}, wsMaxMessage+100)
	go client.Write(payload)

	got := make([]byte, len(payload))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload corrupted")
	}

	client.Close()
	if _, err := server.Read(got); !errors.Is(err, io.EOF) {
		t.Fatalf("after close: %v", err)
	}
}

func TestWebSocketListenerClose(t *testing.T) {
	l, err := ListenWebSocket("127.0.0.1:0", "")
	if err != nil {
		t.Fatal(err)
	}
	l.Close()
	if _, err := l.Accept(context.Background()); !errors.Is(err, ErrListenerClosed) {
		t.Fatalf("got %v", err)
	}
}
