// Package app wires sessions, drivers and transports into the four roles:
// a relay server, an interactive client and the two WebRTC peers.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/mowzhja/harpocrates/internal/auth"
	"github.com/mowzhja/harpocrates/internal/config"
	"github.com/mowzhja/harpocrates/internal/credential"
	"github.com/mowzhja/harpocrates/internal/driver"
	"github.com/mowzhja/harpocrates/internal/session"
	"github.com/mowzhja/harpocrates/internal/transport"
	"github.com/mowzhja/harpocrates/internal/util"
)

// Server accepts streams, runs a responder session over each one and relays
// messages between the authenticated sessions.
type Server struct {
	cfg      config.Config
	verifier auth.Verifier
	relay    *relay
	wg       sync.WaitGroup
}

// NewServer creates a server that checks initiators against verifier.
func NewServer(cfg config.Config, verifier auth.Verifier) *Server {
	return &Server{cfg: cfg, verifier: verifier, relay: newRelay()}
}

// RunServer loads the credential file and serves on cfg.Listen until ctx is
// cancelled.
func RunServer(ctx context.Context, cfg config.Config) error {
	store, err := credential.Load(cfg.CredentialFile)
	if err != nil {
		return err
	}
	if store.Len() == 0 {
		util.LogWarning("credential file %s has no users, every login will fail", cfg.CredentialFile)
	}

	srv := NewServer(cfg, store)

	switch cfg.Transport {
	case config.TransportWebSocket:
		l, err := transport.ListenWebSocket(cfg.Listen, "")
		if err != nil {
			return err
		}
		util.LogSuccess("listening on ws://%s%s", l.Addr(), transport.WebSocketPath)
		return srv.ServeWebSocket(ctx, l)

	default:
		l, err := transport.ListenTCP(cfg.Listen)
		if err != nil {
			return err
		}
		util.LogSuccess("listening on %s", l.Addr())
		return srv.ServeTCP(ctx, l)
	}
}

// ServeTCP accepts connections from l until ctx is cancelled, then waits
// for every session to end. l is closed on return.
func (s *Server) ServeTCP(ctx context.Context, l net.Listener) error {
	// Close the listener when ctx is done so Accept returns.
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	return s.serve(ctx, func() (io.ReadWriteCloser, error) {
		conn, err := l.Accept()
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// ServeWebSocket is ServeTCP for a WebSocket listener.
func (s *Server) ServeWebSocket(ctx context.Context, l *transport.WebSocketListener) error {
	defer l.Close()

	return s.serve(ctx, func() (io.ReadWriteCloser, error) {
		conn, err := l.Accept(ctx)
		if err != nil {
			return nil, err
		}
		return transport.NewWebSocketStream(conn), nil
	})
}

func (s *Server) serve(ctx context.Context, accept func() (io.ReadWriteCloser, error)) error {
	defer s.wg.Wait()

	for {
		stream, err := accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil // normal shutdown
			default:
				return fmt.Errorf("accept error: %w", err)
			}
		}

		id := util.RandomConnID()
		if conn, ok := stream.(net.Conn); ok {
			id = util.ConnID(conn)
			util.ConnLog(id).Info("new connection from %s", conn.RemoteAddr())
		} else {
			util.ConnLog(id).Info("new connection")
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, id, stream)
		}()
	}
}

// serveConn runs one responder session until it ends.
func (s *Server) serveConn(ctx context.Context, id uint32, stream io.ReadWriteCloser) {
	log := util.ConnLog(id)

	sess, err := session.New(session.Responder, responderConfig(s.cfg, s.verifier))
	if err != nil {
		log.Error("failed to create session: %v", err)
		stream.Close()
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		d        *driver.Driver
		joinOnce sync.Once
		m        *member
	)
	joinRelay := func() *member {
		joinOnce.Do(func() { m = s.relay.join(connCtx, id, d.Identity()) })
		return m
	}

	d = driver.New(stream, sess,
		driver.WithConnID(id),
		driver.WithHandshakeTimeout(s.cfg.HandshakeTimeout),
		driver.WithMessageHandler(func(msg []byte) []byte {
			if n := s.relay.publish(joinRelay(), msg); n == 0 {
				log.Debug("no other session to relay to")
			}
			return nil
		}),
	)

	// Deliver relayed messages once authenticated.
	go func() {
		select {
		case <-d.Established():
		case <-d.Done():
			return
		}
		mine := joinRelay()
		for {
			select {
			case msg := <-mine.outbox:
				if err := d.Send(connCtx, msg); err != nil {
					return
				}
			case <-d.Done():
				return
			}
		}
	}()

	err = d.Run(connCtx)
	switch {
	case err == nil:
		log.Info("session closed (%q)", d.Identity())
	case errors.Is(err, context.Canceled):
		log.Debug("session cancelled")
	default:
		log.Warn("session ended: %v", err)
	}
}

func responderConfig(cfg config.Config, verifier auth.Verifier) session.Config {
	return session.Config{
		ResponseTimeout: cfg.ResponseTimeout,
		Verifier:        verifier,
		MaxAttempts:     cfg.MaxAttempts,
	}
}

func initiatorConfig(cfg config.Config, password auth.PasswordFunc) session.Config {
	return session.Config{
		ResponseTimeout:    cfg.ResponseTimeout,
		Identity:           cfg.Identity,
		Password:           password,
		RequireServerProof: cfg.RequireServerProof,
	}
}
