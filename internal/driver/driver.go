// Package driver pumps packets between one byte stream and one session.
// It is the only place where session packets meet I/O.
package driver

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mowzhja/harpocrates/internal/fault"
	"github.com/mowzhja/harpocrates/internal/protocol"
	"github.com/mowzhja/harpocrates/internal/session"
	"github.com/mowzhja/harpocrates/internal/util"
)

const (
	readChunkSize    = 32 * 1024
	inboundQueueSize = 16
	shutdownBudget   = time.Second // bounds the farewell write when the peer set no timeout
)

// ErrHandshakeTimeout is returned when the session does not authenticate
// within the configured handshake timeout.
var ErrHandshakeTimeout = fault.New(fault.ProtocolViolation, "handshake timed out")

// MessageHandler receives application payloads in order, empty ones
// included (as a non-nil empty slice). A non-nil return value is sent back
// to the peer as a data packet. It runs on the driver's
// loop and must not call Send.
type MessageHandler func(msg []byte) (reply []byte)

// DatagramHandler receives connectionless packets. They never touch the
// session and carry no authentication.
type DatagramHandler func(pkt *protocol.Packet)

// Option configures a Driver.
type Option func(*Driver)

// WithHandshakeTimeout bounds the time from start to authentication.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(dr *Driver) { dr.handshakeTimeout = d }
}

// WithMessageHandler sets the application message callback.
func WithMessageHandler(h MessageHandler) Option {
	return func(dr *Driver) { dr.onMessage = h }
}

// WithDatagramHandler routes connectionless packets to h instead of
// dropping them.
func WithDatagramHandler(h DatagramHandler) Option {
	return func(dr *Driver) { dr.onDatagram = h }
}

// WithConnID overrides the id used in log lines.
func WithConnID(id uint32) Option {
	return func(dr *Driver) { dr.log = util.ConnLog(id) }
}

type sendRequest struct {
	payload []byte
	errc    chan error
}

type inbound struct {
	pkt *protocol.Packet
	err error
}

// Driver owns one stream and the session running over it.
type Driver struct {
	stream io.ReadWriteCloser
	sess   *session.Session
	log    util.ConnLog

	handshakeTimeout time.Duration
	onMessage        MessageHandler
	onDatagram       DatagramHandler

	sendCh      chan sendRequest
	established chan struct{}
	done        chan struct{}

	mu       sync.Mutex
	identity string
	err      error
}

// New prepares a driver. Nothing happens until Run is called.
func New(stream io.ReadWriteCloser, sess *session.Session, opts ...Option) *Driver {
	d := &Driver{
		stream:      stream,
		sess:        sess,
		sendCh:      make(chan sendRequest),
		established: make(chan struct{}),
		done:        make(chan struct{}),
	}
	if c, ok := stream.(net.Conn); ok {
		d.log = util.ConnLog(util.ConnID(c))
	} else {
		d.log = util.ConnLog(util.RandomConnID())
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Drive runs sess over stream until the session closes, the stream ends or
// ctx is cancelled. The session's secrets are wiped and the stream is closed
// before it returns.
func Drive(ctx context.Context, stream io.ReadWriteCloser, sess *session.Session, opts ...Option) error {
	return New(stream, sess, opts...).Run(ctx)
}

// Established is closed once the session has authenticated.
func (d *Driver) Established() <-chan struct{} { return d.established }

// Done is closed when Run has returned.
func (d *Driver) Done() <-chan struct{} { return d.done }

// Identity returns the authenticated initiator identity, once established.
func (d *Driver) Identity() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.identity
}

// Err returns the error Run returned, once Done is closed.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Send seals payload and writes it to the peer. It waits for the session to
// be established.
func (d *Driver) Send(ctx context.Context, payload []byte) error {
	select {
	case <-d.established:
	case <-d.done:
		return fault.New(fault.SessionClosed, "send")
	case <-ctx.Done():
		return ctx.Err()
	}

	req := sendRequest{payload: payload, errc: make(chan error, 1)}
	select {
	case d.sendCh <- req:
	case <-d.done:
		return fault.New(fault.SessionClosed, "send")
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.errc
}

// Run drives the session. It returns nil after an orderly close by either
// side, ctx.Err() on cancellation, and otherwise the error that ended the
// session, carrying its fault.Kind.
func (d *Driver) Run(ctx context.Context) (err error) {
	util.Stats.Open()
	in := make(chan inbound, inboundQueueSize)
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go d.readLoop(in, stop, readerDone)

	defer func() {
		close(stop)
		if ctx.Err() != nil && d.sess.State() != session.StateClosed {
			budget := d.sess.PeerTimeout()
			if budget <= 0 {
				budget = shutdownBudget
			}
			if bye := d.sess.Shutdown(); bye != nil {
				d.writeWithin(bye, budget)
			}
		}
		d.sess.Close()
		d.stream.Close()
		<-readerDone
		util.Stats.Close()

		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
		close(d.done)
		if err != nil {
			d.log.Debug("session ended: %v", err)
		} else {
			d.log.Debug("session closed")
		}
	}()

	established := false
	var timeout <-chan time.Time
	if d.handshakeTimeout > 0 {
		timer := time.NewTimer(d.handshakeTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	if d.sess.Role() == session.Initiator {
		pkts, err := d.sess.Start()
		if err != nil {
			return err
		}
		if err := d.writeAll(pkts); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timeout:
			return ErrHandshakeTimeout

		case req := <-d.sendCh:
			pkt, err := d.sess.Seal(req.payload)
			if err == nil {
				err = d.write(pkt)
			}
			req.errc <- err
			if err != nil && d.sess.State() == session.StateClosed {
				return err
			}

		case r := <-in:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					if d.sess.State() == session.StateClosed {
						return d.sess.Err()
					}
					return fault.New(fault.SessionClosed, "stream ended")
				}
				return r.err
			}

			done, err := d.dispatch(r.pkt)
			if err != nil || done {
				return err
			}
			if !established && d.markEstablished() {
				established = true
				timeout = nil
			}
		}
	}
}

// dispatch hands one packet to the session and writes what it produces.
// done reports an orderly close.
func (d *Driver) dispatch(pkt *protocol.Packet) (done bool, err error) {
	if !pkt.Connected {
		if d.onDatagram != nil {
			d.onDatagram(pkt)
		} else {
			d.log.Debug("dropping connectionless %s packet", protocol.KindName(pkt.Kind))
		}
		return false, nil
	}

	out, herr := d.sess.Handle(pkt)
	if out != nil {
		if err := d.writeAll(out.Replies); err != nil {
			return false, err
		}
	}

	closed := d.sess.State() == session.StateClosed
	switch {
	case herr != nil && closed:
		if fault.Is(herr, fault.ChallengeMismatch) || fault.Is(herr, fault.AuthenticationFailed) {
			util.Stats.AuthFailure()
		}
		return false, herr
	case herr != nil:
		// rejected attempt, the handshake goes on
		util.Stats.AuthFailure()
		d.log.Warn("%v", herr)
		return false, nil
	case closed:
		d.log.Info("peer closed the session")
		return true, nil
	}

	if out != nil && out.Message != nil && d.onMessage != nil {
		if reply := d.onMessage(out.Message); reply != nil {
			sealed, err := d.sess.Seal(reply)
			if err != nil {
				return false, err
			}
			if err := d.write(sealed); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// markEstablished reports whether the session just became authenticated.
func (d *Driver) markEstablished() bool {
	switch d.sess.State() {
	case session.StateAuthenticated, session.StateActive:
	default:
		return false
	}
	d.mu.Lock()
	d.identity = d.sess.Identity()
	d.mu.Unlock()
	close(d.established)
	util.Stats.Authenticate()
	d.log.Info("session established (%s, identity %q)", d.sess.Role(), d.identity)
	return true
}

// readLoop fills a buffer from the stream and forwards every complete packet.
// A Truncated decode only means more bytes are needed.
func (d *Driver) readLoop(in chan<- inbound, stop <-chan struct{}, readerDone chan<- struct{}) {
	defer close(readerDone)

	forward := func(r inbound) bool {
		select {
		case in <- r:
			return true
		case <-stop:
			return false
		}
	}

	var pending []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, rerr := d.stream.Read(chunk)
		if n > 0 {
			util.Stats.AddRecv(n)
			pending = append(pending, chunk[:n]...)

			for len(pending) > 0 {
				pkt, used, err := protocol.Decode(pending)
				if fault.Is(err, fault.Truncated) {
					break
				}
				if err != nil {
					forward(inbound{err: err})
					return
				}
				pending = pending[used:]
				if !forward(inbound{pkt: pkt}) {
					return
				}
			}
			if len(pending) == 0 {
				pending = nil
			}
		}
		if rerr != nil {
			if len(pending) > 0 && errors.Is(rerr, io.EOF) {
				rerr = fault.New(fault.Truncated, "stream ended inside a packet")
			}
			forward(inbound{err: rerr})
			return
		}
	}
}

func (d *Driver) writeAll(pkts []*protocol.Packet) error {
	for _, pkt := range pkts {
		if err := d.write(pkt); err != nil {
			return err
		}
	}
	return nil
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// write encodes and writes one packet. The peer's advertised timeout bounds
// the write when the stream supports deadlines.
func (d *Driver) write(pkt *protocol.Packet) error {
	return d.writeWithin(pkt, d.sess.PeerTimeout())
}

func (d *Driver) writeWithin(pkt *protocol.Packet, budget time.Duration) error {
	if wd, ok := d.stream.(writeDeadliner); ok && budget > 0 {
		wd.SetWriteDeadline(time.Now().Add(budget))
		defer wd.SetWriteDeadline(time.Time{})
	}

	data, err := protocol.Encode(pkt)
	if err != nil {
		return err
	}
	n, err := d.stream.Write(data)
	util.Stats.AddSent(n)
	if err != nil {
		return fault.Wrap(fault.Internal, "write "+protocol.KindName(pkt.Kind), err)
	}
	d.log.Debug("sent %s (%d bytes)", protocol.KindName(pkt.Kind), len(data))
	return nil
}
