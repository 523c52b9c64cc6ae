// Package server implements the TreeDrive file server: a single event loop
// multiplexing every client connection, a per-connection protocol state
// machine and the command handlers operating on a store.Catalog.
package server

import (
	"context"
	"net"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"treedrive/common"
	"treedrive/store"
)

// Options tunes the server. Zero values take the defaults below.
type Options struct {
	PollTimeout   time.Duration
	ReadChunkSize int
	SendChunkSize int
	MaxLineLength int
	MaxUploadSize int64
	// WriteTimeout bounds each write to a client. A peer that accepts no
	// bytes for this long is disconnected.
	WriteTimeout time.Duration
	// WriteQueue is how many replies or file chunks may wait for one
	// connection's writer.
	WriteQueue int
}

func (o Options) withDefaults() Options {
	if o.PollTimeout <= 0 {
		o.PollTimeout = 5 * time.Second
	}
	if o.ReadChunkSize <= 0 {
		o.ReadChunkSize = 1024
	}
	if o.SendChunkSize <= 0 {
		o.SendChunkSize = 1024
	}
	if o.MaxLineLength <= 0 {
		o.MaxLineLength = 4096
	}
	if o.MaxUploadSize <= 0 {
		o.MaxUploadSize = 1 << 30
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 30 * time.Second
	}
	if o.WriteQueue <= 0 {
		o.WriteQueue = 32
	}
	return o
}

// inputLimit is the most unprocessed input a connection may hold. Input
// piles up only while the connection streams a file or waits for its
// writer, and a well-behaved client sends little more than one pipelined
// command in that time.
func (o Options) inputLimit() int {
	return 4*o.MaxLineLength + o.ReadChunkSize
}

// readEvent carries bytes read from a connection, or the error that ended
// its reader or writer.
type readEvent struct {
	id   ConnID
	data []byte
	err  error
}

// Server owns the listener and every accepted connection. All protocol
// state is touched only by the goroutine running Serve.
type Server struct {
	opts     Options
	catalog  *store.Catalog
	listener net.Listener
	conns    *registry

	accepted  chan net.Conn
	acceptErr chan error
	reads     chan readEvent
	wake      chan struct{}
	done      chan struct{}
}

func New(ln net.Listener, catalog *store.Catalog, opts Options) *Server {
	opts = opts.withDefaults()
	return &Server{
		opts:      opts,
		catalog:   catalog,
		listener:  ln,
		conns:     newRegistry(),
		accepted:  make(chan net.Conn),
		acceptErr: make(chan error, 1),
		reads:     make(chan readEvent),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the event loop until ctx is cancelled, which returns nil, or
// the listener fails. Every connection is closed before Serve returns.
// Serve must be called at most once.
func (s *Server) Serve(ctx context.Context) error {
	glog.Infof("File server listening on %s", s.listener.Addr())
	go s.acceptLoop()
	defer s.shutdown()

	for ctx.Err() == nil {
		if err := s.pump(ctx, s.opts.PollTimeout); err != nil {
			return err
		}
	}
	glog.Infof("Shutting down with %d open connection(s)", s.conns.len())
	return nil
}

// pump waits up to timeout for one event and processes it, then gives
// every streaming connection one chunk and resumes blocked ones. The wait
// is skipped while some connection has work its queue can take.
func (s *Server) pump(ctx context.Context, timeout time.Duration) error {
	if s.pending() {
		timeout = 0
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case err := <-s.acceptErr:
		return errors.Wrap(err, "accepting connections")
	case nc := <-s.accepted:
		s.acceptReady(nc)
	case ev := <-s.reads:
		s.handleRead(ev)
	case <-s.wake:
	case <-timer.C:
	}

	s.pumpWrites()
	return nil
}

func (s *Server) pending() bool {
	for _, c := range s.conns.conns {
		if !c.writable() {
			continue
		}
		if _, ok := c.state.(*sendingFile); ok || c.blocked {
			return true
		}
	}
	return false
}

func (s *Server) pumpWrites() {
	for _, id := range s.conns.ids() {
		c := s.conns.get(id)
		if c == nil || !c.writable() {
			continue
		}
		if c.blocked {
			s.drive(c)
			continue
		}
		if _, ok := c.state.(*sendingFile); !ok {
			continue
		}
		if _, err := s.advance(c); err != nil {
			s.teardown(c, err)
			continue
		}
		if _, still := c.state.(*sendingFile); !still {
			// Input that queued up during the transfer.
			s.drive(c)
		}
	}
}

func (s *Server) acceptLoop() {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case s.acceptErr <- err:
			case <-s.done:
			}
			return
		}
		select {
		case s.accepted <- nc:
		case <-s.done:
			nc.Close()
			return
		}
	}
}

func (s *Server) acceptReady(nc net.Conn) {
	c := s.conns.add(nc, s.opts.WriteQueue)
	recordConnection()
	glog.Infof("Connection from %s", c.remote)
	go s.writeLoop(c.id, nc, c.out)
	if err := s.reply(c, common.Welcome()); err != nil {
		s.teardown(c, err)
		return
	}
	go s.readLoop(c.id, nc)
}

// writeLoop drains one connection's outbound queue. It is the only
// goroutine writing to nc, so a peer that stops reading stalls nobody else.
func (s *Server) writeLoop(id ConnID, nc net.Conn, out <-chan []byte) {
	for p := range out {
		nc.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if _, err := nc.Write(p); err != nil {
			select {
			case s.reads <- readEvent{id: id, err: errors.Wrap(err, "writing")}:
			case <-s.done:
			}
			return
		}
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (s *Server) readLoop(id ConnID, nc net.Conn) {
	for {
		buf := make([]byte, s.opts.ReadChunkSize)
		n, err := nc.Read(buf)
		select {
		case s.reads <- readEvent{id: id, data: buf[:n], err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) handleRead(ev readEvent) {
	c := s.conns.get(ev.id)
	if c == nil {
		return
	}
	if len(ev.data) > 0 {
		c.in = append(c.in, ev.data...)
		if _, sending := c.state.(*sendingFile); sending {
			skipAcks(c)
		} else {
			s.drive(c)
		}
		if !c.closed && len(c.in) > s.opts.inputLimit() {
			s.teardown(c, errors.Errorf("%d bytes of input left unprocessed in state %v", len(c.in), c.state))
			return
		}
	}
	if ev.err != nil {
		s.teardown(c, ev.err)
	}
}

// teardown releases everything c holds. It is safe to call more than once.
func (s *Server) teardown(c *Conn, cause error) {
	if c == nil || c.closed {
		return
	}
	c.closed = true
	close(c.out)
	release(c.state)

	user, loggedIn := s.conns.user(c.id)
	s.conns.remove(c.id)
	if cause != nil && !common.IsExpectedCloseError(cause) {
		glog.Errorf("Connection %s: %v", c.remote, cause)
	}
	if loggedIn {
		glog.Infof("Removing client %s (%s) in state %v", c.remote, user, c.state)
	} else {
		glog.Infof("Removing client %s", c.remote)
	}
	if err := c.conn.Close(); err != nil && !common.IsExpectedCloseError(err) {
		glog.Warningf("Closing %s: %v", c.remote, err)
	}
}

func (s *Server) shutdown() {
	close(s.done)
	if err := s.listener.Close(); err != nil && !common.IsExpectedCloseError(err) {
		glog.Warningf("Closing listener: %v", err)
	}
	for _, id := range s.conns.ids() {
		s.teardown(s.conns.get(id), nil)
	}
}
