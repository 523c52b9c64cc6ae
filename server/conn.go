package server

import (
	"maps"
	"net"
	"slices"

	"github.com/pkg/errors"
)

var errQueueFull = errors.New("outbound queue full: peer is not reading")

// ConnID is the stable handle of one accepted connection.
type ConnID uint64

// Conn is the server-side record of one accepted connection. It is owned
// by the event loop goroutine.
type Conn struct {
	id     ConnID
	conn   net.Conn
	remote string

	// in holds bytes received but not yet consumed by the state machine.
	in []byte
	// discarding is set after an overlong line until its newline arrives.
	discarding bool
	// blocked is set when input processing stopped for lack of queue room.
	blocked bool

	// out feeds the connection's writer goroutine. Only the event loop
	// sends on it and only teardown closes it.
	out chan []byte

	state  state
	closed bool
}

func (c *Conn) ID() ConnID { return c.id }

// write queues p for the writer goroutine without blocking.
func (c *Conn) write(p []byte) error {
	if c.closed {
		return net.ErrClosed
	}
	select {
	case c.out <- p:
		return nil
	default:
		return errQueueFull
	}
}

// writable reports whether the outbound queue has room for one more write.
func (c *Conn) writable() bool {
	return len(c.out) < cap(c.out)
}

// registry holds the live connections and the identity each one has
// asserted.
type registry struct {
	next     ConnID
	conns    map[ConnID]*Conn
	sessions map[ConnID]string
}

func newRegistry() *registry {
	return &registry{
		conns:    make(map[ConnID]*Conn),
		sessions: make(map[ConnID]string),
	}
}

func (r *registry) add(nc net.Conn, queue int) *Conn {
	r.next++
	c := &Conn{
		id:     r.next,
		conn:   nc,
		remote: nc.RemoteAddr().String(),
		out:    make(chan []byte, queue),
		state:  &loggedOut{},
	}
	r.conns[c.id] = c
	return c
}

func (r *registry) get(id ConnID) *Conn {
	return r.conns[id]
}

func (r *registry) remove(id ConnID) {
	delete(r.conns, id)
	delete(r.sessions, id)
}

func (r *registry) login(id ConnID, user string) {
	r.sessions[id] = user
}

func (r *registry) user(id ConnID) (string, bool) {
	user, ok := r.sessions[id]
	return user, ok
}

// ids returns the live handles in ascending order.
func (r *registry) ids() []ConnID {
	return slices.Sorted(maps.Keys(r.conns))
}

func (r *registry) len() int {
	return len(r.conns)
}
