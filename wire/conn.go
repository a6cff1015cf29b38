package wire

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Conn wraps a net.Conn with buffered line-JSON framing in both directions.
// Writes are synchronized so that concurrent senders never interleave
// partial frames on the wire, the same guarantee the teacher's pipeline
// gives its replication peers (broker/append_fsm.go's pln.scatter serializes
// concurrent writers behind a single owned pipeline).
type Conn struct {
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	wmu     sync.Mutex
	framing Framing
}

// NewConn wraps an established net.Conn for line-JSON framing.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		netConn: c,
		br:      bufio.NewReader(c),
		bw:      bufio.NewWriter(c),
	}
}

// RemoteAddr returns the string form of the connection's remote address,
// used as the opaque screen_address in shop order routing.
func (c *Conn) RemoteAddr() string { return c.netConn.RemoteAddr().String() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.netConn.Close() }

// Send marshals v as one JSON line and flushes it. Safe for concurrent use.
func (c *Conn) Send(v interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.framing.Marshal(v, c.bw); err != nil {
		return err
	}
	if err := c.bw.Flush(); err != nil {
		return errors.Wrap(err, "flushing wire frame")
	}
	return nil
}

// ReadFrame reads the next raw frame. Callers decode it with the
// DecodeXxx function appropriate to the link.
func (c *Conn) ReadFrame() ([]byte, error) {
	return c.framing.Unpack(c.br)
}

// SetReadDeadline forwards to the underlying net.Conn, letting a caller that
// expects a reply-or-silence (e.g. AskLeader) bound how long it waits
// before treating silence as a dead or unelected peer.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.netConn.SetReadDeadline(t)
}
