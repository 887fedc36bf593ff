package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nkvdb/nkv/common"
	"github.com/nkvdb/nkv/memd"
)

var log = logger.GetLogger("transport")

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the correlated outcome of one request
type responseResult struct {
	pkt *memd.Packet
	err error
}

// Connection is one established stream to a node. Many requests may be in
// flight concurrently; the reader goroutine matches responses to waiters
// purely by opaque id, so responses must not be assumed to come back in
// send order. The pending table is owned exclusively by this connection's
// receive path.
type Connection struct {
	conn       net.Conn
	endpoint   string
	stopCh     chan struct{}
	pending    *xsync.MapOf[uint32, chan responseResult]
	writeMu    sync.Mutex // protects writes to the stream
	nextOpaque uint32     // atomic counter for unique opaque ids
	closed     atomic.Bool
	closeOnce  sync.Once
}

// -----------------------------------------------------------
// Dialing
// -----------------------------------------------------------

// Dial establishes one connection through the given connector, applies the
// transport-specific socket settings and starts the response reader.
func Dial(connector IConnector, endpoint string, config common.ClientConfig) (*Connection, error) {
	conn, err := connector.Connect(endpoint)
	if err != nil {
		return nil, &common.TransportError{Endpoint: endpoint, Inner: err}
	}

	if err := connector.UpgradeConnection(conn, config); err != nil {
		conn.Close()
		return nil, &common.TransportError{Endpoint: endpoint, Inner: fmt.Errorf("failed to upgrade connection: %w", err)}
	}

	c := &Connection{
		conn:     conn,
		endpoint: endpoint,
		stopCh:   make(chan struct{}),
		pending:  xsync.NewMapOf[uint32, chan responseResult](),
	}

	go c.readResponses()

	log.Infof("Connected to %s using %s transport", endpoint, connector.GetName())
	return c, nil
}

// Endpoint returns the address this connection is bound to
func (c *Connection) Endpoint() string { return c.endpoint }

// IsClosed reports whether the connection has been closed
func (c *Connection) IsClosed() bool { return c.closed.Load() }

// -----------------------------------------------------------
// Sending
// -----------------------------------------------------------

// Send writes one request frame and waits for its correlated response. The
// packet's opaque field is assigned here and must not be set by the caller.
// Cancellation through ctx stops the wait but cannot retract bytes already
// flushed to the socket: the server-side effect may still occur.
func (c *Connection) Send(ctx context.Context, pkt *memd.Packet) (*memd.Packet, error) {
	if c.closed.Load() {
		return nil, common.ErrConnClosed
	}

	opaque := atomic.AddUint32(&c.nextOpaque, 1)
	pkt.Opaque = opaque

	respCh := make(chan responseResult, 1)
	c.pending.Store(opaque, respCh)
	defer c.pending.Delete(opaque)

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	} else {
		// Clear any deadline left behind by an earlier send, it would fail
		// this write spuriously once it passes
		c.conn.SetWriteDeadline(time.Time{})
	}

	// Lock the connection only for writing
	c.writeMu.Lock()
	_, err := c.conn.Write(pkt.Encode())
	c.writeMu.Unlock()

	if err != nil {
		c.Close()
		return nil, &common.TransportError{Endpoint: c.endpoint, Inner: err}
	}

	select {
	case result := <-respCh:
		return result.pkt, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopCh:
		return nil, common.ErrConnClosed
	}
}

// Close shuts the connection down and fails every pending request. Safe to
// call multiple times and from any goroutine.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		c.conn.Close()
		c.failPending(common.ErrConnClosed)
	})
	return nil
}

// -----------------------------------------------------------
// Receive path
// -----------------------------------------------------------

// readResponses reads frames in a loop and distributes them to waiting
// requests by opaque id
func (c *Connection) readResponses() {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		pkt, err := memd.ReadPacket(c.conn)
		if err != nil {
			if !c.closed.Load() {
				log.Errorf("Read failed on %s: %v", c.endpoint, err)
			}
			c.failPendingAndClose(err)
			return
		}

		respCh, found := c.pending.Load(pkt.Opaque)
		if !found {
			// Response to a request that was cancelled or timed out
			log.Warningf("Received response for unknown opaque %d (opcode %s) on %s",
				pkt.Opaque, pkt.Opcode, c.endpoint)
			continue
		}
		respCh <- responseResult{pkt: pkt, err: nil}
	}
}

// failPendingAndClose transitions the connection to closed after an I/O
// failure, delivering the error to every waiter
func (c *Connection) failPendingAndClose(err error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		c.conn.Close()
		c.failPending(err)
	})
}

// failPending delivers a terminal error to all in-flight requests
func (c *Connection) failPending(err error) {
	wrapped := &common.TransportError{Endpoint: c.endpoint, Inner: err}
	c.pending.Range(func(opaque uint32, respCh chan responseResult) bool {
		select {
		case respCh <- responseResult{err: wrapped}:
		default:
		}
		return true
	})
}
