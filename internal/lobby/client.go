package lobby

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// Hard cap on queued frames. A client this far behind is dead
	// weight and gets disconnected immediately.
	sendQueueFrames = 4096

	defaultWriteTimeout = 10 * time.Second
)

// Client owns the network side of one connection: the TCP socket and
// a dedicated writer goroutine draining a frame queue. All lobby state
// lives in the Session; the Client only moves bytes.
type Client struct {
	conn net.Conn
	ip   string

	sendCh    chan []byte
	closeCh   chan struct{}
	drainCh   chan struct{}
	closeOnce sync.Once

	// queuedBytes tracks the backlog for the flood sweep.
	queuedBytes atomic.Int64
	drainClose  atomic.Bool

	writeTimeout time.Duration
}

// NewClient wraps an accepted connection.
func NewClient(conn net.Conn) (*Client, error) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil, fmt.Errorf("splitting host port: %w", err)
	}
	return &Client{
		conn:         conn,
		ip:           host,
		sendCh:       make(chan []byte, sendQueueFrames),
		closeCh:      make(chan struct{}),
		drainCh:      make(chan struct{}, 1),
		writeTimeout: defaultWriteTimeout,
	}, nil
}

// IP returns the client's remote address, possibly rewritten for
// trusted proxies before the Session is created.
func (c *Client) IP() string { return c.ip }

// SetIP overrides the observed address (trusted proxy rewrite).
func (c *Client) SetIP(ip string) { c.ip = ip }

// QueuedBytes reports the current send backlog.
func (c *Client) QueuedBytes() int64 { return c.queuedBytes.Load() }

// Send queues one protocol line for async delivery, appending the
// newline. Non-blocking: a full queue means the client stopped reading
// long ago, so it is disconnected on the spot.
func (c *Client) Send(line string) {
	select {
	case <-c.closeCh:
		return
	default:
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	select {
	case c.sendCh <- buf:
		c.queuedBytes.Add(int64(len(buf)))
	default:
		slog.Warn("send queue full, disconnecting client", "client", c.ip)
		c.Close()
	}
}

// writePump is the dedicated writer goroutine for this client. It
// batches queued frames into a single writev call via net.Buffers.
func (c *Client) writePump() {
	bufs := make(net.Buffers, 0, 64)

	for {
		select {
		case <-c.closeCh:
			return

		case frame := <-c.sendCh:
			bufs = bufs[:0]
			bufs = append(bufs, frame)
			total := len(frame)
			for queued := len(c.sendCh); queued > 0; queued-- {
				f := <-c.sendCh
				bufs = append(bufs, f)
				total += len(f)
			}

			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.Close()
				return
			}
			_, err := bufs.WriteTo(c.conn)
			c.queuedBytes.Add(int64(-total))
			if err != nil {
				slog.Debug("write failed", "client", c.ip, "error", err)
				c.Close()
				return
			}

			if c.drainClose.Load() && len(c.sendCh) == 0 {
				c.Close()
				return
			}

		case <-c.drainCh:
			if len(c.sendCh) == 0 {
				c.Close()
				return
			}
		}
	}
}

// CloseWhenDrained lets already-queued frames flush, then closes the
// connection. Used for kicks where the reason line must still go out.
func (c *Client) CloseWhenDrained() {
	c.drainClose.Store(true)
	select {
	case c.drainCh <- struct{}{}:
	default:
	}
}

// Close tears the connection down and stops the writePump. Safe to
// call multiple times; the blocked reader unblocks via the conn close.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.conn.Close()
	})
}
