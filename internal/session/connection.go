// ABOUTME: Connection wraps one chat socket with a blocking reader and a queued writer
// ABOUTME: The outbound queue is FIFO and non-blocking; a full queue disconnects the peer

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/2389/petchat-gateway/internal/protocol"
)

const (
	// DefaultQueueSize is the outbound queue capacity when none is configured.
	DefaultQueueSize = 256

	// DefaultWriteTimeout bounds a single socket write.
	DefaultWriteTimeout = 10 * time.Second
)

// ErrQueueFull is returned by Enqueue when the peer is not keeping up.
// The connection is closed as a side effect.
var ErrQueueFull = errors.New("outbound queue full")

// ConnectionParams holds the parameters for creating a new Connection.
type ConnectionParams struct {
	Conn         net.Conn
	MaxFrameSize uint32
	QueueSize    int
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Connection owns a client socket. ReadEnvelope must only be called from one
// goroutine; Enqueue, Send and Close are safe for concurrent use.
type Connection struct {
	conn         net.Conn
	maxFrameSize uint32
	writeTimeout time.Duration
	outbound     chan []byte
	done         chan struct{}
	draining     chan struct{}
	writerDone   chan struct{}
	closeOnce    sync.Once
	drainOnce    sync.Once
	logger       *slog.Logger
}

// NewConnection wraps conn and starts its writer goroutine.
func NewConnection(p ConnectionParams) *Connection {
	if p.QueueSize <= 0 {
		p.QueueSize = DefaultQueueSize
	}
	if p.WriteTimeout <= 0 {
		p.WriteTimeout = DefaultWriteTimeout
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}

	c := &Connection{
		conn:         p.Conn,
		maxFrameSize: p.MaxFrameSize,
		writeTimeout: p.WriteTimeout,
		outbound:     make(chan []byte, p.QueueSize),
		done:         make(chan struct{}),
		draining:     make(chan struct{}),
		writerDone:   make(chan struct{}),
		logger:       p.Logger.With("remote_addr", p.Conn.RemoteAddr().String()),
	}
	go c.writeLoop()
	return c
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// SetReadDeadline bounds the next ReadEnvelope call. A zero value clears it.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// ReadEnvelope blocks until one frame arrives and decodes it.
// Errors wrap protocol.ErrConnectionClosed or protocol.ErrProtocol.
func (c *Connection) ReadEnvelope() (protocol.Envelope, error) {
	payload, err := protocol.ReadFrame(c.conn, c.maxFrameSize)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.DecodeEnvelope(payload)
}

// Enqueue queues an already encoded frame for writing without blocking.
func (c *Connection) Enqueue(frame []byte) error {
	select {
	case <-c.done:
		return protocol.ErrConnectionClosed
	default:
	}

	select {
	case c.outbound <- frame:
		return nil
	default:
		c.logger.Warn("slow consumer, closing connection", "queue_size", cap(c.outbound))
		_ = c.Close()
		return ErrQueueFull
	}
}

// Send encodes env and queues it.
func (c *Connection) Send(env protocol.Envelope) error {
	payload, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return c.Enqueue(protocol.Encode(payload))
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close tears the socket down immediately. Queued frames are discarded.
// It is safe to call multiple times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// CloseAfterFlush writes every frame queued so far and then closes the
// socket. Each write is still bounded by the write timeout.
func (c *Connection) CloseAfterFlush() {
	c.drainOnce.Do(func() {
		close(c.draining)
	})
}

// Wait blocks until the writer goroutine has exited.
func (c *Connection) Wait() {
	<-c.writerDone
}

func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outbound:
			if err := c.write(frame); err != nil {
				c.logger.Debug("write failed", "error", err)
				_ = c.Close()
				return
			}
		case <-c.draining:
			c.flush()
			_ = c.Close()
			return
		}
	}
}

// flush writes whatever is currently queued.
func (c *Connection) flush() {
	for {
		select {
		case frame := <-c.outbound:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(frame []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrConnectionClosed, err)
	}
	return nil
}
