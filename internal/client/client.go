// Package client submits image files to an ingestion server and tallies the
// acknowledgments.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/andresmejia3/pixelvault/internal/wire"
)

// ErrTransport marks failures of the connection itself. They end the run.
var ErrTransport = errors.New("transport failure")

// TransportError records which step of a submission failed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Config describes how to reach the server.
type Config struct {
	Addr         string
	MaxFrameSize uint32        // 0 disables the bound
	FrameTimeout time.Duration // 0 disables deadlines
	Ack          wire.AckCodec
}

// Client holds one connection. Submissions are strictly request then
// response, so a Client must not be shared between goroutines.
type Client struct {
	conn net.Conn
	cfg  Config
}

// Dial connects to cfg.Addr. A nil cfg.Ack selects the binary codec.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Ack == nil {
		cfg.Ack = wire.BinaryAck{}
	}
	d := net.Dialer{Timeout: cfg.FrameTimeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, &TransportError{Op: "dial " + cfg.Addr, Err: err}
	}
	return &Client{conn: conn, cfg: cfg}, nil
}

// MaxFrameSize is the largest payload the client will send.
func (c *Client) MaxFrameSize() uint32 { return c.cfg.MaxFrameSize }

// Submit sends payload as one frame and waits for its acknowledgment.
// An unrecognized acknowledgment returns StatusUnknown with an error
// wrapping wire.ErrUnknownAck; the connection remains usable.
func (c *Client) Submit(payload []byte) (wire.Status, error) {
	if err := c.deadline(); err != nil {
		return wire.StatusUnknown, &TransportError{Op: "set deadline", Err: err}
	}
	if err := wire.WriteFrame(c.conn, payload); err != nil {
		return wire.StatusUnknown, &TransportError{Op: "send frame", Err: err}
	}
	st, err := c.cfg.Ack.ReadAck(c.conn)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownAck) {
			return wire.StatusUnknown, err
		}
		return wire.StatusUnknown, &TransportError{Op: "read ack", Err: err}
	}
	return st, nil
}

// Close ends the session; the server sees a clean end of stream.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) deadline() error {
	if c.cfg.FrameTimeout <= 0 {
		return c.conn.SetDeadline(time.Time{})
	}
	return c.conn.SetDeadline(time.Now().Add(c.cfg.FrameTimeout))
}
