package transport

import (
	"bufio"
	"context"
	"net"
	"sync"

	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/go-i2p/go-msgrouter/lib/router"
	"github.com/samber/oops"
)

// Client speaks the frame protocol to a Server. Calls are serialized.
type Client struct {
	mu       sync.Mutex
	conn     net.Conn
	r        *bufio.Reader
	maxFrame int
}

// Dial connects to addr. A non-positive maxFrame selects
// DefaultMaxFrameSize.
func Dial(ctx context.Context, addr string, maxFrame int) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, oops.Wrapf(err, "dial %s", addr)
	}
	return NewClient(conn, maxFrame), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, maxFrame int) *Client {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Client{conn: conn, r: bufio.NewReader(conn), maxFrame: maxFrame}
}

// Submit sends one encoded envelope and returns the router's reason,
// ReasonNone when it was accepted.
func (c *Client) Submit(raw []byte) (router.Reason, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := WriteFrame(c.conn, FrameSubmit, raw); err != nil {
		return router.ReasonInternal, oops.Wrapf(err, "send submit")
	}
	return c.readStatus()
}

// SubmitEnvelope encodes e and submits it.
func (c *Client) SubmitEnvelope(e envelope.Envelope) (router.Reason, error) {
	raw, err := envelope.Encode(e)
	if err != nil {
		return router.ReasonMalformed, err
	}
	return c.Submit(raw)
}

// Fetch drains the relay queue of id on the server.
func (c *Client) Fetch(id identity.ExternalIdentity) ([]envelope.RelayMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := WriteFrame(c.conn, FrameHello, id.Bytes()); err != nil {
		return nil, oops.Wrapf(err, "send hello")
	}
	var out []envelope.RelayMessage
	for {
		f, err := ReadFrame(c.r, c.maxFrame)
		if err != nil {
			return out, oops.Wrapf(err, "read relay frame")
		}
		switch f.Type {
		case FrameRelay:
			m, err := envelope.DecodeRelay(f.Payload)
			if err != nil {
				return out, err
			}
			out = append(out, m)
		case FrameStatus:
			reason, err := statusReason(f)
			if err != nil {
				return out, err
			}
			if reason != router.ReasonNone {
				return out, oops.Errorf("fetch ended with status %s", reason)
			}
			return out, nil
		default:
			return out, oops.Wrapf(ErrUnknownFrameType, "%s", f.Type)
		}
	}
}

func (c *Client) readStatus() (router.Reason, error) {
	f, err := ReadFrame(c.r, c.maxFrame)
	if err != nil {
		return router.ReasonInternal, oops.Wrapf(err, "read status")
	}
	if f.Type != FrameStatus {
		return router.ReasonInternal, oops.Wrapf(ErrUnknownFrameType, "expected STATUS, got %s", f.Type)
	}
	return statusReason(f)
}

func statusReason(f Frame) (router.Reason, error) {
	if len(f.Payload) != 1 {
		return router.ReasonInternal, oops.Errorf("status frame carries %d bytes", len(f.Payload))
	}
	return router.Reason(f.Payload[0]), nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
