// ABOUTME: Client used by front-end adapters and the CLI to submit one message per connection
// ABOUTME: Writes a frame, half-closes, and reads the reply until the broker closes

package wire

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

const defaultClientTimeout = 2 * time.Minute

// DialFunc opens a connection to addr.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Client sends frames to a broker.
type Client struct {
	Addr string
	// Timeout bounds the whole exchange when ctx has no earlier deadline.
	Timeout time.Duration
	// MaxReply bounds the reply size; zero means DefaultMaxFrame * 4.
	MaxReply int64
	// Dial overrides the dialer, e.g. to reach the broker over tsnet.
	Dial DialFunc
}

// NewClient creates a client for addr.
func NewClient(addr string) *Client {
	return &Client{Addr: addr, Timeout: defaultClientTimeout}
}

// Send submits text on behalf of sender and returns the broker's reply.
func (c *Client) Send(ctx context.Context, sender, text string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := c.Dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", c.Addr)
	if err != nil {
		return "", fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(Encode(sender, text)); err != nil {
		return "", fmt.Errorf("write frame: %w", err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	limit := c.MaxReply
	if limit <= 0 {
		limit = DefaultMaxFrame * 4
	}
	reply, err := io.ReadAll(io.LimitReader(conn, limit))
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return string(reply), nil
}
