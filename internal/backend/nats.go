package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Requester is the subset of *nats.Conn used for request/reply delivery.
type Requester interface {
	RequestWithContext(ctx context.Context, subject string, data []byte) (*nats.Msg, error)
}

// NATSClient delivers actions as NATS requests on <prefix>.<type>.
type NATSClient struct {
	conn    *nats.Conn
	req     Requester
	prefix  string
	timeout time.Duration
}

type natsReply struct {
	OK    *bool  `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

// DialNATS connects to url and returns a client publishing under prefix.
func DialNATS(url, prefix string, timeout time.Duration) (*NATSClient, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("nats url is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	conn, err := nats.Connect(url,
		nats.Name("fleetsync"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.Timeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	client := NewNATSClient(conn, prefix, timeout)
	client.conn = conn
	return client, nil
}

// NewNATSClient wraps an existing requester.
func NewNATSClient(req Requester, prefix string, timeout time.Duration) *NATSClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "fleet.actions"
	}
	return &NATSClient{req: req, prefix: prefix, timeout: timeout}
}

// Subject returns the subject an action type is delivered on.
func (c *NATSClient) Subject(actionType string) string {
	return c.prefix + "." + actionType
}

// Send requests delivery of payload and waits for the acknowledgement.
func (c *NATSClient) Send(ctx context.Context, actionType string, payload json.RawMessage) error {
	if !IsKnownType(actionType) {
		return fmt.Errorf("%w %q", ErrUnknownType, actionType)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.req.RequestWithContext(reqCtx, c.Subject(actionType), payload)
	if err != nil {
		return fmt.Errorf("send %s: %w", actionType, err)
	}
	if err := decodeReply(msg.Data); err != nil {
		return fmt.Errorf("send %s: %w", actionType, err)
	}
	return nil
}

// Ping reports the connection state. Clients built around a bare Requester
// are assumed reachable.
func (c *NATSClient) Ping(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	if !c.conn.IsConnected() {
		return fmt.Errorf("nats connection %s", c.conn.Status())
	}
	return c.conn.FlushWithContext(ctx)
}

// Close drains the underlying connection when the client owns it.
func (c *NATSClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Drain()
}

// decodeReply treats an empty or non-JSON reply as an acknowledgement and
// rejects {"error": "..."} or {"ok": false}.
func decodeReply(data []byte) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	var reply natsReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil
	}
	if reply.Error != "" {
		return fmt.Errorf("backend rejected action: %s", reply.Error)
	}
	if reply.OK != nil && !*reply.OK {
		return errors.New("backend rejected action")
	}
	return nil
}
