package natsbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Client is a connection to the embedded event stream. Swarm components
// publish lifecycle events through it and the web layer subscribes to
// mirror them to dashboard websockets.
type Client struct {
	conn *nats.Conn
}

// NewClient connects to the embedded server. Reconnects are unbounded
// so a publisher survives a server restart during tests.
func NewClient(srv *Bus) (*Client, error) {
	conn, err := nats.Connect(srv.ClientURL(),
		nats.Name("agora"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to event stream: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Publish(topic string, data []byte) error {
	return c.conn.Publish(topic, data)
}

// PublishJSON marshals v and publishes it on topic. Events on the
// swarm topics are always JSON objects.
func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return c.conn.Publish(topic, data)
}

func (c *Client) Subscribe(topic string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(topic, handler)
}

// Flush blocks until all published events have reached the server.
// Tests use it to make event assertions deterministic.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}
