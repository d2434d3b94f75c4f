// Package bus connects the pipeline to a NATS broker: a thin client wrapper
// plus the command/event service.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// ClientConfig carries connection settings.
type ClientConfig struct {
	Servers        []string
	ConnectTimeout time.Duration
}

// Client wraps a NATS connection with minimal helpers.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect dials the configured servers.
func Connect(cfg ClientConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no bus servers configured")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url,
		nats.Name("morti"),
		nats.Timeout(cfg.ConnectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to bus: %w", err)
	}

	log.Info("connected to bus", slog.String("servers", url))

	return &Client{conn: conn, log: log}, nil
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing bus connection")
	c.conn.Drain()
	c.conn.Close()
}

// Healthy reports whether the connection is up.
func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// Conn exposes the underlying connection.
func (c *Client) Conn() *nats.Conn {
	return c.conn
}
