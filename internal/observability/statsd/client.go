// Package statsd is a minimal StatsD client over UDP. Metric emission is
// best-effort: a lost datagram or closed socket never fails the caller.
package statsd

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Options configure a Client.
type Options struct {
	// Address is the UDP host:port of the StatsD sink. Empty disables emission.
	Address string
	// Prefix is prepended to every metric name.
	Prefix string
	Logger *slog.Logger
}

// Client emits StatsD metrics. The zero value and a nil *Client are safe
// no-ops, so callers never need to branch on whether metrics are enabled.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	prefix string
	logger *slog.Logger
}

// New creates a Client. With an empty address it returns a disabled client.
func New(opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Client{prefix: strings.TrimSuffix(opts.Prefix, "."), logger: opts.Logger}
	if strings.TrimSpace(opts.Address) == "" {
		return c, nil
	}
	conn, err := net.Dial("udp", opts.Address)
	if err != nil {
		return nil, fmt.Errorf("dial statsd %s: %w", opts.Address, err)
	}
	c.conn = conn
	return c, nil
}

// Increment adds 1 to a counter.
func (c *Client) Increment(name string) {
	c.Count(name, 1)
}

// Count adds n to a counter.
func (c *Client) Count(name string, n int64) {
	if c == nil {
		return
	}
	c.send(fmt.Sprintf("%s:%d|c", c.metricName(name), n))
}

// Gauge sets a gauge to the given value.
func (c *Client) Gauge(name string, value int64) {
	if c == nil {
		return
	}
	c.send(fmt.Sprintf("%s:%d|g", c.metricName(name), value))
}

// Timing records a duration in milliseconds.
func (c *Client) Timing(name string, d time.Duration) {
	if c == nil {
		return
	}
	c.send(fmt.Sprintf("%s:%d|ms", c.metricName(name), d.Milliseconds()))
}

// Close releases the socket. Safe on a disabled client.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) metricName(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + "." + name
}

func (c *Client) send(payload string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if _, err := c.conn.Write([]byte(payload)); err != nil {
		c.logger.Debug("statsd write failed", "error", err)
	}
}
