package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

var timeZero time.Time

// Client is a follower connection to a leader.
type Client struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// Dial connects to the leader at address.
func Dial(ctx context.Context, address string) (*Client, error) {
	netw, addr := network(address)
	var d net.Dialer
	conn, err := d.DialContext(ctx, netw, addr)
	if err != nil {
		return nil, fmt.Errorf("connect to leader at %s: %w", address, err)
	}
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64*1024),
	}, nil
}

// ID identifies this follower in leader logs.
func (c *Client) ID() string { return c.id }

// Send writes req and waits for the matching response.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req.Follower = c.id
	data, err := encodeLine(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(timeZero)
	}
	if _, err := c.conn.Write(data); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", req.Type, err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read reply to %s: %w", req.Type, err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode reply to %s: %w", req.Type, err)
	}
	if resp.Type == ErrorNotification {
		return resp, fmt.Errorf("leader: %s", resp.Error)
	}
	return resp, nil
}

// AddSubgraph registers a subgraph with the leader.
func (c *Client) AddSubgraph(ctx context.Context, sg Subgraph) (Response, error) {
	return c.Send(ctx, Request{Type: AddSubgraph, Subgraph: &sg})
}

// UpdateSubgraph sends a new schema for a subgraph.
func (c *Client) UpdateSubgraph(ctx context.Context, sg Subgraph) (Response, error) {
	return c.Send(ctx, Request{Type: UpdateSubgraph, Subgraph: &sg})
}

// RemoveSubgraph removes a subgraph from the leader's composition.
func (c *Client) RemoveSubgraph(ctx context.Context, name string) (Response, error) {
	return c.Send(ctx, Request{Type: RemoveSubgraph, Name: name})
}

// GetSubgraphs lists the leader's subgraphs.
func (c *Client) GetSubgraphs(ctx context.Context) ([]Subgraph, error) {
	resp, err := c.Send(ctx, Request{Type: GetSubgraphs})
	if err != nil {
		return nil, err
	}
	return resp.Subgraphs, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }
