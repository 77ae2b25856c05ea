package program

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is the engine side of the program callback channel.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a program host at addr (the value passed with --client).
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to program host: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Run asks the host to run its program.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp := new(RunResponse)
	if err := c.conn.Invoke(ctx, RunMethod, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
