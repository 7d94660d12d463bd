package tracker

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type Client struct {
	masterAddr string
	conn       *grpc.ClientConn
}

// Dial creates a client for the master at addr. The connection is lazy.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial master %s: %w", addr, err)
	}
	return &Client{masterAddr: addr, conn: conn}, nil
}

func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	in, err := req.ToStruct()
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, heartbeatMethod, in, new(emptypb.Empty))
}

// Assign asks the master which node in group should take the next write.
func (c *Client) Assign(ctx context.Context, group string) (Assignment, error) {
	in, err := assignRequest(group)
	if err != nil {
		return Assignment{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, assignMethod, in, out); err != nil {
		return Assignment{}, err
	}
	return AssignmentFromStruct(out)
}

// Locate finds a node in group serving volume.
func (c *Client) Locate(ctx context.Context, group, volume string) (Assignment, error) {
	in, err := locateRequest(group, volume)
	if err != nil {
		return Assignment{}, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, locateMethod, in, out); err != nil {
		return Assignment{}, err
	}
	return AssignmentFromStruct(out)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
