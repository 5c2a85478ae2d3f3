// Package client talks to a running stompguard admin service.
package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pixperk/stompguard/pkg/introspect"
	"github.com/pixperk/stompguard/pkg/server"
)

type Client struct {
	addr string
	conn *grpc.ClientConn
}

// NewClient connects lazily; the first call dials. Extra options are
// appended after the insecure transport credentials.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Client{addr: addr, conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) ListLocks(ctx context.Context) (introspect.LocksReport, error) {
	var report introspect.LocksReport
	err := c.call(ctx, server.MethodListLocks, &emptypb.Empty{}, &report)
	return report, err
}

func (c *Client) ContentionStats(ctx context.Context) (introspect.ContentionReport, error) {
	var report introspect.ContentionReport
	err := c.call(ctx, server.MethodContentionStats, &emptypb.Empty{}, &report)
	return report, err
}

func (c *Client) Policies(ctx context.Context) (introspect.PoliciesReport, error) {
	var report introspect.PoliciesReport
	err := c.call(ctx, server.MethodPolicies, &emptypb.Empty{}, &report)
	return report, err
}

func (c *Client) ResolveKey(ctx context.Context, class, scope string) (introspect.KeyView, error) {
	req, err := structpb.NewStruct(map[string]any{"class": class, "scope": scope})
	if err != nil {
		return introspect.KeyView{}, err
	}

	var view introspect.KeyView
	err = c.call(ctx, server.MethodResolveKey, req, &view)
	return view, err
}

// Healthy reports whether the admin service is serving.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: server.ServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func (c *Client) call(ctx context.Context, method string, in any, out any) error {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, resp); err != nil {
		return err
	}
	if err := introspect.FromStruct(resp, out); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	return nil
}
