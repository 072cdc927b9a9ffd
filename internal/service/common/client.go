//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/oshokin/ota-installer/internal/config"
	"github.com/oshokin/ota-installer/internal/domain/ota"
	"github.com/oshokin/ota-installer/internal/wire"
)

// Client wraps the gRPC UpdateService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the update daemon.
	conn *grpc.ClientConn
	// api is the UpdateService client.
	api *wire.UpdateServiceClient

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
	// actor identifies the caller in daemon logs.
	actor string
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor sends actor with every call.
func WithActor(actor string) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errPathRequired is returned when a package path is not provided.
	errPathRequired = errors.New("package path must be provided")
)

// Dial establishes a gRPC connection to the update daemon.
// Note: this uses insecure transport credentials; the daemon is expected
// to listen on loopback or a trusted network.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	// Use the non-context NewClient API recommended by grpc-go
	// (DialContext is deprecated as of grpc-go v1.60+).
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial update daemon: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         wire.NewUpdateServiceClient(conn),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// StartUpdate asks the daemon to install the package at path.
// size is the declared payload size; nil leaves it undeclared.
func (c *Client) StartUpdate(ctx context.Context, path string, size *uint64) (*ota.Status, error) {
	if path == "" {
		return nil, errPathRequired
	}

	request, err := wire.StartRequestToProto(&wire.StartRequest{Path: path, Size: size})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.StartUpdate(callCtx, request)
	if err != nil {
		return nil, fmt.Errorf("start update: %w", err)
	}

	return wire.StatusFromProto(response)
}

// GetStatus retrieves the latest install status.
func (c *Client) GetStatus(ctx context.Context) (*ota.Status, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.GetStatus(callCtx)
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	return wire.StatusFromProto(response)
}

// CancelUpdate cancels the running decrypt job.
func (c *Client) CancelUpdate(ctx context.Context) (*ota.Status, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.CancelUpdate(callCtx)
	if err != nil {
		return nil, fmt.Errorf("cancel update: %w", err)
	}

	return wire.StatusFromProto(response)
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline. The actor, when
// set, travels as request metadata.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.actor != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, wire.ActorMetadataKey, c.actor)
	}

	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
