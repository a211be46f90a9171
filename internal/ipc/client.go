package ipc

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// ErrDaemonUnavailable reports that nothing is listening on the socket.
var ErrDaemonUnavailable = errors.New("picam daemon is not running")

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDaemonUnavailable, err)
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start recording.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call(serviceName+".Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop recording.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call(serviceName+".Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the pipeline status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call(serviceName+".Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Storage retrieves the latest storage observation.
func (c *Client) Storage() (*StorageResponse, error) {
	var resp StorageResponse
	if err := c.client.Call(serviceName+".Storage", StorageRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Indicator retrieves the LED signal.
func (c *Client) Indicator() (*IndicatorResponse, error) {
	var resp IndicatorResponse
	if err := c.client.Call(serviceName+".Indicator", IndicatorRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
