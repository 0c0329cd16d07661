package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// ErrRemote wraps an error reported by the daemon.
var ErrRemote = errors.New("ipc: daemon error")

// Client sends requests to a daemon socket.
type Client struct {
	Path string
}

// Call sends req and returns the daemon's response. A response carrying an
// error is returned together with an error wrapping ErrRemote.
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.Path)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: connect %s: %w (is `twinbud run` running?)", c.Path, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("ipc: send request: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("ipc: read response: %w", err)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	return resp, nil
}
