// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/frontdesk/lib/codec"
)

// dialTimeout bounds connecting to the socket.
const dialTimeout = 5 * time.Second

// responseReadTimeout bounds waiting for a unary response. It covers
// a handler waiting on a contended service lock.
const responseReadTimeout = 45 * time.Second

// maxResponseSize is the maximum size of a single CBOR response.
const maxResponseSize = 1024 * 1024

// ServiceError is a failure reported by the server, as opposed to a
// transport failure.
type ServiceError struct {
	Action  string
	Message string

	// Kind is the server's classification of the failure, empty when
	// the server has none.
	Kind string
}

func (e *ServiceError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("service error on %q (%s): %s", e.Action, e.Kind, e.Message)
	}
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// Client calls actions on a frontdesk socket. It holds no connection;
// every call dials. Safe for concurrent use.
type Client struct {
	socketPath string
}

// NewClient returns a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Call sends one request and decodes the response data into result.
// fields become top-level keys of the request next to "action". A nil
// result discards the data. Server-side failures return *ServiceError.
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(buildRequest(action, fields)); err != nil {
		return fmt.Errorf("calling %q: writing request: %w", action, err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return fmt.Errorf("calling %q: reading response: %w", action, err)
	}
	if !response.OK {
		return &ServiceError{Action: action, Message: response.Error, Kind: response.Kind}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// Stream opens a streaming action. It returns once the server has
// accepted or rejected the request; a rejection is a *ServiceError.
// Cancelling ctx closes the stream.
func (c *Client) Stream(ctx context.Context, action string, fields map[string]any) (*Stream, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("streaming %q on %s: %w", action, c.socketPath, err)
	}

	if err := codec.NewEncoder(conn).Encode(buildRequest(action, fields)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("streaming %q: writing request: %w", action, err)
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	decoder := codec.NewDecoder(conn)
	var response Response
	if err := decoder.Decode(&response); err != nil {
		conn.Close()
		return nil, fmt.Errorf("streaming %q: reading acceptance: %w", action, err)
	}
	if !response.OK {
		conn.Close()
		return nil, &ServiceError{Action: action, Message: response.Error, Kind: response.Kind}
	}
	conn.SetReadDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	return &Stream{conn: conn, decoder: decoder, stop: stop}, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return conn, nil
}

func buildRequest(action string, fields map[string]any) map[string]any {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action
	return request
}

// Stream is the client side of a streaming action.
type Stream struct {
	conn    net.Conn
	decoder *codec.Decoder
	stop    func() bool
}

// Next decodes the next frame into v. It returns io.EOF when the
// server ends the stream.
func (s *Stream) Next(v any) error {
	return s.decoder.Decode(v)
}

// Close ends the stream. The server notices the disconnect and stops
// its handler.
func (s *Stream) Close() error {
	s.stop()
	return s.conn.Close()
}
