// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/frontdesk/lib/codec"
)

// ActionFunc processes a unary socket request. The raw parameter is the
// full CBOR request, including the "action" field; the handler decodes
// its own fields from it.
//
// A nil result produces {ok: true}. A non-nil result is marshaled into
// the response's "data" field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// StreamFunc serves a streaming action. It writes frames with
// [StreamConn.Send] until it returns. ctx is cancelled when the client
// disconnects or the server shuts down.
//
// An error returned before the first Send is reported to the client as
// a failure [Response]; after that it is only logged.
type StreamFunc func(ctx context.Context, raw []byte, stream *StreamConn) error

// StreamConn is the server side of an accepted streaming connection.
// The first Send is preceded by an {ok: true} [Response] so clients can
// tell acceptance from rejection.
type StreamConn struct {
	conn    net.Conn
	encoder *codec.Encoder
	started bool
}

// Send writes one CBOR frame. A client that stops reading makes Send
// fail after the write timeout.
func (c *StreamConn) Send(frame any) error {
	if !c.started {
		if err := c.accept(); err != nil {
			return err
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.encoder.Encode(frame)
}

func (c *StreamConn) accept() error {
	c.started = true
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.encoder.Encode(Response{OK: true})
}

// Response is the wire envelope for unary responses.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Kind  string           `cbor:"kind,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// Kinds produced by the server itself.
const (
	KindBadRequest    = "bad_request"
	KindUnknownAction = "unknown_action"
	KindInternal      = "internal"
)

// SocketServer serves the CBOR protocol on a Unix socket. Register
// actions with Handle and HandleStream before calling Serve.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	streams    map[string]StreamFunc
	classify   func(error) string
	logger     *slog.Logger

	// activeConnections lets Serve wait for in-flight handlers.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server that will listen on socketPath.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		streams:    make(map[string]StreamFunc),
		logger:     logger,
	}
}

// Handle registers a unary handler. Panics if the action is already
// registered.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	s.checkDuplicate(action)
	s.handlers[action] = handler
}

// HandleStream registers a streaming handler. Panics if the action is
// already registered.
func (s *SocketServer) HandleStream(action string, handler StreamFunc) {
	s.checkDuplicate(action)
	s.streams[action] = handler
}

func (s *SocketServer) checkDuplicate(action string) {
	_, unary := s.handlers[action]
	_, stream := s.streams[action]
	if unary || stream {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
}

// ClassifyErrors installs the function that maps handler errors to a
// response Kind. Without one, handler failures have no kind.
func (s *SocketServer) ClassifyErrors(classify func(error) string) {
	s.classify = classify
}

// Serve accepts connections until ctx is cancelled, then waits for
// active handlers to return. A stale socket file at the path is
// removed first; the socket file is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("socket server listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout is how long we wait for the client to send its request.
const readTimeout = 30 * time.Second

// writeTimeout bounds writing a unary response.
const writeTimeout = 10 * time.Second

// maxRequestSize is the maximum size of a single CBOR request.
const maxRequestSize = 1024 * 1024

func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err), KindBadRequest)
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err), KindBadRequest)
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action", KindBadRequest)
		return
	}

	if stream, ok := s.streams[header.Action]; ok {
		s.serveStream(ctx, header.Action, raw, conn, stream)
		return
	}

	handler, ok := s.handlers[header.Action]
	if !ok {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action), KindUnknownAction)
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		s.writeError(conn, err.Error(), s.kindOf(err))
		return
	}

	s.writeSuccess(conn, result)
}

func (s *SocketServer) serveStream(ctx context.Context, action string, raw []byte, conn net.Conn, handler StreamFunc) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Clients never write after the request, so any read completing
	// means the peer went away.
	conn.SetReadDeadline(time.Time{})
	go func() {
		io.Copy(io.Discard, conn)
		cancel()
	}()

	// Unblock a Send stuck on a full socket buffer at shutdown.
	stop := context.AfterFunc(streamCtx, func() {
		conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	stream := &StreamConn{conn: conn, encoder: codec.NewEncoder(conn)}
	err := handler(streamCtx, raw, stream)
	switch {
	case err != nil && !stream.started:
		s.logger.Debug("stream rejected", "action", action, "error", err)
		s.writeError(conn, err.Error(), s.kindOf(err))
	case err != nil:
		s.logger.Debug("stream ended", "action", action, "error", err)
	case !stream.started:
		if err := stream.accept(); err != nil {
			s.logger.Debug("failed to write stream acceptance", "error", err)
		}
	}
}

func (s *SocketServer) kindOf(err error) string {
	if s.classify == nil {
		return ""
	}
	return s.classify(err)
}

// writeError sends {ok: false, error, kind}. Write failures are logged
// at debug level since the connection is closing anyway.
func (s *SocketServer) writeError(conn net.Conn, message, kind string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{
		OK:    false,
		Error: message,
		Kind:  kind,
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("marshaling response: %v", err), KindInternal)
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
