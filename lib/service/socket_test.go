// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/frontdesk/lib/codec"
	"github.com/bureau-foundation/frontdesk/lib/testutil"
)

var errTestQueueEmpty = errors.New("queue is empty")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(testutil.SocketDir(t), "frontdesk.sock")
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if t.Context().Err() != nil {
			t.Fatalf("socket %s did not appear before test context expired", path)
		}
		runtime.Gosched()
	}
}

// startServer runs server until the test ends and returns a function
// that stops it and waits for Serve to return.
func startServer(t *testing.T, server *SocketServer, socketPath string) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(ctx); err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	}()
	waitForSocket(t, socketPath)
	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
	t.Cleanup(stop)
	return stop
}

// sendRaw writes request on a fresh connection and decodes the reply.
func sendRaw(t *testing.T, socketPath string, request any) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to socket: %v", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		t.Fatalf("writing request: %v", err)
	}
	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return response
}

func TestSocketServerRoundTrip(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("join", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			StudentID string `cbor:"student_id"`
			ServiceID string `cbor:"service_id"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return map[string]any{
			"ticket": request.ServiceID + "/" + request.StudentID,
			"rank":   1,
		}, nil
	})
	startServer(t, server, socketPath)

	var result struct {
		Ticket string `cbor:"ticket"`
		Rank   int    `cbor:"rank"`
	}
	err := NewClient(socketPath).Call(context.Background(), "join", map[string]any{
		"student_id": "s-1",
		"service_id": "registrar",
	}, &result)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Ticket != "registrar/s-1" || result.Rank != 1 {
		t.Errorf("result = %+v, want ticket registrar/s-1 rank 1", result)
	}
}

func TestSocketServerNilResult(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("leave", func(context.Context, []byte) (any, error) {
		return nil, nil
	})
	startServer(t, server, socketPath)

	response := sendRaw(t, socketPath, map[string]any{"action": "leave"})
	if !response.OK {
		t.Fatalf("ok = false, error %q", response.Error)
	}
	if len(response.Data) != 0 {
		t.Errorf("data = %x, want none", []byte(response.Data))
	}
}

func TestSocketServerProtocolErrors(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("status", func(context.Context, []byte) (any, error) {
		return "up", nil
	})
	startServer(t, server, socketPath)

	tests := []struct {
		name     string
		request  any
		wantKind string
	}{
		{"unknown action", map[string]any{"action": "teleport"}, KindUnknownAction},
		{"missing action", map[string]any{"student_id": "s-1"}, KindBadRequest},
		{"not a map", []int{1, 2, 3}, KindBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response := sendRaw(t, socketPath, tt.request)
			if response.OK {
				t.Fatal("ok = true, want false")
			}
			if response.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", response.Kind, tt.wantKind)
			}
			if response.Error == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestSocketServerClassifiesHandlerErrors(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.ClassifyErrors(func(err error) string {
		if errors.Is(err, errTestQueueEmpty) {
			return "queue_empty"
		}
		return "internal"
	})
	server.Handle("call-next", func(context.Context, []byte) (any, error) {
		return nil, errTestQueueEmpty
	})
	startServer(t, server, socketPath)

	err := NewClient(socketPath).Call(context.Background(), "call-next", nil, nil)
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("Call error = %v, want *ServiceError", err)
	}
	if serviceError.Kind != "queue_empty" {
		t.Errorf("Kind = %q, want queue_empty", serviceError.Kind)
	}
	if serviceError.Message != errTestQueueEmpty.Error() {
		t.Errorf("Message = %q, want %q", serviceError.Message, errTestQueueEmpty.Error())
	}
	if serviceError.Action != "call-next" {
		t.Errorf("Action = %q, want call-next", serviceError.Action)
	}
}

func TestSocketServerWithoutClassifierHasNoKind(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("fail", func(context.Context, []byte) (any, error) {
		return nil, errors.New("boom")
	})
	startServer(t, server, socketPath)

	response := sendRaw(t, socketPath, map[string]any{"action": "fail"})
	if response.OK || response.Kind != "" || response.Error != "boom" {
		t.Errorf("response = %+v, want ok=false kind=\"\" error=boom", response)
	}
}

func TestSocketServerDuplicateHandlerPanics(t *testing.T) {
	tests := []struct {
		name     string
		register func(*SocketServer)
	}{
		{"unary twice", func(s *SocketServer) {
			s.Handle("status", func(context.Context, []byte) (any, error) { return nil, nil })
		}},
		{"stream over unary", func(s *SocketServer) {
			s.HandleStream("status", func(context.Context, []byte, *StreamConn) error { return nil })
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewSocketServer(testSocketPath(t), nil)
			server.Handle("status", func(context.Context, []byte) (any, error) { return nil, nil })
			defer func() {
				if recover() == nil {
					t.Error("second registration did not panic")
				}
			}()
			tt.register(server)
		})
	}
}

func TestSocketServerConcurrentRequests(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Value int `cbor:"value"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return request.Value, nil
	})
	startServer(t, server, socketPath)

	client := NewClient(socketPath)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got int
			if err := client.Call(context.Background(), "echo", map[string]any{"value": i}, &got); err != nil {
				t.Errorf("Call(%d): %v", i, err)
				return
			}
			if got != i {
				t.Errorf("echo(%d) = %d", i, got)
			}
		}()
	}
	wg.Wait()
}

func TestSocketServerStream(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.HandleStream("subscribe", func(ctx context.Context, raw []byte, stream *StreamConn) error {
		var request struct {
			ServiceID string `cbor:"service_id"`
		}
		if err := codec.Unmarshal(raw, &request); err != nil {
			return err
		}
		for i := range 3 {
			if err := stream.Send(map[string]any{"sequence": i, "service_id": request.ServiceID}); err != nil {
				return err
			}
		}
		return nil
	})
	startServer(t, server, socketPath)

	stream, err := NewClient(socketPath).Stream(context.Background(), "subscribe", map[string]any{
		"service_id": "registrar",
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	for i := range 3 {
		var frame struct {
			Sequence  int    `cbor:"sequence"`
			ServiceID string `cbor:"service_id"`
		}
		if err := stream.Next(&frame); err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if frame.Sequence != i || frame.ServiceID != "registrar" {
			t.Errorf("frame %d = %+v", i, frame)
		}
	}
	var extra map[string]any
	if err := stream.Next(&extra); !errors.Is(err, io.EOF) {
		t.Errorf("Next after end = %v, want io.EOF", err)
	}
}

func TestSocketServerStreamRejected(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.ClassifyErrors(func(error) string { return "service_unavailable" })
	server.HandleStream("subscribe", func(context.Context, []byte, *StreamConn) error {
		return errors.New("service closed")
	})
	startServer(t, server, socketPath)

	_, err := NewClient(socketPath).Stream(context.Background(), "subscribe", nil)
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("Stream error = %v, want *ServiceError", err)
	}
	if serviceError.Kind != "service_unavailable" || serviceError.Message != "service closed" {
		t.Errorf("ServiceError = %+v", serviceError)
	}
}

func TestSocketServerStreamAcceptedWithoutFrames(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.HandleStream("subscribe", func(context.Context, []byte, *StreamConn) error {
		return nil
	})
	startServer(t, server, socketPath)

	stream, err := NewClient(socketPath).Stream(context.Background(), "subscribe", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()
	var frame map[string]any
	if err := stream.Next(&frame); !errors.Is(err, io.EOF) {
		t.Errorf("Next = %v, want io.EOF", err)
	}
}

func TestSocketServerStreamEndsOnClientClose(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	handlerDone := make(chan struct{})
	server.HandleStream("subscribe", func(ctx context.Context, raw []byte, stream *StreamConn) error {
		defer close(handlerDone)
		if err := stream.Send("hello"); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	})
	startServer(t, server, socketPath)

	stream, err := NewClient(socketPath).Stream(context.Background(), "subscribe", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var greeting string
	if err := stream.Next(&greeting); err != nil {
		t.Fatalf("Next: %v", err)
	}
	stream.Close()

	testutil.RequireClosed(t, handlerDone, 5*time.Second, "stream handler did not stop after client closed")
}

func TestSocketServerStreamEndsOnShutdown(t *testing.T) {
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger())
	server.HandleStream("subscribe", func(ctx context.Context, raw []byte, stream *StreamConn) error {
		if err := stream.Send("hello"); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
	stop := startServer(t, server, socketPath)

	stream, err := NewClient(socketPath).Stream(context.Background(), "subscribe", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()
	var greeting string
	if err := stream.Next(&greeting); err != nil {
		t.Fatalf("Next: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()
	testutil.RequireClosed(t, stopped, 5*time.Second, "Serve did not return with an open stream")

	var frame any
	if err := stream.Next(&frame); err == nil {
		t.Error("Next after shutdown succeeded, want error")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket file still present after shutdown: %v", err)
	}
}

func TestSocketServerRemovesStaleSocket(t *testing.T) {
	socketPath := testSocketPath(t)
	if err := os.WriteFile(socketPath, []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}
	server := NewSocketServer(socketPath, testLogger())
	server.Handle("status", func(context.Context, []byte) (any, error) { return "up", nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(ctx) }()

	var status string
	client := NewClient(socketPath)
	for {
		err := client.Call(ctx, "status", nil, &status)
		if err == nil {
			break
		}
		if t.Context().Err() != nil {
			t.Fatalf("server never answered: %v", err)
		}
		runtime.Gosched()
	}
	if status != "up" {
		t.Errorf("status = %q, want up", status)
	}
	cancel()
	if err := testutil.RequireReceive(t, serveDone, 5*time.Second); err != nil {
		t.Errorf("Serve: %v", err)
	}
}
