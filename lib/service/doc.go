// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the transport plumbing shared by frontdesk
// binaries: a CBOR request-response server on a Unix socket, the
// matching client, an HTTP server with graceful shutdown for the
// metrics endpoint, and the standard process logger.
//
// # Socket protocol
//
// A client connects, writes one CBOR map carrying an "action" key plus
// action-specific fields, and reads one [Response]. Unary actions then
// close the connection. Streaming actions registered with
// [SocketServer.HandleStream] keep the connection and write a sequence
// of CBOR values until the client disconnects or the server shuts down.
//
// Failures carry a machine-readable Kind alongside the message so
// clients can branch without parsing text. The kind comes from the
// classifier installed with [SocketServer.ClassifyErrors].
package service
