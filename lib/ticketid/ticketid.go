// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ticketid generates short, collision-checked ticket IDs.
//
// An ID is a prefix, a dash, and the shortest hex prefix (at least
// [MinLength] characters) of a keyed BLAKE3 digest that is not already
// taken. The digest covers the service, the student, the creation
// time, and a random nonce, so two joins at the same instant still
// produce distinct digests.
package ticketid

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// MinLength is the shortest hex suffix ever issued.
const MinLength = 6

// DefaultPrefix is used when New is given an empty prefix.
const DefaultPrefix = "tk"

// domainKey separates ticket-ID digests from any other BLAKE3 use.
// ASCII "frontdesk.ticket.id", zero-padded to 32 bytes.
var domainKey = [32]byte{
	'f', 'r', 'o', 'n', 't', 'd', 'e', 's', 'k', '.', 't', 'i', 'c', 'k', 'e', 't',
	'.', 'i', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// TakenFunc reports whether id is already in use.
type TakenFunc func(ctx context.Context, id string) (bool, error)

// Generator issues IDs. Safe for concurrent use; uniqueness between
// concurrent callers still relies on the store rejecting duplicate
// primary keys.
type Generator struct {
	prefix string
	taken  TakenFunc
	nonce  func() []byte
}

// New returns a Generator that checks candidates with taken.
func New(prefix string, taken TakenFunc) *Generator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Generator{
		prefix: prefix,
		taken:  taken,
		nonce: func() []byte {
			id := uuid.New()
			return id[:]
		},
	}
}

// Next returns an unused ID for a ticket created at at.
func (g *Generator) Next(ctx context.Context, serviceID, studentID string, at time.Time) (string, error) {
	digest := Digest(g.nonce(), []byte(serviceID), []byte(studentID),
		[]byte(strconv.FormatInt(at.UnixNano(), 10)))
	hexDigest := hex.EncodeToString(digest[:])

	for length := MinLength; length <= len(hexDigest); length++ {
		candidate := g.prefix + "-" + hexDigest[:length]
		taken, err := g.taken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("ticketid: checking %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("ticketid: every prefix of %s is taken", hexDigest)
}

// Digest is the keyed BLAKE3 hash of the parts, each length-prefixed
// so that ("ab", "c") and ("a", "bc") differ.
func Digest(parts ...[]byte) [32]byte {
	hasher, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		panic("ticketid: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for _, part := range parts {
		hasher.Write([]byte(strconv.Itoa(len(part))))
		hasher.Write([]byte{':'})
		hasher.Write(part)
	}
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}
