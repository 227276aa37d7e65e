// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package memstore

import (
	"testing"

	"github.com/bureau-foundation/frontdesk/lib/store"
	"github.com/bureau-foundation/frontdesk/lib/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
