// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"bytes"
	"strings"
	"testing"
)

func TestInfoMarksDirtyBuilds(t *testing.T) {
	savedCommit, savedDirty := GitCommit, GitDirty
	defer func() { GitCommit, GitDirty = savedCommit, savedDirty }()

	GitCommit = "a1b2c3d"
	GitDirty = "true"
	if info := Info(); !strings.Contains(info, "a1b2c3d-dirty") {
		t.Errorf("Info() = %q, want commit marked dirty", info)
	}

	GitDirty = "false"
	if info := Info(); strings.Contains(info, "-dirty") {
		t.Errorf("Info() = %q, clean build should not be marked dirty", info)
	}
}

func TestPrintNamesBinary(t *testing.T) {
	var buffer bytes.Buffer
	Print(&buffer, "frontdesk-service")
	if !strings.HasPrefix(buffer.String(), "frontdesk-service ") {
		t.Errorf("Print output %q should start with the binary name", buffer.String())
	}
}
