// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the frontdesk YAML configuration.
//
// The file is named by the FRONTDESK_CONFIG environment variable (via
// [Load]) or a --config flag (via [LoadFile]). There is no discovery
// and no fallback search path: a service either gets the file it was
// told about or fails to start.
//
// The file may carry development, staging and production sections
// whose values replace the base values when [Config].Environment
// matches. After overrides, ${HOME}, ${FRONTDESK_STATE} and
// ${VAR:-default} patterns are expanded in path-like fields (store
// path and DSN, socket path, catalog path, Redis URL). Environment
// variables never override values directly.
//
// Durations are written as Go duration strings ("30s", "2m").
//
// This package depends on no other frontdesk packages.
package config
