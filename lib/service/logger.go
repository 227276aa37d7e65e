// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates the process logger: JSON on stderr at the given
// level ("debug", "info", "warn", "error"; empty means info). It is
// also installed as the slog default.
func NewLogger(level string) (*slog.Logger, error) {
	var parsed slog.Level
	if level != "" {
		if err := parsed.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q", level)
		}
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parsed,
	}))
	slog.SetDefault(logger)
	return logger, nil
}
