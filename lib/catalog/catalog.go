// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog loads service definitions from a JSONC file and
// seeds them into the store at startup.
//
// The file is JSON extended with // line comments, /* block comments */
// and trailing commas:
//
//	{
//	  // Registrar's office, two counters in the morning.
//	  "services": [
//	    {"id": "transcripts", "name": "Transcripts", "base_service_minutes": 5, "windows": 2, "active": true, "prefix": "T"},
//	  ],
//	}
//
// Services present in the store but absent from the catalog are left
// untouched, so removing an entry never deletes ticket history.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"

	queueschema "github.com/bureau-foundation/frontdesk/lib/schema/queue"
)

// Catalog is the parsed contents of a catalog file.
type Catalog struct {
	Services []queueschema.Service `json:"services"`
}

// ServiceWriter is the part of store.Store used to seed services.
type ServiceWriter interface {
	PutService(ctx context.Context, service queueschema.Service) error
}

// Parse strips JSONC comments and trailing commas from data and
// decodes the result. Unknown fields are rejected so that a typo in a
// field name does not silently fall back to a default.
func Parse(data []byte) (*Catalog, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()

	var catalog Catalog
	if err := decoder.Decode(&catalog); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// ReadFile reads and parses a catalog file.
func ReadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	catalog, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return catalog, nil
}

// Validate checks every service and rejects duplicate IDs. All
// problems are reported together.
func (c *Catalog) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Services))
	for index := range c.Services {
		service := &c.Services[index]
		if err := service.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("services[%d]: %w", index, err))
			continue
		}
		if seen[service.ID] {
			errs = append(errs, fmt.Errorf("services[%d]: duplicate id %q", index, service.ID))
		}
		seen[service.ID] = true
	}
	return errors.Join(errs...)
}

// Apply writes every service to writer, stamping UpdatedAt with now.
// It stops at the first failure.
func (c *Catalog) Apply(ctx context.Context, writer ServiceWriter, now time.Time) error {
	for _, service := range c.Services {
		service.UpdatedAt = now
		if err := writer.PutService(ctx, service); err != nil {
			return fmt.Errorf("seeding service %s: %w", service.ID, err)
		}
	}
	return nil
}
