// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

type envelope struct {
	Action   string    `cbor:"action"`
	TicketID string    `cbor:"ticket_id,omitempty"`
	Priority int       `cbor:"priority"`
	At       time.Time `cbor:"at"`
}

func TestTimestampsKeepNanoseconds(t *testing.T) {
	original := envelope{
		Action:   "join",
		TicketID: "tkt-3f9a2c",
		Priority: 1,
		At:       time.Date(2026, 9, 1, 8, 15, 0, 123456789, time.UTC),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.At.Equal(original.At) {
		t.Errorf("At = %v, want %v", decoded.At, original.At)
	}
	if decoded.Action != original.Action || decoded.TicketID != original.TicketID || decoded.Priority != original.Priority {
		t.Errorf("decoded %+v, want %+v", decoded, original)
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	value := map[string]any{"service_id": "transcripts", "action": "call-next", "window": 2}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("iteration %d produced different bytes", i)
		}
	}
}

func TestDecodeAnyYieldsStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"rank": 3}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type %T, want map[string]any", decoded)
	}
	if _, ok := top["nested"].(map[string]any); !ok {
		t.Fatalf("nested type %T, want map[string]any", top["nested"])
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, action := range []string{"snapshot", "heartbeat"} {
		if err := encoder.Encode(envelope{Action: action}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for _, want := range []string{"snapshot", "heartbeat"} {
		var frame envelope
		if err := decoder.Decode(&frame); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if frame.Action != want {
			t.Errorf("Action = %q, want %q", frame.Action, want)
		}
	}
}
