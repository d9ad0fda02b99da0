// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"log"
	"strings"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Protocol literals for the streaming chat endpoint.
const (
	// dataPrefix marks a payload line. Everything else (comments,
	// keep-alives, blank separators) is ignored.
	dataPrefix = "data: "

	// doneSentinel is the payload marking normal stream termination.
	doneSentinel = "[DONE]"
)

// Event is a single typed occurrence on the stream. The union is closed:
// TextDelta, ErrorEvent, DoneSentinel, or Unknown. Events are constructed
// per line, consumed immediately, and never stored.
type Event interface {
	streamEvent()
}

// TextDelta carries an incremental piece of assistant output.
type TextDelta struct {
	Delta string
}

// ErrorEvent carries a server-reported failure that ends the turn.
type ErrorEvent struct {
	ErrorText string
}

// DoneSentinel marks normal termination of the stream.
type DoneSentinel struct{}

// Unknown absorbs event kinds this client does not recognize. The protocol
// is forward-compatible: unknown kinds are dropped without error.
type Unknown struct {
	Type string
}

func (TextDelta) streamEvent()    {}
func (ErrorEvent) streamEvent()   {}
func (DoneSentinel) streamEvent() {}
func (Unknown) streamEvent()      {}

// =============================================================================
// EVENT PARSER
// =============================================================================

// eventPayload is the decoded shape of a data line. Fields beyond the
// discriminator are populated per kind.
type eventPayload struct {
	Type      string `json:"type"`
	Delta     string `json:"delta"`
	ErrorText string `json:"errorText"`
}

// ParseLine classifies one framed line. It returns (nil, false) for lines
// that carry no event: non-data lines, malformed payloads, and empty
// deltas. A malformed payload must never abort the stream, so it is logged
// and skipped here rather than surfaced as an error.
func ParseLine(line string) (Event, bool) {
	if !strings.HasPrefix(line, dataPrefix) {
		return nil, false
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneSentinel {
		return DoneSentinel{}, true
	}

	var ev eventPayload
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Printf("stream: skipping malformed event: %v", err)
		return nil, false
	}

	switch ev.Type {
	case "text-delta":
		if ev.Delta == "" {
			// Tolerated: a delta event with nothing in it.
			log.Printf("stream: text-delta event with empty delta")
			return nil, false
		}
		return TextDelta{Delta: ev.Delta}, true
	case "error":
		return ErrorEvent{ErrorText: ev.ErrorText}, true
	default:
		return Unknown{Type: ev.Type}, true
	}
}
