// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the direction of a message.
type Role string

const (
	// RoleOutgoing is a message the user sent.
	RoleOutgoing Role = "outgoing"
	// RoleIncoming is a message from the assistant.
	RoleIncoming Role = "incoming"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleOutgoing:
		return "You"
	case RoleIncoming:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single message in the conversation.
//
// An incoming message starts "open": its content grows monotonically as
// deltas arrive, and exactly one transition out of open happens per turn:
// Complete or Fail, never both. After that the message is immutable.
//
// Deltas are written from the streaming goroutine while the render loop
// reads Loading and DisplayContent, so the streaming state is guarded by a
// mutex.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	mu sync.Mutex

	// loading is true while the message is still receiving deltas.
	loading bool

	// PERFORMANCE: strings.Builder avoids quadratic allocations while
	// deltas stream in; merged into Content when the message closes.
	streamContent strings.Builder
}

// NewOutgoingMessage creates a user message.
func NewOutgoingMessage(content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleOutgoing,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewIncomingMessage creates an open assistant message with empty content.
func NewIncomingMessage() *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleIncoming,
		CreatedAt: time.Now(),
		loading:   true,
	}
}

// RestoreMessage rebuilds a closed message from persisted fields.
func RestoreMessage(id string, role Role, content string, createdAt time.Time) *Message {
	return &Message{
		ID:        id,
		Role:      role,
		Content:   content,
		CreatedAt: createdAt,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Loading reports whether the message is still receiving deltas.
func (m *Message) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// AppendDelta appends a delta to an open message and returns the rendered
// content so far. Deltas are applied strictly in arrival order; a closed
// message is never mutated.
func (m *Message) AppendDelta(delta string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loading {
		return m.Content
	}
	m.streamContent.WriteString(delta)
	return m.streamContent.String()
}

// Complete closes the message, preserving the accumulated content.
func (m *Message) Complete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loading {
		return
	}
	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.loading = false
}

// Fail closes the message with a user-facing error string, discarding any
// partially accumulated content.
func (m *Message) Fail(errorText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loading {
		return
	}
	m.Content = errorText
	m.streamContent.Reset()
	m.loading = false
}

// DisplayContent returns the content to render (streaming or final).
func (m *Message) DisplayContent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loading {
		return m.streamContent.String()
	}
	return m.Content
}

// IsEmpty returns true if the message has no content yet.
func (m *Message) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Content) == 0 && m.streamContent.Len() == 0
}

// Preview returns a truncated preview of the message content.
// Rune-based so Unicode is not cut mid-character.
func (m *Message) Preview(maxLen int) string {
	content := m.DisplayContent()
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// ACCUMULATOR
// =============================================================================

// Accumulator owns the single in-flight assistant message of the active
// turn. Writes come only from the active turn; readers go through the
// message's own synchronized accessors.
type Accumulator struct {
	msg *Message
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Begin creates the open incoming message for a new turn and returns it.
func (a *Accumulator) Begin() *Message {
	a.msg = NewIncomingMessage()
	return a.msg
}

// ApplyDelta appends a delta and returns the rendered content for
// immediate UI consumption.
func (a *Accumulator) ApplyDelta(delta string) string {
	if a.msg == nil {
		return ""
	}
	return a.msg.AppendDelta(delta)
}

// Complete closes the open message preserving its content.
func (a *Accumulator) Complete() {
	if a.msg != nil {
		a.msg.Complete()
	}
}

// Fail closes the open message with a user-facing error string.
func (a *Accumulator) Fail(errorText string) {
	if a.msg != nil {
		a.msg.Fail(errorText)
	}
}

// Message returns the current turn's assistant message, or nil before the
// first Begin.
func (a *Accumulator) Message() *Message {
	return a.msg
}

// Open reports whether an assistant message is still receiving deltas.
func (a *Accumulator) Open() bool {
	return a.msg != nil && a.msg.Loading()
}
