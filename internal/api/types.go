// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
)

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// ChatStreamRequest is the outbound body for the streaming chat endpoint.
//
// SessionID is a pointer so an unbound conversation omits the field
// entirely rather than sending null or a zero id.
type ChatStreamRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id"`
	SessionID      *int64 `json:"session_id,omitempty"`
}

// createSessionRequest is the body for smart session creation. The backend
// derives the session name from the first message.
type createSessionRequest struct {
	FirstMessageContent string `json:"first_message_content"`
}

// sessionEnvelope is the backend's standard response wrapper.
type sessionEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

// pinFileRequest is the body for attaching a pinned file to a session.
type pinFileRequest struct {
	FilePath string         `json:"file_path"`
	FileName string         `json:"file_name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// errorResponse is the backend's error body shape.
type errorResponse struct {
	Detail string `json:"detail"`
}

// =============================================================================
// ERRORS
// =============================================================================

// Error variables for common backend failures.
var (
	// ErrBackendUnavailable indicates the backend could not be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRateLimited indicates the client-side pacing budget was exhausted.
	ErrRateLimited = errors.New("rate limited")
)

// APIError represents a non-2xx response from the backend.
type APIError struct {
	Status int
	Detail string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend error (HTTP %d)", e.Status)
}

// Is reports whether target matches this error by status.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Status == e.Status
}
