// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/knowflow-tui/internal/model"
)

// =============================================================================
// SESSION CREATION TESTS
// =============================================================================

func TestCreateSessionFromFirstMessage(t *testing.T) {
	var gotBody createSessionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat/sessions/smart", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"data":{"id":17,"name":"Trip planning"}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	sess, err := client.CreateSessionFromFirstMessage(context.Background(), "plan me a trip to Kyoto")

	require.NoError(t, err)
	require.Equal(t, int64(17), sess.ID)
	require.Equal(t, "Trip planning", sess.Name)
	require.Equal(t, "plan me a trip to Kyoto", gotBody.FirstMessageContent)
}

func TestCreateSessionBackendRefusal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"message":"summarizer offline"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.CreateSessionFromFirstMessage(context.Background(), "hello")

	require.Error(t, err)
	require.Contains(t, err.Error(), "summarizer offline")
}

func TestCreateSessionHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"detail":"database locked"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.CreateSessionFromFirstMessage(context.Background(), "hello")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	require.Equal(t, "database locked", apiErr.Detail)
}

// =============================================================================
// PIN FILE TESTS
// =============================================================================

func TestPinFile(t *testing.T) {
	var gotPath string
	var gotBody pinFileRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		io.WriteString(w, `{"success":true}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.PinFile(context.Background(), 9, model.PendingPin{
		FilePath: "/docs/notes.md",
		FileName: "notes.md",
	})

	require.NoError(t, err)
	require.Equal(t, "/chat/sessions/9/pin-file", gotPath)
	require.Equal(t, "/docs/notes.md", gotBody.FilePath)
	require.Equal(t, "notes.md", gotBody.FileName)
}

func TestPinFileError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"detail":"session not found"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.PinFile(context.Background(), 404, model.PendingPin{FileName: "x.txt"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
}

// =============================================================================
// STREAMING CHAT TESTS
// =============================================================================

func TestStreamChatReturnsBody(t *testing.T) {
	var rawBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/stream", r.URL.Path)
		rawBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"text-delta\",\"delta\":\"Hi\"}\n")
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer server.Close()

	sessionID := int64(5)
	client := NewClient(server.URL)
	body, err := client.StreamChat(context.Background(), ChatStreamRequest{
		Content:        "hello",
		ConversationID: "conv-1",
		SessionID:      &sessionID,
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Contains(t, string(data), "text-delta")
	require.Contains(t, string(data), "[DONE]")
	require.Contains(t, string(rawBody), `"session_id":5`)
}

func TestStreamChatOmitsUnboundSessionID(t *testing.T) {
	var rawBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer server.Close()

	client := NewClient(server.URL)
	body, err := client.StreamChat(context.Background(), ChatStreamRequest{
		Content:        "hello",
		ConversationID: "conv-1",
	})
	require.NoError(t, err)
	body.Close()

	require.NotContains(t, string(rawBody), "session_id")
}

func TestStreamChatHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"detail":"model crashed"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.StreamChat(context.Background(), ChatStreamRequest{Content: "hello"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusInternalServerError, apiErr.Status)
	require.Equal(t, "model crashed", apiErr.Detail)
}

func TestStreamChatConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Deliberately closed: connection refused.

	client := NewClient(server.URL)
	_, err := client.StreamChat(context.Background(), ChatStreamRequest{Content: "hello"})

	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBackendUnavailable))
}

func TestStreamChatCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(server.URL)
	body, err := client.StreamChat(ctx, ChatStreamRequest{Content: "hello"})
	require.NoError(t, err)
	defer body.Close()

	cancel()
	_, err = io.ReadAll(body)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "context canceled"))
}
