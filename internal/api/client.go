// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/knowflow-tui/internal/model"
	"github.com/jeranaias/knowflow-tui/internal/session"
)

// Configuration constants for the backend client.
const (
	// DefaultBaseURL is the default backend address.
	DefaultBaseURL = "http://127.0.0.1:8000/api"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps non-streaming response bodies.
	// RELIABILITY: A misbehaving backend must not exhaust client memory.
	MaxResponseSize = 2 * 1024 * 1024 // 2MB

	// defaultRequestsPerSecond paces session management calls.
	defaultRequestsPerSecond = 5
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client for all non-streaming backend requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for the chat stream (no timeout,
	// context-controlled).
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		// No timeout for streaming, a reply can take minutes.
	}
)

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the knowflow backend.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
		limiter:      rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultRequestsPerSecond),
	}
}

// WithTimeout sets the timeout for non-streaming requests. The streaming
// client is unaffected.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	client := *c.httpClient
	client.Timeout = timeout
	c.httpClient = &client
	return c
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// SESSION MANAGEMENT
// =============================================================================

// CreateSessionFromFirstMessage creates a backend session titled from the
// first message of a conversation.
func (c *Client) CreateSessionFromFirstMessage(ctx context.Context, firstMessage string) (session.Session, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return session.Session{}, fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	var env sessionEnvelope
	err := c.postJSON(ctx, c.baseURL+"/chat/sessions/smart", createSessionRequest{
		FirstMessageContent: firstMessage,
	}, &env)
	if err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}
	if !env.Success || env.Data.ID <= 0 {
		return session.Session{}, fmt.Errorf("create session: backend refused: %s", env.Message)
	}

	return session.Session{ID: env.Data.ID, Name: env.Data.Name}, nil
}

// PinFile attaches a pinned file to an existing session.
func (c *Client) PinFile(ctx context.Context, sessionID int64, pin model.PendingPin) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	url := fmt.Sprintf("%s/chat/sessions/%d/pin-file", c.baseURL, sessionID)
	err := c.postJSON(ctx, url, pinFileRequest{
		FilePath: pin.FilePath,
		FileName: pin.FileName,
		Metadata: pin.Metadata,
	}, nil)
	if err != nil {
		return fmt.Errorf("pin file %s: %w", pin.FileName, err)
	}
	return nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamChat issues the streaming chat request and returns the raw response
// body. The caller owns the body and must close it; cancellation happens
// through ctx.
func (c *Client) StreamChat(ctx context.Context, req ChatStreamRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := readAPIError(resp)
		resp.Body.Close()
		return nil, apiErr
	}

	return resp.Body, nil
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// postJSON sends a JSON body and decodes the response into out (when out is
// non-nil). Non-2xx responses become *APIError.
func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp)
	}

	if out == nil {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readAPIError builds an *APIError from a non-2xx response, pulling the
// backend's detail string when the body carries one.
func readAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil || len(data) == 0 {
		return apiErr
	}

	var body errorResponse
	if json.Unmarshal(data, &body) == nil && body.Detail != "" {
		apiErr.Detail = body.Detail
	}
	return apiErr
}
