// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP client for the knowflow backend.
//
// The backend exposes a small REST surface for chat sessions plus a
// streaming chat endpoint whose response body carries "data: "-prefixed
// event lines. Non-streaming calls go through a shared pooled client with
// a request timeout; the streaming call uses a separate pooled client with
// no global timeout, cancellation is context-controlled.
package api
