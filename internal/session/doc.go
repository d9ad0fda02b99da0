// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session binds the conversation to a backend chat session.
//
// Sessions are created lazily: nothing exists server-side until the user
// sends their first message, at which point the coordinator asks the
// backend to create a session named after that message and drains any file
// pins recorded before the session existed.
package session
