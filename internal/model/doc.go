// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for a conversation: messages,
// the open-message accumulator, and file pins recorded before a backend
// session exists.
package model
