// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements the wire protocol consumed from the backend's
// streaming chat endpoint: reframing of raw transport chunks into complete
// protocol lines, and classification of data lines into typed events.
//
// The transport may split the byte stream at any offset, including in the
// middle of a line or a multi-byte UTF-8 sequence. LineFramer absorbs that:
// it only ever emits lines that were terminated by a newline, holding any
// dangling tail (bytes, not text) until the next chunk arrives.
package stream
